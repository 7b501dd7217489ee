package export

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Certificate is the content of an issuance certificate.
type Certificate struct {
	SubmissionID     string
	LedgerEntryID    string
	ProjectName      string
	OrganizationName string
	ProjectType      string
	Methodology      string
	Location         string
	ProposedCredit   float64
	IssuedCredit     float64
	VerifierID       string
	VerifiedAt       time.Time
	IssuedAt         time.Time
}

// PDFOptions configures PDF generation
type PDFOptions struct {
	PageSize    string
	Title       string
	Issuer      string
	FontFamily  string
	AccentColor PDFColor
	DateFormat  string
}

// PDFColor represents an RGB color
type PDFColor struct {
	R, G, B int
}

// DefaultPDFOptions returns default PDF options
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PageSize:    "A4",
		Title:       "Carbon Credit Issuance Certificate",
		Issuer:      "CarbonScribe Registry",
		FontFamily:  "Arial",
		AccentColor: PDFColor{R: 31, G: 97, B: 141},
		DateFormat:  "2 January 2006",
	}
}

// CertificateGenerator renders issuance certificates.
type CertificateGenerator struct {
	options PDFOptions
}

// NewCertificateGenerator creates a generator.
func NewCertificateGenerator(options PDFOptions) *CertificateGenerator {
	return &CertificateGenerator{options: options}
}

// Render writes the certificate for cert to w.
func (g *CertificateGenerator) Render(w io.Writer, cert Certificate) error {
	pdf := gofpdf.New("L", "mm", g.options.PageSize, "")
	pdf.SetTitle(g.options.Title, true)
	pdf.SetAuthor(g.options.Issuer, true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	c := g.options.AccentColor
	width, height := pdf.GetPageSize()
	pdf.SetDrawColor(c.R, c.G, c.B)
	pdf.SetLineWidth(1.2)
	pdf.Rect(10, 10, width-20, height-20, "D")

	pdf.SetY(28)
	pdf.SetFont(g.options.FontFamily, "B", 24)
	pdf.SetTextColor(c.R, c.G, c.B)
	pdf.CellFormat(0, 12, g.options.Title, "", 1, "C", false, 0, "")

	pdf.SetFont(g.options.FontFamily, "", 12)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(0, 8, "This certifies that the registry has verified and issued", "", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont(g.options.FontFamily, "B", 32)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 16, fmt.Sprintf("%s tCO2e", formatCredits(cert.IssuedCredit)), "", 1, "C", false, 0, "")

	pdf.SetFont(g.options.FontFamily, "", 12)
	pdf.CellFormat(0, 8, "to "+cert.OrganizationName, "", 1, "C", false, 0, "")
	pdf.Ln(8)

	rows := [][2]string{
		{"Project", orDash(cert.ProjectName)},
		{"Project type", cert.ProjectType + " carbon"},
		{"Methodology", orDash(cert.Methodology)},
		{"Location", orDash(cert.Location)},
		{"Proposed credits", formatCredits(cert.ProposedCredit)},
		{"Verified by", cert.VerifierID},
		{"Verified on", cert.VerifiedAt.Format(g.options.DateFormat)},
		{"Issued on", cert.IssuedAt.Format(g.options.DateFormat)},
	}
	labelWidth := 60.0
	left := (width - 180) / 2
	for _, row := range rows {
		pdf.SetX(left)
		pdf.SetFont(g.options.FontFamily, "B", 11)
		pdf.CellFormat(labelWidth, 7, row[0], "B", 0, "L", false, 0, "")
		pdf.SetFont(g.options.FontFamily, "", 11)
		pdf.CellFormat(180-labelWidth, 7, row[1], "B", 1, "L", false, 0, "")
	}

	pdf.SetY(height - 30)
	pdf.SetFont(g.options.FontFamily, "", 8)
	pdf.SetTextColor(128, 128, 128)
	pdf.CellFormat(0, 5, fmt.Sprintf("Submission %s  |  Ledger entry %s", cert.SubmissionID, cert.LedgerEntryID), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 5, g.options.Issuer, "", 1, "C", false, 0, "")

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render certificate: %w", err)
	}
	return pdf.Output(w)
}

// RenderBytes returns the certificate as bytes.
func (g *CertificateGenerator) RenderBytes(cert Certificate) ([]byte, error) {
	var buf bytes.Buffer
	if err := g.Render(&buf, cert); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatCredits(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
