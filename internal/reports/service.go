// Package reports renders ledger exports and issuance certificates.
package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/project-portal/registry-backend/internal/auth"
	"carbon-scribe/project-portal/registry-backend/internal/ledger"
	"carbon-scribe/project-portal/registry-backend/internal/projects"
	"carbon-scribe/project-portal/registry-backend/internal/reports/export"
	"carbon-scribe/project-portal/registry-backend/internal/store"
	appErrors "carbon-scribe/project-portal/registry-backend/pkg/errors"
	"carbon-scribe/project-portal/registry-backend/pkg/storage"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// LedgerColumns are the columns of a ledger export, in order.
var LedgerColumns = []string{
	"entry_id", "submission_id", "organization_name", "project_name", "project_type",
	"submission_status", "ledger_status", "pending_credit", "issued_credit",
	"created_at", "issued_at", "voided_at",
}

// LedgerReport is a ledger listing with totals.
type LedgerReport struct {
	Entries []ledger.Entry `json:"data"`
	Summary ledger.Summary `json:"summary"`
}

// Archive keeps rendered certificates. Get returns storage.ErrObjectNotFound
// for a missing key.
type Archive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Linker hands out time-limited download links for archived objects.
type Linker interface {
	PresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)
}

// Service builds ledger reports from the store.
type Service struct {
	store   store.Store
	certs   *export.CertificateGenerator
	archive Archive
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithArchive stores every rendered certificate in a and serves later
// requests from it. Issued certificates never change.
func WithArchive(a Archive) Option {
	return func(s *Service) { s.archive = a }
}

// NewService creates a new reports service
func NewService(st store.Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  st,
		certs:  export.NewCertificateGenerator(export.DefaultPDFOptions()),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func certificateKey(id uuid.UUID) string {
	return "certificates/" + id.String() + ".pdf"
}

// ListLedger returns ledger entries. Submitters only see their own.
func (s *Service) ListLedger(ctx context.Context, caller auth.Caller, filter ledger.ListFilter) (*LedgerReport, error) {
	if !caller.CanReview() {
		filter.SubmitterID = caller.ID
	}
	var entries []ledger.Entry
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		entries, err = tx.Ledger().List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, storageError("list ledger", err)
	}
	return &LedgerReport{Entries: entries, Summary: ledger.Summarize(entries)}, nil
}

// ExportLedger writes every ledger entry, joined with its submission, to w.
func (s *Service) ExportLedger(ctx context.Context, caller auth.Caller, format Format, w io.Writer) error {
	if !caller.CanReview() {
		return appErrors.Clone(appErrors.ErrForbidden, "only verifiers may export the ledger")
	}
	if format != FormatCSV && format != FormatXLSX {
		return appErrors.Clonef(appErrors.ErrValidation, "unsupported export format %q", format).
			WithDetails(map[string]any{"allowed": []Format{FormatCSV, FormatXLSX}})
	}

	var (
		entries []ledger.Entry
		subs    []projects.Submission
	)
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		if entries, err = tx.Ledger().List(ctx, ledger.ListFilter{}); err != nil {
			return err
		}
		subs, err = tx.Submissions().ListAll(ctx)
		return err
	})
	if err != nil {
		return storageError("export ledger", err)
	}

	rows := ledgerRows(entries, subs)
	switch format {
	case FormatXLSX:
		err = writeXLSX(w, rows)
	default:
		err = writeCSV(w, rows)
	}
	if err != nil {
		return appErrors.ErrInternal.WithCause(fmt.Errorf("write %s export: %w", format, err))
	}

	s.logger.Info("Ledger exported",
		zap.String("format", string(format)),
		zap.Int("entries", len(rows)),
		zap.String("caller_id", caller.ID),
	)
	return nil
}

// Certificate renders the issuance certificate of an approved submission.
func (s *Service) Certificate(ctx context.Context, caller auth.Caller, id uuid.UUID) ([]byte, error) {
	var (
		sub   *projects.Submission
		entry *ledger.Entry
	)
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		if sub, err = tx.Submissions().GetByID(ctx, id); err != nil {
			return err
		}
		if !caller.CanReview() && sub.SubmitterID != caller.ID {
			return appErrors.Clone(appErrors.ErrForbidden, "submission belongs to another submitter")
		}
		if sub.SubmissionStatus != projects.StatusApproved {
			return appErrors.Clonef(appErrors.ErrInvalidState, "a submission in %s has no certificate", sub.SubmissionStatus).
				WithDetails(map[string]any{"current_status": sub.SubmissionStatus})
		}
		entry, err = tx.Ledger().GetBySubmission(ctx, id)
		return err
	})
	if err != nil {
		return nil, storageError("load certificate", err)
	}
	if entry.Status != ledger.StatusIssued || entry.IssuedCredit == nil || entry.IssuedAt == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "ledger entry has not been issued")
	}

	cert := export.Certificate{
		SubmissionID:     sub.ID.String(),
		LedgerEntryID:    entry.ID.String(),
		ProjectName:      sub.ProjectName,
		OrganizationName: sub.OrganizationName,
		ProjectType:      string(sub.ProjectType),
		Methodology:      sub.Methodology,
		Location:         sub.Location,
		ProposedCredit:   sub.ProposedCredit,
		IssuedCredit:     *entry.IssuedCredit,
		IssuedAt:         *entry.IssuedAt,
	}
	if sub.VerifierID != nil {
		cert.VerifierID = *sub.VerifierID
	}
	if sub.VerificationDate != nil {
		cert.VerifiedAt = *sub.VerificationDate
	}

	if s.archive != nil {
		pdf, err := s.archive.Get(ctx, certificateKey(id))
		if err == nil {
			return pdf, nil
		}
		if !errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.Warn("Certificate archive read failed, rendering", zap.String("submission_id", id.String()), zap.Error(err))
		}
	}

	pdf, err := s.certs.RenderBytes(cert)
	if err != nil {
		return nil, appErrors.ErrInternal.WithCause(err)
	}
	if s.archive != nil {
		if err := s.archive.Put(ctx, certificateKey(id), pdf, "application/pdf"); err != nil {
			s.logger.Warn("Certificate archive write failed", zap.String("submission_id", id.String()), zap.Error(err))
		}
	}
	return pdf, nil
}

// CertificateLink archives the certificate if needed and returns a download
// link valid for ttl.
func (s *Service) CertificateLink(ctx context.Context, caller auth.Caller, id uuid.UUID, ttl time.Duration) (string, error) {
	linker, ok := s.archive.(Linker)
	if !ok {
		return "", appErrors.Clone(appErrors.ErrInvalidState, "certificate links are not enabled")
	}
	if _, err := s.Certificate(ctx, caller, id); err != nil {
		return "", err
	}
	url, err := linker.PresignedURL(ctx, certificateKey(id), ttl)
	if err != nil {
		return "", appErrors.ErrStorageFailure.WithCause(err)
	}
	return url, nil
}

func ledgerRows(entries []ledger.Entry, subs []projects.Submission) [][]any {
	byID := make(map[uuid.UUID]projects.Submission, len(subs))
	for _, sub := range subs {
		byID[sub.ID] = sub
	}

	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		sub := byID[e.SubmissionID]
		rows = append(rows, []any{
			e.ID, e.SubmissionID, e.OrganizationName, sub.ProjectName, string(sub.ProjectType),
			string(sub.SubmissionStatus), string(e.Status), e.PendingCredit, e.IssuedCredit,
			e.CreatedAt, e.IssuedAt, e.VoidedAt,
		})
	}
	return rows
}

func writeCSV(w io.Writer, rows [][]any) error {
	ex := export.NewCSVExporter(w, export.DefaultCSVOptions())
	if err := ex.WriteHeader(LedgerColumns); err != nil {
		return err
	}
	if err := ex.WriteRows(rows); err != nil {
		return err
	}
	return ex.Flush()
}

func writeXLSX(w io.Writer, rows [][]any) error {
	ex, err := export.NewExcelExporter(export.DefaultExcelOptions())
	if err != nil {
		return err
	}
	defer ex.Close()

	if err := ex.WriteHeader(LedgerColumns); err != nil {
		return err
	}
	for _, row := range rows {
		if err := ex.WriteRow(row); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	if err := ex.WriteTo(&buf); err != nil {
		return err
	}
	_, err = buf.WriteTo(w)
	return err
}

func storageError(op string, err error) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, projects.ErrNotFound):
		return appErrors.Clone(appErrors.ErrNotFound, "submission not found")
	case errors.Is(err, ledger.ErrNotFound):
		return appErrors.Clone(appErrors.ErrInvalidState, "submission has no ledger entry")
	default:
		return appErrors.ErrStorageFailure.WithCause(fmt.Errorf("%s: %w", op, err))
	}
}
