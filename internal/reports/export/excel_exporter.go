package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExcelExporter writes one styled sheet of rows to an XLSX workbook.
type ExcelExporter struct {
	file    *excelize.File
	options ExcelOptions
	rows    int
	widths  map[int]float64
	styles  excelStyles
}

// ExcelOptions configures Excel export behavior
type ExcelOptions struct {
	SheetName    string
	FreezeHeader bool
	AutoFilter   bool
	NumberFormat string
	DateFormat   string
	HeaderFill   string
	HeaderFont   string
}

type excelStyles struct {
	header, number, date int
}

// DefaultExcelOptions returns default Excel export options
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		SheetName:    "Ledger",
		FreezeHeader: true,
		AutoFilter:   true,
		NumberFormat: "#,##0.0000",
		DateFormat:   "yyyy-mm-dd hh:mm:ss",
		HeaderFill:   "4472C4",
		HeaderFont:   "FFFFFF",
	}
}

// NewExcelExporter creates a workbook with a single sheet.
func NewExcelExporter(options ExcelOptions) (*ExcelExporter, error) {
	file := excelize.NewFile()
	if err := file.SetSheetName("Sheet1", options.SheetName); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	e := &ExcelExporter{file: file, options: options, widths: make(map[int]float64)}
	if err := e.createStyles(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return e, nil
}

func (e *ExcelExporter) createStyles() error {
	var err error
	e.styles.header, err = e.file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: e.options.HeaderFont},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{e.options.HeaderFill}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	e.styles.number, err = e.file.NewStyle(&excelize.Style{CustomNumFmt: &e.options.NumberFormat})
	if err != nil {
		return fmt.Errorf("failed to create number style: %w", err)
	}
	e.styles.date, err = e.file.NewStyle(&excelize.Style{CustomNumFmt: &e.options.DateFormat})
	if err != nil {
		return fmt.Errorf("failed to create date style: %w", err)
	}
	return nil
}

// WriteHeader writes the header row with styling
func (e *ExcelExporter) WriteHeader(columns []string) error {
	sheet := e.options.SheetName
	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := e.file.SetCellValue(sheet, cell, col); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		e.track(i, col)
	}

	last, err := excelize.CoordinatesToCellName(len(columns), 1)
	if err != nil {
		return err
	}
	if err := e.file.SetCellStyle(sheet, "A1", last, e.styles.header); err != nil {
		return err
	}

	if e.options.FreezeHeader {
		if err := e.file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return err
		}
	}
	if e.options.AutoFilter {
		if err := e.file.AutoFilter(sheet, "A1:"+last, nil); err != nil {
			return err
		}
	}
	e.rows = 1
	return nil
}

// WriteRow appends one data row.
func (e *ExcelExporter) WriteRow(row []any) error {
	e.rows++
	for i, val := range row {
		cell, err := excelize.CoordinatesToCellName(i+1, e.rows)
		if err != nil {
			return err
		}
		if err := e.setCellValue(cell, val); err != nil {
			return fmt.Errorf("failed to set cell %s: %w", cell, err)
		}
		e.track(i, val)
	}
	return nil
}

// WriteTo sizes columns and writes the workbook to w.
func (e *ExcelExporter) WriteTo(w io.Writer) error {
	for i, width := range e.widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := e.file.SetColWidth(e.options.SheetName, col, col, width); err != nil {
			return err
		}
	}
	return e.file.Write(w)
}

// Close closes the Excel file
func (e *ExcelExporter) Close() error {
	return e.file.Close()
}

func (e *ExcelExporter) setCellValue(cell string, val any) error {
	sheet := e.options.SheetName
	style := 0
	switch v := val.(type) {
	case nil:
		return e.file.SetCellValue(sheet, cell, "")
	case *float64:
		if v == nil {
			return e.file.SetCellValue(sheet, cell, "")
		}
		val, style = *v, e.styles.number
	case float64:
		style = e.styles.number
	case *time.Time:
		if v == nil || v.IsZero() {
			return e.file.SetCellValue(sheet, cell, "")
		}
		val, style = *v, e.styles.date
	case time.Time:
		if v.IsZero() {
			return e.file.SetCellValue(sheet, cell, "")
		}
		style = e.styles.date
	case fmt.Stringer:
		val = v.String()
	}

	if err := e.file.SetCellValue(sheet, cell, val); err != nil {
		return err
	}
	if style > 0 {
		return e.file.SetCellStyle(sheet, cell, cell, style)
	}
	return nil
}

// track keeps a rough display width per column, clamped to 10..50.
func (e *ExcelExporter) track(col int, val any) {
	if val == nil {
		return
	}
	width := float64(len(fmt.Sprintf("%v", val))) * 1.2
	if width < 10 {
		width = 10
	}
	if width > 50 {
		width = 50
	}
	if width > e.widths[col] {
		e.widths[col] = width
	}
}
