// Package export renders pipeline results as XLSX workbooks.
package export

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-extractor/internal/pipeline"
)

// Sheet names, in workbook order.
const (
	SheetLineItems = "Line Items"
	SheetTotals    = "Totals"
	SheetSummary   = "Summary"
)

var (
	lineItemHeaders = []string{"Document", "#", "Description", "Quantity", "Unit Price", "Total", "Valid", "Confidence", "Source", "Validation"}
	totalsHeaders   = []string{"Document", "Invoice No", "Date", "Currency", "Net", "VAT Rate", "VAT", "Gross", "Declared Total"}
	summaryHeaders  = []string{"Document", "Run ID", "Status", "Method", "Text Confidence", "Pages", "Items", "Valid Items", "Success Rate", "Guidance", "Failures"}
)

// Service produces XLSX bytes for one or many runs.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// ResultsXLSX builds a workbook with one row per line item, one totals row
// per document and one summary row per run.
func (s *Service) ResultsXLSX(results []*pipeline.Result) ([]byte, error) {
	start := time.Now()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, name := range []string{SheetLineItems, SheetTotals, SheetSummary} {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, err
			}
			continue
		}
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}
	writeHeaders(f, SheetLineItems, lineItemHeaders)
	writeHeaders(f, SheetTotals, totalsHeaders)
	writeHeaders(f, SheetSummary, summaryHeaders)

	itemRow := 2
	for i, res := range results {
		if res == nil {
			continue
		}
		inv := res.Invoice
		for n, it := range inv.LineItems {
			writeRow(f, SheetLineItems, itemRow,
				res.Document, n+1, truncate(it.Description, 200), optional(it.Quantity), optional(it.UnitPrice),
				it.Total, yesNo(it.IsValid), it.Confidence, it.Source, it.ValidationDetail)
			itemRow++
		}

		writeRow(f, SheetTotals, i+2,
			res.Document, inv.InvoiceNumber, inv.Date, inv.Currency,
			inv.Totals.Net, inv.Totals.VATRate, inv.Totals.VAT, inv.Totals.Gross, optional(inv.DeclaredTotal))

		failures := make([]string, 0, len(res.Failures))
		for _, fl := range res.Failures {
			failures = append(failures, fl.Class+"@"+fl.Stage)
		}
		writeRow(f, SheetSummary, i+2,
			res.Document, res.RunID, string(res.Status), res.Extraction.Method, res.Extraction.Confidence,
			res.Extraction.Pages, inv.Validation.TotalItems, inv.Validation.ValidItems, inv.Validation.SuccessRate,
			truncate(res.Guidance, 200), strings.Join(failures, ", "))
	}

	_ = f.SetColWidth(SheetLineItems, "A", "A", 28)
	_ = f.SetColWidth(SheetLineItems, "C", "C", 48)
	_ = f.SetColWidth(SheetLineItems, "D", "H", 12)
	_ = f.SetColWidth(SheetLineItems, "J", "J", 40)
	_ = f.SetColWidth(SheetTotals, "A", "A", 28)
	_ = f.SetColWidth(SheetTotals, "B", "I", 14)
	_ = f.SetColWidth(SheetSummary, "A", "B", 36)
	_ = f.SetColWidth(SheetSummary, "J", "K", 60)
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"documents", len(results),
		"line_items", itemRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// WriteFile writes the workbook for results to path.
func (s *Service) WriteFile(path string, results []*pipeline.Result) error {
	data, err := s.ResultsXLSX(results)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeHeaders(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		if v == nil {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

// optional returns nil for a missing value so the cell stays empty.
func optional(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
