// Package report writes review-queue summaries as xlsx workbooks for
// the accounts team.
package report

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/hydrotreat/invoice-review/internal/capability"
	"github.com/hydrotreat/invoice-review/internal/record"
	"github.com/hydrotreat/invoice-review/internal/session"
)

// ErrNotPermitted is returned when the session's role may not export.
var ErrNotPermitted = errors.New("role may not export reports")

// Exporter builds invoice workbooks
type Exporter struct {
	logger *zap.Logger
}

// NewExporter creates a new exporter
func NewExporter(logger *zap.Logger) *Exporter {
	return &Exporter{logger: logger}
}

var invoiceHeader = []string{
	"Division", "ID", "Invoice Number", "Invoice Date", "Supplier",
	"Supplier GSTIN", "PO Number", "Job ID", "Status", "Approved By",
	"Invoice Total", "Line Items Total",
}

var itemHeader = []string{
	"Division", "Invoice ID", "Invoice Number", "#", "Description",
	"Product Code", "Quantity", "Unit Price", "Line Total",
}

// Export writes the invoices to an xlsx workbook at outputPath: one
// sheet of invoice rows, one sheet of their line items. Reporting is
// an approver's view, so the same capability gates it.
func (e *Exporter) Export(sess *session.Session, invoices []*record.Invoice, outputPath string) error {
	if !sess.Can(capability.ActionApprove) {
		return fmt.Errorf("%w: %s", ErrNotPermitted, sess.Role)
	}

	e.logger.Info("Exporting invoice report",
		zap.Int("invoices", len(invoices)),
		zap.String("output_path", outputPath))

	f := excelize.NewFile()
	defer f.Close()

	const invoiceSheet = "Invoices"
	const itemSheet = "Line Items"
	if err := f.SetSheetName(f.GetSheetName(0), invoiceSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if _, err := f.NewSheet(itemSheet); err != nil {
		return fmt.Errorf("failed to add sheet: %w", err)
	}

	e.writeRow(f, invoiceSheet, 1, toCells(invoiceHeader))
	e.writeRow(f, itemSheet, 1, toCells(itemHeader))

	itemRow := 2
	for i, inv := range invoices {
		itemsTotal := ""
		if s, ok := inv.LineItemsTotal(); ok {
			itemsTotal = amountCell(s)
		}
		e.writeRow(f, invoiceSheet, i+2, []any{
			inv.Division,
			inv.ID,
			inv.InvoiceNumber,
			inv.InvoiceDate,
			inv.SupplierName,
			inv.SupplierGSTIN,
			inv.PONumber,
			inv.JobID,
			inv.Status,
			inv.ApprovedBy,
			amountCell(inv.TotalAmount),
			itemsTotal,
		})

		for j, item := range inv.LineItems {
			e.writeRow(f, itemSheet, itemRow, []any{
				inv.Division,
				inv.ID,
				inv.InvoiceNumber,
				j + 1,
				item.Description,
				item.ProductCode,
				item.Quantity,
				amountCell(item.UnitPrice),
				lineTotalCell(item),
			})
			itemRow++
		}
	}

	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}

	e.logger.Info("Invoice report written",
		zap.String("output_path", outputPath))
	return nil
}

// amountCell renders a stored amount string with two decimal places,
// passing unparsable values through untouched.
func amountCell(raw string) string {
	if d, ok := record.ParseAmount(raw); ok {
		return d.StringFixed(2)
	}
	return raw
}

// lineTotalCell prefers the stated line total and falls back to the
// computed quantity x unit_price when the stated value is not numeric.
func lineTotalCell(item record.LineItem) string {
	if _, ok := record.ParseAmount(item.LineTotal); ok {
		return amountCell(item.LineTotal)
	}
	if s, ok := item.ComputedTotal(); ok {
		return amountCell(s)
	}
	return item.LineTotal
}

// GrandTotal sums the listed invoice totals for a footer line.
func GrandTotal(invoices []*record.Invoice) decimal.Decimal {
	total := decimal.Zero
	for _, inv := range invoices {
		if d, ok := record.ParseAmount(inv.TotalAmount); ok {
			total = total.Add(d)
		}
	}
	return total
}

func (e *Exporter) writeRow(f *excelize.File, sheet string, row int, values []any) {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		e.logger.Warn("Failed to compute cell name",
			zap.String("sheet", sheet),
			zap.Int("row", row),
			zap.Error(err))
		return
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		e.logger.Warn("Failed to write row",
			zap.String("sheet", sheet),
			zap.Int("row", row),
			zap.Error(err))
	}
}

func toCells(header []string) []any {
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	return cells
}
