// Package record holds the canonical client-side representation of an
// invoice and the normalization between the two payload shapes the
// backend serves: a flat line_items field on recent records, and a
// legacy nested data blob that carries line_items with inconsistent
// key casing. Everything downstream of this package sees exactly one
// shape.
package record

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned when a payload cannot be interpreted as an
// invoice at all. Shape problems inside an otherwise readable record
// degrade to warnings instead.
var ErrMalformed = errors.New("malformed invoice payload")

// Key is the only stable identity for an invoice: unique within a
// division, meaningless without one.
type Key struct {
	Division string
	ID       int64
}

// String returns the string representation of the key
func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Division, k.ID)
}

// LineItem is one row of an invoice in canonical field naming. All
// values are display-typed text; the source may store numbers, which
// normalization renders as their literal text.
type LineItem struct {
	Description string `json:"item_description"`
	ProductCode string `json:"product_code"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

// Invoice is the canonical invoice entity. Scalar fields mirror the
// backend columns; LineItems is the unified view regardless of which
// payload shape the record arrived in. RawPayload preserves the legacy
// data blob (minus its line_items, which normalization absorbs) so a
// save round-trips the extraction fields the blob carries.
type Invoice struct {
	ID                 int64          `json:"id"`
	Division           string         `json:"division,omitempty"`
	InvoiceNumber      string         `json:"invoice_number"`
	InvoiceDate        string         `json:"invoice_date"`
	SupplierName       string         `json:"supplier_name"`
	SupplierAddress    string         `json:"supplier_address"`
	SupplierGSTIN      string         `json:"supplier_GSTIN"`
	CustomerAddress    string         `json:"customer_address"`
	CustomerGSTIN      string         `json:"customer_GSTIN"`
	PONumber           string         `json:"PO_number"`
	TotalAmount        string         `json:"total_amount"`
	TotalTaxPercentage string         `json:"total_tax_percentage"`
	JobID              string         `json:"job_ID"`
	VehicleNumber      string         `json:"vehicle_number"`
	ReferenceNumber    string         `json:"reference_number"`
	ScanningDate       string         `json:"scanning_date"`
	Status             string         `json:"status"`
	ProcessedBy        string         `json:"processed_by"`
	ApprovedBy         string         `json:"approved_by"`
	PDFReference       string         `json:"s3_filepath"`
	OCRQualityScore    float64        `json:"ocr_quality_score"`
	LineItems          []LineItem     `json:"line_items"`
	RawPayload         map[string]any `json:"-"`
}

// Invoice key helper.
func (inv *Invoice) Key() Key {
	return Key{Division: inv.Division, ID: inv.ID}
}

// Clone returns a deep copy. Edit buffers snapshot records with this
// so draft mutations never leak into the canonical copy.
func (inv *Invoice) Clone() *Invoice {
	cp := *inv
	if inv.LineItems != nil {
		cp.LineItems = make([]LineItem, len(inv.LineItems))
		copy(cp.LineItems, inv.LineItems)
	}
	if inv.RawPayload != nil {
		cp.RawPayload = cloneValue(inv.RawPayload).(map[string]any)
	}
	return &cp
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}

// Editable scalar field names, by canonical wire key. Protected keys
// (approved_by, processed_by, s3_filepath, the data container) are
// deliberately absent.
var editableFields = map[string]func(*Invoice) *string{
	"invoice_number":       func(i *Invoice) *string { return &i.InvoiceNumber },
	"invoice_date":         func(i *Invoice) *string { return &i.InvoiceDate },
	"supplier_name":        func(i *Invoice) *string { return &i.SupplierName },
	"supplier_address":     func(i *Invoice) *string { return &i.SupplierAddress },
	"supplier_GSTIN":       func(i *Invoice) *string { return &i.SupplierGSTIN },
	"customer_address":     func(i *Invoice) *string { return &i.CustomerAddress },
	"customer_GSTIN":       func(i *Invoice) *string { return &i.CustomerGSTIN },
	"PO_number":            func(i *Invoice) *string { return &i.PONumber },
	"total_amount":         func(i *Invoice) *string { return &i.TotalAmount },
	"total_tax_percentage": func(i *Invoice) *string { return &i.TotalTaxPercentage },
	"job_ID":               func(i *Invoice) *string { return &i.JobID },
	"vehicle_number":       func(i *Invoice) *string { return &i.VehicleNumber },
}

// EditableField returns a pointer to the named scalar field when that
// field is user-editable, or nil for protected and unknown names.
func EditableField(inv *Invoice, name string) *string {
	get, ok := editableFields[name]
	if !ok {
		return nil
	}
	return get(inv)
}
