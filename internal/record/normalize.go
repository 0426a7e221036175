package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Line-item key aliases observed across record versions. Canonical
// names are the map values; lookups are case-insensitive.
var itemFieldAliases = map[string]string{
	"item_description": "item_description",
	"description":      "item_description",
	"product_code":     "product_code",
	"quantity":         "quantity",
	"unit_price":       "unit_price",
	"line_total":       "line_total",
}

// CanonicalItemField resolves a line-item field name (any casing, any
// known alias) to its canonical form. ok is false for names that are
// not line-item fields at all.
func CanonicalItemField(name string) (string, bool) {
	canonical, ok := itemFieldAliases[strings.ToLower(name)]
	return canonical, ok
}

// Normalize resolves a raw backend payload into a canonical Invoice.
//
// Line-item authority: when the legacy data blob is present and
// carries a line_items sequence, that sequence wins; otherwise the
// flat line_items field is used. Records where neither source parses
// as a sequence come back with empty line items and a warning rather
// than failing the whole record. Only a payload that is not a JSON
// object at all is rejected, with ErrMalformed.
//
// Normalization is idempotent: re-normalizing the wire shape of a
// normalized invoice yields an equal invoice.
func Normalize(raw []byte) (*Invoice, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	inv := &Invoice{}
	var warnings []string

	if id, ok := payload["id"].(json.Number); ok {
		if n, err := id.Int64(); err == nil {
			inv.ID = n
		}
	}
	inv.Division = stringify(payload["division"])
	for name, field := range editableFields {
		*field(inv) = stringify(payload[name])
	}
	inv.ReferenceNumber = stringify(payload["reference_number"])
	inv.ScanningDate = stringify(payload["scanning_date"])
	inv.Status = stringify(payload["status"])
	inv.ProcessedBy = stringify(payload["processed_by"])
	inv.ApprovedBy = stringify(payload["approved_by"])
	inv.PDFReference = stringify(payload["s3_filepath"])
	if score, ok := payload["ocr_quality_score"].(json.Number); ok {
		if f, err := score.Float64(); err == nil {
			inv.OCRQualityScore = f
		}
	}

	items, blob, itemWarnings := resolveLineItems(payload)
	inv.LineItems = items
	inv.RawPayload = blob
	warnings = append(warnings, itemWarnings...)

	return inv, warnings, nil
}

// resolveLineItems picks the authoritative line-item source and
// returns the canonical items plus the upgraded data blob (the legacy
// blob with its line_items removed), if the record carried one.
func resolveLineItems(payload map[string]any) ([]LineItem, map[string]any, []string) {
	var warnings []string

	blob, blobWarnings := decodeDataBlob(payload["data"])
	warnings = append(warnings, blobWarnings...)

	var source any
	if blob != nil {
		if nested, ok := blob["line_items"]; ok {
			source = nested
			delete(blob, "line_items")
		}
	}
	if source == nil {
		source = payload["line_items"]
	}

	if source == nil {
		return []LineItem{}, blob, warnings
	}

	seq, ok := source.([]any)
	if !ok {
		warnings = append(warnings, "line_items is not a sequence; treating as empty")
		return []LineItem{}, blob, warnings
	}

	items := make([]LineItem, 0, len(seq))
	for i, entry := range seq {
		m, ok := entry.(map[string]any)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("line item %d is not an object; dropped", i))
			continue
		}
		items = append(items, canonicalLineItem(m))
	}
	return items, blob, warnings
}

// decodeDataBlob handles the two forms the legacy blob arrives in: an
// embedded object, or a JSON string that itself encodes the object.
func decodeDataBlob(v any) (map[string]any, []string) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	case string:
		if t == "" {
			return nil, nil
		}
		dec := json.NewDecoder(strings.NewReader(t))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return nil, []string{"data blob does not parse as JSON; ignored"}
		}
		return m, nil
	default:
		return nil, []string{"data blob has unexpected type; ignored"}
	}
}

// canonicalLineItem maps a raw item object onto canonical field names,
// tolerating casing drift like unit_Price. Later duplicates of the
// same canonical field do not overwrite an earlier non-empty value.
func canonicalLineItem(m map[string]any) LineItem {
	var li LineItem
	set := func(dst *string, v any) {
		if *dst == "" {
			*dst = stringify(v)
		}
	}
	for k, v := range m {
		canonical, ok := CanonicalItemField(k)
		if !ok {
			continue
		}
		switch canonical {
		case "item_description":
			set(&li.Description, v)
		case "product_code":
			set(&li.ProductCode, v)
		case "quantity":
			set(&li.Quantity, v)
		case "unit_price":
			set(&li.UnitPrice, v)
		case "line_total":
			set(&li.LineTotal, v)
		}
	}
	return li
}

// stringify renders a JSON scalar as its display text. The underlying
// text representation is what round-trips on save; numbers keep their
// literal form.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}

// WireShape projects the invoice back into the payload the backend
// expects for a PUT. Line items always go out flat under canonical
// names; the legacy blob, when present, goes out upgraded (without a
// line_items mirror) so extraction fields survive the save. Display
// derivations are never emitted.
func WireShape(inv *Invoice) map[string]any {
	payload := map[string]any{
		"id":                   inv.ID,
		"ocr_quality_score":    inv.OCRQualityScore,
		"invoice_number":       inv.InvoiceNumber,
		"invoice_date":         inv.InvoiceDate,
		"supplier_name":        inv.SupplierName,
		"supplier_address":     inv.SupplierAddress,
		"supplier_GSTIN":       inv.SupplierGSTIN,
		"customer_address":     inv.CustomerAddress,
		"customer_GSTIN":       inv.CustomerGSTIN,
		"PO_number":            inv.PONumber,
		"total_amount":         inv.TotalAmount,
		"total_tax_percentage": inv.TotalTaxPercentage,
		"job_ID":               inv.JobID,
		"vehicle_number":       inv.VehicleNumber,
		"reference_number":     inv.ReferenceNumber,
		"scanning_date":        inv.ScanningDate,
		"status":               inv.Status,
		"processed_by":         inv.ProcessedBy,
		"approved_by":          inv.ApprovedBy,
		"s3_filepath":          inv.PDFReference,
	}
	if inv.Division != "" {
		payload["division"] = inv.Division
	}

	items := make([]any, len(inv.LineItems))
	for i, li := range inv.LineItems {
		items[i] = map[string]any{
			"item_description": li.Description,
			"product_code":     li.ProductCode,
			"quantity":         li.Quantity,
			"unit_price":       li.UnitPrice,
			"line_total":       li.LineTotal,
		}
	}
	payload["line_items"] = items

	if inv.RawPayload != nil {
		payload["data"] = cloneValue(inv.RawPayload)
	}

	return payload
}

// MarshalWireShape is WireShape serialized, for PUT bodies and for
// feeding a normalized record back through Normalize.
func MarshalWireShape(inv *Invoice) ([]byte, error) {
	return json.Marshal(WireShape(inv))
}
