// Package schema is the single source of truth for invoice well-formedness.
// The rules live in one declarative JSON-Schema document; validating a
// record yields a field→message map with the Spanish messages shown to the
// operator. Only the store invokes it, after every content mutation.
package schema

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/DiputacionSevilla/diputacion-facturas/internal/models"
)

// The projected document always carries every key, so emptiness is
// caught by the per-field minLength/pattern rules.
const invoiceSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"registrationDate": {"type": "string", "pattern": "^(\\d{2}/\\d{2}/\\d{4})?$"},
		"registrationNumber": {"type": "string"},
		"invoiceDate": {"type": "string", "pattern": "^\\d{2}/\\d{2}/\\d{4}$"},
		"invoiceNumber": {"type": "string", "minLength": 1},
		"supplierNIF": {"type": "string", "pattern": "^[ABCDEFGHJKLMNPQRSUVWabcdefghjklmnpqrsuvw][0-9]{8}$|^[0-9]{8}[A-Za-z]$"},
		"supplierName": {"type": "string", "minLength": 1},
		"concept": {"type": "string", "minLength": 1},
		"sicalOffice": {"type": "string"},
		"sicalArea": {"type": "string", "minLength": 1},
		"baseAmount": {"type": "number"},
		"taxPercent": {"type": "number", "minimum": 0, "maximum": 100},
		"taxAmount": {"type": "number"},
		"discountAmount": {"type": "number"},
		"totalAmount": {"type": "number", "exclusiveMinimum": 0},
		"status": {"enum": ["pending", "validated", "exported"]}
	}
}`

var compiled = jsonschema.MustCompileString("invoice.schema.json", invoiceSchema)

// Operator-facing messages, one per field. A field with several violated
// keywords still reports a single message, like the source form did.
var fieldMessages = map[string]string{
	"registrationDate": "Formato inválido (DD/MM/YYYY)",
	"invoiceDate":      "La fecha de factura es obligatoria (DD/MM/YYYY)",
	"invoiceNumber":    "El número de factura es obligatorio",
	"supplierNIF":      "NIF/CIF inválido",
	"supplierName":     "La razón social es obligatoria",
	"concept":          "El concepto es obligatorio",
	"sicalArea":        "El área Sical es obligatoria",
	"taxPercent":       "El % de impuesto debe estar entre 0 y 100",
	"totalAmount":      "El total debe ser mayor que 0",
	"status":           "Estado inválido",
}

// Validate checks the record against the schema and returns a field→message
// map, or nil when the record is well-formed. It is a pure function of the
// record's current field values.
func Validate(inv *models.Invoice) map[string]string {
	err := compiled.Validate(asDocument(inv))
	if err == nil {
		return nil
	}

	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errs := make(map[string]string)
	for _, basic := range ve.BasicOutput().Errors {
		field := strings.TrimPrefix(basic.InstanceLocation, "/")
		if field == "" || strings.Contains(field, "/") {
			continue
		}
		if msg, known := fieldMessages[field]; known {
			errs[field] = msg
		} else {
			errs[field] = basic.Error
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// asDocument projects the validated subset of an invoice into the generic
// shape the schema compiler expects.
func asDocument(inv *models.Invoice) map[string]any {
	return map[string]any{
		"id":                 inv.ID,
		"registrationDate":   inv.RegistrationDate,
		"registrationNumber": inv.RegistrationNumber,
		"invoiceDate":        inv.InvoiceDate,
		"invoiceNumber":      inv.InvoiceNumber,
		"supplierNIF":        inv.SupplierNIF,
		"supplierName":       inv.SupplierName,
		"concept":            inv.Concept,
		"sicalOffice":        inv.SicalOffice,
		"sicalArea":          inv.SicalArea,
		"baseAmount":         inv.BaseAmount,
		"taxPercent":         inv.TaxPercent,
		"taxAmount":          inv.TaxAmount,
		"discountAmount":     inv.DiscountAmount,
		"totalAmount":        inv.TotalAmount,
		"status":             string(inv.Status),
	}
}
