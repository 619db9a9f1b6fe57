package models

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus is the workflow state of an invoice record.
type InvoiceStatus string

const (
	StatusPending   InvoiceStatus = "pending"
	StatusValidated InvoiceStatus = "validated"
	StatusExported  InvoiceStatus = "exported"
)

// Receiver identity seeded on every captured invoice.
const (
	DefaultReceiverName = "Diputación de Sevilla"
	DefaultReceiverNIF  = "P4100000I"
)

// DateLayout is the locale date format used by all date fields (DD/MM/YYYY).
const DateLayout = "02/01/2006"

// BoundingRegion marks where a recognized field appears on a page: a
// 1-based page number plus an 8-number polygon (4 corner points) in the
// page's physical unit.
type BoundingRegion struct {
	PageNumber int       `json:"pageNumber"`
	Polygon    []float64 `json:"polygon"`
}

// PageDimension is the physical size of one page as reported by a backend.
type PageDimension struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Unit   string  `json:"unit"`
}

// Invoice is the unit of work: the 14 business fields plus provenance and
// workflow state. hasErrors/errors are always the output of a validation
// pass in the store, never set independently.
type Invoice struct {
	ID string `json:"id"`

	// 14 business fields
	RegistrationDate   string  `json:"registrationDate"`   // Fecha Registro
	RegistrationNumber string  `json:"registrationNumber"` // Nº Registro
	InvoiceDate        string  `json:"invoiceDate"`        // Fecha Factura
	InvoiceNumber      string  `json:"invoiceNumber"`      // Nº Factura
	SupplierNIF        string  `json:"supplierNIF"`        // CIF/NIF
	SupplierName       string  `json:"supplierName"`       // Razón Social
	Concept            string  `json:"concept"`            // Concepto resumen
	SicalOffice        string  `json:"sicalOffice"`        // Oficina Sical
	SicalArea          string  `json:"sicalArea"`          // Área Sical
	BaseAmount         float64 `json:"baseAmount"`         // Base Imponible
	TaxPercent         float64 `json:"taxPercent"`         // % Impuesto
	TaxAmount          float64 `json:"taxAmount"`          // Importe Impuestos
	DiscountAmount     float64 `json:"discountAmount"`     // Importe Descuento
	TotalAmount        float64 `json:"totalAmount"`        // Total Factura

	// Provenance and workflow state
	Status           InvoiceStatus     `json:"status"`
	PDFFileName      string            `json:"pdfFileName"`
	PDFURL           string            `json:"pdfUrl,omitempty"`
	SearchablePDFURL string            `json:"searchablePdfUrl,omitempty"`
	OCRText          string            `json:"ocrText,omitempty"`
	ReceiverName     string            `json:"receiverName"`
	ReceiverNIF      string            `json:"receiverNIF"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	HasErrors        bool              `json:"hasErrors"`
	Errors           map[string]string `json:"errors,omitempty"`
	Selected         bool              `json:"selected"`

	FieldBounds     map[string]BoundingRegion `json:"fieldBounds,omitempty"`
	PagesDimensions []PageDimension           `json:"pagesDimensions,omitempty"`
}

// NewInvoice creates a pending invoice with field defaults: empty strings,
// zero amounts, the configured VAT percent and today's registration date.
func NewInvoice(fileName string, vatPercent float64) *Invoice {
	now := time.Now()
	return &Invoice{
		ID:               uuid.NewString(),
		RegistrationDate: now.Format(DateLayout),
		TaxPercent:       vatPercent,
		Status:           StatusPending,
		PDFFileName:      fileName,
		ReceiverName:     DefaultReceiverName,
		ReceiverNIF:      DefaultReceiverNIF,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Clone returns a deep copy; callers outside the store receive clones so
// they can never mutate collection state directly.
func (inv *Invoice) Clone() *Invoice {
	c := *inv
	if inv.Errors != nil {
		c.Errors = make(map[string]string, len(inv.Errors))
		for k, v := range inv.Errors {
			c.Errors[k] = v
		}
	}
	if inv.FieldBounds != nil {
		c.FieldBounds = make(map[string]BoundingRegion, len(inv.FieldBounds))
		for k, v := range inv.FieldBounds {
			p := make([]float64, len(v.Polygon))
			copy(p, v.Polygon)
			c.FieldBounds[k] = BoundingRegion{PageNumber: v.PageNumber, Polygon: p}
		}
	}
	if inv.PagesDimensions != nil {
		c.PagesDimensions = make([]PageDimension, len(inv.PagesDimensions))
		copy(c.PagesDimensions, inv.PagesDimensions)
	}
	return &c
}

// InvoicePatch is a partial field update merged into a record by the store.
// Nil fields are left untouched.
type InvoicePatch struct {
	RegistrationDate   *string        `json:"registrationDate,omitempty"`
	RegistrationNumber *string        `json:"registrationNumber,omitempty"`
	InvoiceDate        *string        `json:"invoiceDate,omitempty"`
	InvoiceNumber      *string        `json:"invoiceNumber,omitempty"`
	SupplierNIF        *string        `json:"supplierNIF,omitempty"`
	SupplierName       *string        `json:"supplierName,omitempty"`
	Concept            *string        `json:"concept,omitempty"`
	SicalOffice        *string        `json:"sicalOffice,omitempty"`
	SicalArea          *string        `json:"sicalArea,omitempty"`
	BaseAmount         *float64       `json:"baseAmount,omitempty"`
	TaxPercent         *float64       `json:"taxPercent,omitempty"`
	TaxAmount          *float64       `json:"taxAmount,omitempty"`
	DiscountAmount     *float64       `json:"discountAmount,omitempty"`
	TotalAmount        *float64       `json:"totalAmount,omitempty"`
	Status             *InvoiceStatus `json:"status,omitempty"`
}

// Apply merges the patch into the invoice.
func (p InvoicePatch) Apply(inv *Invoice) {
	if p.RegistrationDate != nil {
		inv.RegistrationDate = *p.RegistrationDate
	}
	if p.RegistrationNumber != nil {
		inv.RegistrationNumber = *p.RegistrationNumber
	}
	if p.InvoiceDate != nil {
		inv.InvoiceDate = *p.InvoiceDate
	}
	if p.InvoiceNumber != nil {
		inv.InvoiceNumber = *p.InvoiceNumber
	}
	if p.SupplierNIF != nil {
		inv.SupplierNIF = *p.SupplierNIF
	}
	if p.SupplierName != nil {
		inv.SupplierName = *p.SupplierName
	}
	if p.Concept != nil {
		inv.Concept = *p.Concept
	}
	if p.SicalOffice != nil {
		inv.SicalOffice = *p.SicalOffice
	}
	if p.SicalArea != nil {
		inv.SicalArea = *p.SicalArea
	}
	if p.BaseAmount != nil {
		inv.BaseAmount = *p.BaseAmount
	}
	if p.TaxPercent != nil {
		inv.TaxPercent = *p.TaxPercent
	}
	if p.TaxAmount != nil {
		inv.TaxAmount = *p.TaxAmount
	}
	if p.DiscountAmount != nil {
		inv.DiscountAmount = *p.DiscountAmount
	}
	if p.TotalAmount != nil {
		inv.TotalAmount = *p.TotalAmount
	}
	if p.Status != nil {
		inv.Status = *p.Status
	}
}
