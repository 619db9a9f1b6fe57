package extraction

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DiputacionSevilla/diputacion-facturas/internal/heuristics"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/models"
)

// SearchableSaver persists a text-searchable rendition and returns the URL
// it is served at. Implemented by the file storage; optional.
type SearchableSaver interface {
	SaveSearchablePDF(fileName string, data []byte) (string, error)
}

// Orchestrator routes each document to the selected backend and degrades
// every failure into a reviewable record. It never returns an error: the
// operator reviews flagged records instead of losing documents.
type Orchestrator struct {
	backends   map[Kind]Backend
	selected   Kind
	saver      SearchableSaver
	vatPercent float64
	logger     *zap.Logger
}

// NewOrchestrator wires the available backends. selected picks which one
// handles documents; an unknown kind falls back to local.
func NewOrchestrator(backends map[Kind]Backend, selected Kind, saver SearchableSaver, vatPercent float64, logger *zap.Logger) *Orchestrator {
	if _, ok := backends[selected]; !ok {
		selected = KindLocal
	}
	return &Orchestrator{
		backends:   backends,
		selected:   selected,
		saver:      saver,
		vatPercent: vatPercent,
		logger:     logger,
	}
}

// BackendName reports the active backend for logs and the health endpoint.
func (o *Orchestrator) BackendName() string {
	return o.backends[o.selected].Name()
}

// ProcessDocument runs one document through the active backend and always
// produces exactly one invoice record. On backend failure the record keeps
// its defaults, is flagged, and carries a Spanish reason in the concept so
// the operator sees it in the grid.
func (o *Orchestrator) ProcessDocument(ctx context.Context, doc Document, opts Options) *models.Invoice {
	inv := models.NewInvoice(doc.FileName, o.vatPercent)

	backend := o.backends[o.selected]
	if override, ok := o.backends[opts.Backend]; ok {
		backend = override
	}
	res, err := backend.Extract(ctx, doc, opts)
	if err != nil {
		o.logger.Error("extraction failed, degrading to flagged record",
			zap.String("file", doc.FileName),
			zap.String("backend", backend.Name()),
			zap.Error(err))
		inv.HasErrors = true
		inv.Concept = degradedConcept(err)
		return inv
	}

	applyFields(inv, res.Fields)
	if res.Concept != "" {
		inv.Concept = res.Concept
	}
	inv.OCRText = res.OCRText
	inv.FieldBounds = res.FieldBounds
	inv.PagesDimensions = res.PagesDimensions

	if len(res.SearchablePDF) > 0 && o.saver != nil {
		url, err := o.saver.SaveSearchablePDF(doc.FileName, res.SearchablePDF)
		if err != nil {
			o.logger.Warn("failed to store searchable PDF",
				zap.String("file", doc.FileName),
				zap.Error(err))
		} else {
			inv.SearchablePDFURL = url
		}
	}

	o.logger.Info("document processed",
		zap.String("file", doc.FileName),
		zap.String("backend", backend.Name()),
		zap.String("invoice_number", inv.InvoiceNumber))
	return inv
}

// DegradedInvoice builds the flagged record for a document that failed
// before extraction could run, such as an unreadable upload. Callers use
// it to keep a batch going: one bad file yields one flagged record.
func (o *Orchestrator) DegradedInvoice(fileName string, err error) *models.Invoice {
	o.logger.Error("document rejected before extraction",
		zap.String("file", fileName),
		zap.Error(err))
	inv := models.NewInvoice(fileName, o.vatPercent)
	inv.HasErrors = true
	inv.Concept = degradedConcept(err)
	return inv
}

// applyFields merges a partial extraction into the record defaults.
func applyFields(inv *models.Invoice, f heuristics.Fields) {
	if f.InvoiceDate != "" {
		inv.InvoiceDate = f.InvoiceDate
	}
	if f.InvoiceNumber != "" {
		inv.InvoiceNumber = f.InvoiceNumber
	}
	if f.SupplierNIF != "" {
		inv.SupplierNIF = f.SupplierNIF
	}
	if f.SupplierName != "" {
		inv.SupplierName = f.SupplierName
	}
	if f.BaseAmount != nil {
		inv.BaseAmount = *f.BaseAmount
	}
	if f.TaxPercent != nil {
		inv.TaxPercent = *f.TaxPercent
	}
	if f.TaxAmount != nil {
		inv.TaxAmount = *f.TaxAmount
	}
	if f.TotalAmount != nil {
		inv.TotalAmount = *f.TotalAmount
	}
}

// degradedConcept picks the operator-facing reason for a failed extraction.
func degradedConcept(err error) string {
	switch {
	case errors.Is(err, ErrAnalysisTimeout):
		return "Error: el análisis remoto no terminó a tiempo"
	case errors.Is(err, ErrAnalysisFailed):
		return "Error: el análisis remoto falló"
	case errors.Is(err, ErrNoText):
		return "Error: el documento no contiene texto reconocible"
	case errors.Is(err, ErrEmptyDocument):
		return "Error: documento vacío"
	default:
		return "Error al procesar el documento"
	}
}
