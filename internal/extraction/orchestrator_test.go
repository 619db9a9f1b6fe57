package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DiputacionSevilla/diputacion-facturas/internal/heuristics"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/models"
)

// stubBackend returns a fixed result or error.
type stubBackend struct {
	name string
	res  *Result
	err  error
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Extract(context.Context, Document, Options) (*Result, error) {
	return s.res, s.err
}

// stubSaver records searchable renditions.
type stubSaver struct {
	saved map[string][]byte
	err   error
}

func (s *stubSaver) SaveSearchablePDF(fileName string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.saved == nil {
		s.saved = make(map[string][]byte)
	}
	s.saved[fileName] = data
	return "/files/" + fileName, nil
}

func newOrchestrator(b Backend, saver SearchableSaver) *Orchestrator {
	return NewOrchestrator(map[Kind]Backend{KindLocal: b}, KindLocal, saver, 21, zap.NewNop())
}

func TestProcessDocument_Success(t *testing.T) {
	total := 121.0
	backend := &stubBackend{
		name: "local",
		res: &Result{
			Fields: heuristics.Fields{
				InvoiceDate:   "15/03/2026",
				InvoiceNumber: "A-0001",
				SupplierNIF:   "B91234567",
				SupplierName:  "ACME Suministros S.L.",
				TotalAmount:   &total,
			},
			Concept: "Material de oficina",
			OCRText: "texto",
		},
	}

	o := newOrchestrator(backend, nil)
	inv := o.ProcessDocument(context.Background(), Document{FileName: "factura.pdf"}, Options{})

	assert.False(t, inv.HasErrors)
	assert.Equal(t, "factura.pdf", inv.PDFFileName)
	assert.Equal(t, "A-0001", inv.InvoiceNumber)
	assert.Equal(t, "B91234567", inv.SupplierNIF)
	assert.Equal(t, "Material de oficina", inv.Concept)
	assert.Equal(t, "texto", inv.OCRText)
	assert.InDelta(t, 121, inv.TotalAmount, 0.001)
	assert.Equal(t, models.StatusPending, inv.Status)
	assert.Equal(t, models.DefaultReceiverName, inv.ReceiverName)
	assert.Equal(t, models.DefaultReceiverNIF, inv.ReceiverNIF)
}

func TestProcessDocument_PartialFieldsKeepDefaults(t *testing.T) {
	backend := &stubBackend{name: "local", res: &Result{
		Fields: heuristics.Fields{SupplierName: "ACME"},
	}}

	o := newOrchestrator(backend, nil)
	inv := o.ProcessDocument(context.Background(), Document{FileName: "f.pdf"}, Options{})

	assert.Equal(t, "ACME", inv.SupplierName)
	assert.Equal(t, "", inv.SupplierNIF)
	// Default VAT percent survives when the backend reports nothing.
	assert.InDelta(t, 21, inv.TaxPercent, 0.001)
}

func TestProcessDocument_DegradesFailures(t *testing.T) {
	cases := []struct {
		err     error
		concept string
	}{
		{ErrAnalysisTimeout, "Error: el análisis remoto no terminó a tiempo"},
		{ErrAnalysisFailed, "Error: el análisis remoto falló"},
		{ErrNoText, "Error: el documento no contiene texto reconocible"},
		{errors.New("boom"), "Error al procesar el documento"},
	}
	for _, tc := range cases {
		o := newOrchestrator(&stubBackend{name: "local", err: tc.err}, nil)
		inv := o.ProcessDocument(context.Background(), Document{FileName: "f.pdf"}, Options{})

		require.NotNil(t, inv, "error %v", tc.err)
		assert.True(t, inv.HasErrors)
		assert.Equal(t, tc.concept, inv.Concept)
		assert.Equal(t, "f.pdf", inv.PDFFileName)
	}
}

func TestProcessDocument_SavesSearchablePDF(t *testing.T) {
	backend := &stubBackend{name: "remote", res: &Result{
		SearchablePDF: []byte("%PDF searchable"),
	}}
	saver := &stubSaver{}

	o := NewOrchestrator(map[Kind]Backend{KindRemote: backend}, KindRemote, saver, 21, zap.NewNop())
	inv := o.ProcessDocument(context.Background(), Document{FileName: "f.pdf"}, Options{SearchablePDF: true})

	assert.Equal(t, "/files/f.pdf", inv.SearchablePDFURL)
	assert.Equal(t, []byte("%PDF searchable"), saver.saved["f.pdf"])
}

func TestProcessDocument_SaverFailureIsNonFatal(t *testing.T) {
	backend := &stubBackend{name: "remote", res: &Result{
		SearchablePDF: []byte("%PDF searchable"),
	}}
	saver := &stubSaver{err: errors.New("disk full")}

	o := NewOrchestrator(map[Kind]Backend{KindRemote: backend}, KindRemote, saver, 21, zap.NewNop())
	inv := o.ProcessDocument(context.Background(), Document{FileName: "f.pdf"}, Options{SearchablePDF: true})

	assert.False(t, inv.HasErrors)
	assert.Empty(t, inv.SearchablePDFURL)
}

func TestNewOrchestrator_UnknownKindFallsBackToLocal(t *testing.T) {
	local := &stubBackend{name: "local"}
	o := NewOrchestrator(map[Kind]Backend{KindLocal: local}, Kind("azure"), nil, 21, zap.NewNop())
	assert.Equal(t, "local", o.BackendName())
}

func TestDegradedInvoice(t *testing.T) {
	o := newOrchestrator(&stubBackend{name: "local"}, nil)

	inv := o.DegradedInvoice("roto.pdf", errors.New("unexpected EOF"))
	assert.True(t, inv.HasErrors)
	assert.Equal(t, "Error al procesar el documento", inv.Concept)
	assert.Equal(t, "roto.pdf", inv.PDFFileName)
	assert.Equal(t, models.StatusPending, inv.Status)
	assert.InDelta(t, 21, inv.TaxPercent, 0.001)
}

func TestProcessDocument_PerDocumentBackendOverride(t *testing.T) {
	local := &stubBackend{name: "local", res: &Result{Concept: "desde local"}}
	remote := &stubBackend{name: "remote", res: &Result{Concept: "desde remoto"}}
	o := NewOrchestrator(map[Kind]Backend{KindLocal: local, KindRemote: remote}, KindLocal, nil, 21, zap.NewNop())

	inv := o.ProcessDocument(context.Background(), Document{FileName: "f.pdf"}, Options{Backend: KindRemote})
	assert.Equal(t, "desde remoto", inv.Concept)

	inv = o.ProcessDocument(context.Background(), Document{FileName: "f.pdf"}, Options{Backend: Kind("bogus")})
	assert.Equal(t, "desde local", inv.Concept)
}
