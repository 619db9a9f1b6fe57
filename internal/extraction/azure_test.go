package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testAzureBackend(endpoint string, maxAttempts int) *AzureBackend {
	return NewAzureBackend(AzureConfig{
		Endpoint:     endpoint + "/",
		APIKey:       "test-key",
		PollInterval: time.Millisecond,
		MaxAttempts:  maxAttempts,
	}, 21, zap.NewNop())
}

func pdfDocument() Document {
	return Document{
		FileName:    "factura.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4 test"),
	}
}

// newAnalyzeServer simulates the async analyze protocol: the submit
// returns an operation location, then each poll walks through the given
// status sequence, repeating the last entry.
func newAnalyzeServer(t *testing.T, statuses []string, result *analyzeResult) (*httptest.Server, *int32) {
	t.Helper()
	var polls int32

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("POST /formrecognizer/documentModels/prebuilt-invoice:analyze", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		w.Header().Set("Operation-Location", srv.URL+"/formrecognizer/documentModels/prebuilt-invoice/analyzeResults/op-1?api-version=2023-07-31")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /formrecognizer/documentModels/prebuilt-invoice/analyzeResults/op-1", func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&polls, 1))
		idx := n - 1
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		resp := analyzeResponse{Status: statuses[idx]}
		if resp.Status == "succeeded" {
			resp.AnalyzeResult = result
		}
		if resp.Status == "failed" {
			resp.Error = &azureError{Code: "InternalServerError", Message: "model crashed"}
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestAzureExtract_PollsUntilSucceeded(t *testing.T) {
	result := &analyzeResult{Content: "texto"}
	srv, polls := newAnalyzeServer(t, []string{"running", "running", "succeeded"}, result)

	b := testAzureBackend(srv.URL, 20)
	res, err := b.Extract(context.Background(), pdfDocument(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "texto", res.OCRText)
	assert.Equal(t, int32(3), atomic.LoadInt32(polls))
}

func TestAzureExtract_TimesOutAfterMaxAttempts(t *testing.T) {
	srv, polls := newAnalyzeServer(t, []string{"running"}, nil)

	b := testAzureBackend(srv.URL, 5)
	_, err := b.Extract(context.Background(), pdfDocument(), Options{})
	require.ErrorIs(t, err, ErrAnalysisTimeout)
	// Exactly the ceiling, never one more.
	assert.Equal(t, int32(5), atomic.LoadInt32(polls))
}

func TestAzureExtract_RemoteFailureIsNotTimeout(t *testing.T) {
	srv, polls := newAnalyzeServer(t, []string{"running", "failed"}, nil)

	b := testAzureBackend(srv.URL, 20)
	_, err := b.Extract(context.Background(), pdfDocument(), Options{})
	require.ErrorIs(t, err, ErrAnalysisFailed)
	assert.NotErrorIs(t, err, ErrAnalysisTimeout)
	assert.Contains(t, err.Error(), "model crashed")
	assert.Equal(t, int32(2), atomic.LoadInt32(polls))
}

func TestAzureExtract_MissingOperationLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	b := testAzureBackend(srv.URL, 20)
	_, err := b.Extract(context.Background(), pdfDocument(), Options{})
	assert.ErrorIs(t, err, ErrNoOperationLocation)
}

func TestAzureExtract_RejectedSubmission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"InvalidRequest"}}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	b := testAzureBackend(srv.URL, 20)
	_, err := b.Extract(context.Background(), pdfDocument(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestAzureExtract_EmptyDocument(t *testing.T) {
	b := testAzureBackend("http://unused", 1)
	_, err := b.Extract(context.Background(), Document{FileName: "x.pdf"}, Options{})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestAzureExtract_MapsStructuredFields(t *testing.T) {
	result := &analyzeResult{
		Content: "texto completo",
		Pages:   []azurePage{{PageNumber: 1, Width: 8.27, Height: 11.69, Unit: "inch"}},
		Documents: []azureDocument{{
			Fields: map[string]azureField{
				"InvoiceDate": {Type: "date", ValueDate: "2026-03-15",
					BoundingRegions: []azureBoundingRegion{{PageNumber: 1, Polygon: []float64{1, 1, 2, 1, 2, 2, 1, 2}}}},
				"InvoiceId":    {Type: "string", ValueString: "A-2026/0145"},
				"VendorTaxId":  {Type: "string", ValueString: "b-9123.4567"},
				"VendorName":   {Type: "string", ValueString: "ACME Suministros S.L."},
				"SubTotal":     {Type: "currency", ValueCurrency: &azureCurrency{Amount: 100}},
				"TotalTax":     {Type: "currency", ValueCurrency: &azureCurrency{Amount: 21}},
				"InvoiceTotal": {Type: "currency", ValueCurrency: &azureCurrency{Amount: 121}},
				"Items": {Type: "array", ValueArray: []azureField{{
					Type: "object",
					ValueObject: map[string]azureField{
						"Description": {Type: "string", ValueString: "Material de oficina"},
					},
				}}},
			},
		}},
	}
	srv, _ := newAnalyzeServer(t, []string{"succeeded"}, result)

	b := testAzureBackend(srv.URL, 20)
	res, err := b.Extract(context.Background(), pdfDocument(), Options{})
	require.NoError(t, err)

	assert.Equal(t, "15/03/2026", res.Fields.InvoiceDate)
	assert.Equal(t, "A-2026/0145", res.Fields.InvoiceNumber)
	assert.Equal(t, "B91234567", res.Fields.SupplierNIF)
	assert.Equal(t, "ACME Suministros S.L.", res.Fields.SupplierName)
	assert.Equal(t, "Material de oficina", res.Concept)
	assert.Equal(t, "texto completo", res.OCRText)

	require.NotNil(t, res.Fields.BaseAmount)
	require.NotNil(t, res.Fields.TaxAmount)
	require.NotNil(t, res.Fields.TotalAmount)
	require.NotNil(t, res.Fields.TaxPercent)
	assert.InDelta(t, 100, *res.Fields.BaseAmount, 0.001)
	assert.InDelta(t, 21, *res.Fields.TaxAmount, 0.001)
	assert.InDelta(t, 121, *res.Fields.TotalAmount, 0.001)
	assert.InDelta(t, 21, *res.Fields.TaxPercent, 0.001)

	require.Len(t, res.PagesDimensions, 1)
	assert.Equal(t, "inch", res.PagesDimensions[0].Unit)

	region, ok := res.FieldBounds["invoiceDate"]
	require.True(t, ok)
	assert.Equal(t, 1, region.PageNumber)
	assert.Len(t, region.Polygon, 8)
}

func TestAzureExtract_DerivesAmountsFromTotalOnly(t *testing.T) {
	result := &analyzeResult{
		Documents: []azureDocument{{
			Fields: map[string]azureField{
				"InvoiceTotal": {Type: "currency", ValueCurrency: &azureCurrency{Amount: 121}},
			},
		}},
	}
	srv, _ := newAnalyzeServer(t, []string{"succeeded"}, result)

	b := testAzureBackend(srv.URL, 20)
	res, err := b.Extract(context.Background(), pdfDocument(), Options{})
	require.NoError(t, err)

	assert.InDelta(t, 100, *res.Fields.BaseAmount, 0.001)
	assert.InDelta(t, 21, *res.Fields.TaxAmount, 0.001)
	assert.InDelta(t, 21, *res.Fields.TaxPercent, 0.001)
}

func TestAzureExtract_DefaultConceptWhenNoItems(t *testing.T) {
	result := &analyzeResult{Documents: []azureDocument{{Fields: map[string]azureField{}}}}
	srv, _ := newAnalyzeServer(t, []string{"succeeded"}, result)

	b := testAzureBackend(srv.URL, 20)
	res, err := b.Extract(context.Background(), pdfDocument(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "Factura extraída por Azure AI", res.Concept)
}

func TestFormatAzureDate(t *testing.T) {
	assert.Equal(t, "15/03/2026", formatAzureDate("2026-03-15"))
	assert.Equal(t, "", formatAzureDate(""))
	assert.Equal(t, "15/03", formatAzureDate("15/03")) // passthrough
}
