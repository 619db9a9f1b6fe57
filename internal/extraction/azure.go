package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DiputacionSevilla/diputacion-facturas/internal/heuristics"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/models"
)

// Vendor field name → invoice field name. Structured responses are mapped
// by this table, never by heuristic parsing.
var azureFieldNames = map[string]string{
	"InvoiceDate":  "invoiceDate",
	"InvoiceId":    "invoiceNumber",
	"VendorTaxId":  "supplierNIF",
	"VendorName":   "supplierName",
	"SubTotal":     "baseAmount",
	"TotalTax":     "taxAmount",
	"InvoiceTotal": "totalAmount",
}

// AzureConfig holds the Document Intelligence connection and polling
// policy. The two jobs poll on different schedules: field extraction every
// 1.5s up to 20 attempts, the searchable-PDF job every 2s up to 30.
type AzureConfig struct {
	Endpoint               string
	APIKey                 string
	ModelID                string
	APIVersion             string
	PollInterval           time.Duration
	MaxAttempts            int
	SearchablePollInterval time.Duration
	SearchableMaxAttempts  int
}

// AzureBackend submits the raw document to an asynchronous Document
// Intelligence job, polls until completion and maps the vendor's
// structured fields into the invoice schema.
type AzureBackend struct {
	cfg        AzureConfig
	client     *http.Client
	vatPercent float64
	logger     *zap.Logger
}

// NewAzureBackend creates the remote backend.
func NewAzureBackend(cfg AzureConfig, vatPercent float64, logger *zap.Logger) *AzureBackend {
	if cfg.ModelID == "" {
		cfg.ModelID = "prebuilt-invoice"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-07-31"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1500 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 20
	}
	if cfg.SearchablePollInterval <= 0 {
		cfg.SearchablePollInterval = 2 * time.Second
	}
	if cfg.SearchableMaxAttempts <= 0 {
		cfg.SearchableMaxAttempts = 30
	}
	return &AzureBackend{
		cfg:        cfg,
		client:     &http.Client{Timeout: 30 * time.Second},
		vatPercent: vatPercent,
		logger:     logger,
	}
}

// Name identifies the backend in logs and configuration.
func (b *AzureBackend) Name() string { return string(KindRemote) }

// Extract runs Submitted → Polling{n} → Succeeded|Failed|TimedOut and maps
// the structured result. The searchable-PDF sub-job is independent and
// best-effort: its failure never fails the extraction.
func (b *AzureBackend) Extract(ctx context.Context, doc Document, opts Options) (*Result, error) {
	if len(doc.Data) == 0 {
		return nil, ErrEmptyDocument
	}

	opLocation, err := b.submit(ctx, doc, false)
	if err != nil {
		return nil, err
	}

	resp, err := b.poll(ctx, opLocation, b.cfg.PollInterval, b.cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}

	result := b.mapResult(resp.AnalyzeResult)

	if opts.SearchablePDF {
		pdf, err := b.fetchSearchablePDF(ctx, doc)
		if err != nil {
			b.logger.Warn("searchable PDF generation failed, keeping original document",
				zap.String("file", doc.FileName),
				zap.Error(err))
		} else {
			result.SearchablePDF = pdf
		}
	}

	return result, nil
}

// submit posts the raw bytes to the analyze endpoint and returns the
// operation location to poll. A missing operation-location header is a
// hard protocol error, not retried.
func (b *AzureBackend) submit(ctx context.Context, doc Document, searchablePDF bool) (string, error) {
	analyzeURL := fmt.Sprintf("%sformrecognizer/documentModels/%s:analyze?api-version=%s",
		b.cfg.Endpoint, b.cfg.ModelID, b.cfg.APIVersion)
	if searchablePDF {
		analyzeURL += "&output=pdf"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, analyzeURL, bytes.NewReader(doc.Data))
	if err != nil {
		return "", fmt.Errorf("failed to build analyze request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", b.cfg.APIKey)
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("analyze submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("analyze submission rejected with status %d: %s", resp.StatusCode, string(body))
	}

	opLocation := resp.Header.Get("Operation-Location")
	if opLocation == "" {
		return "", ErrNoOperationLocation
	}

	b.logger.Debug("document submitted for analysis",
		zap.String("model", b.cfg.ModelID),
		zap.Bool("searchable_pdf", searchablePDF))
	return opLocation, nil
}

// poll repeats authenticated GETs against the operation location on a
// fixed interval. succeeded exits with the result, failed raises
// immediately, anything else means still running. Exhausting the attempt
// ceiling is a timeout, distinct from a remote failure.
func (b *AzureBackend) poll(ctx context.Context, opLocation string, interval time.Duration, maxAttempts int) (*analyzeResponse, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := b.pollOnce(ctx, opLocation)
		if err != nil {
			return nil, err
		}

		switch resp.Status {
		case "succeeded":
			return resp, nil
		case "failed":
			detail := ""
			if resp.Error != nil {
				detail = ": " + resp.Error.Message
			}
			return nil, fmt.Errorf("%w%s", ErrAnalysisFailed, detail)
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrAnalysisTimeout, maxAttempts)
}

func (b *AzureBackend) pollOnce(ctx context.Context, opLocation string) (*analyzeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opLocation, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build poll request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", b.cfg.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("poll rejected with status %d", resp.StatusCode)
	}

	var parsed analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}
	return &parsed, nil
}

// fetchSearchablePDF runs the optional second job: same submission with
// output=pdf, its own polling schedule, then a fetch of the text-layered
// rendition.
func (b *AzureBackend) fetchSearchablePDF(ctx context.Context, doc Document) ([]byte, error) {
	opLocation, err := b.submit(ctx, doc, true)
	if err != nil {
		return nil, err
	}

	if _, err := b.poll(ctx, opLocation, b.cfg.SearchablePollInterval, b.cfg.SearchableMaxAttempts); err != nil {
		return nil, err
	}

	// The PDF rendition lives next to the analyze result:
	// .../analyzeResults/{id}/pdf?api-version=...
	pdfURL := strings.Replace(opLocation, "?", "/pdf?", 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pdf request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", b.cfg.APIKey)
	req.Header.Set("Accept", "application/pdf")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pdf fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("pdf fetch rejected with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// mapResult converts the vendor response into the uniform Result: fields
// by the fixed name table, geometry from bounding regions, page physical
// dimensions from the per-page metadata.
func (b *AzureBackend) mapResult(ar *analyzeResult) *Result {
	result := &Result{
		Concept: "Factura extraída por Azure AI",
	}
	if ar == nil {
		return result
	}
	result.OCRText = ar.Content

	for _, page := range ar.Pages {
		result.PagesDimensions = append(result.PagesDimensions, models.PageDimension{
			Width:  page.Width,
			Height: page.Height,
			Unit:   page.Unit,
		})
	}

	if len(ar.Documents) == 0 {
		return result
	}
	fields := ar.Documents[0].Fields

	var base, tax, total float64
	for vendorName, localName := range azureFieldNames {
		field, ok := fields[vendorName]
		if !ok {
			continue
		}

		switch localName {
		case "invoiceDate":
			result.Fields.InvoiceDate = formatAzureDate(field.stringValue())
		case "invoiceNumber":
			result.Fields.InvoiceNumber = field.stringValue()
		case "supplierNIF":
			result.Fields.SupplierNIF = normalizeNIF(field.stringValue())
		case "supplierName":
			result.Fields.SupplierName = field.stringValue()
		case "baseAmount":
			base = heuristics.Round2(field.numberValue())
		case "taxAmount":
			tax = heuristics.Round2(field.numberValue())
		case "totalAmount":
			total = heuristics.Round2(field.numberValue())
		}

		if len(field.BoundingRegions) > 0 {
			region := field.BoundingRegions[0]
			if result.FieldBounds == nil {
				result.FieldBounds = make(map[string]models.BoundingRegion)
			}
			result.FieldBounds[localName] = models.BoundingRegion{
				PageNumber: region.PageNumber,
				Polygon:    region.Polygon,
			}
		}
	}

	if concept := itemsDescription(fields); concept != "" {
		result.Concept = concept
	}

	b.reconcileAmounts(&result.Fields, base, tax, total)
	return result
}

// reconcileAmounts fills the monetary gaps a structured response may
// leave, applying the same flat-VAT derivation the heuristics engine uses
// when only a total is known.
func (b *AzureBackend) reconcileAmounts(f *heuristics.Fields, base, tax, total float64) {
	percent := b.vatPercent

	switch {
	case total > 0 && base > 0:
		if tax == 0 {
			tax = heuristics.Round2(total - base)
		}
	case total > 0 && base == 0:
		base = heuristics.Round2(total / (1 + b.vatPercent/100))
		if tax == 0 {
			tax = heuristics.Round2(total - base)
		}
	}
	if base > 0 && tax > 0 {
		percent = math.Round(tax / base * 100)
	}

	f.BaseAmount = &base
	f.TaxAmount = &tax
	f.TotalAmount = &total
	f.TaxPercent = &percent
}

func itemsDescription(fields map[string]azureField) string {
	items, ok := fields["Items"]
	if !ok || len(items.ValueArray) == 0 {
		return ""
	}
	desc, ok := items.ValueArray[0].ValueObject["Description"]
	if !ok {
		return ""
	}
	return desc.stringValue()
}

// formatAzureDate converts the vendor's YYYY-MM-DD into the locale
// DD/MM/YYYY; unparseable values pass through untouched.
func formatAzureDate(value string) string {
	if value == "" {
		return ""
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return value
	}
	return t.Format(models.DateLayout)
}

func normalizeNIF(value string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(value) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Vendor wire shapes, confined to this file.

type analyzeResponse struct {
	Status        string         `json:"status"`
	Error         *azureError    `json:"error,omitempty"`
	AnalyzeResult *analyzeResult `json:"analyzeResult,omitempty"`
}

type azureError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type analyzeResult struct {
	Content   string          `json:"content"`
	Pages     []azurePage     `json:"pages"`
	Documents []azureDocument `json:"documents"`
}

type azurePage struct {
	PageNumber int     `json:"pageNumber"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Unit       string  `json:"unit"`
}

type azureDocument struct {
	Fields map[string]azureField `json:"fields"`
}

type azureField struct {
	Type            string                `json:"type"`
	ValueString     string                `json:"valueString,omitempty"`
	ValueDate       string                `json:"valueDate,omitempty"`
	ValueNumber     float64               `json:"valueNumber,omitempty"`
	ValueCurrency   *azureCurrency        `json:"valueCurrency,omitempty"`
	ValueArray      []azureField          `json:"valueArray,omitempty"`
	ValueObject     map[string]azureField `json:"valueObject,omitempty"`
	Content         string                `json:"content,omitempty"`
	BoundingRegions []azureBoundingRegion `json:"boundingRegions,omitempty"`
}

type azureCurrency struct {
	Amount float64 `json:"amount"`
}

type azureBoundingRegion struct {
	PageNumber int       `json:"pageNumber"`
	Polygon    []float64 `json:"polygon"`
}

// stringValue mirrors the vendor's typed value envelope: the declared type
// picks the value slot, with content as the fallback.
func (f azureField) stringValue() string {
	switch f.Type {
	case "string":
		return f.ValueString
	case "date":
		return f.ValueDate
	}
	if f.ValueString != "" {
		return f.ValueString
	}
	return f.Content
}

func (f azureField) numberValue() float64 {
	switch f.Type {
	case "number":
		return f.ValueNumber
	case "currency":
		if f.ValueCurrency != nil {
			return f.ValueCurrency.Amount
		}
	}
	return f.ValueNumber
}
