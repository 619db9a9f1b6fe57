// Package heuristics extracts invoice fields from raw recognized text
// using ordered pattern rules and keyword proximity. It is rule-based, not
// a general document-understanding solver: every rule encodes an explicit
// assumption about how Spanish invoices are laid out.
package heuristics

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Fields is the partial result of a parse. Empty strings and nil amounts
// mean "no match"; callers merge against record defaults.
type Fields struct {
	InvoiceDate   string
	InvoiceNumber string
	SupplierNIF   string
	SupplierName  string
	BaseAmount    *float64
	TaxPercent    *float64
	TaxAmount     *float64
	TotalAmount   *float64
}

// PendingInvoiceNumber is the placeholder emitted when no invoice number
// candidate survives the exclusion rules.
const PendingInvoiceNumber = "PENDIENTE"

// proximityWindow is how far (in bytes) past a total-like keyword an amount
// may appear and still count as a candidate.
const proximityWindow = 80

var (
	// Spanish NIF/CIF: one leading letter from the allowed set + 8 digits,
	// or 8 digits + one trailing letter. The issuer's tax id is assumed to
	// appear before the receiver's, so the first match wins.
	nifPattern = regexp.MustCompile(`(?i)[ABCDEFGHJKLMNPQRSUVW][0-9]{8}|[0-9]{8}[A-Z]`)

	// DD/MM/YYYY with /, - or space separators. The invoice date is
	// assumed to precede other dates such as the due date.
	datePattern = regexp.MustCompile(`(\d{2})[/\- ](\d{2})[/\- ](\d{4})`)

	// Spanish decimal amounts: thousand separator ".", decimal ",".
	amountPattern = regexp.MustCompile(`\d{1,3}(?:\.\d{3})+,\d{2}|\d+,\d{2}`)

	// Keywords that label a grand total or amount due.
	totalKeywordPattern = regexp.MustCompile(`(?i)total|importe|a pagar|amount due`)

	// Labels preceding an invoice number. Word boundaries keep the short
	// forms from matching inside words like "numeración"; the optional
	// chained number word handles "Factura Nº" style labels.
	invoiceNumberPattern = regexp.MustCompile(`(?i)\b(?:factura\b|fact\.|invoice\b|n[º°]\.?|num\b\.?|number\b|no\.)(?:\s*(?:n[º°]\.?|num\b\.?|number\b|no\.))?\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9./-]{1,24})`)

	// Thousand-separated numbers ("1.250") are monetary fragments, not
	// invoice numbers.
	thousandsPattern = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
)

// Engine parses raw OCR text into invoice fields. The VAT percent used for
// base/tax back-derivation is a policy parameter, not a constant.
type Engine struct {
	vatPercent float64
	logger     *zap.Logger
}

// NewEngine creates a heuristics engine with the given VAT percent.
func NewEngine(vatPercent float64, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{vatPercent: vatPercent, logger: logger}
}

// Parse applies every field rule independently and never fails: a rule
// without a match simply leaves its field unset.
func (e *Engine) Parse(rawText string) Fields {
	f := Fields{
		SupplierNIF:   e.parseNIF(rawText),
		InvoiceDate:   e.parseDate(rawText),
		SupplierName:  e.parseSupplierName(rawText),
		InvoiceNumber: e.parseInvoiceNumber(rawText),
	}
	e.parseAmounts(rawText, &f)

	e.logger.Debug("heuristics parse finished",
		zap.Bool("nif_found", f.SupplierNIF != ""),
		zap.Bool("date_found", f.InvoiceDate != ""),
		zap.Bool("total_found", f.TotalAmount != nil))
	return f
}

// parseNIF returns the first NIF/CIF-shaped substring, uppercased with
// non-alphanumeric characters stripped, or "" when none exists.
func (e *Engine) parseNIF(text string) string {
	m := nifPattern.FindString(text)
	if m == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(m) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parseDate returns the first DD/MM/YYYY-shaped date, with separators
// normalized to "/".
func (e *Engine) parseDate(text string) string {
	m := datePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1] + "/" + m[2] + "/" + m[3]
}

// parseSupplierName returns the first non-trivial text line, on the
// assumption that letterheads place the issuer's name first.
func (e *Engine) parseSupplierName(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 5 {
			return line
		}
	}
	return ""
}

// parseInvoiceNumber returns the first labeled candidate that is not
// itself a date, a tax id or another label, falling back to the pending
// placeholder.
func (e *Engine) parseInvoiceNumber(text string) string {
	for _, m := range invoiceNumberPattern.FindAllStringSubmatch(text, -1) {
		candidate := strings.TrimRight(m[1], ".")
		if datePattern.MatchString(candidate) ||
			nifPattern.MatchString(candidate) ||
			totalKeywordPattern.MatchString(candidate) ||
			thousandsPattern.MatchString(candidate) {
			continue
		}
		return candidate
	}
	return PendingInvoiceNumber
}

// parseAmounts scans every amount near a total-like keyword and keeps the
// maximum: OCR noise also matches subtotal lines near similar keywords,
// and the grand total is structurally the largest candidate. When only a
// total is found, base and tax are back-derived assuming a flat VAT rate.
func (e *Engine) parseAmounts(text string, f *Fields) {
	var total float64
	found := false

	for _, loc := range totalKeywordPattern.FindAllStringIndex(text, -1) {
		end := loc[1] + proximityWindow
		if end > len(text) {
			end = len(text)
		}
		for _, raw := range amountPattern.FindAllString(text[loc[1]:end], -1) {
			v, err := parseSpanishAmount(raw)
			if err != nil {
				continue
			}
			if v > total {
				total = v
				found = true
			}
		}
	}

	if !found {
		return
	}

	base := Round2(total / (1 + e.vatPercent/100))
	tax := Round2(total - base)
	totalRounded := Round2(total)

	f.TotalAmount = &totalRounded
	f.BaseAmount = &base
	f.TaxAmount = &tax
	vat := e.vatPercent
	f.TaxPercent = &vat
}

// parseSpanishAmount converts "1.250,45" to 1250.45.
func parseSpanishAmount(s string) (float64, error) {
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return Round2(v), nil
}

// Round2 rounds to 2 decimal places; every derived monetary value passes
// through here so no field carries floating-point noise.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
