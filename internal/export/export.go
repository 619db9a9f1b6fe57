// Package export renders invoice records into the tabular formats the
// accounting workflow consumes: semicolon-delimited CSV for the Sical
// import and XLSX for review. Column order mirrors the 14 business fields.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/DiputacionSevilla/diputacion-facturas/internal/models"
)

// headers is the fixed column order of every export.
var headers = []string{
	"Fecha Registro",
	"Nº Registro",
	"Fecha Factura",
	"Nº Factura",
	"CIF/NIF",
	"Razón Social",
	"Concepto",
	"Oficina Sical",
	"Área Sical",
	"Base Imponible",
	"% Impuesto",
	"Importe Impuestos",
	"Importe Descuento",
	"Total Factura",
}

// Service renders invoice exports.
type Service struct {
	logger *zap.Logger
}

// NewService creates the export service.
func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger}
}

// CSV renders the records as semicolon-delimited CSV. The delimiter is
// fixed: the Sical importer and Spanish Excel both expect ";", since ","
// is the decimal separator in the locale.
func (s *Service) CSV(invoices []*models.Invoice) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'

	if err := w.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, inv := range invoices {
		if err := w.Write(row(inv)); err != nil {
			return nil, fmt.Errorf("failed to write CSV row for %s: %w", inv.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	s.logger.Info("CSV export rendered", zap.Int("invoices", len(invoices)))
	return buf.Bytes(), nil
}

// XLSX renders the records as a single-sheet workbook with typed number
// cells, so amounts stay numeric when opened in Excel.
func (s *Service) XLSX(invoices []*models.Invoice) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Facturas"
	f.SetSheetName(f.GetSheetName(0), sheet)

	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header cell: %w", err)
		}
	}

	for i, inv := range invoices {
		values := []any{
			inv.RegistrationDate,
			inv.RegistrationNumber,
			inv.InvoiceDate,
			inv.InvoiceNumber,
			inv.SupplierNIF,
			inv.SupplierName,
			inv.Concept,
			inv.SicalOffice,
			inv.SicalArea,
			inv.BaseAmount,
			inv.TaxPercent,
			inv.TaxAmount,
			inv.DiscountAmount,
			inv.TotalAmount,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("failed to write cell for %s: %w", inv.ID, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}

	s.logger.Info("XLSX export rendered", zap.Int("invoices", len(invoices)))
	return buf.Bytes(), nil
}

func row(inv *models.Invoice) []string {
	return []string{
		inv.RegistrationDate,
		inv.RegistrationNumber,
		inv.InvoiceDate,
		inv.InvoiceNumber,
		inv.SupplierNIF,
		inv.SupplierName,
		inv.Concept,
		inv.SicalOffice,
		inv.SicalArea,
		amount(inv.BaseAmount),
		amount(inv.TaxPercent),
		amount(inv.TaxAmount),
		amount(inv.DiscountAmount),
		amount(inv.TotalAmount),
	}
}

func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
