package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/DiputacionSevilla/diputacion-facturas/internal/models"
)

func sampleInvoices() []*models.Invoice {
	a := models.NewInvoice("a.pdf", 21)
	a.RegistrationNumber = "R-001"
	a.InvoiceDate = "15/03/2026"
	a.InvoiceNumber = "A-0001"
	a.SupplierNIF = "B91234567"
	a.SupplierName = "ACME Suministros; S.L."
	a.Concept = "Material de oficina"
	a.SicalOffice = "Central"
	a.SicalArea = "02"
	a.BaseAmount = 1033.43
	a.TaxAmount = 217.02
	a.TotalAmount = 1250.45

	b := models.NewInvoice("b.pdf", 21)
	b.InvoiceNumber = "B-0002"
	b.SupplierName = "Construcciones Guadalquivir S.A."
	b.TotalAmount = 121

	return []*models.Invoice{a, b}
}

func TestCSV_SemicolonDelimited(t *testing.T) {
	s := NewService(zap.NewNop())

	data, err := s.CSV(sampleInvoices())
	require.NoError(t, err)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, headers, rows[0])
	assert.Equal(t, "A-0001", rows[1][3])
	assert.Equal(t, "ACME Suministros; S.L.", rows[1][5]) // quoted, survives the delimiter
	assert.Equal(t, "1033.43", rows[1][9])
	assert.Equal(t, "1250.45", rows[1][13])
	assert.Equal(t, "0.00", rows[2][9]) // two decimals always
}

func TestCSV_EmptyCollection(t *testing.T) {
	s := NewService(zap.NewNop())

	data, err := s.CSV(nil)
	require.NoError(t, err)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1) // header only
}

func TestXLSX_RoundTrip(t *testing.T) {
	s := NewService(zap.NewNop())

	data, err := s.XLSX(sampleInvoices())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Facturas")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Nº Factura", rows[0][3])
	assert.Equal(t, "A-0001", rows[1][3])

	total, err := f.GetCellValue("Facturas", "N2")
	require.NoError(t, err)
	assert.Equal(t, "1250.45", total)
}
