package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/DiputacionSevilla/diputacion-facturas/internal/export"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/extraction"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/geometry"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/models"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/storage"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/store"
)

// Handlers groups the HTTP endpoint implementations.
type Handlers struct {
	invoices      *store.Store
	orchestrator  *extraction.Orchestrator
	exporter      *export.Service
	files         *storage.FileStore
	searchablePDF bool
	logger        *zap.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(
	invoices *store.Store,
	orchestrator *extraction.Orchestrator,
	exporter *export.Service,
	files *storage.FileStore,
	searchablePDF bool,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		invoices:      invoices,
		orchestrator:  orchestrator,
		exporter:      exporter,
		files:         files,
		searchablePDF: searchablePDF,
		logger:        logger,
	}
}

// HealthCheck reports liveness and the active extraction backend.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"backend":    h.orchestrator.BackendName(),
		"processing": h.invoices.Processing(),
	})
}

// UploadInvoices accepts a multipart batch under the "files" field and
// processes the documents sequentially. Every document yields a record;
// failed extractions come back flagged, never dropped.
func (h *Handlers) UploadInvoices(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files uploaded"})
		return
	}

	h.invoices.SetProcessing(true)
	defer h.invoices.SetProcessing(false)

	created := make([]*models.Invoice, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		data, err := readUpload(fh)
		if err != nil {
			// An unreadable file degrades like any other extraction
			// failure; the rest of the batch keeps going.
			inv := h.orchestrator.DegradedInvoice(fh.Filename, err)
			h.invoices.AddInvoices(inv)
			created = append(created, inv)
			continue
		}

		doc := extraction.Document{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		}
		inv := h.orchestrator.ProcessDocument(c.Request.Context(), doc, extraction.Options{
			Backend:       extraction.Kind(c.Query("backend")),
			SearchablePDF: h.searchablePDF,
		})

		if url, err := h.files.SaveUpload(fh.Filename, data); err != nil {
			h.logger.Warn("failed to store uploaded document",
				zap.String("file", fh.Filename),
				zap.Error(err))
		} else {
			inv.PDFURL = url
		}

		h.invoices.AddInvoices(inv)
		created = append(created, inv)
	}

	c.JSON(http.StatusCreated, gin.H{"invoices": created})
}

// ListInvoices returns the collection, filtered when ?q= is present.
func (h *Handlers) ListInvoices(c *gin.Context) {
	if q, present := c.GetQuery("q"); present {
		h.invoices.SetSearchQuery(q)
	}
	c.JSON(http.StatusOK, gin.H{"invoices": h.invoices.FilteredInvoices()})
}

// GetInvoice returns one record by id.
func (h *Handlers) GetInvoice(c *gin.Context) {
	inv, err := h.invoices.Invoice(c.Param("id"))
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// GetInvoiceBounds projects the record's field bounding polygons into
// page-relative percent rectangles, ready for overlay rendering at any
// zoom level. Fields without geometry are omitted.
func (h *Handlers) GetInvoiceBounds(c *gin.Context) {
	inv, err := h.invoices.Invoice(c.Param("id"))
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}

	bounds := make(map[string]geometry.PercentRect)
	for field, region := range inv.FieldBounds {
		var page *models.PageDimension
		if idx := region.PageNumber - 1; idx >= 0 && idx < len(inv.PagesDimensions) {
			page = &inv.PagesDimensions[idx]
		}
		if rect, ok := geometry.ToPercentRect(region.Polygon, page); ok {
			bounds[field] = rect
		}
	}
	c.JSON(http.StatusOK, gin.H{"bounds": bounds})
}

// UpdateInvoice merges a partial update and returns the re-validated record.
func (h *Handlers) UpdateInvoice(c *gin.Context) {
	var patch models.InvoicePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update payload"})
		return
	}

	inv, err := h.invoices.UpdateInvoice(c.Param("id"), patch)
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// DeleteInvoice removes one record.
func (h *Handlers) DeleteInvoice(c *gin.Context) {
	if err := h.invoices.DeleteInvoice(c.Param("id")); err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SelectInvoice marks a record as the active detail selection.
func (h *Handlers) SelectInvoice(c *gin.Context) {
	if err := h.invoices.Select(c.Param("id")); err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleInvoice flips a record's bulk-selection checkmark.
func (h *Handlers) ToggleInvoice(c *gin.Context) {
	if err := h.invoices.ToggleSelected(c.Param("id")); err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SelectAll sets the checkmark on every record the current filter shows.
func (h *Handlers) SelectAll(c *gin.Context) {
	var body struct {
		Selected bool `json:"selected"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	h.invoices.SetAllSelected(body.Selected)
	c.Status(http.StatusNoContent)
}

// ListAreas returns the Sical area reference list.
func (h *Handlers) ListAreas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"areas": h.invoices.Areas()})
}

// ExportCSV streams the checked records (or all, when none is checked) as
// semicolon-delimited CSV.
func (h *Handlers) ExportCSV(c *gin.Context) {
	data, err := h.exporter.CSV(h.exportSet())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="facturas.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// ExportXLSX streams the checked records (or all) as a workbook.
func (h *Handlers) ExportXLSX(c *gin.Context) {
	data, err := h.exporter.XLSX(h.exportSet())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="facturas.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (h *Handlers) exportSet() []*models.Invoice {
	if checked := h.invoices.CheckedInvoices(); len(checked) > 0 {
		return checked
	}
	return h.invoices.Invoices()
}

func (h *Handlers) notFoundOrError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
		return
	}
	h.logger.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
