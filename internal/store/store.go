// Package store owns the in-memory working set of invoice records: an
// ordered collection with selection, filtering and bulk operations.
// Validation runs here, on add and after every content mutation, so a
// record's error state always reflects its current field values.
package store

import (
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DiputacionSevilla/diputacion-facturas/internal/models"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/schema"
)

// ErrNotFound is returned when an invoice id is not in the collection.
var ErrNotFound = errors.New("store: invoice not found")

// Area is a Sical accounting area the operator can assign to an invoice.
type Area struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Persistence is the durable layer behind the store. LoadAll returns
// records in insertion order.
type Persistence interface {
	LoadAll() ([]*models.Invoice, error)
	Save(inv *models.Invoice) error
	Delete(id string) error
}

// Store is the mutex-guarded collection. Insertion order is preserved and
// every accessor returns clones, so callers cannot mutate shared state.
type Store struct {
	mu          sync.RWMutex
	invoices    []*models.Invoice
	selectedID  string
	searchQuery string
	processing  bool
	areas       []Area
	persist     Persistence
	logger      *zap.Logger
}

// New creates a store, loading any previously persisted records.
func New(persist Persistence, areas []Area, logger *zap.Logger) (*Store, error) {
	s := &Store{
		persist: persist,
		areas:   areas,
		logger:  logger,
	}
	if persist != nil {
		loaded, err := persist.LoadAll()
		if err != nil {
			return nil, err
		}
		for _, inv := range loaded {
			s.revalidate(inv)
			s.invoices = append(s.invoices, inv)
		}
		logger.Info("invoice store loaded", zap.Int("count", len(loaded)))
	}
	return s, nil
}

// AddInvoices appends records in order, validating each immediately so
// freshly extracted records surface their problems without waiting for an
// edit.
func (s *Store) AddInvoices(invoices ...*models.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range invoices {
		s.revalidate(inv)
		s.invoices = append(s.invoices, inv)
		s.saveQuietly(inv)
	}
}

// UpdateInvoice merges a partial update into the record and re-validates
// it. Validation is a pure function of field values: re-running it without
// changes yields the same outcome.
func (s *Store) UpdateInvoice(id string, patch models.InvoicePatch) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.find(id)
	if inv == nil {
		return nil, ErrNotFound
	}

	patch.Apply(inv)
	inv.UpdatedAt = time.Now()
	s.revalidate(inv)
	s.saveQuietly(inv)
	return inv.Clone(), nil
}

// DeleteInvoice removes a record. Deleting the selected record clears the
// selection.
func (s *Store) DeleteInvoice(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, inv := range s.invoices {
		if inv.ID == id {
			s.invoices = append(s.invoices[:i], s.invoices[i+1:]...)
			if s.selectedID == id {
				s.selectedID = ""
			}
			if s.persist != nil {
				if err := s.persist.Delete(id); err != nil {
					s.logger.Warn("failed to delete persisted invoice",
						zap.String("id", id), zap.Error(err))
				}
			}
			return nil
		}
	}
	return ErrNotFound
}

// Invoice returns one record by id.
func (s *Store) Invoice(id string) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv := s.find(id)
	if inv == nil {
		return nil, ErrNotFound
	}
	return inv.Clone(), nil
}

// Invoices returns every record in insertion order.
func (s *Store) Invoices() []*models.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.invoices)
}

// FilteredInvoices returns records matching the current search query by
// case-insensitive substring over supplier name, tax id and invoice
// number. An empty query matches everything.
func (s *Store) FilteredInvoices() []*models.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.filtered())
}

// SetSearchQuery updates the active filter.
func (s *Store) SetSearchQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchQuery = q
}

// Select marks one record as the active selection for detail view.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(id) == nil {
		return ErrNotFound
	}
	s.selectedID = id
	return nil
}

// SelectedInvoice returns the active selection, or nil when none.
func (s *Store) SelectedInvoice() *models.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv := s.find(s.selectedID)
	if inv == nil {
		return nil
	}
	return inv.Clone()
}

// ToggleSelected flips one record's bulk-selection checkmark.
func (s *Store) ToggleSelected(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.find(id)
	if inv == nil {
		return ErrNotFound
	}
	inv.Selected = !inv.Selected
	s.saveQuietly(inv)
	return nil
}

// SetAllSelected sets the checkmark on every record the current filter
// shows, leaving filtered-out records untouched.
func (s *Store) SetAllSelected(selected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range s.filtered() {
		inv.Selected = selected
		s.saveQuietly(inv)
	}
}

// CheckedInvoices returns the records with the bulk checkmark set, in
// insertion order.
func (s *Store) CheckedInvoices() []*models.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var checked []*models.Invoice
	for _, inv := range s.invoices {
		if inv.Selected {
			checked = append(checked, inv.Clone())
		}
	}
	return checked
}

// SetProcessing flags that an extraction batch is in flight.
func (s *Store) SetProcessing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = v
}

// Processing reports whether an extraction batch is in flight.
func (s *Store) Processing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processing
}

// Areas returns the configured Sical area reference list.
func (s *Store) Areas() []Area {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Area, len(s.areas))
	copy(out, s.areas)
	return out
}

func (s *Store) find(id string) *models.Invoice {
	if id == "" {
		return nil
	}
	for _, inv := range s.invoices {
		if inv.ID == id {
			return inv
		}
	}
	return nil
}

func (s *Store) filtered() []*models.Invoice {
	q := strings.ToLower(strings.TrimSpace(s.searchQuery))
	if q == "" {
		return s.invoices
	}
	var out []*models.Invoice
	for _, inv := range s.invoices {
		if strings.Contains(strings.ToLower(inv.SupplierName), q) ||
			strings.Contains(strings.ToLower(inv.SupplierNIF), q) ||
			strings.Contains(strings.ToLower(inv.InvoiceNumber), q) {
			out = append(out, inv)
		}
	}
	return out
}

// revalidate refreshes the record's error state from the schema.
func (s *Store) revalidate(inv *models.Invoice) {
	inv.Errors = schema.Validate(inv)
	inv.HasErrors = len(inv.Errors) > 0
}

// saveQuietly persists without failing the operation: the in-memory
// collection is authoritative within a session.
func (s *Store) saveQuietly(inv *models.Invoice) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Save(inv); err != nil {
		s.logger.Warn("failed to persist invoice",
			zap.String("id", inv.ID), zap.Error(err))
	}
}

func cloneAll(invoices []*models.Invoice) []*models.Invoice {
	out := make([]*models.Invoice, len(invoices))
	for i, inv := range invoices {
		out[i] = inv.Clone()
	}
	return out
}
