package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/DiputacionSevilla/diputacion-facturas/internal/models"
	"github.com/DiputacionSevilla/diputacion-facturas/pkg/database"
)

// SQLiteStore persists invoice records as JSON documents keyed by id.
// Records round-trip whole; the schema stays stable as the invoice shape
// evolves.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates the persistence layer and its table.
func NewSQLiteStore(db *database.DB) (*SQLiteStore, error) {
	const ddl = `
		CREATE TABLE IF NOT EXISTS invoices (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("failed to create invoices table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// LoadAll returns every persisted record in insertion order.
func (s *SQLiteStore) LoadAll() ([]*models.Invoice, error) {
	rows, err := s.db.Query(`SELECT data FROM invoices ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan invoice row: %w", err)
		}
		var inv models.Invoice
		if err := json.Unmarshal([]byte(data), &inv); err != nil {
			return nil, fmt.Errorf("failed to decode invoice: %w", err)
		}
		invoices = append(invoices, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invoices: %w", err)
	}
	return invoices, nil
}

// Save upserts one record.
func (s *SQLiteStore) Save(inv *models.Invoice) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to encode invoice %s: %w", inv.ID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO invoices (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		inv.ID, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save invoice %s: %w", inv.ID, err)
	}
	return nil
}

// Delete removes one record; deleting an absent id is not an error.
func (s *SQLiteStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM invoices WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete invoice %s: %w", id, err)
	}
	return nil
}
