// Package extraction turns an unstructured invoice document into typed
// fields through one of two interchangeable backends: local raster+OCR
// recognition, or a remote asynchronous document-intelligence job. The
// orchestrator is the only entry point callers use; raw vendor response
// shapes never leak past this package.
package extraction

import (
	"context"
	"errors"

	"github.com/DiputacionSevilla/diputacion-facturas/internal/heuristics"
	"github.com/DiputacionSevilla/diputacion-facturas/internal/models"
)

// Kind selects an extraction backend.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Document is a raw invoice document or image submitted by the operator.
type Document struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Options tune a single extraction.
type Options struct {
	// Backend overrides the configured backend for this document. Unknown
	// or empty values fall back to the configured one.
	Backend Kind

	// SearchablePDF requests the secondary text-searchable rendition job
	// (remote backend only, best-effort).
	SearchablePDF bool
}

// Result is the uniform outcome of a successful extraction: the heuristics
// field set plus optional geometry, page metadata and searchable rendition.
type Result struct {
	Fields          heuristics.Fields
	Concept         string
	OCRText         string
	FieldBounds     map[string]models.BoundingRegion
	PagesDimensions []models.PageDimension
	SearchablePDF   []byte
}

// Backend is the strategy contract both backends implement. Exactly one
// outcome per invocation: a result with fields, or an error with a reason.
// Backends never mutate caller state.
type Backend interface {
	Name() string
	Extract(ctx context.Context, doc Document, opts Options) (*Result, error)
}

// Backend error taxonomy. Protocol errors and terminal failures are raised
// once and never retried; timeouts are distinct from remote failures.
var (
	ErrEmptyDocument       = errors.New("extraction: empty document")
	ErrNoText              = errors.New("extraction: recognizer returned no text")
	ErrNoOperationLocation = errors.New("extraction: response carries no operation-location header")
	ErrAnalysisFailed      = errors.New("extraction: remote analysis failed")
	ErrAnalysisTimeout     = errors.New("extraction: remote analysis timed out")
)
