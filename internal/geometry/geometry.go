// Package geometry converts vendor bounding polygons into page-relative
// percentage rectangles usable by any renderer.
package geometry

import "github.com/DiputacionSevilla/diputacion-facturas/internal/models"

// A4 portrait physical size in inches, used when a backend reports no page
// dimensions.
const (
	A4WidthInches  = 8.27
	A4HeightInches = 11.69
)

// PercentRect is an axis-aligned rectangle in percent-of-page units.
type PercentRect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ToPercentRect reduces a 4-corner polygon (8 coordinates, page physical
// units) to its enclosing rectangle and expresses it as percentages of the
// page size. The polygon is treated as a rotated quad reduced to its
// axis-aligned bounding box; true rotation is not preserved. Returns
// ok=false when fewer than 8 coordinates are supplied.
func ToPercentRect(polygon []float64, page *models.PageDimension) (PercentRect, bool) {
	if len(polygon) < 8 {
		return PercentRect{}, false
	}

	pageWidth, pageHeight := A4WidthInches, A4HeightInches
	if page != nil && page.Width > 0 && page.Height > 0 {
		pageWidth, pageHeight = page.Width, page.Height
	}

	minX, maxX := polygon[0], polygon[0]
	minY, maxY := polygon[1], polygon[1]
	for i := 2; i+1 < 8; i += 2 {
		x, y := polygon[i], polygon[i+1]
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}

	return PercentRect{
		Left:   minX / pageWidth * 100,
		Top:    minY / pageHeight * 100,
		Width:  (maxX - minX) / pageWidth * 100,
		Height: (maxY - minY) / pageHeight * 100,
	}, true
}
