package raster

import (
	"math"

	"github.com/ctessum/geom"

	"github.com/fpang/nightlights/internal/geo"
)

// Window is a pixel sub-rectangle of a raster, clipped to the raster's own
// extent. Partially overlapping requests shrink to the overlapping
// sub-rectangle; they are never padded or resampled.
type Window struct {
	Col    int
	Row    int
	Width  int
	Height int
}

// BoundsFromTransform computes the geographic bounding box of a north-up
// raster from its affine geotransform and pixel dimensions.
func BoundsFromTransform(gt [6]float64, width, height int) *geom.Bounds {
	x0 := gt[0]
	y0 := gt[3]
	x1 := gt[0] + float64(width)*gt[1] + float64(height)*gt[2]
	y1 := gt[3] + float64(width)*gt[4] + float64(height)*gt[5]
	return geo.NewBounds(math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1))
}

// WindowFromBounds maps region onto the raster's pixel grid. The second
// return value is false when the clipped window is empty, which callers treat
// as a zero-contribution read rather than an error.
func WindowFromBounds(gt [6]float64, width, height int, region *geom.Bounds) (Window, bool) {
	if gt[1] == 0 || gt[5] == 0 {
		return Window{}, false
	}

	// Columns from x, rows from y. gt[5] is negative for north-up rasters,
	// so the region's max y maps to the first row.
	col0 := (region.Min.X - gt[0]) / gt[1]
	col1 := (region.Max.X - gt[0]) / gt[1]
	row0 := (region.Max.Y - gt[3]) / gt[5]
	row1 := (region.Min.Y - gt[3]) / gt[5]
	if col1 < col0 {
		col0, col1 = col1, col0
	}
	if row1 < row0 {
		row0, row1 = row1, row0
	}

	c0 := clamp(int(math.Floor(col0)), 0, width)
	c1 := clamp(int(math.Ceil(col1)), 0, width)
	r0 := clamp(int(math.Floor(row0)), 0, height)
	r1 := clamp(int(math.Ceil(row1)), 0, height)

	if c1 <= c0 || r1 <= r0 {
		return Window{}, false
	}
	return Window{Col: c0, Row: r0, Width: c1 - c0, Height: r1 - r0}, true
}

// SumExcludingNoData totals buf, skipping pixels equal to the no-data marker.
// No-data denotes absence of observation, not zero radiance, so masked pixels
// contribute nothing to the sum. Accumulation is in float64 regardless of the
// raster's native pixel type.
func SumExcludingNoData(buf []float64, nodata *float64) float64 {
	var sum float64
	for _, v := range buf {
		if nodata != nil && v == *nodata {
			continue
		}
		if math.IsNaN(v) {
			continue
		}
		sum += v
	}
	return sum
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
