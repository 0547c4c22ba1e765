package raster

import (
	"math"
	"testing"

	"github.com/fpang/nightlights/internal/geo"
)

// north-up transform: origin (0, 20), 1 unit pixels, 20x20 raster covering
// (0, 0, 20, 20).
var testGT = [6]float64{0, 1, 0, 20, 0, -1}

func TestBoundsFromTransform(t *testing.T) {
	b := BoundsFromTransform(testGT, 20, 20)
	if b.Min.X != 0 || b.Min.Y != 0 || b.Max.X != 20 || b.Max.Y != 20 {
		t.Errorf("bounds = %+v, want (0, 0, 20, 20)", b)
	}

	// Half-degree pixels anchored off-origin.
	gt := [6]float64{-74.5, 0.5, 0, 41, 0, -0.5}
	b = BoundsFromTransform(gt, 4, 2)
	if b.Min.X != -74.5 || b.Max.X != -72.5 || b.Min.Y != 40 || b.Max.Y != 41 {
		t.Errorf("bounds = %+v, want (-74.5, 40, -72.5, 41)", b)
	}
}

func TestWindowFromBounds(t *testing.T) {
	tests := []struct {
		name   string
		region [4]float64
		want   Window
		ok     bool
	}{
		{
			name:   "interior window",
			region: [4]float64{2, 2, 5, 5},
			want:   Window{Col: 2, Row: 15, Width: 3, Height: 3},
			ok:     true,
		},
		{
			name:   "region covering whole raster clips to extent",
			region: [4]float64{-100, -100, 100, 100},
			want:   Window{Col: 0, Row: 0, Width: 20, Height: 20},
			ok:     true,
		},
		{
			name:   "partial overlap clips to the overlapping sub-rectangle",
			region: [4]float64{15, -5, 30, 5},
			want:   Window{Col: 15, Row: 15, Width: 5, Height: 5},
			ok:     true,
		},
		{
			name:   "disjoint region yields no window",
			region: [4]float64{30, 30, 40, 40},
			ok:     false,
		},
		{
			name:   "fractional region rounds outward to whole pixels",
			region: [4]float64{1.25, 1.25, 2.75, 2.75},
			want:   Window{Col: 1, Row: 17, Width: 2, Height: 2},
			ok:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			region := geo.NewBounds(tt.region[0], tt.region[1], tt.region[2], tt.region[3])
			got, ok := WindowFromBounds(testGT, 20, 20, region)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("window = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestWindowFromBoundsDegenerateTransform(t *testing.T) {
	if _, ok := WindowFromBounds([6]float64{}, 10, 10, geo.NewBounds(0, 0, 1, 1)); ok {
		t.Error("zero pixel size must not produce a window")
	}
}

func TestSumExcludingNoData(t *testing.T) {
	nodata := -999.0
	tests := []struct {
		name   string
		buf    []float64
		nodata *float64
		want   float64
	}{
		{name: "plain sum", buf: []float64{1, 2, 3.5}, want: 6.5},
		{name: "empty buffer", buf: nil, want: 0},
		{
			name:   "no-data excluded, not counted as zero radiance",
			buf:    []float64{1, -999, 2, -999},
			nodata: &nodata,
			want:   3,
		},
		{
			name: "valid zeros still counted",
			buf:  []float64{0, 0, 4}, nodata: &nodata,
			want: 4,
		},
		{name: "NaN skipped", buf: []float64{1, math.NaN(), 2}, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SumExcludingNoData(tt.buf, tt.nodata); got != tt.want {
				t.Errorf("SumExcludingNoData = %v, want %v", got, tt.want)
			}
		})
	}
}

// The end-to-end property from the synthetic scenario: two 2x2 tiles overlap
// the region; their windowed sums combine to the known literal total.
func TestWindowSumsCombine(t *testing.T) {
	// Tile A covers (0, 0, 2, 2), tile B covers (2, 0, 4, 2), unit pixels.
	gtA := [6]float64{0, 1, 0, 2, 0, -1}
	gtB := [6]float64{2, 1, 0, 2, 0, -1}
	region := geo.NewBounds(0, 0, 4, 2)

	// Pixel values row-major from the top row.
	tileA := []float64{1, 2, 3, 4}
	tileB := []float64{10, 20, 30, 40}

	winA, ok := WindowFromBounds(gtA, 2, 2, region)
	if !ok || winA != (Window{0, 0, 2, 2}) {
		t.Fatalf("tile A window = %+v, ok=%v", winA, ok)
	}
	winB, ok := WindowFromBounds(gtB, 2, 2, region)
	if !ok || winB != (Window{0, 0, 2, 2}) {
		t.Fatalf("tile B window = %+v, ok=%v", winB, ok)
	}

	total := SumExcludingNoData(tileA, nil) + SumExcludingNoData(tileB, nil)
	if total != 110 {
		t.Errorf("combined sum = %v, want 110", total)
	}
}
