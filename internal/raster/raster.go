// Package raster wraps godal for the three accesses the pipeline needs:
// header-only metadata reads, windowed band sums, and region boundary
// loading. Remote objects are opened through GDAL's /vsis3/ virtual
// filesystem with unsigned requests, so filtering never downloads pixel data.
package raster

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/ctessum/geom"

	"github.com/fpang/nightlights/internal/geo"
)

var registerOnce sync.Once

// Register initializes the GDAL drivers and configures unsigned S3 access.
// Safe to call more than once; must be called before any other function in
// this package.
func Register() {
	registerOnce.Do(func() {
		// The tile bucket is public; GDAL picks this up for /vsis3/ reads.
		os.Setenv("AWS_NO_SIGN_REQUEST", "YES")
		godal.RegisterAll()
	})
}

// Metadata describes a raster from its header alone: no pixel data is read.
// Lifetime is scoped to one filter task.
type Metadata struct {
	Bounds       *geom.Bounds
	GeoTransform [6]float64
	Width        int
	Height       int
	Bands        int
	DataType     godal.DataType
	Projection   string

	// NoData is the band-1 no-data marker, nil when the band has none.
	NoData *float64
}

// ReadMetadata opens path (local or /vsis3/) and extracts its header.
// The context bounds the remote open; a stalled read fails the task, not the
// batch.
func ReadMetadata(ctx context.Context, path string) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, fmt.Errorf("open raster %s: %w", path, err)
	}
	defer ds.Close()

	return datasetMetadata(ds, path)
}

func datasetMetadata(ds *godal.Dataset, path string) (*Metadata, error) {
	st := ds.Structure()

	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("geotransform of %s: %w", path, err)
	}

	md := &Metadata{
		Bounds:       BoundsFromTransform(gt, st.SizeX, st.SizeY),
		GeoTransform: gt,
		Width:        st.SizeX,
		Height:       st.SizeY,
		Bands:        st.NBands,
		DataType:     st.DataType,
		Projection:   ds.Projection(),
	}

	if bands := ds.Bands(); len(bands) > 0 {
		if nd, ok := bands[0].NoData(); ok {
			md.NoData = &nd
		}
	}
	return md, nil
}

// WindowSum reads only the sub-window of path's first band that overlaps
// region and returns the sum of its valid pixels. No-data pixels contribute
// zero. Callers are expected to have established intersection first; a
// disjoint region yields a zero sum.
func WindowSum(ctx context.Context, path string, region *geom.Bounds) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return 0, fmt.Errorf("open raster %s: %w", path, err)
	}
	defer ds.Close()

	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return 0, fmt.Errorf("geotransform of %s: %w", path, err)
	}

	win, ok := WindowFromBounds(gt, st.SizeX, st.SizeY, region)
	if !ok {
		return 0, nil
	}

	bands := ds.Bands()
	if len(bands) == 0 {
		return 0, fmt.Errorf("raster %s has no bands", path)
	}

	buf := make([]float64, win.Width*win.Height)
	if err := bands[0].Read(win.Col, win.Row, buf, win.Width, win.Height); err != nil {
		return 0, fmt.Errorf("read window of %s: %w", path, err)
	}

	var nodata *float64
	if nd, ok := bands[0].NoData(); ok {
		nodata = &nd
	}
	return SumExcludingNoData(buf, nodata), nil
}

// LoadRegion reads a vector boundary dataset and returns the total bounding
// box of all its features plus the dataset CRS. A missing file or a dataset
// with no usable geometry is a fatal precondition violation.
func LoadRegion(path string) (*geo.Region, error) {
	ds, err := godal.Open(path, godal.VectorOnly())
	if err != nil {
		return nil, fmt.Errorf("open region %s: %w", path, err)
	}
	defer ds.Close()

	region := &geo.Region{}
	for _, layer := range ds.Layers() {
		if region.Projection == "" {
			if sr := layer.SpatialRef(); sr != nil {
				if wkt, err := sr.WKT(); err == nil {
					region.Projection = wkt
				}
			}
		}
		layer.ResetReading()
		for {
			feat := layer.NextFeature()
			if feat == nil {
				break
			}
			g := feat.Geometry()
			if g == nil {
				continue
			}
			b, err := g.Bounds()
			if err != nil {
				continue
			}
			extend(region, b)
		}
	}

	if region.Bounds == nil {
		return nil, fmt.Errorf("region %s contains no geometry", path)
	}
	return region, nil
}

func extend(region *geo.Region, b [4]float64) {
	fb := geo.FromGDAL(b)
	if region.Bounds == nil {
		region.Bounds = fb
		return
	}
	if fb.Min.X < region.Bounds.Min.X {
		region.Bounds.Min.X = fb.Min.X
	}
	if fb.Min.Y < region.Bounds.Min.Y {
		region.Bounds.Min.Y = fb.Min.Y
	}
	if fb.Max.X > region.Bounds.Max.X {
		region.Bounds.Max.X = fb.Max.X
	}
	if fb.Max.Y > region.Bounds.Max.Y {
		region.Bounds.Max.Y = fb.Max.Y
	}
}

// SameCRS reports whether two WKT projection strings describe the same CRS.
// Empty strings are treated as unknown and compare as compatible, since many
// tiles in the wild omit their CRS.
func SameCRS(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	if a == b {
		return true
	}
	sa, err := godal.NewSpatialRefFromWKT(a)
	if err != nil {
		return false
	}
	defer sa.Close()
	sb, err := godal.NewSpatialRefFromWKT(b)
	if err != nil {
		return false
	}
	defer sb.Close()
	return sa.IsSame(sb)
}
