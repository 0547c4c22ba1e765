// Package mosaic assembles surviving raster tiles into one composite file.
//
// Two interchangeable policies are provided. PackBands writes each source as
// one band of the output and requires all sources to share a pixel grid.
// Merge builds a single-band composite whose extent is the union of the
// source extents, aligning the source grids through a VRT. Both write the
// output atomically: a uniquely named temp file is renamed into place, so no
// partially written mosaic is ever visible.
package mosaic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/nightlights/internal/raster"
)

var (
	// ErrNothingToMerge reports an empty source list. A valid outcome of a
	// fully filtered batch, not an I/O failure.
	ErrNothingToMerge = errors.New("no source rasters to merge")

	// ErrGridMismatch reports index-pack sources that do not share an
	// identical pixel grid. Distinct from I/O errors so callers can tell a
	// bad tile set from a bad network day.
	ErrGridMismatch = errors.New("source rasters do not share a pixel grid")
)

// Options tunes an assembly call.
type Options struct {
	// DeleteSources removes the local source tiles after a successful
	// assembly.
	DeleteSources bool
}

// PackBands writes each source raster as one band of dst, band count equal to
// the source count. All sources must share identical width, height, and
// geotransform; a violation returns ErrGridMismatch before anything is
// written.
func PackBands(ctx context.Context, sources []string, dst string, opts Options) error {
	if len(sources) == 0 {
		return ErrNothingToMerge
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	metas := make([]*raster.Metadata, len(sources))
	for i, src := range sources {
		md, err := raster.ReadMetadata(ctx, src)
		if err != nil {
			return err
		}
		metas[i] = md
	}
	if err := CheckGrid(metas); err != nil {
		return fmt.Errorf("%w: %v", ErrGridMismatch, err)
	}

	ref := metas[0]
	tmp := tempName(dst)
	defer os.Remove(tmp)

	out, err := godal.Create(godal.GTiff, tmp, len(sources), ref.DataType, ref.Width, ref.Height,
		godal.CreationOption("COMPRESS=LZW", "TILED=YES"))
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	if err := writePack(out, sources, ref); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("rename mosaic into place: %w", err)
	}

	log.Info().Int("bands", len(sources)).Str("output", dst).Msg("band pack complete")
	cleanupSources(sources, opts)
	return nil
}

func writePack(out *godal.Dataset, sources []string, ref *raster.Metadata) error {
	if err := out.SetGeoTransform(ref.GeoTransform); err != nil {
		return fmt.Errorf("set geotransform: %w", err)
	}
	if ref.Projection != "" {
		if err := out.SetProjection(ref.Projection); err != nil {
			return fmt.Errorf("set projection: %w", err)
		}
	}

	buf := make([]float64, ref.Width*ref.Height)
	outBands := out.Bands()
	for i, src := range sources {
		ds, err := godal.Open(src, godal.RasterOnly())
		if err != nil {
			return fmt.Errorf("open source %s: %w", src, err)
		}
		srcBands := ds.Bands()
		if len(srcBands) == 0 {
			ds.Close()
			return fmt.Errorf("source %s has no bands", src)
		}
		if err := srcBands[0].Read(0, 0, buf, ref.Width, ref.Height); err != nil {
			ds.Close()
			return fmt.Errorf("read source %s: %w", src, err)
		}
		ds.Close()

		if err := outBands[i].Write(0, 0, buf, ref.Width, ref.Height); err != nil {
			return fmt.Errorf("write band %d: %w", i+1, err)
		}
	}
	return nil
}

// Merge combines the sources into one single-band composite whose extent is
// the union of all source extents. Where sources overlap, the first listed
// source wins.
func Merge(ctx context.Context, sources []string, dst string, opts Options) error {
	if len(sources) == 0 {
		return ErrNothingToMerge
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	vrt := tempName(dst) + ".vrt"
	defer os.Remove(vrt)

	vrtDS, err := godal.BuildVRT(vrt, vrtOrder(sources), nil)
	if err != nil {
		return fmt.Errorf("build vrt: %w", err)
	}

	tmp := tempName(dst)
	defer os.Remove(tmp)

	out, err := vrtDS.Translate(tmp, nil, godal.CreationOption("COMPRESS=LZW", "TILED=YES"))
	if err != nil {
		vrtDS.Close()
		return fmt.Errorf("materialize vrt: %w", err)
	}
	if err := out.Close(); err != nil {
		vrtDS.Close()
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := vrtDS.Close(); err != nil {
		return fmt.Errorf("close vrt: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("rename mosaic into place: %w", err)
	}

	log.Info().Int("sources", len(sources)).Str("output", dst).Msg("merge complete")
	cleanupSources(sources, opts)
	return nil
}

// CheckGrid verifies that all metadata entries describe the same pixel grid:
// identical width, height, and affine transform.
func CheckGrid(metas []*raster.Metadata) error {
	if len(metas) < 2 {
		return nil
	}
	ref := metas[0]
	for i, md := range metas[1:] {
		if md.Width != ref.Width || md.Height != ref.Height {
			return fmt.Errorf("source %d is %dx%d, expected %dx%d",
				i+1, md.Width, md.Height, ref.Width, ref.Height)
		}
		if md.GeoTransform != ref.GeoTransform {
			return fmt.Errorf("source %d has a different geotransform", i+1)
		}
	}
	return nil
}

// vrtOrder reverses the source list for BuildVRT. gdalbuildvrt paints later
// sources on top in overlaps, so the reversal makes the first listed source
// win.
func vrtOrder(sources []string) []string {
	ordered := make([]string, len(sources))
	for i, src := range sources {
		ordered[len(sources)-1-i] = src
	}
	return ordered
}

func cleanupSources(sources []string, opts Options) {
	if !opts.DeleteSources {
		return
	}
	for _, src := range sources {
		if err := os.Remove(src); err != nil {
			log.Warn().Err(err).Str("file", src).Msg("failed to remove source tile")
		}
	}
}

func tempName(dst string) string {
	return filepath.Join(filepath.Dir(dst), "."+uuid.New().String()+".tmp.tif")
}
