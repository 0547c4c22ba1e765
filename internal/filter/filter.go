// Package filter decides which remote raster tiles intersect a region.
//
// Tiles cover the whole planet as grid cells, so most are irrelevant to any
// one region; the filter reads only each tile's header through the metadata
// collaborator and applies the bounding-box intersection test. Per-key
// failures exclude that key and are reported as diagnostics; they never abort
// the batch.
package filter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/nightlights/internal/fanout"
	"github.com/fpang/nightlights/internal/geo"
	"github.com/fpang/nightlights/internal/objstore"
	"github.com/fpang/nightlights/internal/raster"
)

// ErrCRSMismatch reports a tile whose CRS differs from the region's. A
// precondition violation, not a transient failure: the whole batch fails
// immediately rather than silently excluding or reprojecting the tile.
var ErrCRSMismatch = errors.New("region and raster CRS differ")

// MetadataFunc fetches a raster's header without reading pixel data.
// Network I/O; may fail transiently.
type MetadataFunc func(ctx context.Context, ref objstore.Ref) (*raster.Metadata, error)

// ReduceFunc reads the region-overlapping window of a surviving raster and
// reduces it to a scalar.
type ReduceFunc func(ctx context.Context, ref objstore.Ref, region *geo.Region) (float64, error)

// Outcome is the tagged per-ref result of a filter (optionally fused with a
// reduction). Refs that do not intersect are excluded and produce no Outcome.
type Outcome struct {
	Ref objstore.Ref

	// Sum is the windowed reduction value. Only meaningful when the filter
	// was fused with a ReduceFunc.
	Sum float64
}

// Options tunes the fan-out behind a filter call.
type Options struct {
	// Workers bounds the pool; 0 means one worker per candidate, which is
	// appropriate for the I/O-bound metadata stage.
	Workers int

	// Timeout is the per-key deadline, covering the metadata open and any
	// fused reduction.
	Timeout time.Duration

	// Partitions switches to the chunked mode when > 1: candidates are
	// split into that many groups, each processed sequentially by one
	// worker. Meant for fused reductions at large candidate counts.
	Partitions int
}

// ByRegion returns the candidates whose bounding box intersects the region,
// in completion order. Callers must not assume input order is preserved.
func ByRegion(ctx context.Context, candidates []objstore.Ref, region *geo.Region, meta MetadataFunc, opts Options) ([]objstore.Ref, []objstore.KeyError, error) {
	outcomes, failures, err := run(ctx, candidates, region, meta, nil, opts)
	if err != nil {
		return nil, nil, err
	}
	refs := make([]objstore.Ref, 0, len(outcomes))
	for _, o := range outcomes {
		refs = append(refs, o.Ref)
	}
	return refs, failures, nil
}

// Reduce fuses filtering with the windowed reduction: each intersecting
// candidate also contributes its per-tile partial sum. Partial sums combine
// commutatively, so the total is independent of completion order and of the
// partitioning used.
func Reduce(ctx context.Context, candidates []objstore.Ref, region *geo.Region, meta MetadataFunc, reduce ReduceFunc, opts Options) ([]Outcome, []objstore.KeyError, error) {
	return run(ctx, candidates, region, meta, reduce, opts)
}

func run(ctx context.Context, candidates []objstore.Ref, region *geo.Region, meta MetadataFunc, reduce ReduceFunc, opts Options) ([]Outcome, []objstore.KeyError, error) {
	if err := region.Validate(); err != nil {
		return nil, nil, err
	}
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	byKey := make(map[string]objstore.Ref, len(candidates))
	keys := make([]string, 0, len(candidates))
	for _, ref := range candidates {
		byKey[ref.Key] = ref
		keys = append(keys, ref.Key)
	}

	var done atomic.Int64
	total := len(keys)
	task := func(ctx context.Context, key string) (*Outcome, error) {
		out, err := filterOne(ctx, byKey[key], region, meta, reduce)
		log.Debug().Int64("processed", done.Add(1)).Int("total", total).Msg("filter progress")
		return out, err
	}

	var results []fanout.Result[*Outcome]
	if opts.Partitions > 1 {
		results = fanout.RunPartitioned(ctx, keys, opts.Partitions, opts.Timeout, task)
	} else {
		results = fanout.Run(ctx, keys, fanout.Options{Workers: opts.Workers, Timeout: opts.Timeout}, task)
	}

	var outcomes []Outcome
	var failures []objstore.KeyError
	for _, res := range results {
		switch {
		case errors.Is(res.Err, ErrCRSMismatch):
			return nil, nil, res.Err
		case res.Err != nil:
			failures = append(failures, objstore.KeyError{Key: res.Key, Err: res.Err})
		case res.Value != nil:
			outcomes = append(outcomes, *res.Value)
		}
	}
	return outcomes, failures, nil
}

// filterOne applies the intersection test to one candidate; nil means the
// candidate is excluded.
func filterOne(ctx context.Context, ref objstore.Ref, region *geo.Region, meta MetadataFunc, reduce ReduceFunc) (*Outcome, error) {
	md, err := meta(ctx, ref)
	if err != nil {
		return nil, err
	}

	if region.Projection != "" && md.Projection != "" && !raster.SameCRS(region.Projection, md.Projection) {
		return nil, fmt.Errorf("%w: tile %s", ErrCRSMismatch, ref.Key)
	}

	if !geo.Intersects(md.Bounds, region.Bounds) {
		return nil, nil
	}

	out := &Outcome{Ref: ref}
	if reduce != nil {
		sum, err := reduce(ctx, ref, region)
		if err != nil {
			return nil, err
		}
		out.Sum = sum
	}
	return out, nil
}
