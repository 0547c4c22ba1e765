// Package pipeline orchestrates the nighttime-lights flow: list candidate
// tiles for a date, keep the ones intersecting the region, then either merge
// them into a mosaic or reduce them to a region radiance total.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/nightlights/internal/config"
	"github.com/fpang/nightlights/internal/filter"
	"github.com/fpang/nightlights/internal/geo"
	"github.com/fpang/nightlights/internal/mosaic"
	"github.com/fpang/nightlights/internal/objstore"
	"github.com/fpang/nightlights/internal/raster"
)

// ErrEmptyListing reports a date/product combination with no candidate tiles
// at all. Distinct from the valid empty-surviving-set outcome.
var ErrEmptyListing = errors.New("no candidate tiles listed")

// Default per-key deadline for remote metadata opens and windowed reads.
const defaultTaskTimeout = 2 * time.Minute

// AssemblyPolicy selects how surviving tiles are combined into one file.
type AssemblyPolicy string

const (
	// PolicyMerge produces a single-band composite covering the union of
	// the source extents.
	PolicyMerge AssemblyPolicy = "merge"

	// PolicyPack writes each source as one band; requires a shared grid.
	PolicyPack AssemblyPolicy = "pack"
)

// Request describes one unit of pipeline work. Immutable once built.
type Request struct {
	Date       time.Time
	RegionFile string
	Product    string
	Spacecraft string

	// Policy selects the mosaic assembly; defaults to PolicyMerge.
	Policy AssemblyPolicy

	// DeleteTiles removes downloaded source tiles after a successful merge.
	DeleteTiles bool
}

// Defaults for the VIIRS day/night band product.
const (
	DefaultProduct    = "SVDNB"
	DefaultSpacecraft = "npp"
)

// Folder returns the per-month virtual directory, e.g. "npp_202401".
func (r Request) Folder() string {
	return fmt.Sprintf("%s_%s", r.spacecraft(), r.Date.Format("200601"))
}

// Prefix returns the per-day key prefix, e.g. "SVDNB_npp_d20240101".
func (r Request) Prefix() string {
	return fmt.Sprintf("%s_%s_d%s", r.product(), r.spacecraft(), r.Date.Format("20060102"))
}

// OutputName returns the mosaic file name for this request.
func (r Request) OutputName() string {
	return r.Prefix() + ".tif"
}

func (r Request) product() string {
	if r.Product == "" {
		return DefaultProduct
	}
	return r.Product
}

func (r Request) spacecraft() string {
	if r.Spacecraft == "" {
		return DefaultSpacecraft
	}
	return r.Spacecraft
}

func (r Request) validate() error {
	if r.Date.IsZero() {
		return fmt.Errorf("request date is required")
	}
	if r.RegionFile == "" {
		return fmt.Errorf("request region file is required")
	}
	return nil
}

// Pipeline runs requests against one bucket. Safe for concurrent use; all
// per-request state lives in the Request value.
type Pipeline struct {
	store *objstore.Client
	cfg   config.Config
}

// New wires a pipeline to its object store.
func New(store *objstore.Client, cfg config.Config) *Pipeline {
	return &Pipeline{store: store, cfg: cfg}
}

// Candidates lists the remote tiles matching the request's date prefix.
// An empty listing is a fatal precondition: either the date has no coverage
// or the product/spacecraft pair is wrong.
func (p *Pipeline) Candidates(ctx context.Context, req Request) ([]objstore.Ref, error) {
	var objects []objstore.ObjectInfo
	err := objstore.Retry(ctx, func(ctx context.Context) error {
		var err error
		objects, err = p.store.List(ctx, req.Folder(), req.Prefix())
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%w for prefix %s/%s", ErrEmptyListing, req.Folder(), req.Prefix())
	}

	refs := make([]objstore.Ref, 0, len(objects))
	for _, obj := range objects {
		refs = append(refs, objstore.Ref{Bucket: p.store.Bucket(), Key: obj.Key})
	}
	return refs, nil
}

// Mosaic produces the merged raster for the request and returns its path.
// Idempotent: when the output file already exists, nothing is listed,
// downloaded, or merged. An empty surviving set returns
// mosaic.ErrNothingToMerge with no file produced.
func (p *Pipeline) Mosaic(ctx context.Context, req Request) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	destDir := filepath.Join(p.cfg.DataDir, req.Prefix())
	output := filepath.Join(destDir, req.OutputName())
	if _, err := os.Stat(output); err == nil {
		log.Info().Str("output", output).Msg("mosaic already exists, skipping")
		return output, nil
	}

	region, err := raster.LoadRegion(req.RegionFile)
	if err != nil {
		return "", err
	}

	survivors, err := p.filterCandidates(ctx, req, region)
	if err != nil {
		return "", err
	}
	if len(survivors) == 0 {
		return "", mosaic.ErrNothingToMerge
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", destDir, err)
	}

	paths, failures := p.store.DownloadAll(ctx, survivors, destDir, p.cfg.Workers)
	logFailures("download", failures)
	if len(paths) == 0 {
		return "", fmt.Errorf("all %d tile downloads failed", len(survivors))
	}

	opts := mosaic.Options{DeleteSources: req.DeleteTiles}
	switch req.policy() {
	case PolicyPack:
		err = mosaic.PackBands(ctx, paths, output, opts)
	default:
		err = mosaic.Merge(ctx, paths, output, opts)
	}
	if err != nil {
		return "", err
	}
	return output, nil
}

// RadianceSum computes the aggregate radiance over the region for the
// request's date by summing each surviving tile's region window. An empty
// surviving set is a valid zero total.
func (p *Pipeline) RadianceSum(ctx context.Context, req Request) (float64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}

	region, err := raster.LoadRegion(req.RegionFile)
	if err != nil {
		return 0, err
	}

	candidates, err := p.Candidates(ctx, req)
	if err != nil {
		return 0, err
	}

	opts := filter.Options{
		Workers: p.cfg.Workers,
		Timeout: defaultTaskTimeout,
	}
	// The fused decode+sum work is heavier than a header read; chunk it
	// when a partition count is configured.
	if p.cfg.Partitions > 1 && len(candidates) > p.cfg.Partitions {
		opts.Partitions = p.cfg.Partitions
	}

	outcomes, failures, err := filter.Reduce(ctx, candidates, region, p.remoteMetadata, p.windowSum, opts)
	if err != nil {
		return 0, err
	}
	logFailures("reduce", failures)

	// Partial sums are commutative and associative; completion order and
	// partition boundaries cannot change the total.
	var total float64
	for _, out := range outcomes {
		total += out.Sum
	}

	log.Info().
		Float64("radiance_sum", total).
		Int("tiles", len(outcomes)).
		Str("date", req.Date.Format("2006-01-02")).
		Msg("radiance aggregation complete")
	return total, nil
}

func (p *Pipeline) filterCandidates(ctx context.Context, req Request, region *geo.Region) ([]objstore.Ref, error) {
	candidates, err := p.Candidates(ctx, req)
	if err != nil {
		return nil, err
	}

	log.Info().Int("candidates", len(candidates)).Str("prefix", req.Prefix()).Msg("filtering by region")

	survivors, failures, err := filter.ByRegion(ctx, candidates, region, p.remoteMetadata,
		filter.Options{Workers: p.cfg.Workers, Timeout: defaultTaskTimeout})
	if err != nil {
		return nil, err
	}
	logFailures("filter", failures)

	log.Info().Int("survivors", len(survivors)).Msg("filtering complete")
	return survivors, nil
}

// remoteMetadata opens a tile's header through /vsis3/ with bounded retry.
func (p *Pipeline) remoteMetadata(ctx context.Context, ref objstore.Ref) (*raster.Metadata, error) {
	var md *raster.Metadata
	err := objstore.Retry(ctx, func(ctx context.Context) error {
		var err error
		md, err = raster.ReadMetadata(ctx, ref.VSIPath())
		return err
	})
	return md, err
}

// windowSum reads the region window of a tile's first band through /vsis3/.
func (p *Pipeline) windowSum(ctx context.Context, ref objstore.Ref, region *geo.Region) (float64, error) {
	var sum float64
	err := objstore.Retry(ctx, func(ctx context.Context) error {
		var err error
		sum, err = raster.WindowSum(ctx, ref.VSIPath(), region.Bounds)
		return err
	})
	return sum, err
}

func (r Request) policy() AssemblyPolicy {
	if r.Policy == "" {
		return PolicyMerge
	}
	return r.Policy
}

func logFailures(stage string, failures []objstore.KeyError) {
	for _, f := range failures {
		log.Warn().Str("stage", stage).Str("key", f.Key).Err(f.Err).Msg("key excluded after failure")
	}
}
