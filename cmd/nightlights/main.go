// Command nightlights retrieves VIIRS nighttime-light tiles from the public
// tile bucket, keeps the ones intersecting a region of interest, and either
// merges them into a mosaic or sums their radiance over the region.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/nightlights/internal/config"
	"github.com/fpang/nightlights/internal/logging"
	"github.com/fpang/nightlights/internal/mosaic"
	"github.com/fpang/nightlights/internal/objstore"
	"github.com/fpang/nightlights/internal/pipeline"
	"github.com/fpang/nightlights/internal/raster"
)

// CLI flags
var (
	bucketFlag     string
	awsRegionFlag  string
	dataDirFlag    string
	workersFlag    int
	partitionsFlag int
	verboseFlag    bool

	dateFlag        string
	regionFlag      string
	productFlag     string
	spacecraftFlag  string
	policyFlag      string
	deleteTilesFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "nightlights",
	Short: "Region-filtered aggregation of nighttime-light satellite tiles",
	Long: `nightlights lists raster tiles in a public S3 bucket, keeps the ones whose
bounding box intersects a region of interest, and combines them: either into
a single mosaic GeoTIFF or into an aggregate radiance sum over the region.

Examples:
  nightlights mosaic --date 2024-01-01 --region SA_regions.json
  nightlights radiance --date 2024-01-01 --region SA_regions.json --partitions 10
  nightlights list npp_202401`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
		if verboseFlag {
			logging.SetVerbose()
		}
		raster.Register()
	},
}

func init() {
	cfg := config.Load()

	rootCmd.PersistentFlags().StringVar(&bucketFlag, "bucket", cfg.Bucket, "S3 bucket holding the raster tiles")
	rootCmd.PersistentFlags().StringVar(&awsRegionFlag, "aws-region", cfg.AWSRegion, "AWS region for S3 requests")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", cfg.DataDir, "local directory for downloaded tiles and mosaics")
	rootCmd.PersistentFlags().IntVar(&workersFlag, "workers", cfg.Workers, "worker pool size (0 = one worker per task)")
	rootCmd.PersistentFlags().IntVar(&partitionsFlag, "partitions", cfg.Partitions, "partition count for the chunked reduction mode")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "debug logging")

	for _, cmd := range []*cobra.Command{mosaicCmd, radianceCmd} {
		cmd.Flags().StringVarP(&dateFlag, "date", "d", "", "target date, YYYY-MM-DD (required)")
		cmd.Flags().StringVarP(&regionFlag, "region", "r", "", "vector boundary file defining the region of interest (required)")
		cmd.Flags().StringVar(&productFlag, "product", pipeline.DefaultProduct, "product identifier")
		cmd.Flags().StringVar(&spacecraftFlag, "spacecraft", pipeline.DefaultSpacecraft, "spacecraft identifier")
		cmd.MarkFlagRequired("date")
		cmd.MarkFlagRequired("region")
	}
	mosaicCmd.Flags().StringVar(&policyFlag, "policy", string(pipeline.PolicyMerge), "assembly policy: merge or pack")
	mosaicCmd.Flags().BoolVar(&deleteTilesFlag, "delete-tiles", false, "remove downloaded source tiles after a successful merge")

	rootCmd.AddCommand(mosaicCmd, radianceCmd, listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildPipeline wires the shared collaborators from the resolved flags.
func buildPipeline(cmd *cobra.Command) (*pipeline.Pipeline, error) {
	store, err := objstore.New(cmd.Context(), objstore.Config{
		Bucket:    bucketFlag,
		AWSRegion: awsRegionFlag,
	})
	if err != nil {
		return nil, err
	}
	cfg := config.Config{
		Bucket:     bucketFlag,
		AWSRegion:  awsRegionFlag,
		DataDir:    dataDirFlag,
		Workers:    workersFlag,
		Partitions: partitionsFlag,
	}
	return pipeline.New(store, cfg), nil
}

func buildRequest() (pipeline.Request, error) {
	date, err := time.Parse("2006-01-02", dateFlag)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", dateFlag)
	}
	return pipeline.Request{
		Date:        date,
		RegionFile:  regionFlag,
		Product:     productFlag,
		Spacecraft:  spacecraftFlag,
		Policy:      pipeline.AssemblyPolicy(policyFlag),
		DeleteTiles: deleteTilesFlag,
	}, nil
}

var mosaicCmd = &cobra.Command{
	Use:   "mosaic",
	Short: "Download region-intersecting tiles for a date and merge them",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd)
		if err != nil {
			return err
		}
		req, err := buildRequest()
		if err != nil {
			return err
		}

		output, err := p.Mosaic(cmd.Context(), req)
		if errors.Is(err, mosaic.ErrNothingToMerge) {
			log.Warn().Str("prefix", req.Prefix()).Msg("no tiles intersect the region, nothing to merge")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(output)
		return nil
	},
}

var radianceCmd = &cobra.Command{
	Use:   "radiance",
	Short: "Sum radiance over the region for a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd)
		if err != nil {
			return err
		}
		req, err := buildRequest()
		if err != nil {
			return err
		}

		sum, err := p.RadianceSum(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("%s radiance_sum %.2f nanowatts/cm2/sr\n", req.Date.Format("2006-01-02"), sum)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list [folder]",
	Short: "List bucket contents, optionally under a virtual directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := objstore.New(cmd.Context(), objstore.Config{
			Bucket:    bucketFlag,
			AWSRegion: awsRegionFlag,
		})
		if err != nil {
			return err
		}

		folder := ""
		if len(args) == 1 {
			folder = args[0]
		}
		objects, err := store.List(cmd.Context(), folder, "")
		if err != nil {
			return err
		}
		for _, obj := range objects {
			fmt.Printf("%s\t%12d\t%s\n", obj.LastModified.Format(time.RFC3339), obj.Size, obj.Key)
		}
		return nil
	},
}
