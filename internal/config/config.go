// Package config loads pipeline settings from environment variables.
//
// Every setting has a working default for the public VIIRS nighttime-lights
// bucket, so the CLI runs with no environment at all. Flags override these
// values per invocation; nothing in here is mutated after Load returns.
package config

import (
	"os"
	"strconv"
)

// Defaults for the public globalnightlight bucket.
const (
	DefaultBucket     = "globalnightlight"
	DefaultAWSRegion  = "us-east-1"
	DefaultDataDir    = "./data"
	DefaultPartitions = 10
)

// Config holds the settings shared by all pipeline operations.
// Values are fixed at load time; the struct is safe to copy and to share
// read-only across worker tasks.
type Config struct {
	// Bucket is the S3 bucket holding the raster tiles.
	Bucket string

	// AWSRegion is the region used for S3 requests.
	AWSRegion string

	// DataDir is the local directory for downloaded tiles and mosaics.
	DataDir string

	// Workers bounds the filter/reduction pool. 0 means one worker per task.
	Workers int

	// Partitions is the partition count for the chunked reduction mode.
	Partitions int
}

// Load reads configuration from NTL_* environment variables, applying
// defaults for anything unset.
func Load() Config {
	return Config{
		Bucket:     envString("NTL_BUCKET", DefaultBucket),
		AWSRegion:  envString("NTL_AWS_REGION", DefaultAWSRegion),
		DataDir:    envString("NTL_DATA_DIR", DefaultDataDir),
		Workers:    envInt("NTL_WORKERS", 0),
		Partitions: envInt("NTL_PARTITIONS", DefaultPartitions),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
