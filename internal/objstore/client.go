// Package objstore wraps anonymous-read access to the public tile bucket.
//
// Listing and fetching go through the AWS SDK with anonymous credentials;
// there is no shelling out and no shared mutable session state. A Client is
// bound to one bucket at construction and is safe for concurrent use.
package objstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Config identifies the bucket a Client talks to. Immutable; pass by value.
type Config struct {
	Bucket    string
	AWSRegion string
}

// ObjectInfo is one listed object: structured fields, not parsed text lines.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Client lists and fetches objects from a single public bucket.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds a Client for unauthenticated access to cfg.Bucket.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("objstore: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// The tile bucket is public; sign nothing.
		o.Credentials = aws.AnonymousCredentials{}
	})

	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// Bucket returns the bucket this client is bound to.
func (c *Client) Bucket() string {
	return c.bucket
}

// List returns every object under folder whose base name starts with prefix.
// folder is a virtual directory such as "npp_202401"; an empty prefix lists
// the whole folder. Results are paginated transparently.
func (c *Client) List(ctx context.Context, folder, prefix string) ([]ObjectInfo, error) {
	full := prefix
	if folder != "" {
		full = strings.TrimSuffix(folder, "/") + "/" + prefix
	}

	log.Debug().Str("bucket", c.bucket).Str("prefix", full).Msg("listing objects")

	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: &c.bucket,
		Prefix: &full,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 ListObjectsV2 %q: %w", full, err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			objects = append(objects, info)
		}
	}

	log.Debug().Int("count", len(objects)).Str("prefix", full).Msg("listing complete")
	return objects, nil
}
