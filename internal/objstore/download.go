package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/nightlights/internal/fanout"
)

// DownloadToFile fetches one object to localPath, creating parent directories
// as needed. Transient failures are retried with backoff.
func (c *Client) DownloadToFile(ctx context.Context, key, localPath string) error {
	log.Debug().Str("bucket", c.bucket).Str("key", key).Str("localPath", localPath).Msg("downloading from S3")

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	return Retry(ctx, func(ctx context.Context) error {
		result, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: &c.bucket, Key: &key,
		})
		if err != nil {
			return fmt.Errorf("S3 GetObject: %w", err)
		}
		defer result.Body.Close()

		f, err := os.Create(localPath)
		if err != nil {
			return fmt.Errorf("create file: %w", err)
		}
		defer f.Close()

		if _, err := io.Copy(f, result.Body); err != nil {
			os.Remove(localPath)
			return fmt.Errorf("write %s: %w", localPath, err)
		}
		return f.Close()
	})
}

// DownloadAll fetches every ref into destDir concurrently, bounded by
// workers, and returns the local paths of the objects that arrived. Per-key
// failures do not abort the batch; they come back in the second return value.
func (c *Client) DownloadAll(ctx context.Context, refs []Ref, destDir string, workers int) ([]string, []KeyError) {
	byKey := make(map[string]Ref, len(refs))
	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		byKey[ref.Key] = ref
		keys = append(keys, ref.Key)
	}

	results := fanout.Run(ctx, keys, fanout.Options{Workers: workers},
		func(ctx context.Context, key string) (string, error) {
			local := filepath.Join(destDir, byKey[key].Base())
			if err := c.DownloadToFile(ctx, key, local); err != nil {
				return "", err
			}
			return local, nil
		})

	var paths []string
	var failures []KeyError
	for _, res := range results {
		if res.Err != nil {
			failures = append(failures, KeyError{Key: res.Key, Err: res.Err})
			continue
		}
		paths = append(paths, res.Value)
	}
	return paths, failures
}
