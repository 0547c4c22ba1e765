package objstore

import (
	"path"
	"strings"
)

// Ref identifies one remote raster object. It carries no mutable state and is
// used both as task input and as result key.
type Ref struct {
	Bucket string
	Key    string
}

// URL returns the s3:// form of the reference.
func (r Ref) URL() string {
	return "s3://" + r.Bucket + "/" + r.Key
}

// VSIPath returns the GDAL virtual-filesystem path for the object, suitable
// for header-only opens and windowed reads without a full download.
func (r Ref) VSIPath() string {
	return "/vsis3/" + r.Bucket + "/" + r.Key
}

// Base returns the object's file name without its virtual directory.
func (r Ref) Base() string {
	return path.Base(r.Key)
}

// ParseURL splits an s3://bucket/key string into a Ref. The second return
// value is false when the string is not an s3 URL.
func ParseURL(s string) (Ref, bool) {
	rest, ok := strings.CutPrefix(s, "s3://")
	if !ok {
		return Ref{}, false
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return Ref{}, false
	}
	return Ref{Bucket: bucket, Key: key}, true
}
