// Package s3store copies scan outputs and membership filters to and from S3.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client creates an S3 client using default AWS configuration.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Location is a bucket and key, or a key prefix when Key ends in "/".
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// IsPrefix reports whether the location names a directory-like prefix.
func (l Location) IsPrefix() bool {
	return l.Key == "" || strings.HasSuffix(l.Key, "/")
}

// ObjectFor returns the location a local file is uploaded to: the prefix
// joined with the file's base name, or the location itself for a full key.
func (l Location) ObjectFor(localPath string) Location {
	if !l.IsPrefix() {
		return l
	}
	return Location{Bucket: l.Bucket, Key: path.Join(l.Key, filepath.Base(localPath))}
}

// ParseS3URI parses an S3 URI (s3://bucket/key) into a Location.
func ParseS3URI(uri string) (Location, error) {
	if !strings.HasPrefix(uri, "s3://") {
		return Location{}, errors.New("invalid S3 URI: must start with s3://")
	}

	rest := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return Location{}, errors.New("invalid S3 URI: missing bucket name")
	}

	loc := Location{Bucket: parts[0]}
	if len(parts) == 2 {
		loc.Key = parts[1]
	}
	return loc, nil
}

// IsS3URI reports whether s looks like an S3 URI.
func IsS3URI(s string) bool {
	return strings.HasPrefix(s, "s3://")
}
