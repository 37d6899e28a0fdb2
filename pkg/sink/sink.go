// Package sink writes the records kept by a scan.
//
// A scan hands each finished chunk's records to a sink in one call. The
// line and parquet writers produce result files; FilterSink adds object ids
// to a membership filter.
package sink

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/eunmann/sharkspotter/pkg/record"
)

// Writer is a sink that owns an output file.
type Writer interface {
	WriteRecords(ctx context.Context, recs []record.ObjectRecord) error
	// Path is the file being written.
	Path() string
	// Stats reports what has been written so far.
	Stats() Stats
	// Close flushes and closes the file. It is safe to call twice.
	Close() error
}

// Stats counts sink activity.
type Stats struct {
	Records int64
	Batches int64
	// Bytes is the uncompressed size of the records written.
	Bytes int64
}

// Format selects the result file layout.
type Format string

const (
	// FormatLines writes one "<owner> <objectId> <locations...>" line per record.
	FormatLines Format = "lines"
	// FormatParquet writes one parquet row per record and one row group per chunk.
	FormatParquet Format = "parquet"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatLines, FormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q: must be lines or parquet", s)
	}
}

// Compression selects the codec applied to result files.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// ParseCompression validates a compression name.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case CompressionNone, CompressionZstd:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q: must be none or zstd", s)
	}
}

// Options configures a result Writer.
type Options struct {
	Format      Format
	Compression Compression
	// BufferSize is the write buffer size for line output (default 1MB).
	BufferSize int
}

// DefaultPath names the result file of shard written by process pid:
// <dir>/<shard>.<pid>.out, with a .zst suffix for compressed lines and a
// .parquet suffix for parquet.
func DefaultPath(dir, shard string, pid int, opts Options) string {
	name := shard + "." + strconv.Itoa(pid) + ".out"
	switch {
	case opts.Format == FormatParquet:
		name += ".parquet"
	case opts.Compression == CompressionZstd:
		name += ".zst"
	}
	return filepath.Join(dir, name)
}

// Create opens a result Writer at path.
func Create(path string, opts Options) (Writer, error) {
	switch opts.Format {
	case FormatLines, "":
		return NewLineWriter(path, opts)
	case FormatParquet:
		return NewParquetWriter(path, opts)
	default:
		return nil, fmt.Errorf("unknown format %q", opts.Format)
	}
}
