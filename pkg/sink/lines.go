package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/eunmann/sharkspotter/pkg/logging"
	"github.com/eunmann/sharkspotter/pkg/record"
	"github.com/klauspost/compress/zstd"
)

const defaultBufferSize = 1024 * 1024

// LineWriter appends result lines to a file, optionally zstd compressed.
// Every batch is flushed to the file before WriteRecords returns.
type LineWriter struct {
	file       *os.File
	compressor *zstd.Encoder
	writer     *bufio.Writer
	path       string
	stats      Stats
	closed     bool
}

// NewLineWriter creates or truncates path.
func NewLineWriter(path string, opts Options) (*LineWriter, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create result file: %w", err)
	}

	w := &LineWriter{file: f, path: path}
	var dst io.Writer = f
	if opts.Compression == CompressionZstd {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		w.compressor = enc
		dst = enc
	}
	w.writer = bufio.NewWriterSize(dst, opts.BufferSize)
	return w, nil
}

// WriteRecords writes one line per record.
func (w *LineWriter) WriteRecords(_ context.Context, recs []record.ObjectRecord) error {
	if w.closed {
		return errors.New("write to closed result file")
	}
	for _, r := range recs {
		n, err := w.writer.WriteString(r.Line())
		if err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := w.writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		w.stats.Bytes += int64(n) + 1
	}
	if err := w.flush(); err != nil {
		return err
	}
	w.stats.Records += int64(len(recs))
	w.stats.Batches++
	return nil
}

func (w *LineWriter) flush() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush result file: %w", err)
	}
	if w.compressor != nil {
		if err := w.compressor.Flush(); err != nil {
			return fmt.Errorf("flush zstd encoder: %w", err)
		}
	}
	return nil
}

// Path returns the result file path.
func (w *LineWriter) Path() string { return w.path }

// Stats returns the counts so far.
func (w *LineWriter) Stats() Stats { return w.stats }

// Close flushes buffered data, ends the zstd stream and syncs the file.
func (w *LineWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if err := w.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush result file: %w", err))
	}
	if w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close zstd encoder: %w", err))
		}
	}
	if err := w.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync result file: %w", err))
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close result file: %w", err))
	}

	log := logging.WithPhase("result_file")
	log.Debug().
		Str("path", w.path).
		Int64("records", w.stats.Records).
		Int64("bytes", w.stats.Bytes).
		Bool("compressed", w.compressor != nil).
		Msg("closed result file")

	return errors.Join(errs...)
}
