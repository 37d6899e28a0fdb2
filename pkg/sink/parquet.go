package sink

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/eunmann/sharkspotter/pkg/logging"
	"github.com/eunmann/sharkspotter/pkg/record"
	"github.com/parquet-go/parquet-go"
)

// ResultRow is the parquet schema of a kept record.
type ResultRow struct {
	Owner     string   `parquet:"owner,dict"`
	ObjectID  string   `parquet:"object_id"`
	Key       string   `parquet:"key"`
	Locations []string `parquet:"locations,list"`
	IsPart    bool     `parquet:"is_part"`
}

func resultRow(r record.ObjectRecord) ResultRow {
	return ResultRow{
		Owner:     r.Owner.String(),
		ObjectID:  r.ObjectID.String(),
		Key:       r.Key,
		Locations: r.Locations,
		IsPart:    r.IsPart,
	}
}

// ParquetWriter writes kept records as parquet, one row group per batch.
type ParquetWriter struct {
	file   *os.File
	writer *parquet.GenericWriter[ResultRow]
	path   string
	rows   []ResultRow
	stats  Stats
	closed bool
}

// NewParquetWriter creates or truncates path.
func NewParquetWriter(path string, opts Options) (*ParquetWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create result file: %w", err)
	}

	var wopts []parquet.WriterOption
	if opts.Compression == CompressionZstd {
		wopts = append(wopts, parquet.Compression(&parquet.Zstd))
	}
	return &ParquetWriter{
		file:   f,
		writer: parquet.NewGenericWriter[ResultRow](f, wopts...),
		path:   path,
	}, nil
}

// WriteRecords writes recs and closes the row group.
func (w *ParquetWriter) WriteRecords(_ context.Context, recs []record.ObjectRecord) error {
	if w.closed {
		return errors.New("write to closed result file")
	}
	w.rows = w.rows[:0]
	for _, r := range recs {
		w.rows = append(w.rows, resultRow(r))
		w.stats.Bytes += int64(len(r.Line()) + 1)
	}
	if _, err := w.writer.Write(w.rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush parquet row group: %w", err)
	}
	w.stats.Records += int64(len(recs))
	w.stats.Batches++
	return nil
}

// Path returns the result file path.
func (w *ParquetWriter) Path() string { return w.path }

// Stats returns the counts so far.
func (w *ParquetWriter) Stats() Stats { return w.stats }

// Close writes the parquet footer and closes the file.
func (w *ParquetWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if err := w.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close parquet writer: %w", err))
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
		Int64("row_groups", w.stats.Batches).
		Msg("closed parquet result file")

	return errors.Join(errs...)
}
