// Package scan sweeps an object metadata table in bounded id chunks.
//
// A scan covers two contiguous id columns: the primary column (_id) and
// the overflow column (_idx) whose values continue after the primary
// maximum. Each column is walked in strictly increasing chunks, one chunk
// at a time. Rows of a chunk are classified and the kept records are handed
// to a Sink once the chunk's query has finished. A chunk that fails with a
// transient overload is re-run with the same bounds; any other failure ends
// the scan.
//
// Delivery is at-least-once: if the process dies between a sink write and
// the next chunk, a rerun from the same begin id repeats that chunk.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/sharkspotter/internal/logctx"
	"github.com/eunmann/sharkspotter/pkg/logging"
	"github.com/eunmann/sharkspotter/pkg/record"
)

// Id columns of the object metadata table.
const (
	PrimaryColumn  = "_id"
	OverflowColumn = "_idx"
)

// DefaultChunkSize is the number of ids per chunk query.
const DefaultChunkSize = 10000

// NoEnd leaves the end of the scan to the larger resolved column maximum.
const NoEnd int64 = -1

// Config controls a scan.
type Config struct {
	// Begin is the first id to scan.
	Begin int64
	// End is the last id to scan, or NoEnd.
	End int64
	// ChunkSize is the number of ids per query.
	ChunkSize int64
	// PrimaryColumn and OverflowColumn name the two id columns.
	PrimaryColumn  string
	OverflowColumn string
	// Overload controls retries of overloaded chunks.
	Overload OverloadPolicy
}

// DefaultConfig scans everything with the default chunk size and policy.
func DefaultConfig() Config {
	return Config{
		Begin:          0,
		End:            NoEnd,
		ChunkSize:      DefaultChunkSize,
		PrimaryColumn:  PrimaryColumn,
		OverflowColumn: OverflowColumn,
		Overload:       DefaultOverloadPolicy(),
	}
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *Config) Validate() error {
	if c.Begin < 0 {
		return fmt.Errorf("begin must be non-negative, got %d", c.Begin)
	}
	if c.End != NoEnd && c.End < c.Begin {
		return fmt.Errorf("begin %d is greater than end %d", c.Begin, c.End)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be greater than 0, got %d", c.ChunkSize)
	}
	if c.PrimaryColumn == "" || c.OverflowColumn == "" {
		return errors.New("primary and overflow columns are required")
	}
	if c.PrimaryColumn == c.OverflowColumn {
		return fmt.Errorf("primary and overflow columns must differ, both are %q", c.PrimaryColumn)
	}
	return c.Overload.Validate()
}

// Sink receives the kept records of each finished chunk, in id order.
type Sink interface {
	WriteRecords(ctx context.Context, recs []record.ObjectRecord) error
}

// Scanner runs scan sessions against one query service.
type Scanner struct {
	cfg        Config
	q          Querier
	resolver   *Resolver
	classifier *record.Classifier
	sink       Sink
}

// New returns a Scanner. The classifier decides which rows reach sink.
func New(cfg Config, q Querier, classifier *record.Classifier, sink Sink) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if q == nil || classifier == nil || sink == nil {
		return nil, errors.New("querier, classifier and sink are required")
	}
	return &Scanner{
		cfg:        cfg,
		q:          q,
		resolver:   NewResolver(q),
		classifier: classifier,
		sink:       sink,
	}, nil
}

// Run resolves the column bounds, scans the primary range and then the
// overflow range. The returned Summary is always non-nil; on failure its
// Err holds the same error Run returns.
func (s *Scanner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	log := logctx.FromContext(ctx)

	sum := &Summary{Session: Session{
		State:          StateResolving,
		RequestedBegin: s.cfg.Begin,
		RequestedEnd:   s.cfg.End,
	}}
	sess := &sum.Session

	primaryMax, err := s.resolver.ResolveMax(ctx, s.cfg.PrimaryColumn)
	if err != nil {
		log.Error().Err(err).Msgf("could not get max %s value", s.cfg.PrimaryColumn)
		return s.fail(sum, start, err)
	}
	sess.PrimaryMax = primaryMax

	overflowMax, err := s.resolver.ResolveMax(ctx, s.cfg.OverflowColumn)
	if err != nil {
		// Not every deployment has the overflow column.
		log.Warn().Err(err).Msgf("could not get max %s value", s.cfg.OverflowColumn)
	} else {
		sess.OverflowMax = overflowMax
		sess.HasOverflow = true
	}

	end := s.cfg.End
	if end == NoEnd {
		end = primaryMax
		if sess.HasOverflow && overflowMax > end {
			end = overflowMax
		}
	}
	sess.RequestedEnd = end
	sess.State = StateIterating

	log.Info().
		Int64("begin_id", s.cfg.Begin).
		Int64("last_id", end).
		Int64("max_primary", primaryMax).
		Bool("has_overflow", sess.HasOverflow).
		Int64("max_overflow", sess.OverflowMax).
		Int64("chunk_size", s.cfg.ChunkSize).
		Str("mode", s.classifier.Mode().String()).
		Str("shark", s.classifier.Target()).
		Msg("resolved scan bounds")

	primary := Span(s.cfg.Begin, min(end, primaryMax))
	if err := s.scanRange(ctx, sum, s.cfg.PrimaryColumn, primary); err != nil {
		return s.fail(sum, start, err)
	}

	overflowBegin := max(primaryMax+1, s.cfg.Begin)
	switch {
	case !sess.HasOverflow, overflowBegin > end:
		sum.Ranges = append(sum.Ranges, RangeSummary{
			Column:  s.cfg.OverflowColumn,
			Range:   Span(overflowBegin, overflowBegin-1),
			Skipped: true,
			State:   StateDone,
		})
		log.Info().
			Str("id_column", s.cfg.OverflowColumn).
			Bool("has_overflow", sess.HasOverflow).
			Int64("begin_id", overflowBegin).
			Int64("last_id", end).
			Msg("skipping overflow range")
	default:
		overflow := Span(overflowBegin, min(end, sess.OverflowMax))
		if err := s.scanRange(ctx, sum, s.cfg.OverflowColumn, overflow); err != nil {
			return s.fail(sum, start, err)
		}
	}

	sess.State = StateDone
	sess.Remaining = 0
	sum.Duration = time.Since(start)

	logging.PhaseComplete(log, "scan", sum.Duration).
		Int64("chunks", sum.ChunksCompleted).
		Count("rows", sum.RowsSeen).
		Count("kept", sum.Kept).
		Count("discarded_parts", sum.DiscardedParts).
		Count("discarded_no_match", sum.DiscardedNoMatch).
		Int64("retries", sum.Retries).
		Log("scan complete")

	return sum, nil
}

func (s *Scanner) fail(sum *Summary, start time.Time, err error) (*Summary, error) {
	sum.Session.State = StateFailed
	sum.Duration = time.Since(start)
	sum.Err = err
	return sum, err
}

// scanRange walks r on column chunk by chunk and stops at the first
// unrecoverable error.
func (s *Scanner) scanRange(ctx context.Context, sum *Summary, column string, r Range) error {
	ctx = logctx.WithColumn(ctx, column)
	log := logctx.FromContext(ctx)
	phase := "find_" + column

	it, err := NewIterator(r, s.cfg.ChunkSize)
	if err != nil {
		return err
	}

	sum.Ranges = append(sum.Ranges, RangeSummary{Column: column, Range: r, State: StateIdle})
	rs := &sum.Ranges[len(sum.Ranges)-1]
	sum.Session.Column = column
	sum.Session.Remaining = it.Remaining()

	start := time.Now()
	progress := logging.NewRangeProgress(r.Len())
	log.Info().
		Int64("begin_id", r.Begin).
		Int64("end_id", r.End).
		Int64("ids_to_go", it.Remaining()).
		Msgf("shark spotter %s: begin", column)

	for {
		if err := ctx.Err(); err != nil {
			it.Fail(err)
			break
		}
		c, ok := it.Next()
		if !ok {
			break
		}

		logging.ChunkStarted(log, phase, c.Begin, c.End, it.Remaining())
		chunkStart := time.Now()

		res, retries, err := Execute(ctx, s.cfg.Overload, c, func(ctx context.Context, c Chunk) (chunkResult, error) {
			return s.readChunk(ctx, column, c)
		})
		if err != nil {
			rs.Retries += int64(retries)
			sum.Retries += int64(retries)
			log.Error().Err(err).
				Int64("begin_id", c.Begin).
				Int64("end_id", c.End).
				Int64("duration_ms", time.Since(chunkStart).Milliseconds()).
				Msgf("find %s: err", column)
			it.Fail(&QueryError{Column: column, Chunk: c, Err: err})
			break
		}

		if len(res.kept) > 0 {
			if err := s.sink.WriteRecords(ctx, res.kept); err != nil {
				it.Fail(&SinkError{Chunk: c, Err: err})
				break
			}
		}
		if err := it.Commit(c); err != nil {
			it.Fail(err)
			break
		}

		sum.addChunk(rs, res, retries)
		sum.Session.Remaining = it.Remaining()

		elapsed := time.Since(chunkStart)
		progress.RecordChunk(c.Size, elapsed)
		logging.ChunkComplete(log, phase, elapsed).
			Int64("begin_id", c.Begin).
			Int64("end_id", c.End).
			Int64("rows", res.rows).
			Int("kept", len(res.kept)).
			Int64("discarded", res.rows-int64(len(res.kept))).
			Int64("ids_to_go", it.Remaining()).
			Int("retries", retries).
			Progress(progress).
			Log(fmt.Sprintf("find %s: end", column))
	}

	rs.State = it.State()
	rs.Duration = time.Since(start)

	logging.RangeComplete(log, phase, rs.Duration).
		Str("state", rs.State.String()).
		Int64("chunks", rs.Chunks).
		Count("rows", rs.Rows).
		Count("kept", rs.Kept).
		Rate(it.Range().Len() - it.Remaining()).
		Log(fmt.Sprintf("shark spotter %s: end", column))

	return it.Err()
}

// readChunk queries one chunk and classifies its rows. Kept records are
// buffered so nothing reaches the sink from an attempt that fails.
func (s *Scanner) readChunk(ctx context.Context, column string, c Chunk) (chunkResult, error) {
	log := logctx.FromContext(ctx)

	var res chunkResult
	q := Query{Column: column, Begin: c.Begin, End: c.End, Limit: c.Size}
	err := s.q.FindObjects(ctx, q, func(row record.Row) error {
		res.rows++
		log.Debug().
			Int64("id", row.ID).
			Int64("records_seen", res.rows).
			Int64("begin_id", c.Begin).
			Int64("end_id", c.End).
			Msg("record received")

		d, err := s.classifier.ClassifyRow(row)
		if err != nil {
			return err
		}
		if d.Prefiltered {
			res.prefiltered++
		}
		switch d.Reason {
		case record.ReasonKept:
			res.kept = append(res.kept, d.Record)
		case record.ReasonPart:
			res.parts++
		case record.ReasonNoMatch:
			res.noMatch++
		}
		return nil
	})
	if err != nil {
		return chunkResult{}, err
	}
	return res, nil
}
