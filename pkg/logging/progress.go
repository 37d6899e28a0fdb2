package logging

import (
	"sync"
	"time"

	"github.com/eunmann/sharkspotter/pkg/humanfmt"
	"github.com/rs/zerolog"
)

// RangeProgress tracks how many keys of a scan range are done, with an ETA
// estimated from the most recent chunks. It is safe for concurrent use.
type RangeProgress struct {
	total     int64
	startTime time.Time

	mu        sync.Mutex
	done      int64
	recent    []chunkSample
	maxRecent int
}

type chunkSample struct {
	keys int64
	d    time.Duration
}

// NewRangeProgress creates a tracker for a range of total keys.
func NewRangeProgress(total int64) *RangeProgress {
	return &RangeProgress{
		total:     total,
		startTime: time.Now(),
		recent:    make([]chunkSample, 0, 10),
		maxRecent: 10,
	}
}

// RecordChunk records that keys more keys finished in d.
func (rp *RangeProgress) RecordChunk(keys int64, d time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	rp.done += keys
	if len(rp.recent) >= rp.maxRecent {
		rp.recent = rp.recent[1:]
	}
	rp.recent = append(rp.recent, chunkSample{keys: keys, d: d})
}

// Done returns the number of keys finished.
func (rp *RangeProgress) Done() int64 {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.done
}

// Total returns the number of keys in the range.
func (rp *RangeProgress) Total() int64 {
	return rp.total
}

// Remaining returns how many keys are left.
func (rp *RangeProgress) Remaining() int64 {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.total - rp.done
}

// ETA returns the estimated time to finish the range based on the per-key
// rate of the recent chunks.
func (rp *RangeProgress) ETA() time.Duration {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	remaining := rp.total - rp.done
	if remaining <= 0 || len(rp.recent) == 0 {
		return 0
	}

	var keys int64
	var elapsed time.Duration
	for _, s := range rp.recent {
		keys += s.keys
		elapsed += s.d
	}
	if keys == 0 {
		return 0
	}
	return time.Duration(float64(elapsed) / float64(keys) * float64(remaining))
}

// Elapsed returns time since tracking started.
func (rp *RangeProgress) Elapsed() time.Duration {
	return time.Since(rp.startTime)
}

// CompletionEvent helps build consistent completion log events.
type CompletionEvent struct {
	log     zerolog.Logger
	event   string
	phase   string
	elapsed time.Duration
	fields  map[string]interface{}
}

// NewCompletionEvent creates a new completion event builder.
func NewCompletionEvent(log zerolog.Logger, event, phase string, elapsed time.Duration) *CompletionEvent {
	return &CompletionEvent{
		log:     log,
		event:   event,
		phase:   phase,
		elapsed: elapsed,
		fields:  make(map[string]interface{}),
	}
}

// Str adds a string field.
func (ce *CompletionEvent) Str(key, val string) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int adds an int field.
func (ce *CompletionEvent) Int(key string, val int) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int64 adds an int64 field.
func (ce *CompletionEvent) Int64(key string, val int64) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Count adds count with optional human-readable companion.
func (ce *CompletionEvent) Count(key string, n int64) *CompletionEvent {
	ce.fields[key] = n
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Count(n)
	}
	return ce
}

// Progress adds keys done/total, percentage and ETA from a RangeProgress.
func (ce *CompletionEvent) Progress(rp *RangeProgress) *CompletionEvent {
	done, total := rp.Done(), rp.Total()
	ce.fields["keys_done"] = done
	ce.fields["keys_total"] = total
	if total > 0 {
		ce.fields["progress_pct"] = float64(done) * 100.0 / float64(total)
	}
	if eta := rp.ETA(); eta > 0 {
		ce.fields["eta_ms"] = eta.Milliseconds()
		if IsPrettyMode() {
			ce.fields["eta_h"] = humanfmt.Duration(eta)
		}
	}
	return ce
}

// Rate adds a keys-per-second field over the event's elapsed time.
func (ce *CompletionEvent) Rate(keys int64) *CompletionEvent {
	if ce.elapsed > 0 {
		ce.fields["keys_per_sec"] = float64(keys) / ce.elapsed.Seconds()
		if IsPrettyMode() {
			ce.fields["rate_h"] = humanfmt.Rate(keys, ce.elapsed)
		}
	}
	return ce
}

// Log emits the completion event.
func (ce *CompletionEvent) Log(msg string) {
	ce.emit(ce.log.Info(), msg)
}

// LogDebug emits the completion event at debug level.
func (ce *CompletionEvent) LogDebug(msg string) {
	ce.emit(ce.log.Debug(), msg)
}

func (ce *CompletionEvent) emit(e *zerolog.Event, msg string) {
	e = e.Str("event", ce.event).
		Str("phase", ce.phase).
		Int64("duration_ms", ce.elapsed.Milliseconds())

	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(ce.elapsed))
	}

	for k, v := range ce.fields {
		e = e.Interface(k, v)
	}

	e.Msg(msg)
}

// PhaseComplete logs a phase completion event.
func PhaseComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "phase_completed", phase, elapsed)
}

// ChunkComplete logs a chunk completion event.
func ChunkComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "chunk_completed", phase, elapsed)
}

// RangeComplete logs the end of a sub-range scan.
func RangeComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "range_completed", phase, elapsed)
}

// ChunkStarted logs a chunk start event (no duration).
func ChunkStarted(log zerolog.Logger, phase string, begin, end, remaining int64) {
	log.Info().
		Str("event", "chunk_started").
		Str("phase", phase).
		Int64("begin_id", begin).
		Int64("end_id", end).
		Int64("chunk_size", end-begin+1).
		Int64("ids_to_go", remaining).
		Msg("chunk started")
}
