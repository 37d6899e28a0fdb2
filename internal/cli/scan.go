package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/eunmann/sharkspotter/internal/logctx"
	"github.com/eunmann/sharkspotter/pkg/humanfmt"
	"github.com/eunmann/sharkspotter/pkg/logging"
	"github.com/eunmann/sharkspotter/pkg/moray"
	"github.com/eunmann/sharkspotter/pkg/record"
	"github.com/eunmann/sharkspotter/pkg/s3store"
	"github.com/eunmann/sharkspotter/pkg/scan"
	"github.com/eunmann/sharkspotter/pkg/sink"
	"github.com/eunmann/sharkspotter/pkg/uuidbloom"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// shardResult is the outcome of scanning one shard.
type shardResult struct {
	shard   string
	output  string
	summary *scan.Summary
	filter  sink.FilterStats
	err     error
}

func runScan(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseScanFlags(args)
	if err != nil {
		return err
	}
	logging.Init(opts.Debug, opts.Human)
	log := logging.WithPhase("sharkspotter")

	var store *s3store.Store
	if opts.Upload != nil {
		client, err := s3store.NewS3Client(ctx)
		if err != nil {
			return err
		}
		store = s3store.New(client, s3store.DefaultTransferConfig())
	}

	var (
		filter *uuidbloom.Filter
		shared *sink.SharedSet
	)
	if opts.Filter != "" {
		filter, err = uuidbloom.Open(opts.Filter)
		if err != nil {
			return fmt.Errorf("open filter: %w", err)
		}
		defer filter.Close()
		shared = sink.NewSharedSet(filter)
	}

	shards := opts.Shards()
	log.Info().
		Strs("shards", shards).
		Str("shark", opts.Target()).
		Str("filter", opts.Filter).
		Int64("begin", opts.Begin).
		Int64("end", opts.End).
		Int64("chunk_size", opts.ChunkSize).
		Int("parallel", opts.Parallel).
		Msg("starting shark spotter")

	// Shards are independent; one failing does not stop the others.
	results := make([]shardResult, len(shards))
	var g errgroup.Group
	g.SetLimit(opts.Parallel)
	for i, shard := range shards {
		g.Go(func() error {
			results[i] = runShard(ctx, opts, shard, shared, store)
			return nil
		})
	}
	_ = g.Wait()

	var (
		errs     []error
		inserted int64
	)
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		inserted += r.filter.Inserted
		if r.output != "" {
			fmt.Fprintln(stdout, r.output)
		}
	}

	if filter != nil {
		if err := finishFilter(ctx, filter, shared, store, opts, inserted, len(errs) > 0); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func runShard(ctx context.Context, opts *scanOptions, shard string, shared *sink.SharedSet, store *s3store.Store) shardResult {
	ctx = logctx.WithShard(ctx, shard)
	log := logctx.FromContext(ctx)
	res := shardResult{shard: shard}

	client, err := moray.Open(ctx, moray.DefaultConfig(moray.ExpandDSN(opts.DSN, shard)))
	if err != nil {
		log.Error().Err(err).Msg("could not connect to moray")
		res.err = fmt.Errorf("shard %s: %w", shard, err)
		return res
	}
	defer client.Close()

	var (
		classifier *record.Classifier
		out        scan.Sink
		writer     sink.Writer
		filterSink *sink.FilterSink
	)
	if shared != nil {
		classifier = record.NewMembershipClassifier(!opts.KeepParts)
		filterSink = sink.NewFilterSink(shared)
		out = filterSink
	} else {
		classifier = record.NewAuditClassifier(opts.Target(), !opts.KeepParts)
		path := sink.DefaultPath(opts.OutDir, shard, os.Getpid(), opts.sinkOptions())
		writer, err = sink.Create(path, opts.sinkOptions())
		if err != nil {
			res.err = fmt.Errorf("shard %s: %w", shard, err)
			return res
		}
		out = writer
	}

	s, err := scan.New(opts.ScanConfig(), client, classifier, out)
	if err != nil {
		if writer != nil {
			writer.Close()
		}
		res.err = fmt.Errorf("shard %s: %w", shard, err)
		return res
	}

	sum, err := s.Run(ctx)
	res.summary = sum
	if writer != nil {
		res.output = writer.Path()
		if cerr := writer.Close(); err == nil {
			err = cerr
		}
	}
	if filterSink != nil {
		res.filter = filterSink.Stats()
	}
	if err != nil {
		logShardFailure(log, sum, err)
		res.err = fmt.Errorf("shard %s: %w", shard, err)
		return res
	}

	done := logging.PhaseComplete(log, "shard", sum.Duration).
		Int64("chunks", sum.ChunksCompleted).
		Count("rows", sum.RowsSeen).
		Count("kept", sum.Kept).
		Count("discarded", sum.Discarded()).
		Int64("retries", sum.Retries)
	if writer != nil {
		done = done.Str("output", writer.Path()).Str("written", humanfmt.Bytes(writer.Stats().Bytes))
	}
	if filterSink != nil {
		done = done.Count("inserted", res.filter.Inserted).Count("already_present", res.filter.AlreadyPresent)
	}
	done.Log("shard done")

	if store != nil && writer != nil {
		if _, err := store.UploadFile(ctx, writer.Path(), *opts.Upload); err != nil {
			res.err = fmt.Errorf("shard %s: %w", shard, err)
		}
	}
	return res
}

// logShardFailure reports where a failed session stopped and what it had
// done by then.
func logShardFailure(log zerolog.Logger, sum *scan.Summary, err error) {
	log.Error().Err(err).
		Str("state", sum.Session.State.String()).
		Int64("ids_to_go", sum.Session.Remaining).
		Str("id_column", sum.Session.Column).
		Int64("chunks", sum.ChunksCompleted).
		Int64("rows", sum.RowsSeen).
		Int64("kept", sum.Kept).
		Int64("discarded", sum.Discarded()).
		Msg("shard scan failed")
}

// finishFilter flushes the filter and uploads it when requested. A filter
// is not uploaded when any shard failed.
func finishFilter(ctx context.Context, filter *uuidbloom.Filter, shared *sink.SharedSet, store *s3store.Store, opts *scanOptions, inserted int64, failed bool) error {
	if err := shared.Sync(); err != nil {
		return fmt.Errorf("sync filter: %w", err)
	}

	log := logging.WithPhase("filter")
	log.Info().
		Str("path", filter.Path()).
		Bool("created", filter.Created()).
		Int64("inserted", inserted).
		Float64("fp_rate_added", uuidbloom.FalsePositiveRate(uint64(inserted))).
		Msg("filter synced")

	if store == nil {
		return nil
	}
	if failed {
		log.Warn().Str("path", filter.Path()).Msg("shard scans failed, filter not uploaded")
		return nil
	}
	if _, err := store.UploadFile(ctx, filter.Path(), *opts.Upload); err != nil {
		return fmt.Errorf("upload filter: %w", err)
	}
	return nil
}
