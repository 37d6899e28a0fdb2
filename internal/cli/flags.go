package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/eunmann/sharkspotter/pkg/moray"
	"github.com/eunmann/sharkspotter/pkg/s3store"
	"github.com/eunmann/sharkspotter/pkg/scan"
	"github.com/eunmann/sharkspotter/pkg/sink"
)

// scanOptions holds the parsed flags of the scan command.
type scanOptions struct {
	Begin     int64
	End       int64
	Morays    []string
	Domain    string
	Shark     string
	Filter    string
	ChunkSize int64
	KeepParts bool

	DSN         string
	OutDir      string
	Format      sink.Format
	Compression sink.Compression
	Upload      *s3store.Location

	RetryDelay time.Duration
	MaxRetries int
	Parallel   int

	Debug bool
	Human bool
}

// Shards returns the fully qualified shard names, <moray>.<domain>.
func (o *scanOptions) Shards() []string {
	shards := make([]string, len(o.Morays))
	for i, m := range o.Morays {
		shards[i] = m + "." + o.Domain
	}
	return shards
}

// Target returns the fully qualified storage location being audited.
func (o *scanOptions) Target() string {
	if o.Shark == "" {
		return ""
	}
	return o.Shark + "." + o.Domain
}

// ScanConfig returns the scan configuration the flags describe.
func (o *scanOptions) ScanConfig() scan.Config {
	cfg := scan.DefaultConfig()
	cfg.Begin = o.Begin
	cfg.End = o.End
	cfg.ChunkSize = o.ChunkSize
	cfg.Overload.Delay = o.RetryDelay
	cfg.Overload.MaxRetries = o.MaxRetries
	return cfg
}

// sinkOptions returns the result writer options.
func (o *scanOptions) sinkOptions() sink.Options {
	return sink.Options{Format: o.Format, Compression: o.Compression}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseScanFlags(args []string) (*scanOptions, error) {
	fs := newFlagSet("scan")
	opts := &scanOptions{}

	var morays, format, compress, upload string
	fs.Int64Var(&opts.Begin, "b", 0, "first id to scan")
	fs.Int64Var(&opts.Begin, "begin", 0, "first id to scan")
	fs.Int64Var(&opts.End, "e", scan.NoEnd, "last id to scan (default: largest id)")
	fs.Int64Var(&opts.End, "end", scan.NoEnd, "last id to scan (default: largest id)")
	fs.StringVar(&morays, "m", "", "moray shards to search, comma separated (e.g. 2.moray)")
	fs.StringVar(&morays, "moray", "", "moray shards to search, comma separated (e.g. 2.moray)")
	fs.StringVar(&opts.Domain, "d", "", "domain name of manta services")
	fs.StringVar(&opts.Domain, "domain", "", "domain name of manta services")
	fs.StringVar(&opts.Shark, "s", "", "shark to search objects for (e.g. 1.stor)")
	fs.StringVar(&opts.Shark, "shark", "", "shark to search objects for (e.g. 1.stor)")
	fs.StringVar(&opts.Filter, "f", "", "membership filter file to add every object id to")
	fs.StringVar(&opts.Filter, "filter", "", "membership filter file to add every object id to")
	fs.Int64Var(&opts.ChunkSize, "c", scan.DefaultChunkSize, "number of ids per query")
	fs.Int64Var(&opts.ChunkSize, "chunk-size", scan.DefaultChunkSize, "number of ids per query")
	fs.BoolVar(&opts.KeepParts, "keep-parts", false, "keep multipart upload parts")

	fs.StringVar(&opts.DSN, "dsn", moray.DefaultDSNTemplate, "shard database DSN template, {shard} is replaced by the shard name")
	fs.StringVar(&opts.OutDir, "out-dir", ".", "directory for result files")
	fs.StringVar(&format, "format", string(sink.FormatLines), "result format: lines or parquet")
	fs.StringVar(&compress, "compress", string(sink.CompressionNone), "result compression: none or zstd")
	fs.StringVar(&upload, "upload", "", "upload results to s3://bucket/prefix/ after a successful scan")

	fs.DurationVar(&opts.RetryDelay, "retry-delay", scan.DefaultOverloadDelay, "wait before retrying an overloaded chunk")
	fs.IntVar(&opts.MaxRetries, "max-retries", 0, "retries per overloaded chunk, 0 for unlimited")
	fs.IntVar(&opts.Parallel, "parallel", 1, "number of shards scanned concurrently")

	fs.BoolVar(&opts.Debug, "debug", false, "enable debug logging")
	fs.BoolVar(&opts.Human, "human", false, "human-readable console logs")

	if err := fs.Parse(args); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("%v\n%s", err, usage)}
	}
	if fs.NArg() > 0 {
		return nil, configErrorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	for _, m := range strings.Split(morays, ",") {
		if m = strings.TrimSpace(m); m != "" {
			opts.Morays = append(opts.Morays, m)
		}
	}

	var err error
	if opts.Format, err = sink.ParseFormat(format); err != nil {
		return nil, &ConfigError{Msg: err.Error()}
	}
	if opts.Compression, err = sink.ParseCompression(compress); err != nil {
		return nil, &ConfigError{Msg: err.Error()}
	}
	if upload != "" {
		loc, err := s3store.ParseS3URI(upload)
		if err != nil {
			return nil, configErrorf("--upload: %v", err)
		}
		opts.Upload = &loc
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *scanOptions) validate() error {
	switch {
	case len(o.Morays) == 0:
		return configErrorf("must provide moray shard to search (-m)")
	case o.Domain == "":
		return configErrorf("must provide domain name (-d)")
	case o.Shark == "" && o.Filter == "":
		return configErrorf("must provide a shark (-s) or a filter (-f)")
	case o.Shark != "" && o.Filter != "":
		return configErrorf("-s and -f are mutually exclusive")
	case o.Parallel < 1:
		return configErrorf("--parallel must be at least 1, got %d", o.Parallel)
	case o.Filter != "" && s3store.IsS3URI(o.Filter):
		return configErrorf("-f must be a local path when scanning; use --upload to publish the filter")
	}

	seen := make(map[string]bool, len(o.Morays))
	for _, m := range o.Morays {
		if seen[m] {
			return configErrorf("moray shard %q given twice", m)
		}
		seen[m] = true
	}

	// One DSN for several shards would scan the same database twice.
	if len(o.Morays) > 1 && !strings.Contains(o.DSN, moray.ShardPlaceholder) {
		return configErrorf("--dsn must contain %s when scanning several shards", moray.ShardPlaceholder)
	}

	if o.Upload != nil && !o.Upload.IsPrefix() && o.Filter == "" && len(o.Morays) > 1 {
		return configErrorf("--upload must be a prefix ending in / when several shards are scanned")
	}

	cfg := o.ScanConfig()
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Msg: err.Error()}
	}
	return nil
}

// checkOptions holds the parsed flags of the check command.
type checkOptions struct {
	Filter string
	IDs    []string
	Debug  bool
	Human  bool
}

func parseCheckFlags(args []string) (*checkOptions, error) {
	fs := newFlagSet("check")
	opts := &checkOptions{}
	fs.StringVar(&opts.Filter, "f", "", "membership filter file or s3:// URI")
	fs.StringVar(&opts.Filter, "filter", "", "membership filter file or s3:// URI")
	fs.BoolVar(&opts.Debug, "debug", false, "enable debug logging")
	fs.BoolVar(&opts.Human, "human", false, "human-readable console logs")

	if err := fs.Parse(args); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("%v\n%s", err, usage)}
	}
	if opts.Filter == "" {
		return nil, configErrorf("must provide a filter (-f)")
	}
	opts.IDs = fs.Args()
	if len(opts.IDs) == 0 {
		return nil, configErrorf("must provide at least one id to check")
	}
	return opts, nil
}
