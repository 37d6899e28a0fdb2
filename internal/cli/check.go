package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/eunmann/sharkspotter/pkg/logging"
	"github.com/eunmann/sharkspotter/pkg/s3store"
	"github.com/eunmann/sharkspotter/pkg/uuidbloom"
)

// runCheck prints "<id> present" or "<id> absent" for every id argument.
func runCheck(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseCheckFlags(args)
	if err != nil {
		return err
	}
	logging.Init(opts.Debug, opts.Human)

	path := opts.Filter
	if s3store.IsS3URI(path) {
		path, err = fetchFilter(ctx, opts.Filter)
		if err != nil {
			return err
		}
		defer os.RemoveAll(filepath.Dir(path))
	}

	// Open would create a missing filter; checking must not.
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("filter %s: %w", path, err)
	}
	filter, err := uuidbloom.Open(path)
	if err != nil {
		return fmt.Errorf("open filter: %w", err)
	}
	defer filter.Close()

	var errs []error
	for _, s := range opts.IDs {
		id, err := uuidbloom.ParseID(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ok, err := filter.Query(id)
		if err != nil {
			return fmt.Errorf("query %s: %w", s, err)
		}
		state := "absent"
		if ok {
			state = "present"
		}
		fmt.Fprintf(stdout, "%s %s\n", s, state)
	}
	return errors.Join(errs...)
}

func fetchFilter(ctx context.Context, uri string) (string, error) {
	loc, err := s3store.ParseS3URI(uri)
	if err != nil {
		return "", &ConfigError{Msg: err.Error()}
	}
	client, err := s3store.NewS3Client(ctx)
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp("", "sharkspotter-filter-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	path := filepath.Join(dir, "filter")
	if _, err := s3store.New(client, s3store.DefaultTransferConfig()).DownloadFile(ctx, loc, path); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return path, nil
}
