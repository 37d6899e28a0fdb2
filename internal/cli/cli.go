// Package cli implements the command-line interface for sharkspotter.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const usage = `usage: sharkspotter [scan] -m <moray>[,<moray>...] -d <domain> (-s <shark> | -f <filter>) [options]
       sharkspotter check -f <filter> <id>...
commands: scan, check`

// ConfigError reports invalid command-line configuration. It is returned
// before any shard connection or file is opened.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err stems from invalid configuration.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Run executes the CLI with the given arguments. Command results are
// written to stdout; logs go to stderr.
func Run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return &ConfigError{Msg: usage}
	}

	// A bare flag list is a scan.
	if strings.HasPrefix(args[0], "-") {
		return runScan(ctx, args, stdout)
	}

	switch args[0] {
	case "scan":
		return runScan(ctx, args[1:], stdout)
	case "check":
		return runCheck(ctx, args[1:], stdout)
	default:
		return configErrorf("unknown command: %s\n%s", args[0], usage)
	}
}
