// Package moray reads object metadata from a shard's manta table.
//
// Each shard is a SQLite database holding the "manta" bucket table with the
// _id and _idx columns, the object key and the serialized metadata value.
// Client implements scan.Querier.
package moray

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eunmann/sharkspotter/pkg/logging"
	"github.com/eunmann/sharkspotter/pkg/record"
	"github.com/eunmann/sharkspotter/pkg/scan"
	"github.com/mattn/go-sqlite3"
)

// DefaultTable is the bucket table holding object metadata.
const DefaultTable = "manta"

// ShardPlaceholder is replaced by the shard name in a DSN template.
const ShardPlaceholder = "{shard}"

// DefaultDSNTemplate places each shard's database in the working directory.
const DefaultDSNTemplate = ShardPlaceholder + ".db"

// Config holds connection settings for one shard.
type Config struct {
	// DSN is the SQLite data source, a file path or file: URI.
	DSN string
	// Table is the bucket table name.
	Table string
	// BusyTimeout is how long SQLite waits on a locked database before
	// reporting it busy. Busy and locked errors surface as scan.ErrOverloaded.
	BusyTimeout time.Duration
	// MaxOpenConns limits the connection pool.
	MaxOpenConns int
	// ReadOnly opens the database with mode=ro.
	ReadOnly bool
}

// DefaultConfig returns a read-only configuration for dsn.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:          dsn,
		Table:        DefaultTable,
		BusyTimeout:  time.Second,
		MaxOpenConns: 1,
		ReadOnly:     true,
	}
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *Config) Validate() error {
	if c.DSN == "" {
		return errors.New("DSN is required")
	}
	if err := checkIdent(c.Table); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("BusyTimeout must be non-negative, got %v", c.BusyTimeout)
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("MaxOpenConns must be non-negative, got %d", c.MaxOpenConns)
	}
	return nil
}

// ExpandDSN substitutes shard into a DSN template.
func ExpandDSN(template, shard string) string {
	return strings.ReplaceAll(template, ShardPlaceholder, shard)
}

func (c *Config) dataSource() string {
	params := []string{fmt.Sprintf("_busy_timeout=%d", c.BusyTimeout.Milliseconds())}
	if c.ReadOnly {
		params = append(params, "mode=ro")
	}
	// The driver only passes URI parameters such as mode through for
	// file: data sources.
	dsn := c.DSN
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Client queries one shard.
type Client struct {
	db  *sql.DB
	cfg Config
}

// Open connects to the shard described by cfg and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := logging.WithPhase("moray_open")

	db, err := sql.Open("sqlite3", cfg.dataSource())
	if err != nil {
		return nil, fmt.Errorf("open moray database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to moray database: %w", classify(err))
	}

	log.Debug().
		Str("dsn", cfg.DSN).
		Str("table", cfg.Table).
		Bool("read_only", cfg.ReadOnly).
		Msg("opened moray database")

	return &Client{db: db, cfg: cfg}, nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// MaxID returns the largest value of column. ok is false for an empty
// table or a column holding only NULLs.
func (c *Client) MaxID(ctx context.Context, column string) (int64, bool, error) {
	if err := checkIdent(column); err != nil {
		return 0, false, err
	}

	var maxID sql.NullInt64
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", column, c.cfg.Table)
	if err := c.db.QueryRowContext(ctx, query).Scan(&maxID); err != nil {
		return 0, false, fmt.Errorf("select max(%s): %w", column, classify(err))
	}
	return maxID.Int64, maxID.Valid, nil
}

// FindObjects streams the object rows with q.Begin <= column <= q.End in
// column order, at most q.Limit of them.
func (c *Client) FindObjects(ctx context.Context, q scan.Query, fn func(record.Row) error) error {
	if err := checkIdent(q.Column); err != nil {
		return err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = q.End - q.Begin + 1
	}

	query := fmt.Sprintf(
		"SELECT %[1]s, _key, _value FROM %[2]s WHERE %[1]s >= ? AND %[1]s <= ? AND type = 'object' ORDER BY %[1]s LIMIT ?",
		q.Column, c.cfg.Table)

	rows, err := c.db.QueryContext(ctx, query, q.Begin, q.End, limit)
	if err != nil {
		return fmt.Errorf("find objects: %w", classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row   record.Row
			key   sql.NullString
			value []byte
		)
		if err := rows.Scan(&row.ID, &key, &value); err != nil {
			return fmt.Errorf("scan row: %w", classify(err))
		}
		row.Key = key.String
		row.Value = value
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", classify(err))
	}
	return nil
}

// classify marks SQLite busy and locked errors as transient overload.
func classify(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %w", scan.ErrOverloaded, err)
	}
	return err
}

// checkIdent rejects anything but a plain SQL identifier, since column and
// table names are interpolated into queries.
func checkIdent(name string) error {
	if name == "" {
		return errors.New("empty identifier")
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	return nil
}
