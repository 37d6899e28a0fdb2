package moray

import (
	"context"
	"database/sql"
	"fmt"
)

// Object is one row of the bucket table.
type Object struct {
	ID int64
	// Idx is the overflow id; zero leaves the column NULL.
	Idx   int64
	Key   string
	Value []byte
	// Type defaults to "object".
	Type string
}

// CreateTable creates the bucket table and its id indexes if they do not
// exist. The client must not be read-only.
func (c *Client) CreateTable(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			_id INTEGER PRIMARY KEY,
			_idx INTEGER UNIQUE,
			_key TEXT NOT NULL,
			_value TEXT NOT NULL,
			_etag TEXT,
			_mtime INTEGER NOT NULL DEFAULT 0,
			type TEXT NOT NULL DEFAULT 'object'
		)`, c.cfg.Table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %[1]s_type_idx ON %[1]s (type)", c.cfg.Table),
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", c.cfg.Table, classify(err))
		}
	}
	return nil
}

// PutObjects inserts or replaces objs in one transaction.
func (c *Client) PutObjects(ctx context.Context, objs ...Object) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (_id, _idx, _key, _value, type) VALUES (?, ?, ?, ?, ?)", c.cfg.Table))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", classify(err))
	}
	defer stmt.Close()

	for _, o := range objs {
		idx := sql.NullInt64{Int64: o.Idx, Valid: o.Idx != 0}
		typ := o.Type
		if typ == "" {
			typ = "object"
		}
		if _, err := stmt.ExecContext(ctx, o.ID, idx, o.Key, string(o.Value), typ); err != nil {
			return fmt.Errorf("insert object %d: %w", o.ID, classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}
