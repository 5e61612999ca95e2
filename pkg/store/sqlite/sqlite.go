package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/veesix-networks/hotspotd/pkg/store"
	"github.com/veesix-networks/hotspotd/pkg/store/sqlstore"
)

var Dialect = sqlstore.Dialect{
	Name:                    "sqlite",
	Placeholder:             sqlstore.QuestionMark,
	Schema:                  sqlstore.Schema("INTEGER PRIMARY KEY AUTOINCREMENT"),
	IsActiveSessionConflict: isActiveSessionConflict,
}

// SQLite names the columns of a violated unique index, not the index.
const oneActiveColumns = "sessions.user_id, sessions.nas_id"

func isActiveSessionConflict(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint &&
		se.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(se.Error(), oneActiveColumns)
}

func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("%w: %w", store.ErrStore, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", store.ErrStore, path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma %s: %w", store.ErrStore, p, err)
		}
	}

	s, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
