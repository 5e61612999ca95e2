package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/veesix-networks/hotspotd/pkg/store"
	"github.com/veesix-networks/hotspotd/pkg/store/sqlstore"
)

const uniqueViolation = "23505"

var Dialect = sqlstore.Dialect{
	Name:        "postgres",
	Placeholder: sqlstore.Dollar,
	Schema:      sqlstore.Schema("BIGSERIAL PRIMARY KEY"),
	IsActiveSessionConflict: func(err error) bool {
		var pe *pq.Error
		return errors.As(err, &pe) && pe.Code == uniqueViolation && pe.Constraint == sqlstore.OneActiveIndex
	},
}

func Open(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", store.ErrStore, err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect: %w", store.ErrStore, err)
	}

	s, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
