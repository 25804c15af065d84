package pgx

import (
	"context"
	"errors"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/store"
	"github.com/lemonslut/that-news-thing-again/pkg/story"
	"github.com/lemonslut/that-news-thing-again/pkg/subject"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

// idChunkSize bounds the ids sent in one ANY($1) parameter.
const idChunkSize = 1000

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// NewsDBStorage implements the subject index, the story store and the trend
// snapshot store on PostgreSQL. Writes to one story are serialized by a row
// lock on the story inside the write transaction.
type NewsDBStorage struct {
	conn pgxIConn
}

var (
	_ subject.Index = (*NewsDBStorage)(nil)
	_ story.Store   = (*NewsDBStorage)(nil)
	_ story.Reader  = (*NewsDBStorage)(nil)
	_ trend.Store   = (*NewsDBStorage)(nil)
	_ store.Backend = (*NewsDBStorage)(nil)
)

// New creates a storage on a connection pool.
func New(pool *pgxpool.Pool) *NewsDBStorage {
	return &NewsDBStorage{conn: pool}
}

// NewWithConnection creates a storage on any pgx connection, for example a
// transaction owned by the caller.
func NewWithConnection(conn pgxIConn) *NewsDBStorage {
	return &NewsDBStorage{conn: conn}
}

// Connect opens a pool for databaseURL and pings it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func notFound(what string, id int64, err error) error {
	if errors.Is(err, pgxv5.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, common.ErrNotFound)
	}
	return err
}
