// Package postgres persists the activity log and exported notes in Postgres.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SF-300/vigilant-disco/internal/store"
)

// Schema creates the tables used by Store.
const Schema = `
CREATE TABLE IF NOT EXISTS activity (
	id           BIGSERIAL PRIMARY KEY,
	operation_id UUID        NOT NULL,
	stage        TEXT        NOT NULL,
	role         TEXT        NOT NULL,
	text         TEXT        NOT NULL,
	at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS activity_stage_at_idx ON activity (stage, at DESC);
CREATE TABLE IF NOT EXISTS exported_notes (
	note_id     TEXT PRIMARY KEY,
	kind        TEXT        NOT NULL,
	deck        TEXT        NOT NULL,
	payload     JSONB       NOT NULL,
	exported_at TIMESTAMPTZ NOT NULL
);`

// Config controls the connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Store implements store.ActivityRepository and store.NoteRepository.
type Store struct {
	pool pool
}

var (
	_ store.ActivityRepository = (*Store)(nil)
	_ store.NoteRepository     = (*Store)(nil)
)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	return &Store{pool: p}, nil
}

// NewWithPool builds a Store around an existing pool (primarily for tests).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

// AppendActivity inserts batch with one multi-row statement.
func (s *Store) AppendActivity(ctx context.Context, batch []store.Activity) error {
	if len(batch) == 0 {
		return nil
	}
	const cols = 5
	var sb strings.Builder
	sb.WriteString("INSERT INTO activity (operation_id, stage, role, text, at) VALUES ")
	args := make([]any, 0, len(batch)*cols)
	for i, a := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * cols
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, a.OperationID, a.Stage, a.Role, a.Text, a.At)
	}
	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return errors.Wrap(err, "insert activity")
	}
	return nil
}

// ListActivity returns events newest first. An empty stage matches all.
func (s *Store) ListActivity(ctx context.Context, stage string, limit, offset int) ([]store.Activity, error) {
	const query = `
		SELECT operation_id, stage, role, text, at
		FROM activity
		WHERE ($1 = '' OR stage = $1)
		ORDER BY at DESC, id DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, stage, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list activity")
	}
	defer rows.Close()

	var out []store.Activity
	for rows.Next() {
		var a store.Activity
		if err := rows.Scan(&a.OperationID, &a.Stage, &a.Role, &a.Text, &a.At); err != nil {
			return nil, errors.Wrap(err, "scan activity row")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate activity rows")
	}
	return out, nil
}

// InsertNotes records exported notes. Notes already present are skipped so a
// retried export does not fail on duplicates.
func (s *Store) InsertNotes(ctx context.Context, notes []store.ExportedNote) error {
	const query = `
		INSERT INTO exported_notes (note_id, kind, deck, payload, exported_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (note_id) DO NOTHING;
	`
	for _, n := range notes {
		if n.NoteID == "" {
			return errors.New("note id is required")
		}
		if _, err := s.pool.Exec(ctx, query, n.NoteID, n.Kind, n.Deck, n.Payload, n.ExportedAt); err != nil {
			return errors.Wrapf(err, "insert note %s", n.NoteID)
		}
	}
	return nil
}
