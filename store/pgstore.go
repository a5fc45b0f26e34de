package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitfsorg/feerouter-go/address"
	"github.com/bitfsorg/feerouter-go/errs"
	"github.com/bitfsorg/feerouter-go/policy"
	"github.com/bitfsorg/feerouter-go/progress"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS feerouter_streams (
	stream_id      BYTEA PRIMARY KEY,
	policy_address TEXT NOT NULL,
	state_address  TEXT NOT NULL UNIQUE,
	policy         JSONB NOT NULL,
	state          JSONB NOT NULL,
	version        BIGINT NOT NULL
)`

// PgStore persists records in PostgreSQL. The compare-and-swap is a single
// conditional UPDATE on the version column.
type PgStore struct {
	pool  *pgxpool.Pool
	addrs *address.Deriver
}

// OpenPgStore connects to dsn, checks the connection and creates the table.
func OpenPgStore(ctx context.Context, dsn string, addrs *address.Deriver) (*PgStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &PgStore{pool: pool, addrs: addrs}, nil
}

var _ Store = (*PgStore)(nil)

// Close releases the pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PgStore) Create(ctx context.Context, p *policy.Policy, st *progress.State) error {
	if err := checkCreate(p, st); err != nil {
		return err
	}
	pa, err := s.addrs.Policy(p.StreamID)
	if err != nil {
		return err
	}
	sa, err := s.addrs.State(p.StreamID)
	if err != nil {
		return err
	}
	polJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("pgstore: encode policy: %w", err)
	}
	stJSON, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("pgstore: encode state: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO feerouter_streams (stream_id, policy_address, state_address, policy, state, version)
		 VALUES ($1, $2, $3, $4, $5, 1)
		 ON CONFLICT (stream_id) DO NOTHING`,
		p.StreamID[:], pa.String(), sa.String(), polJSON, stJSON)
	if err != nil {
		return wrapPg("insert stream", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStreamExists
	}
	return nil
}

func (s *PgStore) Load(ctx context.Context, stream policy.StreamID) (*Record, error) {
	var (
		polJSON, stJSON []byte
		version         int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT policy, state, version FROM feerouter_streams WHERE stream_id = $1`,
		stream[:]).Scan(&polJSON, &stJSON, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStreamNotFound
	}
	if err != nil {
		return nil, wrapPg("select stream", err)
	}
	rec := &Record{Policy: &policy.Policy{}, State: &progress.State{}, Version: uint64(version)}
	if err := json.Unmarshal(polJSON, rec.Policy); err != nil {
		return nil, fmt.Errorf("%w: policy %s: %w", ErrCorruptRecord, stream, err)
	}
	if err := json.Unmarshal(stJSON, rec.State); err != nil {
		return nil, fmt.Errorf("%w: state %s: %w", ErrCorruptRecord, stream, err)
	}
	return rec, nil
}

func (s *PgStore) CompareAndSwap(ctx context.Context, stream policy.StreamID, expected uint64, st *progress.State) (uint64, error) {
	if st.StreamID != stream {
		return 0, ErrStreamMismatch
	}
	stJSON, err := json.Marshal(st)
	if err != nil {
		return 0, fmt.Errorf("pgstore: encode state: %w", err)
	}
	var version int64
	err = s.pool.QueryRow(ctx,
		`UPDATE feerouter_streams SET state = $1, version = version + 1
		 WHERE stream_id = $2 AND version = $3
		 RETURNING version`,
		stJSON, stream[:], int64(expected)).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM feerouter_streams WHERE stream_id = $1)`,
			stream[:]).Scan(&exists); err != nil {
			return 0, wrapPg("check stream", err)
		}
		if !exists {
			return 0, ErrStreamNotFound
		}
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, wrapPg("update state", err)
	}
	return uint64(version), nil
}

func (s *PgStore) List(ctx context.Context) ([]policy.StreamID, error) {
	rows, err := s.pool.Query(ctx, `SELECT stream_id FROM feerouter_streams ORDER BY stream_id`)
	if err != nil {
		return nil, wrapPg("list streams", err)
	}
	defer rows.Close()
	var out []policy.StreamID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapPg("scan stream", err)
		}
		var id policy.StreamID
		if len(raw) != len(id) {
			return nil, fmt.Errorf("%w: stream key length %d", ErrCorruptRecord, len(raw))
		}
		copy(id[:], raw)
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPg("list streams", err)
	}
	return out, nil
}

// wrapPg tags driver failures with the storage kind. Serialization failures
// are reported as conflicts so callers retry them.
func wrapPg(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: pgstore: %s: %w", errs.ErrConflict, op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: pgstore: %s: %w", errs.ErrStorage, op, err)
}
