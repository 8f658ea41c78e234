// Package postgres implements keystore.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/kds/internal/kdserrors"
	"github.com/sage-x-project/kds/keystore"
)

// serializationFailure is the PostgreSQL SQLSTATE for a transaction that
// lost a serializable write race; spec §7 allows exactly one retry.
const serializationFailure = "40001"

// Config holds PostgreSQL connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Store implements keystore.Store on a pgxpool-managed connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a connection pool to cfg and verifies it with a Ping.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// SetKey implements keystore.Store. The create-endpoint-or-check-flag and
// increment-and-insert steps run in one SERIALIZABLE transaction so two
// concurrent writers to the same name can't both observe the same
// latest_generation; the loser is retried once per spec §7.
func (s *Store) SetKey(ctx context.Context, name string, ciphertext, signature []byte, isGroup bool, expiration *time.Time) (uint64, error) {
	var gen uint64
	var err error

	for attempt := 0; attempt < 2; attempt++ {
		gen, err = s.setKeyOnce(ctx, name, ciphertext, signature, isGroup, expiration)
		if err == nil {
			return gen, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == serializationFailure {
			continue
		}
		return 0, err
	}
	return 0, kdserrors.NewConflictError("set_key retry exhausted")
}

func (s *Store) setKeyOnce(ctx context.Context, name string, ciphertext, signature []byte, isGroup bool, expiration *time.Time) (uint64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingIsGroup bool
	var latestGen uint64
	err = tx.QueryRow(ctx, `SELECT is_group, latest_generation FROM endpoints WHERE name = $1 FOR UPDATE`, name).
		Scan(&existingIsGroup, &latestGen)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, `INSERT INTO endpoints (name, is_group, latest_generation) VALUES ($1, $2, 0)`, name, isGroup); err != nil {
			return 0, fmt.Errorf("inserting endpoint: %w", err)
		}
		existingIsGroup = isGroup
		latestGen = 0
	case err != nil:
		return 0, fmt.Errorf("querying endpoint: %w", err)
	case existingIsGroup != isGroup:
		return 0, kdserrors.NewGroupStatusChangedError(name)
	}

	newGen := latestGen + 1
	if _, err := tx.Exec(ctx, `UPDATE endpoints SET latest_generation = $1 WHERE name = $2`, newGen, name); err != nil {
		return 0, fmt.Errorf("bumping generation: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO key_records (name, generation, ciphertext, signature, expiration, is_group) VALUES ($1, $2, $3, $4, $5, $6)`,
		name, newGen, ciphertext, signature, expiration, isGroup,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting key record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return newGen, nil
}

// GetKey implements keystore.Store.
func (s *Store) GetKey(ctx context.Context, name string, generation *uint64, wantGroup *bool) (*keystore.KeyRecord, error) {
	var endpointIsGroup bool
	var latestGen uint64
	err := s.pool.QueryRow(ctx, `SELECT is_group, latest_generation FROM endpoints WHERE name = $1`, name).
		Scan(&endpointIsGroup, &latestGen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying endpoint: %w", err)
	}

	if wantGroup != nil && endpointIsGroup != *wantGroup {
		return nil, nil
	}

	gen := latestGen
	if generation != nil {
		gen = *generation
	}

	var rec keystore.KeyRecord
	var expiration *time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT generation, ciphertext, signature, expiration, is_group FROM key_records WHERE name = $1 AND generation = $2`,
		name, gen,
	).Scan(&rec.Generation, &rec.Ciphertext, &rec.Signature, &expiration, &rec.IsGroup)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying key record: %w", err)
	}

	rec.Name = name
	rec.Expiration = expiration
	return &rec, nil
}

// CreateGroup implements keystore.Store.
func (s *Store) CreateGroup(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO endpoints (name, is_group, latest_generation) VALUES ($1, true, 0) ON CONFLICT (name) DO NOTHING`,
		name,
	)
	if err != nil {
		return false, fmt.Errorf("inserting endpoint: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Endpoint implements keystore.Store.
func (s *Store) Endpoint(ctx context.Context, name string) (*keystore.EndpointMeta, error) {
	meta := &keystore.EndpointMeta{Name: name}
	err := s.pool.QueryRow(ctx, `SELECT is_group, latest_generation FROM endpoints WHERE name = $1`, name).
		Scan(&meta.IsGroup, &meta.LatestGeneration)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying endpoint: %w", err)
	}
	return meta, nil
}

// Delete implements keystore.Store; cascades to key_records via foreign key.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM endpoints WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("deleting endpoint: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Close implements keystore.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping implements keystore.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
