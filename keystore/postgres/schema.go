package postgres

import "context"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS endpoints (
	name              TEXT PRIMARY KEY,
	is_group          BOOLEAN NOT NULL,
	latest_generation BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS key_records (
	name        TEXT NOT NULL REFERENCES endpoints(name) ON DELETE CASCADE,
	generation  BIGINT NOT NULL,
	ciphertext  BYTEA NOT NULL,
	signature   BYTEA NOT NULL,
	expiration  TIMESTAMPTZ,
	is_group    BOOLEAN NOT NULL,
	PRIMARY KEY (name, generation)
);
`

// Migrate creates the endpoints and key_records tables if they do not
// already exist. Callers run this once at startup; it is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	return err
}
