// pkg/platform/storage/migrations.go
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Up applies idempotent DDL for the editor tool:
//   - lti_entity: editor documents and their LTI/repository correlation ids
//   - lti_nonce:  single-use handshake records (SQL NonceStore backend)
//
// Call this once on startup, after Connect.
func Up(ctx context.Context, db *DB) error {
	if db == nil || db.SQL == nil {
		return fmt.Errorf("migrations: db is nil")
	}

	var schema string
	switch db.Driver {
	case "postgres":
		schema = schemaPostgres
	case "sqlite":
		schema = schemaSQLite
	default:
		return fmt.Errorf("migrations: unsupported driver %q (expected postgres|sqlite)", db.Driver)
	}

	// Some drivers reject multi-statement Exec; fall back to one statement at a time.
	if _, err := db.SQL.ExecContext(ctx, schema); err != nil {
		for _, stmt := range splitSQL(schema) {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, e := db.SQL.ExecContext(ctx, stmt); e != nil {
				return fmt.Errorf("migrations: failed at:\n%s\nerr: %w", firstLine(stmt), e)
			}
		}
	}
	return nil
}

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS lti_entity (
  id                   BIGSERIAL PRIMARY KEY,
  resource_link_id     TEXT,
  custom_claim_id      TEXT UNIQUE,
  edusharing_node_id   TEXT UNIQUE,
  content              TEXT NOT NULL,
  id_token_on_creation TEXT NOT NULL DEFAULT '',
  created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lti_nonce (
  id         TEXT PRIMARY KEY,
  kind       TEXT NOT NULL,
  payload    TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lti_nonce_created ON lti_nonce(created_at);
`

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS lti_entity (
  id                   INTEGER PRIMARY KEY AUTOINCREMENT,
  resource_link_id     TEXT,
  custom_claim_id      TEXT UNIQUE,
  edusharing_node_id   TEXT UNIQUE,
  content              TEXT NOT NULL,
  id_token_on_creation TEXT NOT NULL DEFAULT '',
  created_at           INTEGER NOT NULL DEFAULT (strftime('%s','now')),
  updated_at           INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);

CREATE TABLE IF NOT EXISTS lti_nonce (
  id         TEXT PRIMARY KEY,
  kind       TEXT NOT NULL,
  payload    TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lti_nonce_created ON lti_nonce(created_at);
`

func splitSQL(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p+";")
		}
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
