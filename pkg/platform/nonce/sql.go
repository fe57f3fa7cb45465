// pkg/platform/nonce/sql.go
package nonce

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-editor/pkg/platform/storage"
)

// SQL stores records in lti_nonce (see storage.Up). TakeOnce is a single
// DELETE ... RETURNING statement, so exactly one concurrent caller gets the
// row on both sqlite (>= 3.35) and Postgres.
type SQL struct {
	db     *storage.DB
	expiry Expiry
	now    func() time.Time
}

// NewSQL returns a SQL-backed Store expiring records per e.
func NewSQL(db *storage.DB, e Expiry) *SQL {
	return &SQL{db: db, expiry: e, now: time.Now}
}

func (s *SQL) Put(ctx context.Context, rec Record) (string, error) {
	rec, err := prepare(rec, s.now())
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return "", fmt.Errorf("nonce: encode payload: %w", err)
	}
	_, err = s.db.SQL.ExecContext(ctx,
		`INSERT INTO lti_nonce (id, kind, payload, created_at) VALUES ($1,$2,$3,$4)`,
		rec.ID, string(rec.Kind), string(payload), rec.CreatedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("nonce: insert: %w", err)
	}
	return rec.ID, nil
}

func (s *SQL) TakeOnce(ctx context.Context, id string) (Record, error) {
	var (
		kind, payload string
		createdMs     int64
	)
	err := s.db.SQL.QueryRowContext(ctx,
		`DELETE FROM lti_nonce WHERE id = $1 RETURNING kind, payload, created_at`, id).
		Scan(&kind, &payload, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("nonce: take: %w", err)
	}
	rec := Record{ID: id, Kind: Kind(kind), CreatedAt: time.UnixMilli(createdMs)}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return Record{}, fmt.Errorf("nonce: decode payload: %w", err)
	}
	if s.expiry.expired(rec, s.now()) {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Purge deletes expired rows kind by kind. Rows of kinds the store does not
// know use the default lifetime.
func (s *SQL) Purge(ctx context.Context) (int64, error) {
	now := s.now()
	kinds := []Kind{KindLaunchState, KindEmbedSession, KindDeepLink}
	for k := range s.expiry.Kinds {
		if !slices.Contains(kinds, k) {
			kinds = append(kinds, k)
		}
	}
	var total int64
	known := make([]any, 0, len(kinds))
	marks := make([]string, 0, len(kinds))
	for _, k := range kinds {
		n, err := s.purge(ctx, now, s.expiry.TTL(k), `kind = $2`, string(k))
		if err != nil {
			return total, err
		}
		total += n
		known = append(known, string(k))
		marks = append(marks, fmt.Sprintf("$%d", len(known)+1))
	}
	n, err := s.purge(ctx, now, s.expiry.Default, `kind NOT IN (`+strings.Join(marks, ",")+`)`, known...)
	return total + n, err
}

// purge deletes rows older than ttl matching cond, whose placeholders start at $2.
func (s *SQL) purge(ctx context.Context, now time.Time, ttl time.Duration, cond string, args ...any) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}
	res, err := s.db.SQL.ExecContext(ctx,
		`DELETE FROM lti_nonce WHERE created_at < $1 AND `+cond,
		append([]any{now.Add(-ttl).UnixMilli()}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("nonce: purge: %w", err)
	}
	return res.RowsAffected()
}
