package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mind-engage/mindengage-editor/pkg/platform/storage"
)

// SQLStore keeps entities in lti_entity (see storage.Up).
type SQLStore struct {
	db *storage.DB
}

func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db}
}

const selectEntity = `SELECT id, resource_link_id, custom_claim_id, edusharing_node_id, content, id_token_on_creation FROM lti_entity`

func (s *SQLStore) Get(ctx context.Context, id int64) (Entity, error) {
	return s.one(ctx, selectEntity+` WHERE id=$1`, id)
}

func (s *SQLStore) FindByCustomClaimID(ctx context.Context, cid string) (Entity, error) {
	return s.one(ctx, selectEntity+` WHERE custom_claim_id=$1 ORDER BY id LIMIT 1`, cid)
}

func (s *SQLStore) FindByRepositoryNodeID(ctx context.Context, nodeID string) (Entity, error) {
	return s.one(ctx, selectEntity+` WHERE edusharing_node_id=$1 ORDER BY id LIMIT 1`, nodeID)
}

func (s *SQLStore) one(ctx context.Context, q string, arg any) (Entity, error) {
	var (
		e             Entity
		rl, cid, node sql.NullString
	)
	err := s.db.SQL.QueryRowContext(ctx, q, arg).Scan(&e.ID, &rl, &cid, &node, &e.Content, &e.IDTokenOnCreation)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, fmt.Errorf("entity: select: %w", err)
	}
	e.ResourceLinkID, e.CustomClaimID, e.RepositoryNodeID = rl.String, cid.String, node.String
	return e, nil
}

func (s *SQLStore) Create(ctx context.Context, n New) (Entity, error) {
	var id int64
	err := s.db.SQL.QueryRowContext(ctx,
		`INSERT INTO lti_entity (resource_link_id, custom_claim_id, edusharing_node_id, content, id_token_on_creation)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		nullable(n.ResourceLinkID), nullable(n.CustomClaimID), nullable(n.RepositoryNodeID), n.Content, n.IDTokenOnCreation,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return Entity{}, ErrConflict
		}
		return Entity{}, fmt.Errorf("entity: insert: %w", err)
	}
	return Entity{
		ID:                id,
		ResourceLinkID:    n.ResourceLinkID,
		CustomClaimID:     n.CustomClaimID,
		RepositoryNodeID:  n.RepositoryNodeID,
		Content:           n.Content,
		IDTokenOnCreation: n.IDTokenOnCreation,
	}, nil
}

// SetResourceLinkID runs the conditional update and, when it matched nothing,
// the existence check in one transaction.
func (s *SQLStore) SetResourceLinkID(ctx context.Context, id int64, rl string) (bool, error) {
	var set bool
	err := storage.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE lti_entity SET resource_link_id=$1 WHERE id=$2 AND (resource_link_id IS NULL OR resource_link_id='')`, rl, id)
		if err != nil {
			return fmt.Errorf("entity: set resource link: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			set = true
			return nil
		}
		var one int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM lti_entity WHERE id=$1`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return set, err
}

func (s *SQLStore) SaveContent(ctx context.Context, id int64, content string) error {
	q := `UPDATE lti_entity SET content=$1, updated_at=now() WHERE id=$2`
	if s.db.Driver == "sqlite" {
		q = `UPDATE lti_entity SET content=$1, updated_at=strftime('%s','now') WHERE id=$2`
	}
	res, err := s.db.SQL.ExecContext(ctx, q, content, id)
	if err != nil {
		return fmt.Errorf("entity: save content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	// without extended result codes sqlite only reports SQLITE_CONSTRAINT
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
