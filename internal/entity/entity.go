package entity

import (
	"context"
	"errors"
)

// Entity is one editor document and the ids that tie it to LTI launches.
// Empty strings mean "unset".
type Entity struct {
	ID                int64  `json:"id"`
	ResourceLinkID    string `json:"resource_link_id,omitempty"`
	CustomClaimID     string `json:"customClaimId,omitempty"`
	RepositoryNodeID  string `json:"-"`
	Content           string `json:"content"`
	IDTokenOnCreation string `json:"-"`
}

// New describes an entity to create.
type New struct {
	ResourceLinkID    string
	CustomClaimID     string
	RepositoryNodeID  string
	Content           string
	IDTokenOnCreation string
}

var (
	ErrNotFound = errors.New("entity not found")
	// ErrConflict is returned by Create when a custom claim id or node id is taken.
	ErrConflict = errors.New("entity already exists")
)

// InitialContent is the document a freshly created entity starts with.
const InitialContent = `{"plugin":"rows","state":[{"plugin":"text","state":[]}]}`

// Store persists entities.
type Store interface {
	Get(ctx context.Context, id int64) (Entity, error)
	FindByCustomClaimID(ctx context.Context, customClaimID string) (Entity, error)
	FindByRepositoryNodeID(ctx context.Context, nodeID string) (Entity, error)
	Create(ctx context.Context, n New) (Entity, error)
	// SetResourceLinkID records rl only when the entity has none yet and
	// reports whether it did.
	SetResourceLinkID(ctx context.Context, id int64, rl string) (bool, error)
	SaveContent(ctx context.Context, id int64, content string) error
}

// FindOrCreateByRepositoryNodeID returns the entity for a repository node,
// creating it with n when absent. A concurrent creator winning the race is
// resolved by a second lookup.
func FindOrCreateByRepositoryNodeID(ctx context.Context, s Store, n New) (Entity, bool, error) {
	e, err := s.FindByRepositoryNodeID(ctx, n.RepositoryNodeID)
	if err == nil {
		return e, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Entity{}, false, err
	}
	e, err = s.Create(ctx, n)
	if errors.Is(err, ErrConflict) {
		e, err = s.FindByRepositoryNodeID(ctx, n.RepositoryNodeID)
		return e, false, err
	}
	if err != nil {
		return Entity{}, false, err
	}
	return e, true, nil
}

// LocalFixtureCustomClaimID is seeded in local mode so a developer platform
// can launch without deep linking first.
const LocalFixtureCustomClaimID = "00000000-0000-0000-0000-000000000000"

// SeedLocalFixture makes sure the local fixture entity exists.
func SeedLocalFixture(ctx context.Context, s Store) (Entity, error) {
	e, err := s.FindByCustomClaimID(ctx, LocalFixtureCustomClaimID)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Entity{}, err
	}
	e, err = s.Create(ctx, New{CustomClaimID: LocalFixtureCustomClaimID, Content: InitialContent, IDTokenOnCreation: "{}"})
	if errors.Is(err, ErrConflict) {
		return s.FindByCustomClaimID(ctx, LocalFixtureCustomClaimID)
	}
	return e, err
}
