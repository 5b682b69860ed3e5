package statestore

import (
	"context"
	"errors"

	"github.com/keystone-build/reconcile-cli/internal/model"
)

// ErrUnavailable marks a connectivity or query failure against the state
// store. Transient and retryable by the caller; never folded into the
// new-entity case, which is signalled by a nil record instead.
var ErrUnavailable = errors.New("state store unavailable")

// EntityRecord is one entity together with its linked vendor, as persisted.
type EntityRecord struct {
	State  model.EntityState
	Vendor *model.Vendor
}

// Store is the narrow read/write interface onto the persisted asset state.
// Query semantics behind it (graph traversal, relational join) are an
// implementation detail of the adapter.
type Store interface {
	// GetEntity returns the entity and its vendor context, or (nil, nil)
	// when the entity genuinely does not exist.
	GetEntity(ctx context.Context, id string) (*EntityRecord, error)

	// UpsertEntity inserts or replaces the persisted attributes of an entity.
	UpsertEntity(ctx context.Context, state model.EntityState) error

	Migrate(ctx context.Context) error
	Close() error
}
