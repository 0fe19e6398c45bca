// Package store defines the record persistence abstraction and its SQLite
// implementation.
package store

import (
	"context"
	"time"

	"github.com/starford/raido/internal/models"
)

// Filter is a sparse set of predicates combined with logical AND. The Search
// clause is itself an OR across name, email and company (case-insensitive
// substring match).
type Filter struct {
	Type           models.EntityType
	Stage          string
	Source         string
	AssignedTo     string
	MinAmount      *float64
	MaxAmount      *float64
	MinProbability *int
	Search         string
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	// Identity, when set, adds the disjunctive duplicate predicate.
	Identity *Identity
}

// Identity matches records colliding on identity fields: email OR phone OR
// (name AND company). Empty legs are skipped. ExcludeID removes the candidate
// itself from the result, for self-comparison during updates.
type Identity struct {
	Email     string
	Phone     string
	Name      string
	Company   string
	ExcludeID string
}

// Sort fields accepted by List queries.
const (
	SortCreatedAt   = "created_at"
	SortUpdatedAt   = "updated_at"
	SortName        = "name"
	SortAmount      = "amount"
	SortProbability = "probability"
	SortStage       = "stage"
)

// Sort describes result ordering. The zero value means created_at descending.
type Sort struct {
	Field string
	Asc   bool
}

// Store is the persistence contract the services depend on. Implementations
// must be safe for concurrent use.
type Store interface {
	Find(ctx context.Context, f Filter, s Sort, skip, limit int) ([]models.Record, error)
	Count(ctx context.Context, f Filter) (int, error)
	FindByID(ctx context.Context, typ models.EntityType, id string) (*models.Record, error)
	Insert(ctx context.Context, rec *models.Record) error
	// UpdateByID replaces the stored document and returns the stored copy,
	// or apperr.ErrNotFound if the ID does not resolve.
	UpdateByID(ctx context.Context, id string, rec *models.Record) (*models.Record, error)
	DeleteByID(ctx context.Context, typ models.EntityType, id string) (bool, error)
	DeleteMany(ctx context.Context, typ models.EntityType, ids []string) (int, error)
	Close() error
}
