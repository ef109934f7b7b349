package cascade

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/billsync/backend/internal/infrastructure/persistence"
)

// Cardinality is the number of dependents a relation can hold
type Cardinality int

const (
	One Cardinality = iota
	Many
)

// String returns the string representation of Cardinality
func (c Cardinality) String() string {
	if c == One {
		return "one"
	}
	return "many"
}

// Query describes one dependent lookup. DB is bound to the cascade
// transaction and is not scoped by deletion state; Deleted is the state the
// dependents must currently be in.
type Query struct {
	DB         *gorm.DB
	Owner      Record
	OwnerTable string
	Deleted    bool
}

// LoadFunc returns the dependents of q.Owner that are in state q.Deleted
type LoadFunc func(ctx context.Context, q Query) ([]Record, error)

// Relation is a cascades-on-destroy relation of an entity type.
type Relation struct {
	Name        string
	Cardinality Cardinality
	Load        LoadFunc
}

// recordPtr is satisfied by *D when *D implements Record
type recordPtr[D any] interface {
	*D
	Record
}

// HasMany declares a collection of D rows whose foreignKey column holds the
// owner's id.
//
//	cascade.HasMany[BlogComment]("comments", "blog_post_id")
func HasMany[D any, P recordPtr[D]](name, foreignKey string) Relation {
	return Relation{
		Name:        name,
		Cardinality: Many,
		Load: func(ctx context.Context, q Query) ([]Record, error) {
			var rows []D
			err := q.DB.Scopes(persistence.DeletionState(q.Deleted)).
				Where(fmt.Sprintf("%s = ?", foreignKey), q.Owner.GetID()).
				Order("created_at ASC").
				Find(&rows).Error
			if err != nil {
				return nil, fmt.Errorf("cascade: failed to load %s: %w", name, err)
			}
			return toRecords[D, P](rows), nil
		},
	}
}

// HasManyAs declares a polymorphic collection of D rows. The dependent table
// stores the owner's table in <as>_type and its id in <as>_id.
//
//	cascade.HasManyAs[SubscriptionModel]("subscriptions", "subscriber")
func HasManyAs[D any, P recordPtr[D]](name, as string) Relation {
	return Relation{
		Name:        name,
		Cardinality: Many,
		Load: func(ctx context.Context, q Query) ([]Record, error) {
			var rows []D
			err := q.DB.Scopes(persistence.DeletionState(q.Deleted)).
				Where(fmt.Sprintf("%s_type = ? AND %s_id = ?", as, as), q.OwnerTable, q.Owner.GetID()).
				Order("created_at ASC").
				Find(&rows).Error
			if err != nil {
				return nil, fmt.Errorf("cascade: failed to load %s: %w", name, err)
			}
			return toRecords[D, P](rows), nil
		},
	}
}

// HasOne declares a single D row whose foreignKey column holds the owner's
// id. The dependent is always resolved by querying D directly, so a
// dependent that fell out of the default scope is still found.
func HasOne[D any, P recordPtr[D]](name, foreignKey string) Relation {
	return Relation{
		Name:        name,
		Cardinality: One,
		Load: func(ctx context.Context, q Query) ([]Record, error) {
			var rows []D
			err := q.DB.Scopes(persistence.DeletionState(q.Deleted)).
				Where(fmt.Sprintf("%s = ?", foreignKey), q.Owner.GetID()).
				Limit(1).
				Find(&rows).Error
			if err != nil {
				return nil, fmt.Errorf("cascade: failed to load %s: %w", name, err)
			}
			return toRecords[D, P](rows), nil
		},
	}
}

func toRecords[D any, P recordPtr[D]](rows []D) []Record {
	out := make([]Record, len(rows))
	for i := range rows {
		out[i] = P(&rows[i])
	}
	return out
}
