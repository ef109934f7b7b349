package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/billsync/backend/internal/domain/shared"
)

// Repository provides typed reads over a model. T is the model struct type,
// e.g. models.CustomerModel. Without scopes, reads use the default mode and
// skip soft-deleted rows.
type Repository[T any] struct {
	db *gorm.DB
}

// NewRepository creates a repository for T
func NewRepository[T any](db *gorm.DB) *Repository[T] {
	return &Repository[T]{db: db}
}

// FindByID loads one record by primary key. A missing record yields
// shared.ErrNotFound.
func (r *Repository[T]) FindByID(ctx context.Context, id uuid.UUID, scopes ...Scope) (*T, error) {
	var rec T
	err := Conn(ctx, r.db).Scopes(scopes...).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns every record matching scopes, oldest first
func (r *Repository[T]) List(ctx context.Context, scopes ...Scope) ([]T, error) {
	var out []T
	if err := Conn(ctx, r.db).Scopes(scopes...).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Count counts records matching scopes
func (r *Repository[T]) Count(ctx context.Context, scopes ...Scope) (int64, error) {
	var count int64
	var model T
	if err := Conn(ctx, r.db).Model(&model).Scopes(scopes...).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
