package persistence

import (
	"context"
	"fmt"

	"github.com/billsync/backend/internal/infrastructure/persistence/models"
)

// SchemaModels lists the models owned by billsync
func SchemaModels() []any {
	return []any{
		&models.CustomerModel{},
		&models.ProductModel{},
		&models.SubscriptionModel{},
	}
}

// AutoMigrate creates or updates the billsync tables from the models. It
// is meant for SQLite; PostgreSQL schemas are versioned by the migration
// package.
func (d *Database) AutoMigrate(ctx context.Context) error {
	if err := d.Conn(ctx).AutoMigrate(SchemaModels()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
