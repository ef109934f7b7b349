package persistence

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scope is a GORM query scope
type Scope = func(*gorm.DB) *gorm.DB

var deletedAtColumn = clause.Column{Table: clause.CurrentTable, Name: "deleted_at"}

// ActiveOnly selects rows that are not soft-deleted. This is the default for
// models embedding gorm.DeletedAt; it is spelled out for callers that need to
// state the mode explicitly.
func ActiveOnly(db *gorm.DB) *gorm.DB {
	return db.Unscoped().Where(clause.Eq{Column: deletedAtColumn, Value: nil})
}

// OnlyDeleted selects soft-deleted rows only
func OnlyDeleted(db *gorm.DB) *gorm.DB {
	return db.Unscoped().Where(clause.Neq{Column: deletedAtColumn, Value: nil})
}

// WithDeleted selects rows regardless of their deletion state
func WithDeleted(db *gorm.DB) *gorm.DB {
	return db.Unscoped()
}

// DeletionState returns the scope selecting rows whose deletion state equals
// deleted.
func DeletionState(deleted bool) Scope {
	if deleted {
		return OnlyDeleted
	}
	return ActiveOnly
}

// TableName resolves the table of a model through the GORM schema cache
func TableName(db *gorm.DB, model any) (string, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return "", fmt.Errorf("failed to parse model schema: %w", err)
	}
	return stmt.Schema.Table, nil
}

// HasColumn reports whether the model's schema has a column named column
func HasColumn(db *gorm.DB, model any, column string) (bool, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return false, fmt.Errorf("failed to parse model schema: %w", err)
	}
	return stmt.Schema.LookUpField(column) != nil, nil
}
