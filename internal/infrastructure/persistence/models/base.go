package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel provides common persistence fields for all models.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate assigns a random UUID when none was set
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// GetID returns the primary key
func (m *BaseModel) GetID() uuid.UUID {
	return m.ID
}

// SoftDeleteModel extends BaseModel with a deleted_at column. Default GORM
// queries exclude rows whose deleted_at is set.
type SoftDeleteModel struct {
	BaseModel
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// IsDeleted reports whether the record is soft-deleted
func (m *SoftDeleteModel) IsDeleted() bool {
	return m.DeletedAt.Valid
}

// GetDeletedAt returns the deletion time, or nil for an active record
func (m *SoftDeleteModel) GetDeletedAt() *time.Time {
	if !m.DeletedAt.Valid {
		return nil
	}
	t := m.DeletedAt.Time
	return &t
}

// SetDeletedAt updates the in-memory deleted_at value. It does not persist.
func (m *SoftDeleteModel) SetDeletedAt(t *time.Time) {
	if t == nil {
		m.DeletedAt = gorm.DeletedAt{}
		return
	}
	m.DeletedAt = gorm.DeletedAt{Time: *t, Valid: true}
}

// remoteID dereferences a nullable remote id column
func remoteID(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// nullableID converts an empty remote id to NULL
func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
