package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolation boundary of the platform. Every private
// application, configuration and uploaded file belongs to exactly one tenant.
type Tenant struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	FilesDir  string    `json:"files_dir" db:"files_dir"` // Directory of the tenant inside the files area
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// NewTenant creates a new Tenant instance
func NewTenant(name, filesDir string) *Tenant {
	now := time.Now()
	return &Tenant{
		ID:        uuid.New(),
		Name:      name,
		FilesDir:  filesDir,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
