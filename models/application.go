package models

import (
	"time"

	"github.com/google/uuid"
)

// Application is an installable software package known to the catalog.
// It is the aggregate root of its versions.
type Application struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	TenantID        uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Pkg             string     `json:"pkg" db:"pkg"`
	Name            string     `json:"name" db:"name"`
	ShowIcon        bool       `json:"show_icon" db:"show_icon"`
	Common          bool       `json:"common" db:"common"`
	System          bool       `json:"system" db:"system"`
	LatestVersionID *uuid.UUID `json:"latest_version_id,omitempty" db:"latest_version_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Application model
func (Application) TableName() string {
	return "applications"
}

// NewApplication creates a new private Application owned by tenantID
func NewApplication(tenantID uuid.UUID, pkg, name string) *Application {
	now := time.Now()
	return &Application{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Pkg:       pkg,
		Name:      name,
		ShowIcon:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// VisibleTo reports whether the application can be used by the given tenant.
func (a *Application) VisibleTo(tenantID uuid.UUID) bool {
	return a.Common || a.TenantID == tenantID
}

// ApplicationVersion is a single installable build of an Application.
// Pkg, Common and System are denormalized from the parent application.
type ApplicationVersion struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	ApplicationID      uuid.UUID `json:"application_id" db:"application_id"`
	Pkg                string    `json:"-" db:"pkg"`
	Version            string    `json:"version" db:"version"`
	URL                string    `json:"url" db:"url"`
	ApkHash            string    `json:"apk_hash,omitempty" db:"apk_hash"`
	DeletionProhibited bool      `json:"deletion_prohibited" db:"deletion_prohibited"`
	Common             bool      `json:"common" db:"common"`
	System             bool      `json:"system" db:"system"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the ApplicationVersion model
func (ApplicationVersion) TableName() string {
	return "application_versions"
}

// NewApplicationVersion creates a version of app, inheriting its flags
func NewApplicationVersion(app *Application, version, url string) *ApplicationVersion {
	return &ApplicationVersion{
		ID:            uuid.New(),
		ApplicationID: app.ID,
		Pkg:           app.Pkg,
		Version:       version,
		URL:           url,
		Common:        app.Common,
		System:        app.System,
		CreatedAt:     time.Now(),
	}
}
