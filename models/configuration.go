package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Configuration is a tenant's device configuration. Only the fields the
// catalog keeps consistent are modelled here.
type Configuration struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	TenantID             uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Name                 string     `json:"name" db:"name"`
	MainAppVersionID     *uuid.UUID `json:"main_app_version_id,omitempty" db:"main_app_version_id"`
	ContentAppVersionID  *uuid.UUID `json:"content_app_version_id,omitempty" db:"content_app_version_id"`
	KioskMode            bool       `json:"kiosk_mode" db:"kiosk_mode"`
	AutoUpdateMainApp    bool       `json:"auto_update_main_app" db:"auto_update_main_app"`
	AutoUpdateContentApp bool       `json:"auto_update_content_app" db:"auto_update_content_app"`
	MainAppValid         bool       `json:"main_app_valid" db:"main_app_valid"`
	ContentAppValid      bool       `json:"content_app_valid" db:"content_app_valid"`
	KioskAppValid        bool       `json:"kiosk_app_valid" db:"kiosk_app_valid"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Configuration model
func (Configuration) TableName() string {
	return "configurations"
}

// LinkAction is the action a configuration applies to a linked application.
type LinkAction int

const (
	// LinkActionRemove drops the link
	LinkActionRemove LinkAction = 0
	// LinkActionInstall installs the application on devices
	LinkActionInstall LinkAction = 1
	// LinkActionUninstall prohibits the application and removes it from devices
	LinkActionUninstall LinkAction = 2
	// LinkActionPermit allows the application without installing it
	LinkActionPermit LinkAction = 3
)

// Valid reports whether the action belongs to the enumeration
func (a LinkAction) Valid() bool {
	return a >= LinkActionRemove && a <= LinkActionPermit
}

func (a LinkAction) String() string {
	switch a {
	case LinkActionRemove:
		return "remove"
	case LinkActionInstall:
		return "install"
	case LinkActionUninstall:
		return "uninstall"
	case LinkActionPermit:
		return "permit"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ApplicationConfigurationLink binds a configuration to an application.
// There is at most one per (configuration, application) pair.
type ApplicationConfigurationLink struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	ConfigurationID      uuid.UUID  `json:"configuration_id" db:"configuration_id"`
	ApplicationID        uuid.UUID  `json:"application_id" db:"application_id"`
	ApplicationVersionID *uuid.UUID `json:"application_version_id,omitempty" db:"application_version_id"`
	Action               LinkAction `json:"action" db:"action"`
	AutoUpdate           bool       `json:"auto_update" db:"auto_update"`

	// Read-only, filled by list queries
	ConfigurationName string `json:"configuration_name,omitempty" db:"-"`
}

// TableName returns the table name for the ApplicationConfigurationLink model
func (ApplicationConfigurationLink) TableName() string {
	return "configuration_applications"
}

// ApplicationVersionConfigurationLink binds a configuration to one specific
// version of an application.
type ApplicationVersionConfigurationLink struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	ConfigurationID      uuid.UUID  `json:"configuration_id" db:"configuration_id"`
	ApplicationID        uuid.UUID  `json:"application_id" db:"application_id"`
	ApplicationVersionID uuid.UUID  `json:"application_version_id" db:"application_version_id"`
	Action               LinkAction `json:"action" db:"action"`

	ConfigurationName string `json:"configuration_name,omitempty" db:"-"`
}

// TableName returns the table name for the ApplicationVersionConfigurationLink model
func (ApplicationVersionConfigurationLink) TableName() string {
	return "configuration_application_versions"
}
