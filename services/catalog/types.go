package catalog

import (
	"github.com/google/uuid"
	"github.com/upb/mdm-catalog/models"
)

// ApplicationUpload is a request to register an uploaded package. Pkg and
// Version are taken from the artifact when FilePath is set. A nil ShowIcon
// means true; System is honoured for super-admins only.
type ApplicationUpload struct {
	Pkg      string
	Name     string
	Version  string
	URL      string
	FilePath string
	ApkHash  string
	ShowIcon *bool
	System   bool

	// Resolution answers a previous Decision; nil on the first call
	Resolution *Resolution
}

// Choice is the caller's answer to a duplicate-resolution decision
type Choice int

const (
	// ChoiceCreateNew creates an independent private application anyway
	ChoiceCreateNew Choice = iota + 1
	// ChoiceChangePackage retries with Resolution.Pkg as the package id
	ChoiceChangePackage
	// ChoiceAddVersion registers the upload as a version of the matched application
	ChoiceAddVersion
)

func (c Choice) String() string {
	switch c {
	case ChoiceCreateNew:
		return "create_new"
	case ChoiceChangePackage:
		return "change_package"
	case ChoiceAddVersion:
		return "add_version"
	default:
		return "unknown"
	}
}

// ParseChoice maps the wire name of a choice back to it
func ParseChoice(s string) (Choice, bool) {
	for _, c := range []Choice{ChoiceCreateNew, ChoiceChangePackage, ChoiceAddVersion} {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// Resolution is a discriminated follow-up input
type Resolution struct {
	Choice Choice

	// ApplicationID is the matched application for ChoiceAddVersion
	ApplicationID uuid.UUID

	// Pkg is the replacement package id for ChoiceChangePackage
	Pkg string
}

// Decision is returned instead of a write when the upload matches an
// application the caller may use. Nothing has been persisted.
type Decision struct {
	Outcome     Outcome
	Application *models.Application
	Versions    []*models.ApplicationVersion
	Pending     ApplicationUpload
	Choices     []Choice
}

// CreateResult is either a created application with its first version, a
// created version of an existing application, or a Decision
type CreateResult struct {
	Application *models.Application
	Version     *models.ApplicationVersion
	Decision    *Decision
}

// VersionUpload adds a version to a known application
type VersionUpload struct {
	Version  string
	URL      string
	FilePath string
	ApkHash  string
}

// ApplicationUpdate edits an application. System is honoured for super-admins only.
type ApplicationUpdate struct {
	ID       uuid.UUID
	Name     string
	Pkg      string
	ShowIcon bool
	System   *bool
}

// VersionUpdate edits a version. DeletionProhibited is honoured for
// super-admins only.
type VersionUpdate struct {
	ID                 uuid.UUID
	Version            string
	URL                string
	DeletionProhibited *bool
}

// ApplicationLinkChange is the desired app-level link of one configuration.
// A nil VersionID means the application's latest version.
type ApplicationLinkChange struct {
	ConfigurationID uuid.UUID
	Action          models.LinkAction
	VersionID       *uuid.UUID
	AutoUpdate      bool
}

// VersionLinkChange is the desired version-level link of one configuration
type VersionLinkChange struct {
	ConfigurationID uuid.UUID
	Action          models.LinkAction
}
