package catalog

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/mdm-catalog/internal/tenant"
	"github.com/upb/mdm-catalog/models"
	"github.com/upb/mdm-catalog/repositories"
	"github.com/upb/mdm-catalog/services"
	"go.uber.org/zap"
)

var errPkgVersionRequired = services.NewDomainError(services.ErrorTypeValidation, "package id and version are required", nil)

// CreateOrResolveApplication registers an upload. Without a Resolution it
// either creates a new application with its first version or, when the
// package is already used by an application the caller may use, returns a
// Decision and writes nothing. With a Resolution it carries out the chosen
// action.
func (s *Service) CreateOrResolveApplication(ctx context.Context, caller tenant.Caller, upload *ApplicationUpload) (result *CreateResult, err error) {
	defer func() { s.observe("create_application", err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	up := *upload
	up.Pkg = strings.TrimSpace(up.Pkg)
	up.Version = strings.TrimSpace(up.Version)
	if up.FilePath != "" {
		art, ingestErr := s.ingest(ctx, caller, up.FilePath, up.URL)
		if ingestErr != nil {
			return nil, ingestErr
		}
		// a Decision keeps the file for the follow-up call, a failure drops it
		defer func() {
			if err != nil {
				s.files.DeleteFile(art.Path)
			}
		}()
		up.Pkg, up.Version, up.URL, up.ApkHash = art.Pkg, art.Version, art.URL, art.Hash
		up.FilePath = ""
	}
	if up.Name == "" {
		up.Name = up.Pkg
	}

	if up.Resolution != nil {
		return s.applyResolution(ctx, caller, up)
	}
	if up.Pkg == "" || up.Version == "" {
		return nil, errPkgVersionRequired
	}
	return s.createOrDecide(ctx, caller, up)
}

func (s *Service) createOrDecide(ctx context.Context, caller tenant.Caller, up ApplicationUpload) (*CreateResult, error) {
	if err := s.guardDuplicate(ctx, up.Pkg, up.Version); err != nil {
		return nil, err
	}

	m, err := s.Resolve(ctx, caller, up.Pkg)
	if err != nil {
		return nil, err
	}

	if m.Outcome == OutcomeNotFound {
		return s.createApplication(ctx, caller, up)
	}

	// The pair may have been committed by a concurrent upload since the guard ran
	if err := s.guardDuplicate(ctx, up.Pkg, up.Version); err != nil {
		return nil, err
	}
	switch m.Outcome {
	case OutcomeForbidden:
		return nil, services.ErrTenantAccessViolation
	}

	versions, err := s.versions.ListByApplication(ctx, m.Application.ID)
	if err != nil {
		return nil, services.WrapInternal("failed to list versions", err)
	}
	sortNewestFirst(versions)

	choices := []Choice{ChoiceChangePackage}
	if m.Outcome == OutcomeUsableCommon {
		choices = append(choices, ChoiceCreateNew)
	}
	if authorizeWrite(caller, m.Application) == nil {
		choices = append(choices, ChoiceAddVersion)
	}

	s.logger.Info("upload matches an existing application, decision required",
		zap.String("tenant_id", caller.TenantID.String()),
		zap.String("package", up.Pkg),
		zap.String("application_id", m.Application.ID.String()),
		zap.Stringer("outcome", m.Outcome))

	up.Resolution = nil
	return &CreateResult{Decision: &Decision{
		Outcome:     m.Outcome,
		Application: m.Application,
		Versions:    versions,
		Pending:     up,
		Choices:     choices,
	}}, nil
}

func (s *Service) applyResolution(ctx context.Context, caller tenant.Caller, up ApplicationUpload) (*CreateResult, error) {
	res := *up.Resolution
	up.Resolution = nil

	switch res.Choice {
	case ChoiceChangePackage:
		pkg := strings.TrimSpace(res.Pkg)
		if pkg == "" || up.Version == "" {
			return nil, errPkgVersionRequired
		}
		up.Pkg = pkg
		return s.createOrDecide(ctx, caller, up)

	case ChoiceAddVersion:
		app, err := s.getApplication(ctx, res.ApplicationID)
		if err != nil {
			return nil, err
		}
		if err := authorizeWrite(caller, app); err != nil {
			return nil, err
		}
		if up.Pkg != "" && up.Pkg != app.Pkg {
			return nil, services.NewVersionPackageMismatchError(up.Pkg, app.Pkg)
		}
		if up.Version == "" {
			return nil, errPkgVersionRequired
		}
		v, err := s.insertVersion(ctx, caller, app, VersionUpload{Version: up.Version, URL: up.URL, ApkHash: up.ApkHash})
		if err != nil {
			return nil, err
		}
		return &CreateResult{Application: app, Version: v}, nil

	case ChoiceCreateNew:
		if up.Pkg == "" || up.Version == "" {
			return nil, errPkgVersionRequired
		}
		if err := s.guardDuplicate(ctx, up.Pkg, up.Version); err != nil {
			return nil, err
		}
		m, err := s.Resolve(ctx, caller, up.Pkg)
		if err != nil {
			return nil, err
		}
		if m.Outcome == OutcomeUsablePrivate {
			return nil, services.NewDuplicateApplicationError(up.Pkg, up.Version, caller.TenantID)
		}
		return s.createApplication(ctx, caller, up)
	}

	return nil, services.NewDomainError(services.ErrorTypeValidation, "unknown resolution choice", nil)
}

// createApplication inserts a private application with its first version.
// The duplicate guard runs again inside the transaction; a concurrent
// writer that slips past it is stopped by the unique constraints.
func (s *Service) createApplication(ctx context.Context, caller tenant.Caller, up ApplicationUpload) (*CreateResult, error) {
	result, err := services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) (*CreateResult, error) {
		if err := s.guardDuplicate(ctx, up.Pkg, up.Version); err != nil {
			return nil, err
		}

		app := models.NewApplication(caller.TenantID, up.Pkg, up.Name)
		if up.ShowIcon != nil {
			app.ShowIcon = *up.ShowIcon
		}
		app.System = up.System && caller.SuperAdmin
		if err := s.apps.Create(ctx, app); err != nil {
			return nil, err
		}

		v := models.NewApplicationVersion(app, up.Version, up.URL)
		v.ApkHash = up.ApkHash
		if err := s.versions.Create(ctx, v); err != nil {
			return nil, err
		}

		if err := s.apps.SetLatestVersion(ctx, app.ID, &v.ID); err != nil {
			return nil, err
		}
		app.LatestVersionID = &v.ID

		return &CreateResult{Application: app, Version: v}, nil
	})
	if err != nil {
		return nil, s.translateWriteError(ctx, err, up.Pkg, up.Version, caller.TenantID)
	}

	s.logger.Info("application created",
		zap.String("tenant_id", caller.TenantID.String()),
		zap.String("application_id", result.Application.ID.String()),
		zap.String("package", up.Pkg),
		zap.String("version", up.Version))
	s.audit("create_application", s.auditor.LogApplicationCreated(caller, result.Application))
	s.audit("create_application", s.auditor.LogVersionCreated(caller, result.Version))
	return result, nil
}

// CreateApplicationVersion adds a version to an existing application. An
// artifact whose package id differs from the application's is rejected.
func (s *Service) CreateApplicationVersion(ctx context.Context, caller tenant.Caller, appID uuid.UUID, upload *VersionUpload) (v *models.ApplicationVersion, err error) {
	defer func() { s.observe("create_version", err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	app, err := s.getApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if err := authorizeWrite(caller, app); err != nil {
		return nil, err
	}

	vu := *upload
	vu.Version = strings.TrimSpace(vu.Version)
	if vu.FilePath != "" {
		art, ingestErr := s.ingest(ctx, caller, vu.FilePath, vu.URL)
		if ingestErr != nil {
			return nil, ingestErr
		}
		defer func() {
			if err != nil {
				s.files.DeleteFile(art.Path)
			}
		}()
		if art.Pkg != app.Pkg {
			return nil, services.NewVersionPackageMismatchError(art.Pkg, app.Pkg)
		}
		vu.Version, vu.URL, vu.ApkHash = art.Version, art.URL, art.Hash
		vu.FilePath = ""
	}
	if vu.Version == "" {
		return nil, errPkgVersionRequired
	}

	return s.insertVersion(ctx, caller, app, vu)
}

// insertVersion is the ledger insert: duplicate guard, row, auto-update
// cascade, latest recalculation and configuration recheck in one transaction
func (s *Service) insertVersion(ctx context.Context, caller tenant.Caller, app *models.Application, vu VersionUpload) (*models.ApplicationVersion, error) {
	v, err := services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) (*models.ApplicationVersion, error) {
		if err := s.guardDuplicate(ctx, app.Pkg, vu.Version); err != nil {
			return nil, err
		}

		v := models.NewApplicationVersion(app, vu.Version, vu.URL)
		v.ApkHash = vu.ApkHash
		if err := s.versions.Create(ctx, v); err != nil {
			return nil, err
		}

		tenants, err := s.autoUpdate(ctx, app, v)
		if err != nil {
			return nil, err
		}
		if _, err := s.recalculateLatest(ctx, app.ID); err != nil {
			return nil, err
		}
		if err := s.recheck(ctx, tenants); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return nil, s.translateWriteError(ctx, err, app.Pkg, vu.Version, app.TenantID)
	}

	s.logger.Info("application version created",
		zap.String("tenant_id", caller.TenantID.String()),
		zap.String("application_id", app.ID.String()),
		zap.String("version_id", v.ID.String()),
		zap.String("version", v.Version))
	s.audit("create_version", s.auditor.LogVersionCreated(caller, v))
	return v, nil
}

// UpdateApplication edits name, icon flag, package id and, for super-admins,
// the system flag. A new package id must be free in the application's scope
// and must not collide with an existing (package, version) pair.
func (s *Service) UpdateApplication(ctx context.Context, caller tenant.Caller, upd *ApplicationUpdate) (app *models.Application, err error) {
	defer func() { s.observe("update_application", err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if upd.System != nil && !caller.SuperAdmin {
		return nil, services.ErrSuperAdminRequired
	}

	newPkg := strings.TrimSpace(upd.Pkg)
	changes := map[string]interface{}{}

	app, err = services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) (*models.Application, error) {
		app, err := s.getApplication(ctx, upd.ID)
		if err != nil {
			return nil, err
		}
		if err := authorizeWrite(caller, app); err != nil {
			return nil, err
		}

		if newPkg != "" && newPkg != app.Pkg {
			if err := s.guardPackageChange(ctx, app, newPkg); err != nil {
				return nil, err
			}
			changes["pkg"] = newPkg
			app.Pkg = newPkg
		}
		if upd.Name != "" && upd.Name != app.Name {
			changes["name"] = upd.Name
			app.Name = upd.Name
		}
		if upd.ShowIcon != app.ShowIcon {
			changes["show_icon"] = upd.ShowIcon
			app.ShowIcon = upd.ShowIcon
		}
		if upd.System != nil && *upd.System != app.System {
			changes["system"] = *upd.System
			app.System = *upd.System
		}

		app.UpdatedAt = time.Now()
		if err := s.apps.Update(ctx, app); err != nil {
			return nil, err
		}
		if err := s.versions.SyncApplicationFields(ctx, app); err != nil {
			return nil, err
		}
		return app, nil
	})
	if err != nil {
		return nil, s.translateWriteError(ctx, err, newPkg, "", caller.TenantID)
	}

	s.audit("update_application", s.auditor.LogApplicationUpdated(caller, app, changes))
	return app, nil
}

// guardPackageChange checks that app may take pkg
func (s *Service) guardPackageChange(ctx context.Context, app *models.Application, pkg string) error {
	others, err := s.apps.FindByPkg(ctx, pkg)
	if err != nil {
		return services.WrapInternal("failed to look up applications", err)
	}
	for _, other := range others {
		if other.ID == app.ID {
			continue
		}
		sameScope := (app.Common && other.Common) || (!app.Common && !other.Common && other.TenantID == app.TenantID)
		if sameScope {
			return services.NewDuplicateApplicationError(pkg, "", other.TenantID)
		}
	}

	versions, err := s.versions.ListByApplication(ctx, app.ID)
	if err != nil {
		return services.WrapInternal("failed to list versions", err)
	}
	for _, v := range versions {
		if err := s.guardDuplicate(ctx, pkg, v.Version); err != nil {
			return err
		}
	}
	return nil
}

// UpdateApplicationVersion edits the label and URL of a version. A label
// already used by another version of the package is rejected.
func (s *Service) UpdateApplicationVersion(ctx context.Context, caller tenant.Caller, upd *VersionUpdate) (v *models.ApplicationVersion, err error) {
	defer func() { s.observe("update_version", err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if upd.DeletionProhibited != nil && !caller.SuperAdmin {
		return nil, services.ErrSuperAdminRequired
	}

	label := strings.TrimSpace(upd.Version)
	var pkg string
	v, err = services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) (*models.ApplicationVersion, error) {
		v, err := s.getVersion(ctx, upd.ID)
		if err != nil {
			return nil, err
		}
		app, err := s.getApplication(ctx, v.ApplicationID)
		if err != nil {
			return nil, err
		}
		if err := authorizeWrite(caller, app); err != nil {
			return nil, err
		}
		pkg = app.Pkg

		if label != "" && label != v.Version {
			existing, err := s.findVersion(ctx, app.Pkg, label)
			if err != nil {
				return nil, err
			}
			if existing != nil && existing.ID != v.ID {
				owner, err := s.getApplication(ctx, existing.ApplicationID)
				if err != nil {
					return nil, err
				}
				return nil, services.NewDuplicateApplicationError(app.Pkg, label, owner.TenantID)
			}
			v.Version = label
		}
		if upd.URL != "" {
			v.URL = upd.URL
		}
		if upd.DeletionProhibited != nil {
			v.DeletionProhibited = *upd.DeletionProhibited
		}

		if err := s.versions.Update(ctx, v); err != nil {
			return nil, err
		}
		if _, err := s.recalculateLatest(ctx, app.ID); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return nil, s.translateWriteError(ctx, err, pkg, label, caller.TenantID)
	}

	s.audit("update_version", s.auditor.LogVersionUpdated(caller, v))
	return v, nil
}

// DeleteApplicationVersion removes an unreferenced version. Checks run in
// order: existence, deletion flag, common ownership, tenant ownership and
// live references. The artifact file is removed after commit, best effort.
func (s *Service) DeleteApplicationVersion(ctx context.Context, caller tenant.Caller, versionID uuid.UUID) (err error) {
	defer func() { s.observe("delete_version", err) }()

	if err := requireCaller(caller); err != nil {
		return err
	}

	type deleted struct {
		version *models.ApplicationVersion
		app     *models.Application
	}
	d, err := services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) (*deleted, error) {
		v, err := s.getVersion(ctx, versionID)
		if err != nil {
			return nil, err
		}
		if v.DeletionProhibited {
			return nil, services.ErrDeletionProhibited
		}
		app, err := s.getApplication(ctx, v.ApplicationID)
		if err != nil {
			return nil, err
		}
		if err := authorizeWrite(caller, app); err != nil {
			return nil, err
		}

		refs, err := s.links.CountVersionReferences(ctx, v.ID)
		if err != nil {
			return nil, services.WrapInternal("failed to count references", err)
		}
		if refs > 0 {
			return nil, services.NewReferenceExistsError(v.ID, "configurations")
		}

		if err := s.versions.Delete(ctx, v.ID); err != nil {
			return nil, err
		}
		if _, err := s.recalculateLatest(ctx, app.ID); err != nil {
			return nil, err
		}
		return &deleted{version: v, app: app}, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("application version deleted",
		zap.String("tenant_id", caller.TenantID.String()),
		zap.String("application_id", d.app.ID.String()),
		zap.String("version_id", d.version.ID.String()))

	if owner, err := s.getTenant(ctx, d.app.TenantID); err == nil {
		s.deleteArtifact(owner, d.version)
	} else {
		s.logger.Warn("could not resolve artifact owner", zap.String("version_id", d.version.ID.String()), zap.Error(err))
	}
	s.audit("delete_version", s.auditor.LogVersionDeleted(caller, d.version))
	return nil
}

// DeleteApplication removes an unreferenced application with all its
// versions. System applications and applications with a protected version
// need a super-admin.
func (s *Service) DeleteApplication(ctx context.Context, caller tenant.Caller, appID uuid.UUID) (err error) {
	defer func() { s.observe("delete_application", err) }()

	if err := requireCaller(caller); err != nil {
		return err
	}

	type deleted struct {
		app      *models.Application
		versions []*models.ApplicationVersion
	}
	d, err := services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) (*deleted, error) {
		app, err := s.getApplication(ctx, appID)
		if err != nil {
			return nil, err
		}
		if err := authorizeWrite(caller, app); err != nil {
			return nil, err
		}
		if app.System && !caller.SuperAdmin {
			return nil, services.ErrSystemApplication
		}

		refs, err := s.links.CountApplicationReferences(ctx, app.ID)
		if err != nil {
			return nil, services.WrapInternal("failed to count references", err)
		}
		if refs > 0 {
			return nil, services.NewReferenceExistsError(app.ID, "configurations")
		}

		versions, err := s.versions.ListByApplication(ctx, app.ID)
		if err != nil {
			return nil, services.WrapInternal("failed to list versions", err)
		}
		for _, v := range versions {
			if v.DeletionProhibited && !caller.SuperAdmin {
				return nil, services.ErrDeletionProhibited
			}
		}

		if err := s.apps.Delete(ctx, app.ID); err != nil {
			return nil, err
		}
		return &deleted{app: app, versions: versions}, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("application deleted",
		zap.String("tenant_id", caller.TenantID.String()),
		zap.String("application_id", d.app.ID.String()),
		zap.Int("versions", len(d.versions)))

	if owner, err := s.getTenant(ctx, d.app.TenantID); err == nil {
		for _, v := range d.versions {
			s.deleteArtifact(owner, v)
		}
	}
	s.audit("delete_application", s.auditor.LogApplicationDeleted(caller, d.app))
	return nil
}

// RecalculateLatestVersion recomputes the latest version of an application
// from its surviving versions. Calling it twice yields the same result.
func (s *Service) RecalculateLatestVersion(ctx context.Context, appID uuid.UUID) (*models.ApplicationVersion, error) {
	return services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) (*models.ApplicationVersion, error) {
		if _, err := s.getApplication(ctx, appID); err != nil {
			return nil, err
		}
		return s.recalculateLatest(ctx, appID)
	})
}

func (s *Service) recalculateLatest(ctx context.Context, appID uuid.UUID) (*models.ApplicationVersion, error) {
	versions, err := s.versions.ListByApplication(ctx, appID)
	if err != nil {
		return nil, services.WrapInternal("failed to list versions", err)
	}

	latest := pickLatest(versions)
	var latestID *uuid.UUID
	if latest != nil {
		latestID = &latest.ID
	}
	if err := s.apps.SetLatestVersion(ctx, appID, latestID); err != nil {
		return nil, services.WrapInternal("failed to set latest version", err)
	}
	return latest, nil
}

// ListApplications returns the caller's applications and all common ones
func (s *Service) ListApplications(ctx context.Context, caller tenant.Caller) ([]*models.Application, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	apps, err := s.apps.ListVisible(ctx, caller.TenantID)
	if err != nil {
		return nil, services.WrapInternal("failed to list applications", err)
	}
	return apps, nil
}

// GetApplicationVersions returns the versions of a visible application, newest first
func (s *Service) GetApplicationVersions(ctx context.Context, caller tenant.Caller, appID uuid.UUID) ([]*models.ApplicationVersion, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	app, err := s.getApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if err := authorizeRead(caller, app); err != nil {
		return nil, err
	}

	versions, err := s.versions.ListByApplication(ctx, appID)
	if err != nil {
		return nil, services.WrapInternal("failed to list versions", err)
	}
	sortNewestFirst(versions)
	return versions, nil
}

func sortNewestFirst(versions []*models.ApplicationVersion) {
	sort.SliceStable(versions, func(i, j int) bool {
		return newer(versions[i], versions[j])
	})
}
