package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/mdm-catalog/internal/tenant"
	"github.com/upb/mdm-catalog/models"
	"github.com/upb/mdm-catalog/repositories"
	"github.com/upb/mdm-catalog/services"
	"go.uber.org/zap"
)

// UpdateApplicationLinks applies the desired app-level links of an
// application for the caller's configurations. Action remove drops the link,
// any other action creates or replaces it. A link without a version is bound
// to the application's latest version.
func (s *Service) UpdateApplicationLinks(ctx context.Context, caller tenant.Caller, appID uuid.UUID, changes []ApplicationLinkChange) (err error) {
	defer func() { s.observe("update_application_links", err) }()

	if err := requireCaller(caller); err != nil {
		return err
	}
	for _, c := range changes {
		if !c.Action.Valid() {
			return services.ErrInvalidLinkAction
		}
	}

	err = services.WithTransaction(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) error {
		app, err := s.getApplication(ctx, appID)
		if err != nil {
			return err
		}
		if err := authorizeRead(caller, app); err != nil {
			return err
		}

		for _, c := range changes {
			if err := s.requireOwnConfiguration(ctx, caller, c.ConfigurationID); err != nil {
				return err
			}

			if c.Action == models.LinkActionRemove {
				if err := s.links.DeleteApplicationLink(ctx, c.ConfigurationID, app.ID); err != nil {
					return services.WrapInternal("failed to delete link", err)
				}
				continue
			}

			versionID := c.VersionID
			if versionID == nil {
				versionID = app.LatestVersionID
			} else if err := s.requireVersionOf(ctx, app, *versionID); err != nil {
				return err
			}

			link := &models.ApplicationConfigurationLink{
				ID:                   uuid.New(),
				ConfigurationID:      c.ConfigurationID,
				ApplicationID:        app.ID,
				ApplicationVersionID: versionID,
				Action:               c.Action,
				AutoUpdate:           c.AutoUpdate,
			}
			if err := s.links.UpsertApplicationLink(ctx, link); err != nil {
				return services.WrapInternal("failed to save link", err)
			}
		}

		return s.recheck(ctx, []uuid.UUID{caller.TenantID})
	})
	if err != nil {
		return err
	}

	s.audit("update_application_links", s.auditor.LogLinksUpdated(caller, "application", appID, len(changes)))
	return nil
}

// UpdateVersionLinks replaces the version-level links of the caller's
// configurations for one version. Installing the version turns install links
// on its siblings into uninstall links for the same configuration.
func (s *Service) UpdateVersionLinks(ctx context.Context, caller tenant.Caller, versionID uuid.UUID, changes []VersionLinkChange) (err error) {
	defer func() { s.observe("update_version_links", err) }()

	if err := requireCaller(caller); err != nil {
		return err
	}
	for _, c := range changes {
		if !c.Action.Valid() {
			return services.ErrInvalidLinkAction
		}
	}

	err = services.WithTransaction(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) error {
		v, err := s.getVersion(ctx, versionID)
		if err != nil {
			return err
		}
		app, err := s.getApplication(ctx, v.ApplicationID)
		if err != nil {
			return err
		}
		if err := authorizeRead(caller, app); err != nil {
			return err
		}

		removed, err := s.links.DeleteVersionLinks(ctx, v.ID, caller.TenantID)
		if err != nil {
			return services.WrapInternal("failed to delete version links", err)
		}

		uninstalled := int64(0)
		for _, c := range changes {
			if c.Action == models.LinkActionRemove {
				continue
			}
			if err := s.requireOwnConfiguration(ctx, caller, c.ConfigurationID); err != nil {
				return err
			}

			if c.Action == models.LinkActionInstall {
				n, err := s.links.UninstallOtherVersions(ctx, c.ConfigurationID, app.ID, v.ID)
				if err != nil {
					return services.WrapInternal("failed to uninstall sibling versions", err)
				}
				uninstalled += n
			}

			link := &models.ApplicationVersionConfigurationLink{
				ID:                   uuid.New(),
				ConfigurationID:      c.ConfigurationID,
				ApplicationID:        app.ID,
				ApplicationVersionID: v.ID,
				Action:               c.Action,
			}
			if err := s.links.InsertVersionLink(ctx, link); err != nil {
				return services.WrapInternal("failed to save version link", err)
			}
		}

		s.logger.Debug("version links replaced",
			zap.String("tenant_id", caller.TenantID.String()),
			zap.String("version_id", v.ID.String()),
			zap.Int64("removed", removed),
			zap.Int64("uninstalled_siblings", uninstalled))

		return s.recheck(ctx, []uuid.UUID{caller.TenantID})
	})
	if err != nil {
		return err
	}

	s.audit("update_version_links", s.auditor.LogLinksUpdated(caller, "application_version", versionID, len(changes)))
	return nil
}

// GetApplicationLinks returns the app-level links of the caller's configurations
func (s *Service) GetApplicationLinks(ctx context.Context, caller tenant.Caller, appID uuid.UUID) ([]*models.ApplicationConfigurationLink, error) {
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

	links, err := s.links.ListApplicationLinks(ctx, app.ID, caller.TenantID)
	if err != nil {
		return nil, services.WrapInternal("failed to list links", err)
	}
	return links, nil
}

// GetVersionLinks returns the version-level links of the caller's configurations
func (s *Service) GetVersionLinks(ctx context.Context, caller tenant.Caller, versionID uuid.UUID) ([]*models.ApplicationVersionConfigurationLink, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	v, err := s.getVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	app, err := s.getApplication(ctx, v.ApplicationID)
	if err != nil {
		return nil, err
	}
	if err := authorizeRead(caller, app); err != nil {
		return nil, err
	}

	links, err := s.links.ListVersionLinks(ctx, v.ID, caller.TenantID)
	if err != nil {
		return nil, services.WrapInternal("failed to list version links", err)
	}
	return links, nil
}

// autoUpdate re-points every auto-update reference to app at v and returns
// the tenants whose configurations changed
func (s *Service) autoUpdate(ctx context.Context, app *models.Application, v *models.ApplicationVersion) ([]uuid.UUID, error) {
	linkTenants, err := s.links.AutoUpdateApplicationLinks(ctx, app.ID, v.ID)
	if err != nil {
		return nil, services.WrapInternal("failed to auto-update links", err)
	}
	mainTenants, err := s.configs.AutoUpdateMainApp(ctx, app.ID, v.ID)
	if err != nil {
		return nil, services.WrapInternal("failed to auto-update main app", err)
	}
	contentTenants, err := s.configs.AutoUpdateContentApp(ctx, app.ID, v.ID)
	if err != nil {
		return nil, services.WrapInternal("failed to auto-update content app", err)
	}

	s.logger.Debug("auto-update cascade",
		zap.String("application_id", app.ID.String()),
		zap.String("version_id", v.ID.String()),
		zap.Int("links", len(linkTenants)),
		zap.Int("main_apps", len(mainTenants)),
		zap.Int("content_apps", len(contentTenants)))

	tenants := make([]uuid.UUID, 0, len(linkTenants)+len(mainTenants)+len(contentTenants))
	tenants = append(tenants, linkTenants...)
	tenants = append(tenants, mainTenants...)
	return append(tenants, contentTenants...), nil
}

func (s *Service) requireOwnConfiguration(ctx context.Context, caller tenant.Caller, id uuid.UUID) error {
	cfg, err := s.getConfiguration(ctx, id)
	if err != nil {
		return err
	}
	if !caller.Owns(cfg.TenantID) {
		return services.ErrTenantAccessViolation
	}
	return nil
}

func (s *Service) requireVersionOf(ctx context.Context, app *models.Application, versionID uuid.UUID) error {
	v, err := s.getVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if v.ApplicationID != app.ID {
		return services.NewDomainError(services.ErrorTypeValidation, "version does not belong to the application", nil)
	}
	return nil
}
