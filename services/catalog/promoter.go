package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/mdm-catalog/internal/tenant"
	"github.com/upb/mdm-catalog/models"
	"github.com/upb/mdm-catalog/repositories"
	"github.com/upb/mdm-catalog/services"
	"github.com/upb/mdm-catalog/services/files"
	"go.uber.org/zap"
)

// Promotion is the result of PromoteToCommon
type Promotion struct {
	Application *models.Application
	Versions    []*models.ApplicationVersion

	// Merged lists the private applications that were folded in and removed
	Merged []uuid.UUID
}

// PromoteToCommon merges every application sharing the package of appID
// into one new common application owned by the master tenant. Versions are
// deduplicated by normalized label, first seen wins. Links and configuration
// references move to the merged rows and the candidates are deleted, all in
// one transaction. Artifact files move to the master area after commit;
// a failed move is logged and skipped.
func (s *Service) PromoteToCommon(ctx context.Context, caller tenant.Caller, appID uuid.UUID) (result *Promotion, err error) {
	defer func() { s.observe("promote", err) }()

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if !caller.SuperAdmin {
		return nil, services.ErrSuperAdminRequired
	}

	masterID := s.masterID
	if masterID == uuid.Nil {
		masterID = caller.TenantID
	}

	var (
		moves []*files.Relocation
		pkg   string
	)
	result, err = services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) (*Promotion, error) {
		moves = nil

		app, err := s.getApplication(ctx, appID)
		if err != nil {
			return nil, err
		}
		if app.Common {
			return nil, services.ErrAlreadyCommon
		}
		pkg = app.Pkg

		candidates, err := s.apps.FindByPkg(ctx, app.Pkg)
		if err != nil {
			return nil, services.WrapInternal("failed to look up applications", err)
		}
		for _, c := range candidates {
			if c.Common {
				return nil, services.NewCodedError(services.ErrorTypeConflict, services.CodeCommonApplicationExists,
					services.ErrCommonApplicationExists.Message).WithDetail("application_id", c.ID.String())
			}
		}

		// Old and new versions share (pkg, version) until the candidates are gone
		if err := s.versions.DeferUniqueChecks(ctx); err != nil {
			return nil, services.WrapInternal("failed to defer unique checks", err)
		}

		master, err := s.getTenant(ctx, masterID)
		if err != nil {
			return nil, err
		}

		common := models.NewApplication(master.ID, app.Pkg, app.Name)
		common.ShowIcon = app.ShowIcon
		common.System = app.System
		common.Common = true
		if err := s.apps.Create(ctx, common); err != nil {
			return nil, err
		}

		owners := make(map[uuid.UUID]*models.Tenant)
		byApp := make(map[uuid.UUID]*models.Application, len(candidates))
		ids := make([]uuid.UUID, 0, len(candidates))
		for _, c := range candidates {
			byApp[c.ID] = c
			ids = append(ids, c.ID)
			if _, ok := owners[c.TenantID]; !ok {
				owner, err := s.getTenant(ctx, c.TenantID)
				if err != nil {
					return nil, err
				}
				owners[c.TenantID] = owner
			}
		}

		old, err := s.versions.ListByApplications(ctx, ids)
		if err != nil {
			return nil, services.WrapInternal("failed to list versions", err)
		}

		mapping := make(map[string]*models.ApplicationVersion, len(old))
		var created []*models.ApplicationVersion
		for _, v := range old {
			key := NormalizeVersion(v.Version)
			if kept, ok := mapping[key]; ok {
				s.logger.Debug("duplicate version discarded during promotion",
					zap.String("package", app.Pkg),
					zap.String("version_id", v.ID.String()),
					zap.String("version", v.Version),
					zap.String("replaced_by", kept.Version))
				continue
			}

			nv := models.NewApplicationVersion(common, v.Version, v.URL)
			nv.ApkHash = v.ApkHash
			nv.DeletionProhibited = v.DeletionProhibited
			nv.CreatedAt = v.CreatedAt

			owner := owners[byApp[v.ApplicationID].TenantID]
			if owner.ID != master.ID {
				if rel, ok := s.files.RelocateURL(v.URL, owner, master); ok {
					nv.URL = rel.URL
					moves = append(moves, rel)
				} else if v.URL != "" {
					s.logger.Warn("version URL is outside the owner's files area, keeping it",
						zap.String("version_id", v.ID.String()),
						zap.String("url", v.URL))
				}
			}

			if err := s.versions.Create(ctx, nv); err != nil {
				return nil, err
			}
			mapping[key] = nv
			created = append(created, nv)
		}

		var touched []uuid.UUID
		for _, v := range old {
			nv := mapping[NormalizeVersion(v.Version)]
			linkTenants, err := s.links.RepointVersion(ctx, v.ID, common.ID, nv.ID)
			if err != nil {
				return nil, services.WrapInternal("failed to re-point links", err)
			}
			cfgTenants, err := s.configs.RepointVersion(ctx, v.ID, nv.ID)
			if err != nil {
				return nil, services.WrapInternal("failed to re-point configurations", err)
			}
			touched = append(touched, linkTenants...)
			touched = append(touched, cfgTenants...)
		}
		for _, c := range candidates {
			moved, err := s.links.MoveApplicationLinks(ctx, c.ID, common.ID)
			if err != nil {
				return nil, services.WrapInternal("failed to move links", err)
			}
			touched = append(touched, moved...)
		}

		for _, c := range candidates {
			if err := s.apps.Delete(ctx, c.ID); err != nil {
				return nil, fmt.Errorf("failed to delete merged application %s: %w", c.ID, err)
			}
		}

		latest, err := s.recalculateLatest(ctx, common.ID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			common.LatestVersionID = &latest.ID
		}

		if err := s.recheck(ctx, touched); err != nil {
			return nil, err
		}

		return &Promotion{Application: common, Versions: created, Merged: ids}, nil
	})
	if err != nil {
		return nil, s.translateWriteError(ctx, err, pkg, "", caller.TenantID)
	}

	for _, m := range moves {
		s.queueMove(m)
	}

	s.logger.Info("application promoted to common",
		zap.String("application_id", result.Application.ID.String()),
		zap.String("package", result.Application.Pkg),
		zap.Int("merged", len(result.Merged)),
		zap.Int("versions", len(result.Versions)),
		zap.Int("file_moves", len(moves)))
	s.audit("promote", s.auditor.LogApplicationPromoted(caller, result.Application, result.Merged, len(result.Versions)))
	return result, nil
}

// queueMove hands one file move to the background runner
func (s *Service) queueMove(m *files.Relocation) {
	submitted := s.tasks.Submit("promote-file-move", func(ctx context.Context) error {
		moved, err := s.files.MoveFile(m.Source, m.Target)
		switch {
		case err != nil:
			s.metrics.IncFileMove("failed")
			s.logger.Error("failed to move file, continuing",
				zap.String("source", m.Source),
				zap.String("target", m.Target),
				zap.Error(err))
		case moved:
			s.metrics.IncFileMove("moved")
		default:
			s.metrics.IncFileMove("skipped")
			s.logger.Warn("file move skipped",
				zap.String("source", m.Source),
				zap.String("target", m.Target))
		}
		return nil
	})
	if !submitted {
		s.metrics.IncFileMove("dropped")
		s.logger.Error("file move not queued",
			zap.String("source", m.Source),
			zap.String("target", m.Target))
	}
}
