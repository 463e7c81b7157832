package catalog

import (
	"context"

	"github.com/upb/mdm-catalog/internal/tenant"
	"github.com/upb/mdm-catalog/models"
	"github.com/upb/mdm-catalog/services"
	"go.uber.org/zap"
)

// Outcome classifies the applications sharing a package id as seen by one caller
type Outcome int

const (
	// OutcomeNotFound means no application uses the package
	OutcomeNotFound Outcome = iota
	// OutcomeUsableCommon means a common application uses it
	OutcomeUsableCommon
	// OutcomeUsablePrivate means the caller's tenant owns it
	OutcomeUsablePrivate
	// OutcomeForbidden means only other tenants' private applications use it
	OutcomeForbidden
	// OutcomeAmbiguous means one scope holds more than one application
	OutcomeAmbiguous
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not_found"
	case OutcomeUsableCommon:
		return "usable_common"
	case OutcomeUsablePrivate:
		return "usable_private"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// Match is the resolver's answer. Application is set for the usable
// outcomes; Candidates holds every application sharing the package.
type Match struct {
	Outcome     Outcome
	Application *models.Application
	Candidates  []*models.Application
}

// classify applies the visibility rules to the candidates. The caller's own
// private application takes precedence over a common one, since the scope
// indexes allow both to exist.
func classify(caller tenant.Caller, candidates []*models.Application) Match {
	var own, common []*models.Application
	foreign := 0
	for _, app := range candidates {
		switch {
		case app.Common:
			common = append(common, app)
		case app.TenantID == caller.TenantID:
			own = append(own, app)
		default:
			foreign++
		}
	}

	m := Match{Candidates: candidates}
	switch {
	case len(own) > 1 || len(common) > 1:
		m.Outcome = OutcomeAmbiguous
	case len(own) == 1:
		m.Outcome = OutcomeUsablePrivate
		m.Application = own[0]
	case len(common) == 1:
		m.Outcome = OutcomeUsableCommon
		m.Application = common[0]
	case foreign > 0:
		m.Outcome = OutcomeForbidden
	default:
		m.Outcome = OutcomeNotFound
	}
	return m
}

// Resolve looks up every application with pkg across tenants and classifies
// them for caller. An ambiguous scope is a fatal InconsistentState error.
func (s *Service) Resolve(ctx context.Context, caller tenant.Caller, pkg string) (*Match, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	candidates, err := s.apps.FindByPkg(ctx, pkg)
	if err != nil {
		return nil, services.WrapInternal("failed to look up applications", err)
	}

	m := classify(caller, candidates)
	if m.Outcome == OutcomeAmbiguous {
		s.logger.Error("more than one application matches the package in one scope",
			zap.String("package", pkg),
			zap.String("tenant_id", caller.TenantID.String()),
			zap.Int("count", len(candidates)))
		s.metrics.IncInconsistency("resolve")
		return nil, services.NewInconsistentStateError(pkg, len(candidates))
	}

	s.logger.Debug("package resolved",
		zap.String("package", pkg),
		zap.String("tenant_id", caller.TenantID.String()),
		zap.Stringer("outcome", m.Outcome))
	return &m, nil
}
