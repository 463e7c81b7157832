package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/mdm-catalog/internal/tenant"
	"github.com/upb/mdm-catalog/models"
)

func TestClassify(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	caller := tenant.Caller{TenantID: me}

	private := func(owner uuid.UUID) *models.Application {
		return models.NewApplication(owner, testPkg, "app")
	}
	common := func() *models.Application {
		a := models.NewApplication(uuid.New(), testPkg, "app")
		a.Common = true
		return a
	}

	ownApp := private(me)
	commonApp := common()

	tests := []struct {
		name       string
		candidates []*models.Application
		outcome    Outcome
		match      *models.Application
	}{
		{name: "none", outcome: OutcomeNotFound},
		{name: "own private", candidates: []*models.Application{ownApp}, outcome: OutcomeUsablePrivate, match: ownApp},
		{name: "common", candidates: []*models.Application{commonApp}, outcome: OutcomeUsableCommon, match: commonApp},
		{name: "foreign private", candidates: []*models.Application{private(other)}, outcome: OutcomeForbidden},
		{name: "own wins over common", candidates: []*models.Application{commonApp, ownApp}, outcome: OutcomeUsablePrivate, match: ownApp},
		{name: "common beside foreign", candidates: []*models.Application{private(other), commonApp}, outcome: OutcomeUsableCommon, match: commonApp},
		{name: "two own", candidates: []*models.Application{private(me), private(me)}, outcome: OutcomeAmbiguous},
		{name: "two common", candidates: []*models.Application{common(), common()}, outcome: OutcomeAmbiguous},
		{name: "foreign private of two tenants", candidates: []*models.Application{private(other), private(uuid.New())}, outcome: OutcomeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := classify(caller, tt.candidates)
			assert.Equal(t, tt.outcome, m.Outcome)
			assert.Equal(t, tt.match, m.Application)
			assert.Len(t, m.Candidates, len(tt.candidates))
		})
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "usable_common", OutcomeUsableCommon.String())
	assert.Equal(t, "ambiguous", OutcomeAmbiguous.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.Resolve(ctx, f.callerA, testPkg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, m.Outcome)

	app := f.seedApp(f.tenantA, testPkg, time.Now())

	m, err = f.svc.Resolve(ctx, f.callerA, testPkg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUsablePrivate, m.Outcome)
	assert.Equal(t, app.ID, m.Application.ID)

	m, err = f.svc.Resolve(ctx, f.callerB, testPkg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeForbidden, m.Outcome)
	assert.Nil(t, m.Application)
}

func TestChoice_ParseRoundTrip(t *testing.T) {
	for _, c := range []Choice{ChoiceCreateNew, ChoiceChangePackage, ChoiceAddVersion} {
		parsed, ok := ParseChoice(c.String())
		require.True(t, ok)
		assert.Equal(t, c, parsed)
	}
	_, ok := ParseChoice("merge")
	assert.False(t, ok)
}
