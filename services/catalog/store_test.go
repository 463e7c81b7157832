package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/upb/mdm-catalog/models"
	"github.com/upb/mdm-catalog/repositories"
)

// memState is one consistent copy of every table the engine touches
type memState struct {
	tenants  map[uuid.UUID]models.Tenant
	apps     map[uuid.UUID]models.Application
	versions map[uuid.UUID]models.ApplicationVersion
	appLinks map[uuid.UUID]models.ApplicationConfigurationLink
	verLinks map[uuid.UUID]models.ApplicationVersionConfigurationLink
	configs  map[uuid.UUID]models.Configuration
}

func newMemState() memState {
	return memState{
		tenants:  map[uuid.UUID]models.Tenant{},
		apps:     map[uuid.UUID]models.Application{},
		versions: map[uuid.UUID]models.ApplicationVersion{},
		appLinks: map[uuid.UUID]models.ApplicationConfigurationLink{},
		verLinks: map[uuid.UUID]models.ApplicationVersionConfigurationLink{},
		configs:  map[uuid.UUID]models.Configuration{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone copies the maps. Pointer fields are shared, which is safe because
// the store only ever replaces them.
func (st memState) clone() memState {
	return memState{
		tenants:  copyMap(st.tenants),
		apps:     copyMap(st.apps),
		versions: copyMap(st.versions),
		appLinks: copyMap(st.appLinks),
		verLinks: copyMap(st.verLinks),
		configs:  copyMap(st.configs),
	}
}

func uniqueViolation(constraint string) error {
	return fmt.Errorf("%s: %w", constraint, repositories.ErrUniqueViolation)
}

func scopeKey(a models.Application) string {
	if a.Common {
		return a.Pkg + "|common"
	}
	return a.Pkg + "|" + a.TenantID.String()
}

// violation checks every unique constraint of the schema
func (st memState) violation() error {
	scopes := map[string]bool{}
	for _, a := range st.apps {
		k := scopeKey(a)
		if scopes[k] {
			return uniqueViolation("uq_applications_pkg")
		}
		scopes[k] = true
	}
	pairs := map[[2]string]bool{}
	for _, v := range st.versions {
		k := [2]string{v.Pkg, v.Version}
		if pairs[k] {
			return uniqueViolation("uq_application_versions_pkg_version")
		}
		pairs[k] = true
	}
	installs := map[[2]uuid.UUID]bool{}
	for _, l := range st.verLinks {
		if l.Action != models.LinkActionInstall {
			continue
		}
		k := [2]uuid.UUID{l.ConfigurationID, l.ApplicationID}
		if installs[k] {
			return uniqueViolation("uq_configuration_application_versions_install")
		}
		installs[k] = true
	}
	return nil
}

func ptr(id uuid.UUID) *uuid.UUID {
	return &id
}

// memStore is an in-memory repository set. Transactions are serialized and
// roll back to a snapshot.
type memStore struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	state    memState
	deferred bool
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (s *memStore) repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Tenants:        tenantRepo{s},
		Applications:   appRepo{s},
		Versions:       versionRepo{s},
		Links:          linkRepo{s},
		Configurations: configRepo{s},
	}
}

type memTxKey struct{}

// with runs fn under the store lock. Calls outside a transaction wait for
// the running one, so they only ever see committed state.
func (s *memStore) with(ctx context.Context, fn func(st *memState) error) error {
	if ctx.Value(memTxKey{}) == nil {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.state)
}

func (s *memStore) versionOf(id uuid.UUID) (models.ApplicationVersion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state.versions[id]
	return v, ok
}

func (s *memStore) appOf(id uuid.UUID) (models.Application, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.state.apps[id]
	return a, ok
}

func (s *memStore) configOf(id uuid.UUID) models.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.configs[id]
}

func (s *memStore) appsByPkg(pkg string) []models.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Application
	for _, a := range s.state.apps {
		if a.Pkg == pkg {
			out = append(out, a)
		}
	}
	return out
}

func (s *memStore) versionLinks() []models.ApplicationVersionConfigurationLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ApplicationVersionConfigurationLink, 0, len(s.state.verLinks))
	for _, l := range s.state.verLinks {
		out = append(out, l)
	}
	return out
}

func (s *memStore) applicationLinks() []models.ApplicationConfigurationLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ApplicationConfigurationLink, 0, len(s.state.appLinks))
	for _, l := range s.state.appLinks {
		out = append(out, l)
	}
	return out
}

// memTxManager serializes transactions over a memStore
type memTxManager struct {
	store *memStore

	// beforeCommit runs once inside the next commit, before constraints are checked
	beforeCommit func(tx *memTx)
	begun        int
}

func (m *memTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	m.store.txMu.Lock()
	m.store.mu.Lock()
	snap := m.store.state.clone()
	m.begun++
	m.store.mu.Unlock()
	tx := &memTx{m: m, snapshot: snap}
	tx.ctx = context.WithValue(ctx, memTxKey{}, tx)
	return tx, nil
}

type memTx struct {
	m        *memTxManager
	ctx      context.Context
	snapshot memState
	done     bool
}

// Concurrent applies fn to the live state and to the rollback snapshot, as
// if another transaction had committed it
func (tx *memTx) Concurrent(fn func(st *memState)) {
	fn(&tx.m.store.state)
	fn(&tx.snapshot)
}

func (tx *memTx) Commit() error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.done = true
	defer tx.m.store.txMu.Unlock()

	s := tx.m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if hook := tx.m.beforeCommit; hook != nil {
		tx.m.beforeCommit = nil
		hook(tx)
	}

	s.deferred = false
	if err := s.state.violation(); err != nil {
		s.state = tx.snapshot
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	defer tx.m.store.txMu.Unlock()

	s := tx.m.store
	s.mu.Lock()
	s.state = tx.snapshot
	s.deferred = false
	s.mu.Unlock()
	return nil
}

func (tx *memTx) Context() context.Context {
	return tx.ctx
}

func notFound(kind string, id interface{}) error {
	return fmt.Errorf("%s %v: %w", kind, id, repositories.ErrNotFound)
}

type tenantRepo struct{ s *memStore }

func (r tenantRepo) Create(ctx context.Context, t *models.Tenant) error {
	return r.s.with(ctx, func(st *memState) error {
		st.tenants[t.ID] = *t
		return nil
	})
}

func (r tenantRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var out *models.Tenant
	err := r.s.with(ctx, func(st *memState) error {
		t, ok := st.tenants[id]
		if !ok {
			return notFound("tenant", id)
		}
		out = &t
		return nil
	})
	return out, err
}

type appRepo struct{ s *memStore }

func (r appRepo) conflicts(st *memState, app *models.Application) bool {
	for id, other := range st.apps {
		if id != app.ID && scopeKey(other) == scopeKey(*app) {
			return true
		}
	}
	return false
}

func (r appRepo) Create(ctx context.Context, app *models.Application) error {
	return r.s.with(ctx, func(st *memState) error {
		if r.conflicts(st, app) {
			return uniqueViolation("uq_applications_pkg")
		}
		st.apps[app.ID] = *app
		return nil
	})
}

func (r appRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var out *models.Application
	err := r.s.with(ctx, func(st *memState) error {
		a, ok := st.apps[id]
		if !ok {
			return notFound("application", id)
		}
		out = &a
		return nil
	})
	return out, err
}

func sortApps(apps []*models.Application) {
	sort.Slice(apps, func(i, j int) bool {
		if !apps[i].CreatedAt.Equal(apps[j].CreatedAt) {
			return apps[i].CreatedAt.Before(apps[j].CreatedAt)
		}
		return apps[i].ID.String() < apps[j].ID.String()
	})
}

func (r appRepo) FindByPkg(ctx context.Context, pkg string) ([]*models.Application, error) {
	var out []*models.Application
	_ = r.s.with(ctx, func(st *memState) error {
		for _, a := range st.apps {
			if a.Pkg == pkg {
				a := a
				out = append(out, &a)
			}
		}
		return nil
	})
	sortApps(out)
	return out, nil
}

func (r appRepo) ListVisible(ctx context.Context, tenantID uuid.UUID) ([]*models.Application, error) {
	var out []*models.Application
	_ = r.s.with(ctx, func(st *memState) error {
		for _, a := range st.apps {
			if a.VisibleTo(tenantID) {
				a := a
				out = append(out, &a)
			}
		}
		return nil
	})
	sortApps(out)
	return out, nil
}

func (r appRepo) Update(ctx context.Context, app *models.Application) error {
	return r.s.with(ctx, func(st *memState) error {
		if _, ok := st.apps[app.ID]; !ok {
			return notFound("application", app.ID)
		}
		if r.conflicts(st, app) {
			return uniqueViolation("uq_applications_pkg")
		}
		st.apps[app.ID] = *app
		return nil
	})
}

func (r appRepo) SetLatestVersion(ctx context.Context, appID uuid.UUID, versionID *uuid.UUID) error {
	return r.s.with(ctx, func(st *memState) error {
		a, ok := st.apps[appID]
		if !ok {
			return notFound("application", appID)
		}
		a.LatestVersionID = nil
		if versionID != nil {
			a.LatestVersionID = ptr(*versionID)
		}
		st.apps[appID] = a
		return nil
	})
}

func (r appRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.with(ctx, func(st *memState) error {
		if _, ok := st.apps[id]; !ok {
			return notFound("application", id)
		}
		delete(st.apps, id)
		for vid, v := range st.versions {
			if v.ApplicationID == id {
				deleteVersion(st, vid)
			}
		}
		for lid, l := range st.appLinks {
			if l.ApplicationID == id {
				delete(st.appLinks, lid)
			}
		}
		for lid, l := range st.verLinks {
			if l.ApplicationID == id {
				delete(st.verLinks, lid)
			}
		}
		return nil
	})
}

func (r appRepo) FindPackageConflicts(ctx context.Context) ([]repositories.PackageConflict, error) {
	var out []repositories.PackageConflict
	_ = r.s.with(ctx, func(st *memState) error {
		counts := map[string]*repositories.PackageConflict{}
		for _, a := range st.apps {
			k := scopeKey(a)
			c, ok := counts[k]
			if !ok {
				c = &repositories.PackageConflict{Pkg: a.Pkg}
				if !a.Common {
					c.TenantID = ptr(a.TenantID)
				}
				counts[k] = c
			}
			c.Count++
		}
		for _, c := range counts {
			if c.Count > 1 {
				out = append(out, *c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Pkg < out[j].Pkg })
	return out, nil
}

// deleteVersion removes a version and applies the foreign key actions
func deleteVersion(st *memState, id uuid.UUID) {
	delete(st.versions, id)
	for lid, l := range st.verLinks {
		if l.ApplicationVersionID == id {
			delete(st.verLinks, lid)
		}
	}
	for lid, l := range st.appLinks {
		if l.ApplicationVersionID != nil && *l.ApplicationVersionID == id {
			l.ApplicationVersionID = nil
			st.appLinks[lid] = l
		}
	}
	for cid, c := range st.configs {
		if c.MainAppVersionID != nil && *c.MainAppVersionID == id {
			c.MainAppVersionID = nil
		}
		if c.ContentAppVersionID != nil && *c.ContentAppVersionID == id {
			c.ContentAppVersionID = nil
		}
		st.configs[cid] = c
	}
	for aid, a := range st.apps {
		if a.LatestVersionID != nil && *a.LatestVersionID == id {
			a.LatestVersionID = nil
			st.apps[aid] = a
		}
	}
}

type versionRepo struct{ s *memStore }

func (r versionRepo) conflicts(st *memState, v *models.ApplicationVersion) bool {
	if r.s.deferred {
		return false
	}
	for id, other := range st.versions {
		if id != v.ID && other.Pkg == v.Pkg && other.Version == v.Version {
			return true
		}
	}
	return false
}

func (r versionRepo) Create(ctx context.Context, v *models.ApplicationVersion) error {
	return r.s.with(ctx, func(st *memState) error {
		if r.conflicts(st, v) {
			return uniqueViolation("uq_application_versions_pkg_version")
		}
		st.versions[v.ID] = *v
		return nil
	})
}

func (r versionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ApplicationVersion, error) {
	var out *models.ApplicationVersion
	err := r.s.with(ctx, func(st *memState) error {
		v, ok := st.versions[id]
		if !ok {
			return notFound("version", id)
		}
		out = &v
		return nil
	})
	return out, err
}

func sortVersions(vs []*models.ApplicationVersion) {
	sort.Slice(vs, func(i, j int) bool {
		if !vs[i].CreatedAt.Equal(vs[j].CreatedAt) {
			return vs[i].CreatedAt.Before(vs[j].CreatedAt)
		}
		return vs[i].ID.String() < vs[j].ID.String()
	})
}

func (r versionRepo) FindByPkgAndVersion(ctx context.Context, pkg, version string) (*models.ApplicationVersion, error) {
	var out []*models.ApplicationVersion
	_ = r.s.with(ctx, func(st *memState) error {
		for _, v := range st.versions {
			if v.Pkg == pkg && v.Version == version {
				v := v
				out = append(out, &v)
			}
		}
		return nil
	})
	if len(out) == 0 {
		return nil, notFound("version", pkg+"@"+version)
	}
	sortVersions(out)
	return out[0], nil
}

func (r versionRepo) ListByApplication(ctx context.Context, appID uuid.UUID) ([]*models.ApplicationVersion, error) {
	return r.ListByApplications(ctx, []uuid.UUID{appID})
}

func (r versionRepo) ListByApplications(ctx context.Context, appIDs []uuid.UUID) ([]*models.ApplicationVersion, error) {
	want := map[uuid.UUID]bool{}
	for _, id := range appIDs {
		want[id] = true
	}
	var out []*models.ApplicationVersion
	_ = r.s.with(ctx, func(st *memState) error {
		for _, v := range st.versions {
			if want[v.ApplicationID] {
				v := v
				out = append(out, &v)
			}
		}
		return nil
	})
	sortVersions(out)
	return out, nil
}

func (r versionRepo) Update(ctx context.Context, v *models.ApplicationVersion) error {
	return r.s.with(ctx, func(st *memState) error {
		cur, ok := st.versions[v.ID]
		if !ok {
			return notFound("version", v.ID)
		}
		cur.Version = v.Version
		cur.URL = v.URL
		cur.ApkHash = v.ApkHash
		cur.DeletionProhibited = v.DeletionProhibited
		if r.conflicts(st, &cur) {
			return uniqueViolation("uq_application_versions_pkg_version")
		}
		st.versions[v.ID] = cur
		return nil
	})
}

func (r versionRepo) SyncApplicationFields(ctx context.Context, app *models.Application) error {
	return r.s.with(ctx, func(st *memState) error {
		for id, v := range st.versions {
			if v.ApplicationID != app.ID {
				continue
			}
			v.Pkg, v.Common, v.System = app.Pkg, app.Common, app.System
			if r.conflicts(st, &v) {
				return uniqueViolation("uq_application_versions_pkg_version")
			}
			st.versions[id] = v
		}
		return nil
	})
}

func (r versionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.with(ctx, func(st *memState) error {
		if _, ok := st.versions[id]; !ok {
			return notFound("version", id)
		}
		deleteVersion(st, id)
		return nil
	})
}

func (r versionRepo) DeferUniqueChecks(ctx context.Context) error {
	r.s.mu.Lock()
	r.s.deferred = true
	r.s.mu.Unlock()
	return nil
}

type linkRepo struct{ s *memStore }

func (r linkRepo) ListApplicationLinks(ctx context.Context, appID, tenantID uuid.UUID) ([]*models.ApplicationConfigurationLink, error) {
	var out []*models.ApplicationConfigurationLink
	_ = r.s.with(ctx, func(st *memState) error {
		for _, l := range st.appLinks {
			c := st.configs[l.ConfigurationID]
			if l.ApplicationID == appID && c.TenantID == tenantID {
				l := l
				l.ConfigurationName = c.Name
				out = append(out, &l)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ConfigurationName < out[j].ConfigurationName })
	return out, nil
}

func (r linkRepo) UpsertApplicationLink(ctx context.Context, link *models.ApplicationConfigurationLink) error {
	return r.s.with(ctx, func(st *memState) error {
		for id, l := range st.appLinks {
			if l.ConfigurationID == link.ConfigurationID && l.ApplicationID == link.ApplicationID {
				l.ApplicationVersionID = link.ApplicationVersionID
				l.Action = link.Action
				l.AutoUpdate = link.AutoUpdate
				st.appLinks[id] = l
				return nil
			}
		}
		st.appLinks[link.ID] = *link
		return nil
	})
}

func (r linkRepo) DeleteApplicationLink(ctx context.Context, configID, appID uuid.UUID) error {
	return r.s.with(ctx, func(st *memState) error {
		for id, l := range st.appLinks {
			if l.ConfigurationID == configID && l.ApplicationID == appID {
				delete(st.appLinks, id)
			}
		}
		return nil
	})
}

func (r linkRepo) AutoUpdateApplicationLinks(ctx context.Context, appID, versionID uuid.UUID) ([]uuid.UUID, error) {
	var tenants []uuid.UUID
	err := r.s.with(ctx, func(st *memState) error {
		for id, l := range st.appLinks {
			if l.ApplicationID == appID && l.AutoUpdate {
				l.ApplicationVersionID = ptr(versionID)
				st.appLinks[id] = l
				tenants = append(tenants, st.configs[l.ConfigurationID].TenantID)
			}
		}
		return nil
	})
	return tenants, err
}

func (r linkRepo) ListVersionLinks(ctx context.Context, versionID, tenantID uuid.UUID) ([]*models.ApplicationVersionConfigurationLink, error) {
	var out []*models.ApplicationVersionConfigurationLink
	_ = r.s.with(ctx, func(st *memState) error {
		for _, l := range st.verLinks {
			c := st.configs[l.ConfigurationID]
			if l.ApplicationVersionID == versionID && c.TenantID == tenantID {
				l := l
				l.ConfigurationName = c.Name
				out = append(out, &l)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ConfigurationName < out[j].ConfigurationName })
	return out, nil
}

func (r linkRepo) DeleteVersionLinks(ctx context.Context, versionID, tenantID uuid.UUID) (int64, error) {
	var n int64
	err := r.s.with(ctx, func(st *memState) error {
		for id, l := range st.verLinks {
			if l.ApplicationVersionID == versionID && st.configs[l.ConfigurationID].TenantID == tenantID {
				delete(st.verLinks, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r linkRepo) InsertVersionLink(ctx context.Context, link *models.ApplicationVersionConfigurationLink) error {
	return r.s.with(ctx, func(st *memState) error {
		for _, l := range st.verLinks {
			if l.ConfigurationID != link.ConfigurationID {
				continue
			}
			if l.ApplicationVersionID == link.ApplicationVersionID {
				return uniqueViolation("uq_configuration_application_versions")
			}
			if link.Action == models.LinkActionInstall && l.Action == models.LinkActionInstall && l.ApplicationID == link.ApplicationID {
				return uniqueViolation("uq_configuration_application_versions_install")
			}
		}
		st.verLinks[link.ID] = *link
		return nil
	})
}

func (r linkRepo) UninstallOtherVersions(ctx context.Context, configID, appID, versionID uuid.UUID) (int64, error) {
	var n int64
	err := r.s.with(ctx, func(st *memState) error {
		for id, l := range st.verLinks {
			if l.ConfigurationID == configID && l.ApplicationID == appID &&
				l.ApplicationVersionID != versionID && l.Action == models.LinkActionInstall {
				l.Action = models.LinkActionUninstall
				st.verLinks[id] = l
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r linkRepo) RepointVersion(ctx context.Context, oldVersionID, newAppID, newVersionID uuid.UUID) ([]uuid.UUID, error) {
	var tenants []uuid.UUID
	err := r.s.with(ctx, func(st *memState) error {
		installedElsewhere := func(configID, skip uuid.UUID) bool {
			for id, x := range st.verLinks {
				if id != skip && x.ConfigurationID == configID && x.ApplicationID == newAppID &&
					x.ApplicationVersionID != newVersionID && x.Action == models.LinkActionInstall {
					return true
				}
			}
			return false
		}
		for id, l := range st.verLinks {
			if l.ApplicationVersionID != oldVersionID {
				continue
			}
			tenants = append(tenants, st.configs[l.ConfigurationID].TenantID)
			var target *uuid.UUID
			for xid, x := range st.verLinks {
				if x.ConfigurationID == l.ConfigurationID && x.ApplicationVersionID == newVersionID {
					target = ptr(xid)
				}
			}
			if target != nil {
				delete(st.verLinks, id)
				t := st.verLinks[*target]
				if l.Action == models.LinkActionInstall && !installedElsewhere(l.ConfigurationID, id) {
					t.Action = models.LinkActionInstall
					st.verLinks[*target] = t
				}
				continue
			}
			if l.Action == models.LinkActionInstall && l.ApplicationID != newAppID && installedElsewhere(l.ConfigurationID, id) {
				l.Action = models.LinkActionUninstall
			}
			l.ApplicationID, l.ApplicationVersionID = newAppID, newVersionID
			st.verLinks[id] = l
		}
		for id, l := range st.appLinks {
			if l.ApplicationVersionID != nil && *l.ApplicationVersionID == oldVersionID {
				l.ApplicationVersionID = ptr(newVersionID)
				st.appLinks[id] = l
				tenants = append(tenants, st.configs[l.ConfigurationID].TenantID)
			}
		}
		return nil
	})
	return tenants, err
}

func (r linkRepo) MoveApplicationLinks(ctx context.Context, oldAppID, newAppID uuid.UUID) ([]uuid.UUID, error) {
	var tenants []uuid.UUID
	err := r.s.with(ctx, func(st *memState) error {
		for id, l := range st.appLinks {
			if l.ApplicationID != oldAppID {
				continue
			}
			taken := false
			for _, x := range st.appLinks {
				if x.ConfigurationID == l.ConfigurationID && x.ApplicationID == newAppID {
					taken = true
				}
			}
			if taken {
				continue
			}
			l.ApplicationID = newAppID
			st.appLinks[id] = l
			tenants = append(tenants, st.configs[l.ConfigurationID].TenantID)
		}
		return nil
	})
	return tenants, err
}

func (r linkRepo) CountVersionReferences(ctx context.Context, versionID uuid.UUID) (int, error) {
	n := 0
	_ = r.s.with(ctx, func(st *memState) error {
		for _, l := range st.verLinks {
			if l.ApplicationVersionID == versionID {
				n++
			}
		}
		for _, l := range st.appLinks {
			if l.ApplicationVersionID != nil && *l.ApplicationVersionID == versionID {
				n++
			}
		}
		for _, c := range st.configs {
			if (c.MainAppVersionID != nil && *c.MainAppVersionID == versionID) ||
				(c.ContentAppVersionID != nil && *c.ContentAppVersionID == versionID) {
				n++
			}
		}
		return nil
	})
	return n, nil
}

func (r linkRepo) CountApplicationReferences(ctx context.Context, appID uuid.UUID) (int, error) {
	n := 0
	_ = r.s.with(ctx, func(st *memState) error {
		for _, l := range st.verLinks {
			if l.ApplicationID == appID {
				n++
			}
		}
		for _, l := range st.appLinks {
			if l.ApplicationID == appID {
				n++
			}
		}
		for _, c := range st.configs {
			for _, ref := range []*uuid.UUID{c.MainAppVersionID, c.ContentAppVersionID} {
				if ref != nil && st.versions[*ref].ApplicationID == appID {
					n++
				}
			}
		}
		return nil
	})
	return n, nil
}

type configRepo struct{ s *memStore }

func (r configRepo) Create(ctx context.Context, cfg *models.Configuration) error {
	return r.s.with(ctx, func(st *memState) error {
		st.configs[cfg.ID] = *cfg
		return nil
	})
}

func (r configRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Configuration, error) {
	var out *models.Configuration
	err := r.s.with(ctx, func(st *memState) error {
		c, ok := st.configs[id]
		if !ok {
			return notFound("configuration", id)
		}
		out = &c
		return nil
	})
	return out, err
}

func (r configRepo) autoUpdate(ctx context.Context, appID, versionID uuid.UUID, main bool) ([]uuid.UUID, error) {
	var tenants []uuid.UUID
	err := r.s.with(ctx, func(st *memState) error {
		for id, c := range st.configs {
			ref, auto := c.ContentAppVersionID, c.AutoUpdateContentApp
			if main {
				ref, auto = c.MainAppVersionID, c.AutoUpdateMainApp
			}
			if !auto || ref == nil || st.versions[*ref].ApplicationID != appID {
				continue
			}
			if main {
				c.MainAppVersionID = ptr(versionID)
			} else {
				c.ContentAppVersionID = ptr(versionID)
			}
			st.configs[id] = c
			tenants = append(tenants, c.TenantID)
		}
		return nil
	})
	return tenants, err
}

func (r configRepo) AutoUpdateMainApp(ctx context.Context, appID, versionID uuid.UUID) ([]uuid.UUID, error) {
	return r.autoUpdate(ctx, appID, versionID, true)
}

func (r configRepo) AutoUpdateContentApp(ctx context.Context, appID, versionID uuid.UUID) ([]uuid.UUID, error) {
	return r.autoUpdate(ctx, appID, versionID, false)
}

func (r configRepo) RepointVersion(ctx context.Context, oldVersionID, newVersionID uuid.UUID) ([]uuid.UUID, error) {
	var tenants []uuid.UUID
	err := r.s.with(ctx, func(st *memState) error {
		for id, c := range st.configs {
			touched := false
			if c.MainAppVersionID != nil && *c.MainAppVersionID == oldVersionID {
				c.MainAppVersionID = ptr(newVersionID)
				touched = true
			}
			if c.ContentAppVersionID != nil && *c.ContentAppVersionID == oldVersionID {
				c.ContentAppVersionID = ptr(newVersionID)
				touched = true
			}
			if touched {
				st.configs[id] = c
				tenants = append(tenants, c.TenantID)
			}
		}
		return nil
	})
	return tenants, err
}

func (r configRepo) RecheckTenant(ctx context.Context, tenantID uuid.UUID) error {
	return r.s.with(ctx, func(st *memState) error {
		installed := func(cfgID uuid.UUID, ref *uuid.UUID) bool {
			if ref == nil {
				return true
			}
			for _, l := range st.appLinks {
				if l.ConfigurationID == cfgID && l.Action == models.LinkActionInstall &&
					st.versions[*ref].ApplicationID == l.ApplicationID {
					if _, ok := st.versions[*ref]; ok {
						return true
					}
				}
			}
			for _, l := range st.verLinks {
				if l.ConfigurationID == cfgID && l.Action == models.LinkActionInstall && l.ApplicationVersionID == *ref {
					return true
				}
			}
			return false
		}
		for id, c := range st.configs {
			if c.TenantID != tenantID {
				continue
			}
			c.MainAppValid = installed(c.ID, c.MainAppVersionID)
			c.ContentAppValid = installed(c.ID, c.ContentAppVersionID)
			c.KioskAppValid = !c.KioskMode || (c.MainAppVersionID != nil && c.MainAppValid)
			st.configs[id] = c
		}
		return nil
	})
}
