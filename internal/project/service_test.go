package project

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/locale"
	"github.com/hitoshi/muistot/internal/model"
	"github.com/hitoshi/muistot/internal/repository"
)

// memoryStore はProjectRepositoryとaccess.FactSourceを兼ねるインメモリ実装。
type memoryStore struct {
	mu          sync.Mutex
	projects    map[string]*model.Project
	info        map[string]map[string]model.ProjectInfo
	admins      map[string]map[string]bool
	missingInfo map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		projects:    map[string]*model.Project{},
		info:        map[string]map[string]model.ProjectInfo{},
		admins:      map[string]map[string]bool{},
		missingInfo: map[string]bool{},
	}
}

func (m *memoryStore) Facts(_ context.Context, r access.Ref) (access.Facts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[r.Project]
	if !ok || r.Kind != access.KindProject {
		return access.Facts{}, nil
	}
	return access.Facts{Exists: true, Published: p.Published, OwnerID: p.OwnerID, MissingDefaultInfo: m.missingInfo[p.ID]}, nil
}

func (m *memoryStore) IsProjectAdmin(_ context.Context, project, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admins[project][userID], nil
}

func (m *memoryStore) Get(_ context.Context, id, lang string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	if info, ok := m.info[id][lang]; ok {
		copied.Info = info
	} else {
		copied.Info = m.info[id][p.DefaultLanguage]
	}
	return &copied, nil
}

func (m *memoryStore) ListVisible(_ context.Context, pr access.Principal, _ string) ([]*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Project
	for _, p := range m.projects {
		if p.Published || pr.Superuser || (pr.Authenticated() && (p.OwnerID == pr.UserID || m.admins[p.ID][pr.UserID])) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) Create(_ context.Context, project *model.Project, adminIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[project.ID]; ok {
		return repository.ErrDuplicate
	}
	copied := *project
	m.projects[project.ID] = &copied
	m.info[project.ID] = map[string]model.ProjectInfo{project.Info.Lang: project.Info}
	m.admins[project.ID] = map[string]bool{}
	for _, id := range adminIDs {
		m.admins[project.ID][id] = true
	}
	return nil
}

func (m *memoryStore) UpsertInfo(_ context.Context, id string, info model.ProjectInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info[id][info.Lang] = info
	return nil
}

func (m *memoryStore) SetPublished(_ context.Context, id string, published bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.projects[id]
	if p.Published == published {
		return false, nil
	}
	p.Published = published
	return true, nil
}

func (m *memoryStore) AddAdmin(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.admins[id][userID] {
		return repository.ErrDuplicate
	}
	m.admins[id][userID] = true
	return nil
}

func (m *memoryStore) RemoveAdmin(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.admins[id], userID)
	return nil
}

type userDirectory map[string]*model.User

func (d userDirectory) FindByUsername(_ context.Context, username string) (*model.User, error) {
	return d[username], nil
}

var (
	root   = access.Principal{UserID: "root-id", Username: "root", Superuser: true}
	admin  = access.Principal{UserID: "admin-id", Username: "admin"}
	member = access.Principal{UserID: "member-id", Username: "member"}
	anon   = access.Anonymous()
)

func newTestService(t *testing.T) (*Service, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	users := userDirectory{
		"root":   {ID: root.UserID, Username: "root"},
		"admin":  {ID: admin.UserID, Username: "admin"},
		"member": {ID: member.UserID, Username: "member"},
	}
	guard := access.NewGuard(access.NewResolver(store), nil)
	return NewService(guard, store, users, locale.NewNegotiator("fi", []string{"fi", "en"})), store
}

func createProject(t *testing.T, svc *Service, id string, published bool) {
	t.Helper()
	_, err := svc.Create(context.Background(), root, CreateInput{
		ID:              id,
		DefaultLanguage: "fi",
		Info:            model.ProjectInfo{Name: "Projekti"},
		Admins:          []string{"admin"},
		Published:       published,
	})
	require.NoError(t, err)
}

func code(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func TestGet_UnpublishedVisibleOnlyToPrivileged(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createProject(t, svc, "parainen", false)

	_, err := svc.Get(ctx, anon, "parainen", "fi")
	assert.Equal(t, model.ErrCodeNotFound, code(err))

	_, err = svc.Get(ctx, member, "parainen", "fi")
	assert.Equal(t, model.ErrCodeNotFound, code(err))

	got, err := svc.Get(ctx, admin, "parainen", "fi")
	require.NoError(t, err)
	assert.Equal(t, "Projekti", got.Info.Name)

	_, err = svc.Get(ctx, root, "parainen", "fi")
	assert.NoError(t, err)
}

func TestGet_IntegrityAnomalyForAnyPrincipal(t *testing.T) {
	svc, store := newTestService(t)
	createProject(t, svc, "broken", true)
	store.missingInfo["broken"] = true

	for _, p := range []access.Principal{anon, member, admin, root} {
		_, err := svc.Get(context.Background(), p, "broken", "fi")
		assert.Equal(t, model.ErrCodeIntegrityAnomaly, code(err), "principal %q", p.Username)
	}
}

func TestCreate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, member, CreateInput{ID: "x", DefaultLanguage: "fi"})
	assert.Equal(t, model.ErrCodeForbidden, code(err))

	_, err = svc.Create(ctx, anon, CreateInput{ID: "x", DefaultLanguage: "fi"})
	assert.Equal(t, model.ErrCodeUnauthenticated, code(err))

	_, err = svc.Create(ctx, root, CreateInput{ID: "x", DefaultLanguage: "de"})
	assert.Equal(t, model.ErrCodeUnsupportedLanguage, code(err))

	_, err = svc.Create(ctx, root, CreateInput{ID: "x", DefaultLanguage: "fi", Admins: []string{"ghost"}})
	assert.Equal(t, model.ErrCodeNotFound, code(err))

	created, err := svc.Create(ctx, root, CreateInput{ID: "x", DefaultLanguage: "fi", Info: model.ProjectInfo{Name: "X"}})
	require.NoError(t, err)
	assert.Equal(t, "fi", created.Info.Lang)
	assert.Equal(t, root.UserID, created.OwnerID)

	_, err = svc.Create(ctx, root, CreateInput{ID: "x", DefaultLanguage: "fi"})
	assert.Equal(t, model.ErrCodeConflict, code(err))
}

func TestPublish_SecondCallIsNotModified(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createProject(t, svc, "p", false)

	require.NoError(t, svc.Publish(ctx, admin, "p", true))
	assert.ErrorIs(t, svc.Publish(ctx, admin, "p", true), model.ErrNotModified)

	err := svc.Publish(ctx, member, "p", false)
	assert.Equal(t, model.ErrCodeForbidden, code(err))
}

func TestDelete_Unpublishes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createProject(t, svc, "p", true)

	require.NoError(t, svc.Delete(ctx, admin, "p"))

	_, err := svc.Get(ctx, anon, "p", "fi")
	assert.Equal(t, model.ErrCodeNotFound, code(err))
	_, err = svc.Get(ctx, admin, "p", "fi")
	assert.NoError(t, err)
}

func TestAdmins_AddTwiceConflictsRemoveIsIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	createProject(t, svc, "p", true)

	require.NoError(t, svc.AddAdmin(ctx, admin, "p", "member"))
	assert.Equal(t, model.ErrCodeConflict, code(svc.AddAdmin(ctx, admin, "p", "member")))
	assert.True(t, store.admins["p"][member.UserID])

	require.NoError(t, svc.RemoveAdmin(ctx, admin, "p", "member"))
	require.NoError(t, svc.RemoveAdmin(ctx, admin, "p", "member"))
	assert.False(t, store.admins["p"][member.UserID])

	assert.Equal(t, model.ErrCodeNotFound, code(svc.AddAdmin(ctx, admin, "p", "ghost")))

	// 管理者でなければ変更できない
	var deny *access.DenyError
	require.ErrorAs(t, svc.AddAdmin(ctx, member, "p", "member"), &deny)
	assert.Equal(t, access.StatusPublished, deny.Status)
}

func TestUpdateInfo_Localizes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createProject(t, svc, "p", true)

	require.NoError(t, svc.UpdateInfo(ctx, admin, "p", model.ProjectInfo{Lang: "en", Name: "Project"}))
	assert.Equal(t, model.ErrCodeUnsupportedLanguage, code(svc.UpdateInfo(ctx, admin, "p", model.ProjectInfo{Lang: "xx"})))

	en, err := svc.Get(ctx, anon, "p", "en")
	require.NoError(t, err)
	assert.Equal(t, "Project", en.Info.Name)

	fi, err := svc.Get(ctx, anon, "p", "fi")
	require.NoError(t, err)
	assert.Equal(t, "Projekti", fi.Info.Name)
}

func TestList_VisibleSet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createProject(t, svc, "public", true)
	createProject(t, svc, "hidden", false)

	visible, err := svc.List(ctx, anon, "fi")
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	visible, err = svc.List(ctx, admin, "fi")
	require.NoError(t, err)
	assert.Len(t, visible, 2)
}
