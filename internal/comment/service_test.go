package comment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/model"
	"github.com/hitoshi/muistot/internal/security"
)

type fakeFacts map[access.Ref]access.Facts

func (f fakeFacts) Facts(_ context.Context, r access.Ref) (access.Facts, error) {
	return f[r], nil
}

func (f fakeFacts) IsProjectAdmin(_ context.Context, _, userID string) (bool, error) {
	return userID == admin.UserID, nil
}

type fakeCommentRepo struct {
	created    []*model.Comment
	listHidden bool
	published  map[int64]bool
	deleted    []int64
}

func (r *fakeCommentRepo) Get(_ context.Context, memory, id int64) (*model.Comment, error) {
	return &model.Comment{ID: id, MemoryID: memory}, nil
}

func (r *fakeCommentRepo) List(_ context.Context, _ int64, _ string, includeHidden bool) ([]*model.Comment, error) {
	r.listHidden = includeHidden
	return nil, nil
}

func (r *fakeCommentRepo) Create(_ context.Context, c *model.Comment) error {
	c.ID = int64(len(r.created) + 1)
	r.created = append(r.created, c)
	return nil
}

func (r *fakeCommentRepo) SetPublished(_ context.Context, id int64, published bool) (bool, error) {
	if r.published[id] == published {
		return false, nil
	}
	r.published[id] = published
	return true, nil
}

func (r *fakeCommentRepo) Delete(_ context.Context, id int64) error {
	r.deleted = append(r.deleted, id)
	return nil
}

var (
	admin  = access.Principal{UserID: "admin-id", Username: "admin"}
	owner  = access.Principal{UserID: "owner-id", Username: "owner"}
	member = access.Principal{UserID: "member-id", Username: "member"}
	anon   = access.Anonymous()
)

func newTestService() (*Service, *fakeCommentRepo) {
	facts := fakeFacts{
		access.ProjectRef("p"):             {Exists: true, Published: true},
		access.SiteRef("p", 1):             {Exists: true, Published: true},
		access.MemoryRef("p", 1, 10):       {Exists: true, Published: true},
		access.MemoryRef("p", 1, 11):       {Exists: true, Published: false, OwnerID: owner.UserID},
		access.CommentRef("p", 1, 10, 100): {Exists: true, Published: false, OwnerID: owner.UserID},
	}
	repo := &fakeCommentRepo{published: map[int64]bool{}}
	guard := access.NewGuard(access.NewResolver(facts), nil)
	return NewService(guard, repo, security.NewContentSanitizer()), repo
}

func code(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func TestCreate(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	c, err := svc.Create(ctx, member, "p", 1, 10, `hieno <a href="javascript:x()">kuva</a>`)
	require.NoError(t, err)
	assert.NotContains(t, c.Body, "javascript")
	assert.False(t, c.Published)

	c, err = svc.Create(ctx, admin, "p", 1, 10, "kiitos")
	require.NoError(t, err)
	assert.True(t, c.Published)

	_, err = svc.Create(ctx, member, "p", 1, 10, "<script></script>")
	assert.Equal(t, model.ErrCodeInvalidRequest, code(err))

	// 非公開の思い出は作成者以外には存在しない
	_, err = svc.Create(ctx, member, "p", 1, 11, "x")
	assert.Equal(t, model.ErrCodeNotFound, code(err))
	assert.Contains(t, err.Error(), "Memory not found")

	_, err = svc.Create(ctx, owner, "p", 1, 11, "oma")
	require.NoError(t, err)

	assert.Len(t, repo.created, 3)
}

func TestGetListPublishDelete(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	_, err := svc.Get(ctx, anon, "p", 1, 10, 100)
	assert.Equal(t, model.ErrCodeNotFound, code(err))
	_, err = svc.Get(ctx, owner, "p", 1, 10, 100)
	assert.NoError(t, err)

	_, err = svc.List(ctx, admin, "p", 1, 10)
	require.NoError(t, err)
	assert.True(t, repo.listHidden)

	require.NoError(t, svc.Publish(ctx, admin, "p", 1, 10, 100, true))
	assert.ErrorIs(t, svc.Publish(ctx, admin, "p", 1, 10, 100, true), model.ErrNotModified)

	assert.Equal(t, model.ErrCodeNotFound, code(svc.Delete(ctx, member, "p", 1, 10, 100)))
	require.NoError(t, svc.Delete(ctx, admin, "p", 1, 10, 100))
	assert.Equal(t, []int64{100}, repo.deleted)
}
