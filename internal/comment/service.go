// Package comment は思い出へのコメントの操作を提供する。
package comment

import (
	"context"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/model"
	"github.com/hitoshi/muistot/internal/repository"
	"github.com/hitoshi/muistot/internal/security"
)

// Service はコメントのサービス層。
type Service struct {
	guard     *access.Guard
	comments  repository.CommentRepository
	sanitizer security.ContentSanitizer
}

// NewService はServiceを生成する。
func NewService(guard *access.Guard, comments repository.CommentRepository, sanitizer security.ContentSanitizer) *Service {
	return &Service{guard: guard, comments: comments, sanitizer: sanitizer}
}

// List は思い出へのコメントを返す。
func (s *Service) List(ctx context.Context, p access.Principal, project string, site, memory int64) ([]*model.Comment, error) {
	return access.Do(ctx, s.guard, access.RequireParentVisible, p, access.Comments(project, site, memory),
		func(ctx context.Context, parent access.Status) ([]*model.Comment, error) {
			return s.comments.List(ctx, memory, p.UserID, parent.Privileged() || p.Superuser)
		})
}

// Get はコメントを返す。
func (s *Service) Get(ctx context.Context, p access.Principal, project string, site, memory, id int64) (*model.Comment, error) {
	return access.Do(ctx, s.guard, access.RequirePublishedOrPrivileged, p, access.CommentRef(project, site, memory, id),
		func(ctx context.Context, _ access.Status) (*model.Comment, error) {
			c, err := s.comments.Get(ctx, memory, id)
			if err != nil {
				return nil, err
			}
			if c == nil {
				return nil, model.NewNotFoundError("Comment")
			}
			return c, nil
		})
}

// Create はコメントを投稿する。管理者のコメントは最初から公開される。
func (s *Service) Create(ctx context.Context, p access.Principal, project string, site, memory int64, body string) (*model.Comment, error) {
	if !p.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}

	return access.Do(ctx, s.guard, access.RequireParentVisible, p, access.Comments(project, site, memory),
		func(ctx context.Context, parent access.Status) (*model.Comment, error) {
			c := &model.Comment{
				MemoryID:  memory,
				Body:      s.sanitizer.Sanitize(body),
				Published: parent.Privileged() || p.Superuser,
				OwnerID:   p.UserID,
				Creator:   p.Username,
			}
			if c.Body == "" {
				return nil, model.NewInvalidRequestError("comment is empty")
			}
			if err := s.comments.Create(ctx, c); err != nil {
				return nil, err
			}
			return c, nil
		})
}

// Publish は公開状態を変更する。既にその状態の場合はmodel.ErrNotModifiedを返す。
func (s *Service) Publish(ctx context.Context, p access.Principal, project string, site, memory, id int64, published bool) error {
	return access.Run(ctx, s.guard, access.RequireAdmin, p, access.CommentRef(project, site, memory, id),
		func(ctx context.Context, _ access.Status) error {
			changed, err := s.comments.SetPublished(ctx, id, published)
			if err != nil {
				return err
			}
			if !changed {
				return model.ErrNotModified
			}
			return nil
		})
}

// Delete はコメントを削除する。作成者または管理者のみ実行できる。
func (s *Service) Delete(ctx context.Context, p access.Principal, project string, site, memory, id int64) error {
	return access.Run(ctx, s.guard, access.RequireOwnOrAdmin, p, access.CommentRef(project, site, memory, id),
		func(ctx context.Context, _ access.Status) error {
			return s.comments.Delete(ctx, id)
		})
}
