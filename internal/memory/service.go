// Package memory はサイトに投稿された思い出の操作を提供する。
package memory

import (
	"context"
	"log/slog"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/model"
	"github.com/hitoshi/muistot/internal/repository"
	"github.com/hitoshi/muistot/internal/security"
)

// Service は思い出のサービス層。
type Service struct {
	guard     *access.Guard
	memories  repository.MemoryRepository
	sanitizer security.ContentSanitizer
}

// NewService はServiceを生成する。
func NewService(guard *access.Guard, memories repository.MemoryRepository, sanitizer security.ContentSanitizer) *Service {
	return &Service{guard: guard, memories: memories, sanitizer: sanitizer}
}

// List はサイト配下の思い出を返す。
// 管理者とスーパーユーザーには非公開の思い出も含め、それ以外は公開済みと自分の投稿のみ。
func (s *Service) List(ctx context.Context, p access.Principal, project string, site int64) ([]*model.Memory, error) {
	return access.Do(ctx, s.guard, access.RequireParentVisible, p, access.Memories(project, site),
		func(ctx context.Context, parent access.Status) ([]*model.Memory, error) {
			return s.memories.List(ctx, site, p.UserID, parent.Privileged() || p.Superuser)
		})
}

// Get は思い出を返す。
func (s *Service) Get(ctx context.Context, p access.Principal, project string, site, id int64) (*model.Memory, error) {
	return access.Do(ctx, s.guard, access.RequirePublishedOrPrivileged, p, access.MemoryRef(project, site, id),
		func(ctx context.Context, _ access.Status) (*model.Memory, error) {
			memory, err := s.memories.Get(ctx, site, id)
			if err != nil {
				return nil, err
			}
			if memory == nil {
				return nil, model.NewNotFoundError("Memory")
			}
			return memory, nil
		})
}

// Input は思い出の作成・更新の入力。
type Input struct {
	Title string
	Story string
}

func (s *Service) clean(in Input) (Input, error) {
	out := Input{
		Title: s.sanitizer.PlainText(in.Title),
		Story: s.sanitizer.Sanitize(in.Story),
	}
	if out.Title == "" {
		return out, model.NewInvalidRequestError("title is required")
	}
	return out, nil
}

// Create は思い出を投稿する。管理者の投稿は最初から公開される。
func (s *Service) Create(ctx context.Context, p access.Principal, project string, site int64, in Input) (*model.Memory, error) {
	if !p.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}

	return access.Do(ctx, s.guard, access.RequireParentVisible, p, access.Memories(project, site),
		func(ctx context.Context, parent access.Status) (*model.Memory, error) {
			cleaned, err := s.clean(in)
			if err != nil {
				return nil, err
			}
			memory := &model.Memory{
				SiteID:    site,
				Title:     cleaned.Title,
				Story:     cleaned.Story,
				Published: parent.Privileged() || p.Superuser,
				OwnerID:   p.UserID,
				Creator:   p.Username,
			}
			if err := s.memories.Create(ctx, memory); err != nil {
				return nil, err
			}

			slog.Info("memory created",
				slog.String("project", project),
				slog.Int64("site_id", site),
				slog.Int64("memory_id", memory.ID),
			)
			return memory, nil
		})
}

// Update はタイトルと本文を更新する。作成者のみ実行できる。
func (s *Service) Update(ctx context.Context, p access.Principal, project string, site, id int64, in Input) error {
	return access.Run(ctx, s.guard, access.RequireOwn, p, access.MemoryRef(project, site, id),
		func(ctx context.Context, _ access.Status) error {
			cleaned, err := s.clean(in)
			if err != nil {
				return err
			}
			return s.memories.Update(ctx, &model.Memory{ID: id, SiteID: site, Title: cleaned.Title, Story: cleaned.Story})
		})
}

// Publish は公開状態を変更する。既にその状態の場合はmodel.ErrNotModifiedを返す。
func (s *Service) Publish(ctx context.Context, p access.Principal, project string, site, id int64, published bool) error {
	return access.Run(ctx, s.guard, access.RequireAdmin, p, access.MemoryRef(project, site, id),
		func(ctx context.Context, _ access.Status) error {
			changed, err := s.memories.SetPublished(ctx, id, published)
			if err != nil {
				return err
			}
			if !changed {
				return model.ErrNotModified
			}
			return nil
		})
}

// Delete は思い出を削除する。作成者または管理者のみ実行できる。
func (s *Service) Delete(ctx context.Context, p access.Principal, project string, site, id int64) error {
	return access.Run(ctx, s.guard, access.RequireOwnOrAdmin, p, access.MemoryRef(project, site, id),
		func(ctx context.Context, _ access.Status) error {
			return s.memories.Delete(ctx, id)
		})
}
