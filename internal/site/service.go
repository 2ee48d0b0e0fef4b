// Package site はプロジェクト内のサイト（場所）の操作を提供する。
package site

import (
	"context"
	"log/slog"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/model"
	"github.com/hitoshi/muistot/internal/repository"
	"github.com/hitoshi/muistot/internal/security"
)

// Service はサイトのサービス層。
type Service struct {
	guard     *access.Guard
	sites     repository.SiteRepository
	sanitizer security.ContentSanitizer
}

// NewService はServiceを生成する。
func NewService(guard *access.Guard, sites repository.SiteRepository, sanitizer security.ContentSanitizer) *Service {
	return &Service{guard: guard, sites: sites, sanitizer: sanitizer}
}

// List はプロジェクト配下のサイトを返す。
// プロジェクトの管理者とスーパーユーザーには非公開のサイトも含める。
func (s *Service) List(ctx context.Context, p access.Principal, project string) ([]*model.Site, error) {
	return access.Do(ctx, s.guard, access.RequireParentVisible, p, access.Sites(project),
		func(ctx context.Context, parent access.Status) ([]*model.Site, error) {
			return s.sites.List(ctx, project, p.UserID, parent.Privileged() || p.Superuser)
		})
}

// Get はサイトを返す。
func (s *Service) Get(ctx context.Context, p access.Principal, project string, id int64) (*model.Site, error) {
	return access.Do(ctx, s.guard, access.RequirePublishedOrPrivileged, p, access.SiteRef(project, id),
		func(ctx context.Context, _ access.Status) (*model.Site, error) {
			site, err := s.sites.Get(ctx, project, id)
			if err != nil {
				return nil, err
			}
			if site == nil {
				return nil, model.NewNotFoundError("Site")
			}
			return site, nil
		})
}

// CreateInput はサイト作成の入力。
type CreateInput struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// Create はサイトを作成する。管理者が作成したサイトは最初から公開される。
func (s *Service) Create(ctx context.Context, p access.Principal, project string, in CreateInput) (*model.Site, error) {
	if !p.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}

	return access.Do(ctx, s.guard, access.RequireParentVisible, p, access.Sites(project),
		func(ctx context.Context, parent access.Status) (*model.Site, error) {
			site := &model.Site{
				ProjectID: project,
				Name:      s.sanitizer.PlainText(in.Name),
				Latitude:  in.Latitude,
				Longitude: in.Longitude,
				Published: parent.Privileged() || p.Superuser,
				OwnerID:   p.UserID,
				Creator:   p.Username,
			}
			if site.Name == "" {
				return nil, model.NewInvalidRequestError("name is required")
			}
			if err := s.sites.Create(ctx, site); err != nil {
				return nil, err
			}

			slog.Info("site created",
				slog.String("project", project),
				slog.Int64("site_id", site.ID),
				slog.Bool("published", site.Published),
			)
			return site, nil
		})
}

// Publish は公開状態を変更する。既にその状態の場合はmodel.ErrNotModifiedを返す。
func (s *Service) Publish(ctx context.Context, p access.Principal, project string, id int64, published bool) error {
	return access.Run(ctx, s.guard, access.RequireAdmin, p, access.SiteRef(project, id),
		func(ctx context.Context, _ access.Status) error {
			changed, err := s.sites.SetPublished(ctx, id, published)
			if err != nil {
				return err
			}
			if !changed {
				return model.ErrNotModified
			}
			return nil
		})
}

// Delete はサイトを削除する。作成者または管理者のみ実行できる。
func (s *Service) Delete(ctx context.Context, p access.Principal, project string, id int64) error {
	return access.Run(ctx, s.guard, access.RequireOwnOrAdmin, p, access.SiteRef(project, id),
		func(ctx context.Context, _ access.Status) error {
			return s.sites.Delete(ctx, id)
		})
}
