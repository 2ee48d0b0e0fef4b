// Package project はプロジェクトの閲覧・作成・管理を提供する。
// すべての操作はaccess.Guardのポリシー判定を経てからリポジトリを呼び出す。
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/model"
	"github.com/hitoshi/muistot/internal/repository"
)

// UserFinder はユーザー名からユーザーを引く。
type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
}

// Languages は対応言語の判定を提供する。
type Languages interface {
	Supported(lang string) bool
}

// Service はプロジェクトのサービス層。
type Service struct {
	guard     *access.Guard
	projects  repository.ProjectRepository
	users     UserFinder
	languages Languages
}

// NewService はServiceを生成する。
func NewService(guard *access.Guard, projects repository.ProjectRepository, users UserFinder, languages Languages) *Service {
	return &Service{
		guard:     guard,
		projects:  projects,
		users:     users,
		languages: languages,
	}
}

// List はpから見えるプロジェクトの一覧を返す。
func (s *Service) List(ctx context.Context, p access.Principal, lang string) ([]*model.Project, error) {
	projects, err := s.projects.ListVisible(ctx, p, lang)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// Get はプロジェクトをlangの情報付きで返す。
func (s *Service) Get(ctx context.Context, p access.Principal, id, lang string) (*model.Project, error) {
	return access.Do(ctx, s.guard, access.RequirePublishedOrPrivileged, p, access.ProjectRef(id),
		func(ctx context.Context, _ access.Status) (*model.Project, error) {
			project, err := s.projects.Get(ctx, id, lang)
			if err != nil {
				return nil, err
			}
			if project == nil {
				return nil, model.NewNotFoundError("Project")
			}
			return project, nil
		})
}

// CreateInput はプロジェクト作成の入力。
type CreateInput struct {
	ID              string
	DefaultLanguage string
	Info            model.ProjectInfo
	Admins          []string // ユーザー名
	Published       bool
}

// Create はプロジェクトを作成する。スーパーユーザーのみ実行できる。
func (s *Service) Create(ctx context.Context, p access.Principal, in CreateInput) (*model.Project, error) {
	if !p.Authenticated() {
		return nil, model.NewUnauthenticatedError()
	}
	if !p.Superuser {
		return nil, model.NewForbiddenError("superuser required")
	}

	return access.Do(ctx, s.guard, access.RequireNotExists, p, access.ProjectRef(in.ID),
		func(ctx context.Context, _ access.Status) (*model.Project, error) {
			// 1. 言語の検証
			if !s.languages.Supported(in.DefaultLanguage) {
				return nil, model.NewUnsupportedLanguageError(in.DefaultLanguage)
			}

			// 2. 管理者の解決
			adminIDs, err := s.resolveUsers(ctx, in.Admins)
			if err != nil {
				return nil, err
			}

			// 3. 作成
			info := in.Info
			info.Lang = in.DefaultLanguage
			project := &model.Project{
				ID:              in.ID,
				Published:       in.Published,
				DefaultLanguage: in.DefaultLanguage,
				OwnerID:         p.UserID,
				Info:            info,
				Admins:          in.Admins,
			}
			if err := s.projects.Create(ctx, project, adminIDs); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return nil, model.NewConflictError("Project")
				}
				return nil, fmt.Errorf("failed to create project: %w", err)
			}

			slog.Info("project created",
				slog.String("project", project.ID),
				slog.String("user_id", p.UserID),
			)
			return project, nil
		})
}

func (s *Service) resolveUsers(ctx context.Context, usernames []string) ([]string, error) {
	ids := make([]string, 0, len(usernames))
	for _, name := range usernames {
		id, err := s.resolveUser(ctx, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Service) resolveUser(ctx context.Context, username string) (string, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return "", model.NewNotFoundError("User")
	}
	return user.ID, nil
}

// UpdateInfo は言語別情報を作成または更新する。
func (s *Service) UpdateInfo(ctx context.Context, p access.Principal, id string, info model.ProjectInfo) error {
	return access.Run(ctx, s.guard, access.RequireAdmin, p, access.ProjectRef(id),
		func(ctx context.Context, _ access.Status) error {
			if !s.languages.Supported(info.Lang) {
				return model.NewUnsupportedLanguageError(info.Lang)
			}
			return s.projects.UpsertInfo(ctx, id, info)
		})
}

// Delete はプロジェクトを非公開にする。データは削除しない。
func (s *Service) Delete(ctx context.Context, p access.Principal, id string) error {
	return access.Run(ctx, s.guard, access.RequireAdmin, p, access.ProjectRef(id),
		func(ctx context.Context, _ access.Status) error {
			_, err := s.projects.SetPublished(ctx, id, false)
			return err
		})
}

// Publish は公開状態を変更する。既にその状態の場合はmodel.ErrNotModifiedを返す。
func (s *Service) Publish(ctx context.Context, p access.Principal, id string, published bool) error {
	return access.Run(ctx, s.guard, access.RequireAdmin, p, access.ProjectRef(id),
		func(ctx context.Context, _ access.Status) error {
			changed, err := s.projects.SetPublished(ctx, id, published)
			if err != nil {
				return err
			}
			if !changed {
				return model.ErrNotModified
			}
			return nil
		})
}

// AddAdmin は管理者を追加する。既に管理者の場合はConflictを返す。
func (s *Service) AddAdmin(ctx context.Context, p access.Principal, id, username string) error {
	return access.Run(ctx, s.guard, access.RequireAdmin, p, access.ProjectRef(id),
		func(ctx context.Context, _ access.Status) error {
			userID, err := s.resolveUser(ctx, username)
			if err != nil {
				return err
			}
			if err := s.projects.AddAdmin(ctx, id, userID); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return model.NewConflictError("Admin")
				}
				return err
			}
			return nil
		})
}

// RemoveAdmin は管理者を削除する。管理者でない場合も成功する。
func (s *Service) RemoveAdmin(ctx context.Context, p access.Principal, id, username string) error {
	return access.Run(ctx, s.guard, access.RequireAdmin, p, access.ProjectRef(id),
		func(ctx context.Context, _ access.Status) error {
			userID, err := s.resolveUser(ctx, username)
			if err != nil {
				return err
			}
			return s.projects.RemoveAdmin(ctx, id, userID)
		})
}
