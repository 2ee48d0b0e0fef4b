// Package user はログイン中ユーザー自身のアカウント操作を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/muistot/internal/model"
	"github.com/hitoshi/muistot/internal/repository"
)

// SessionIssuer はセッションの発行と一括失効を行う。
type SessionIssuer interface {
	Issue(ctx context.Context, userID string) (string, *model.Session, error)
	RevokeAll(ctx context.Context, userID string) error
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo   repository.UserRepository
	sessions   SessionIssuer
	bcryptCost int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, sessions SessionIssuer, bcryptCost int) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		userRepo:   userRepo,
		sessions:   sessions,
		bcryptCost: bcryptCost,
	}
}

// Me は現在のユーザーを返す。
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// ChangeUsername はユーザー名を変更し、全セッションを失効させて新しいクレデンシャルを返す。
// 現在と同じ値の場合はmodel.ErrNotModifiedを返す。
func (s *Service) ChangeUsername(ctx context.Context, userID, username string) (string, error) {
	return s.changeIdentifier(ctx, userID, "Username",
		func(u *model.User) bool { return u.Username == username },
		func(ctx context.Context) error { return s.userRepo.UpdateUsername(ctx, userID, username) },
	)
}

// ChangeEmail はメールアドレスを変更し、全セッションを失効させて新しいクレデンシャルを返す。
// 現在と同じ値の場合はmodel.ErrNotModifiedを返す。
func (s *Service) ChangeEmail(ctx context.Context, userID, email string) (string, error) {
	return s.changeIdentifier(ctx, userID, "Email",
		func(u *model.User) bool { return u.Email == email },
		func(ctx context.Context) error { return s.userRepo.UpdateEmail(ctx, userID, email) },
	)
}

func (s *Service) changeIdentifier(
	ctx context.Context,
	userID, field string,
	unchanged func(*model.User) bool,
	update func(context.Context) error,
) (string, error) {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return "", err
	}
	if unchanged(user) {
		return "", model.ErrNotModified
	}

	// 1. 更新（重複時はConflict）
	if err := update(ctx); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return "", model.NewConflictError(field)
		}
		return "", fmt.Errorf("%sの変更に失敗しました: %w", field, err)
	}

	// 2. 全セッションを失効させ、新しいセッションを発行
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return "", fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	credential, _, err := s.sessions.Issue(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("セッションの発行に失敗しました: %w", err)
	}

	slog.Info("user identifier changed",
		slog.String("user_id", userID),
		slog.String("field", field),
	)
	return credential, nil
}

// ChangePassword はパスワードを変更し、全セッションを失効させる。
func (s *Service) ChangePassword(ctx context.Context, userID, password string) error {
	if _, err := s.Me(ctx, userID); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	if err := s.userRepo.UpdatePasswordHash(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("パスワードの変更に失敗しました: %w", err)
	}
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	slog.Info("password changed", slog.String("user_id", userID))
	return nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: identities, user_email_verifiers, project_admins）
// 作成したプロジェクト・サイト・思い出・コメントは作成者なしとして残る。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	if _, err := s.Me(ctx, userID); err != nil {
		return err
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. セッションを削除
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	// 2. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)
	return nil
}
