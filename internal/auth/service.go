// Package auth はメールログイン、パスワードログイン、OAuth認証、セッションの検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/model"
	"github.com/hitoshi/muistot/internal/repository"
	"github.com/hitoshi/muistot/internal/session"
)

// ErrOAuthDisabled はOAuthプロバイダーが設定されていないことを表す。
var ErrOAuthDisabled = errors.New("oauth provider is not configured")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceDeps はServiceの依存。
type ServiceDeps struct {
	Users      repository.UserRepository
	Sessions   SessionIssuer
	EmailLogin *EmailLogin
	Names      NameGenerator
	OAuth      OAuthProvider // nilの場合OAuthログインは無効
	Recorder   LoginRecorder
	BcryptCost int
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users      repository.UserRepository
	sessions   SessionIssuer
	emailLogin *EmailLogin
	names      NameGenerator
	oauth      OAuthProvider
	recorder   LoginRecorder
	bcryptCost int
}

// NewService はServiceを生成する。
func NewService(deps ServiceDeps) *Service {
	cost := deps.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		users:      deps.Users,
		sessions:   deps.Sessions,
		emailLogin: deps.EmailLogin,
		names:      deps.Names,
		oauth:      deps.OAuth,
		recorder:   recorder,
		bcryptCost: cost,
	}
}

// PasswordLoginInput はパスワードログインの入力。UsernameとEmailはどちらか一方のみを指定する。
type PasswordLoginInput struct {
	Username string
	Email    string
	Password string
}

// PasswordLogin はユーザー名またはメールアドレスとパスワードで認証し、クレデンシャルを返す。
func (s *Service) PasswordLogin(ctx context.Context, in PasswordLoginInput) (string, error) {
	if (in.Username == "") == (in.Email == "") {
		return "", model.NewInvalidRequestError("username と email はどちらか一方を指定してください")
	}

	var (
		user *model.User
		err  error
	)
	if in.Username != "" {
		user, err = s.users.FindByUsername(ctx, in.Username)
	} else {
		user, err = s.users.FindByEmail(ctx, in.Email)
	}
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return "", model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return "", model.NewInvalidCredentialsError()
	}
	if !user.Verified {
		return "", model.NewNotVerifiedError()
	}

	credential, _, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to issue session: %w", err)
	}

	slog.Info("user logged in with password", slog.String("user_id", user.ID))
	return credential, nil
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Lang     string
}

// Register はパスワード付きの未確認ユーザーを作成し、確認メールを送信する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	// 1. 重複チェック
	byName, err := s.users.FindByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	byEmail, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if byName != nil || byEmail != nil {
		return nil, model.NewConflictError("User")
	}

	// 2. パスワードのハッシュ化
	hash, err := HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// 3. ユーザーと確認用トークンの作成、メール送信
	if err := s.emailLogin.Enroll(ctx, user, in.Lang); err != nil {
		return nil, err
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

// HashPassword はパスワードをbcryptでハッシュ化する。
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrOAuthDisabled
	}
	return s.oauth.GetLoginURL(state), nil
}

// HandleCallback はOAuthコールバックを処理し、クレデンシャルを返す。
// 未登録ユーザーの場合はユーザー名を払い出してusersレコードとidentitiesレコードを同時に作成する。
func (s *Service) HandleCallback(ctx context.Context, code string) (string, error) {
	if s.oauth == nil {
		return "", ErrOAuthDisabled
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. identitiesで既存ユーザーを検索
	user, err := s.users.FindByIdentity(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return "", fmt.Errorf("failed to find identity: %w", err)
	}

	if user != nil {
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
	} else {
		// 3. 新規ユーザー: ユーザー名を払い出して作成
		user, err = s.createOAuthUser(ctx, info)
		if err != nil {
			return "", err
		}
	}

	// 4. セッションを発行
	credential, _, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to issue session: %w", err)
	}
	return credential, nil
}

func (s *Service) createOAuthUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	username, err := s.names.Allocate(ctx)
	if err != nil {
		s.recorder.RecordNameGeneratorFailure()
		slog.Warn("username generator failed", slog.String("error", err.Error()))
		return nil, model.NewDependencyUnavailableError("username generator")
	}

	now := time.Now()
	user := &model.User{
		ID:        uuid.New().String(),
		Username:  username,
		Email:     info.Email,
		Verified:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	if err := s.users.CreateWithIdentity(ctx, user, identity); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("User")
		}
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

// Authenticate はクレデンシャルを検証し、プリンシパルを返す。
// クレデンシャルが無効な場合やユーザーが削除済みの場合はUnauthenticatedエラーを返す。
func (s *Service) Authenticate(ctx context.Context, credential string) (access.Principal, error) {
	sess, err := s.sessions.Resolve(ctx, credential)
	if errors.Is(err, session.ErrInvalidCredential) {
		return access.Anonymous(), model.NewUnauthenticatedError()
	}
	if err != nil {
		return access.Anonymous(), err
	}

	user, err := s.users.FindByID(ctx, sess.UserID)
	if err != nil {
		return access.Anonymous(), fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return access.Anonymous(), model.NewUnauthenticatedError()
	}

	return access.Principal{
		UserID:    user.ID,
		Username:  user.Username,
		Superuser: user.Superuser,
	}, nil
}

// Logout はクレデンシャルのセッションを破棄する。
func (s *Service) Logout(ctx context.Context, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return model.NewUnauthenticatedError()
	}
	err := s.sessions.Revoke(ctx, credential)
	if errors.Is(err, session.ErrInvalidCredential) {
		return model.NewUnauthenticatedError()
	}
	return err
}

// LogoutAll はユーザーの全セッションを破棄する。
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return err
	}
	slog.Info("all sessions revoked", slog.String("user_id", userID))
	return nil
}
