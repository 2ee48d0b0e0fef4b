package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/muistot/internal/middleware"
	"github.com/hitoshi/muistot/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Me(ctx context.Context, userID string) (*model.User, error)
	ChangeUsername(ctx context.Context, userID, username string) (string, error)
	ChangeEmail(ctx context.Context, userID, email string) (string, error)
	ChangePassword(ctx context.Context, userID, password string) error
	// Withdraw はユーザーの退会処理を実行する。
	Withdraw(ctx context.Context, userID string) error
}

// SessionTerminator はセッションの破棄を行う。
type SessionTerminator interface {
	Logout(ctx context.Context, credential string) error
	LogoutAll(ctx context.Context, userID string) error
}

// UserHandler はログイン中ユーザー自身を操作するHTTPハンドラー。
// すべてのルートはRequireAuthの内側に配置する。
type UserHandler struct {
	service  UserServiceInterface
	sessions SessionTerminator
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, sessions SessionTerminator) *UserHandler {
	return &UserHandler{
		service:  service,
		sessions: sessions,
	}
}

type userResponse struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		Username:  u.Username,
		Email:     u.Email,
		Verified:  u.Verified,
		CreatedAt: u.CreatedAt,
	}
}

// Me は現在のユーザー情報を返す。
// GET /me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Me(r.Context(), middleware.PrincipalFromContext(r.Context()).UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Logout は現在のセッションを破棄する。
// DELETE /me
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), middleware.CredentialFromContext(r.Context())); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll はユーザーの全セッションを破棄する。
// DELETE /me/sessions
func (h *UserHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.LogoutAll(r.Context(), middleware.PrincipalFromContext(r.Context()).UserID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /me/account
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Withdraw(r.Context(), middleware.PrincipalFromContext(r.Context()).UserID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeUsername はユーザー名を変更し、新しいクレデンシャルを返す。
// POST /me/username?username=xxx
func (h *UserHandler) ChangeUsername(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if err := validateVar("username", username, "required,min=3,max=64,excludes=@"); err != nil {
		handleServiceError(w, err)
		return
	}
	h.changeIdentifier(w, r, username, h.service.ChangeUsername)
}

// ChangeEmail はメールアドレスを変更し、新しいクレデンシャルを返す。
// POST /me/email?email=xxx
func (h *UserHandler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if err := validateVar("email", email, "required,email"); err != nil {
		handleServiceError(w, err)
		return
	}
	h.changeIdentifier(w, r, email, h.service.ChangeEmail)
}

func (h *UserHandler) changeIdentifier(w http.ResponseWriter, r *http.Request, value string, fn func(ctx context.Context, userID, value string) (string, error)) {
	credential, err := fn(r.Context(), middleware.PrincipalFromContext(r.Context()).UserID, value)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	setCredential(w, credential)
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword はパスワードを変更する。全セッションが失効する。
// PUT /me/password?password=xxx
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	password := r.URL.Query().Get("password")
	if err := validateVar("password", password, "required,min=8,max=72"); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), middleware.PrincipalFromContext(r.Context()).UserID, password); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
