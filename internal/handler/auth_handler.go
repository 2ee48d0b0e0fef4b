package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/muistot/internal/auth"
	"github.com/hitoshi/muistot/internal/middleware"
	"github.com/hitoshi/muistot/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	PasswordLogin(ctx context.Context, in auth.PasswordLoginInput) (string, error)
	Register(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	GetLoginURL(state string) (string, error)
	HandleCallback(ctx context.Context, code string) (string, error)
}

// EmailLoginInterface はメールログインのサービスインターフェース。
type EmailLoginInterface interface {
	RequestLogin(ctx context.Context, destination, lang string) error
	Exchange(ctx context.Context, username, token string) (string, error)
	Confirm(ctx context.Context, username, token string) (string, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service    AuthServiceInterface
	emailLogin EmailLoginInterface
	languages  Languages
	config     AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, emailLogin EmailLoginInterface, languages Languages, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:    service,
		emailLogin: emailLogin,
		languages:  languages,
		config:     config,
	}
}

type statusResponse struct {
	Username  string `json:"username"`
	Superuser bool   `json:"superuser"`
}

// Status は現在のクレデンシャルが有効かどうかを返す。
// GET /auth/status
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	if !p.Authenticated() {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Username: p.Username, Superuser: p.Superuser})
}

type passwordLoginRequest struct {
	Username string `json:"username" validate:"omitempty,max=64"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required"`
}

// PasswordLogin はユーザー名またはメールアドレスとパスワードでログインする。
// POST /auth/password
func (h *AuthHandler) PasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req passwordLoginRequest
	if err := decodeValidate(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	credential, err := h.service.PasswordLogin(r.Context(), auth.PasswordLoginInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	setCredential(w, credential)
	w.WriteHeader(http.StatusOK)
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Register はユーザーを登録し、確認メールを送信する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeValidate(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Lang:     h.languages.Resolve(r.Header.Get("Content-Language")),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// Confirm は登録確認トークンを検証し、クレデンシャルを返す。
// POST /auth/confirm?user=xxx&token=yyy
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.exchange(w, r, h.emailLogin.Confirm)
}

// EmailExchange はログイントークンをクレデンシャルに交換する。
// POST /auth/email/exchange?user=xxx&token=yyy
func (h *AuthHandler) EmailExchange(w http.ResponseWriter, r *http.Request) {
	h.exchange(w, r, h.emailLogin.Exchange)
}

func (h *AuthHandler) exchange(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, username, token string) (string, error)) {
	q := r.URL.Query()
	credential, err := fn(r.Context(), q.Get("user"), q.Get("token"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	setCredential(w, credential)
	w.WriteHeader(http.StatusOK)
}

// EmailLogin はログインメールを送信する。宛先はメールアドレスまたはユーザー名。
// メールの言語はContent-Languageヘッダーで指定する。
// POST /auth/email?email=xxx
func (h *AuthHandler) EmailLogin(w http.ResponseWriter, r *http.Request) {
	destination := strings.TrimSpace(r.URL.Query().Get("email"))
	if destination == "" {
		handleServiceError(w, model.NewInvalidRequestError("invalid field: email"))
		return
	}
	if strings.Contains(destination, "@") {
		if err := validateVar("email", destination, "email"); err != nil {
			handleServiceError(w, err)
			return
		}
	}

	lang := h.languages.Resolve(r.Header.Get("Content-Language"))
	if err := h.emailLogin.RequestLogin(r.Context(), destination, lang); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// OAuthLogin はGoogle OAuthフローを開始する。
// GET /auth/oauth/google/login
func (h *AuthHandler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	url, err := h.service.GetLoginURL(state)
	if errors.Is(err, auth.ErrOAuthDisabled) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("OAuth provider"))
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/oauth",
		Domain:   h.config.CookieDomain,
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// OAuthCallback はOAuthコールバックを処理し、クレデンシャルを返す。
// GET /auth/oauth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("invalid state parameter"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/oauth",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("missing authorization code"))
		return
	}

	// 3. 認証処理
	credential, err := h.service.HandleCallback(r.Context(), code)
	if errors.Is(err, auth.ErrOAuthDisabled) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("OAuth provider"))
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	setCredential(w, credential)
	w.WriteHeader(http.StatusOK)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
