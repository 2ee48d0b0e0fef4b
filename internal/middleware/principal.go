// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/model"
)

// AuthorizationScheme はAuthorizationヘッダーのスキーム。リクエスト側は大文字小文字を区別しない。
const AuthorizationScheme = "bearer"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	principalContextKey  = contextKey("principal")
	credentialContextKey = contextKey("credential")
)

// Authenticator はクレデンシャルからプリンシパルを解決する。
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (access.Principal, error)
}

// NewPrincipalMiddleware はAuthorizationヘッダーのbearerクレデンシャルを検証し、
// プリンシパルをリクエストコンテキストに注入するミドルウェアを返す。
// ヘッダーがない場合は匿名として続行し、無効なクレデンシャルには401を返す。
func NewPrincipalMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. ヘッダーがなければ匿名
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), access.Anonymous())))
				return
			}

			// 2. スキームとクレデンシャルを分離
			credential, ok := parseBearer(header)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			// 3. クレデンシャルを検証
			principal, err := authenticator.Authenticate(r.Context(), credential)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				slog.Error("failed to authenticate request",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			// 4. プリンシパルとクレデンシャルをコンテキストに注入
			ctx := ContextWithPrincipal(r.Context(), principal)
			ctx = context.WithValue(ctx, credentialContextKey, credential)
			annotateUser(ctx, principal.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseBearer(header string) (string, bool) {
	scheme, credential, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, AuthorizationScheme) {
		return "", false
	}
	credential = strings.TrimSpace(credential)
	return credential, credential != ""
}

// RequireAuth は認証済みでないリクエストに401を返すミドルウェア。
// NewPrincipalMiddlewareの後に配置する。
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !PrincipalFromContext(r.Context()).Authenticated() {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PrincipalFromContext はリクエストコンテキストのプリンシパルを返す。未設定の場合は匿名。
func PrincipalFromContext(ctx context.Context) access.Principal {
	p, ok := ctx.Value(principalContextKey).(access.Principal)
	if !ok {
		return access.Anonymous()
	}
	return p
}

// ContextWithPrincipal はコンテキストにプリンシパルを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p access.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// CredentialFromContext はリクエストで提示されたクレデンシャルを返す。
func CredentialFromContext(ctx context.Context) string {
	credential, _ := ctx.Value(credentialContextKey).(string)
	return credential
}
