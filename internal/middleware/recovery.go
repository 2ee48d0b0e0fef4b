package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRecoveryMiddleware はpanicを500レスポンスに変換するミドルウェアを生成する。
// loggerがnilの場合はslog.Defaultを使う。
// chiのRequestIDが前段にあれば、ログにrequest_idを含める。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// 接続の中断はnet/httpに任せる
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				args := []any{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				}
				if id := chimw.GetReqID(r.Context()); id != "" {
					args = append(args, slog.String("request_id", id))
				}
				if userID := PrincipalFromContext(r.Context()).UserID; userID != "" {
					args = append(args, slog.String("user_id", userID))
				}
				logger.Error("panic recovered", args...)

				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
