package middleware

import (
	"net/http"
	"strings"
)

// NewCORSMiddleware はCORSミドルウェアを返す。
// allowedOriginsはカンマ区切りで複数指定でき、"*"はすべてのオリジンを許可する。
// リクエストのOriginが許可リストにあればそのまま返し、なければAllow-Originを付けない。
// クレデンシャルはAuthorizationヘッダーで受け渡すため、レスポンス側でも公開する。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{})
	var first string
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if first == "" {
			first = o
		}
		allowed[o] = struct{}{}
	}
	_, wildcard := allowed["*"]

	allowOrigin := func(origin string) string {
		switch {
		case wildcard:
			return "*"
		case origin == "":
			// ブラウザ以外のクライアント
			return first
		}
		if _, ok := allowed[origin]; ok {
			return origin
		}
		return ""
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if origin := allowOrigin(r.Header.Get("Origin")); origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept-Language, Content-Language")
				h.Set("Access-Control-Expose-Headers", "Authorization, Content-Language, Location, Retry-After")
				h.Set("Access-Control-Max-Age", "86400")
			}
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
