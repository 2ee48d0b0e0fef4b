package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/muistot/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	HTTPRecorder      middleware.HTTPRecorder

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	EmailLogin  EmailLoginInterface
	Sessions    SessionTerminator
	AuthConfig  AuthHandlerConfig
	Languages   Languages

	// ユーザー
	UserService UserServiceInterface

	// コンテンツ
	ProjectService ProjectServiceInterface
	SiteService    SiteServiceInterface
	MemoryService  MemoryServiceInterface
	CommentService CommentServiceInterface
	AccessChecker  AccessChecker
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → RealIP → Logging → SecurityHeaders → CORS → Principal → RateLimit(General)
//
// /health と /metrics は認証とレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.EmailLogin, deps.Languages, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.Sessions)
	projectHandler := NewProjectHandler(deps.ProjectService, deps.Languages)
	siteHandler := NewSiteHandler(deps.SiteService)
	memoryHandler := NewMemoryHandler(deps.MemoryService)
	commentHandler := NewCommentHandler(deps.CommentService)
	accessHandler := NewAccessHandler(deps.AccessChecker)

	// --- API ---
	// ミドルウェアスタック: Principal → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewPrincipalMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/auth", func(r chi.Router) {
			r.Get("/status", authHandler.Status)
			r.Post("/password", authHandler.PasswordLogin)
			r.Post("/register", authHandler.Register)
			r.Post("/confirm", authHandler.Confirm)

			// POST /auth/email - メールログイン（送信専用レート制限を追加）
			r.With(deps.RateLimiter.EmailLoginMiddleware()).Post("/email", authHandler.EmailLogin)
			r.Post("/email/exchange", authHandler.EmailExchange)

			r.Get("/oauth/google/login", authHandler.OAuthLogin)
			r.Get("/oauth/google/callback", authHandler.OAuthCallback)
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(middleware.RequireAuth)

			r.Get("/", userHandler.Me)
			r.Delete("/", userHandler.Logout)
			r.Delete("/sessions", userHandler.LogoutAll)
			r.Delete("/account", userHandler.Withdraw)
			r.Post("/username", userHandler.ChangeUsername)
			r.Post("/email", userHandler.ChangeEmail)
			r.Put("/password", userHandler.ChangePassword)
		})

		r.Get("/access/{policy}", accessHandler.Check)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", projectHandler.List)
			r.Post("/", projectHandler.Create)

			r.Route("/{project}", func(r chi.Router) {
				r.Get("/", projectHandler.Get)
				r.Patch("/", projectHandler.Modify)
				r.Delete("/", projectHandler.Delete)
				r.Post("/publish", projectHandler.Publish)
				r.Post("/admins", projectHandler.AddAdmin)
				r.Delete("/admins", projectHandler.RemoveAdmin)

				r.Route("/sites", func(r chi.Router) {
					r.Get("/", siteHandler.List)
					r.Post("/", siteHandler.Create)

					r.Route("/{site}", func(r chi.Router) {
						r.Get("/", siteHandler.Get)
						r.Delete("/", siteHandler.Delete)
						r.Post("/publish", siteHandler.Publish)

						r.Route("/memories", func(r chi.Router) {
							r.Get("/", memoryHandler.List)
							r.Post("/", memoryHandler.Create)

							r.Route("/{memory}", func(r chi.Router) {
								r.Get("/", memoryHandler.Get)
								r.Patch("/", memoryHandler.Modify)
								r.Delete("/", memoryHandler.Delete)
								r.Post("/publish", memoryHandler.Publish)

								r.Route("/comments", func(r chi.Router) {
									r.Get("/", commentHandler.List)
									r.Post("/", commentHandler.Create)

									r.Route("/{comment}", func(r chi.Router) {
										r.Get("/", commentHandler.Get)
										r.Delete("/", commentHandler.Delete)
										r.Post("/publish", commentHandler.Publish)
									})
								})
							})
						})
					})
				})
			})
		})
	})

	return r
}
