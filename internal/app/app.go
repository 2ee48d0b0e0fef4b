package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/auth"
	"github.com/hitoshi/muistot/internal/cache"
	"github.com/hitoshi/muistot/internal/comment"
	"github.com/hitoshi/muistot/internal/config"
	"github.com/hitoshi/muistot/internal/database"
	"github.com/hitoshi/muistot/internal/handler"
	"github.com/hitoshi/muistot/internal/locale"
	"github.com/hitoshi/muistot/internal/logger"
	"github.com/hitoshi/muistot/internal/mailer"
	"github.com/hitoshi/muistot/internal/memory"
	"github.com/hitoshi/muistot/internal/metrics"
	"github.com/hitoshi/muistot/internal/middleware"
	"github.com/hitoshi/muistot/internal/namegen"
	"github.com/hitoshi/muistot/internal/project"
	"github.com/hitoshi/muistot/internal/repository"
	"github.com/hitoshi/muistot/internal/security"
	"github.com/hitoshi/muistot/internal/session"
	"github.com/hitoshi/muistot/internal/site"
	"github.com/hitoshi/muistot/internal/user"
	"github.com/hitoshi/muistot/internal/worker/cleanup"
)

// throttlePrefix はメール送信制限キーの接頭辞。
const throttlePrefix = "muistot:email:"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandFlushCache:
		return runFlushCache(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// newRegistry はプロセス・ランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// rateLimiterConfig は設定値（req/min）からレート制限設定を組み立てる。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitEmailLogin > 0 {
		rl.EmailLoginRate = rate.Limit(float64(cfg.RateLimitEmailLogin) / 60.0)
		rl.EmailLoginBurst = cfg.RateLimitEmailLogin
	}
	return rl
}

// buildRouter は全依存関係をワイヤリングし、APIのルーターを返す。
// 返されたRateLimiterはサーバー停止時にStopすること。
func buildRouter(cfg *config.Config, db *sql.DB, rdb *redis.Client, reg *prometheus.Registry) (http.Handler, *middleware.RateLimiter, error) {
	log := slog.Default()

	// 1. メトリクス
	collector := metrics.NewCollector(reg)

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	verifierRepo := repository.NewPostgresVerifierRepo(db)
	projectRepo := repository.NewPostgresProjectRepo(db)
	siteRepo := repository.NewPostgresSiteRepo(db)
	memoryRepo := repository.NewPostgresMemoryRepo(db)
	commentRepo := repository.NewPostgresCommentRepo(db)
	statusRepo := repository.NewPostgresStatusRepo(db)

	// 3. 外部サービスの初期化
	mail, err := mailer.New(cfg.MailerDriver, log)
	if err != nil {
		return nil, nil, err
	}
	names := namegen.NewClient(cfg.NamegenURL, &http.Client{Timeout: cfg.NamegenTimeout}, log)
	throttle := cache.NewThrottle(rdb, throttlePrefix)
	languages := locale.NewNegotiator(cfg.LocalizationDefault, cfg.LocalizationSupported)

	// 4. アクセス制御
	guard := access.NewGuard(access.NewResolver(statusRepo), collector)

	// 5. 認証の初期化
	issuer := session.NewIssuer(sessionRepo, session.Config{
		Secret:     []byte(cfg.SessionSecret),
		MaxAge:     cfg.SessionDuration(),
		TokenBytes: cfg.SessionTokenBytes,
	})
	emailLogin := auth.NewEmailLogin(auth.EmailLoginDeps{
		Users:     userRepo,
		Verifiers: verifierRepo,
		Throttle:  throttle,
		Names:     names,
		Mailer:    mail,
		Sessions:  issuer,
		Recorder:  collector,
		Logger:    log,
	}, auth.EmailLoginConfig{
		TokenTTL:   cfg.EmailTokenTTL,
		Cooldown:   cfg.EmailLoginCooldown,
		TokenBytes: cfg.EmailTokenBytes,
	})

	// 設定が揃っていない場合はOAuthログインを無効にする
	var oauthProvider auth.OAuthProvider
	if cfg.GoogleOAuthEnabled() {
		oauthProvider = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}, &http.Client{Timeout: 10 * time.Second})
	}

	authService := auth.NewService(auth.ServiceDeps{
		Users:      userRepo,
		Sessions:   issuer,
		EmailLogin: emailLogin,
		Names:      names,
		OAuth:      oauthProvider,
		Recorder:   collector,
		BcryptCost: cfg.BcryptCost,
	})

	// 6. ドメインサービスの初期化
	sanitizer := security.NewContentSanitizer()
	userService := user.NewService(userRepo, issuer, cfg.BcryptCost)
	projectService := project.NewService(guard, projectRepo, userRepo, languages)
	siteService := site.NewService(guard, siteRepo, sanitizer)
	memoryService := memory.NewService(guard, memoryRepo, sanitizer)
	commentService := comment.NewService(guard, commentRepo, sanitizer)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))

	deps := &handler.RouterDeps{
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            log,
		HTTPRecorder:      collector,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		EmailLogin:  emailLogin,
		Sessions:    authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
		Languages: languages,

		UserService: userService,

		ProjectService: projectService,
		SiteService:    siteService,
		MemoryService:  memoryService,
		CommentService: commentService,
		AccessChecker:  guard,
	}

	return handler.NewRouter(deps), rateLimiter, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. Redis接続（到達できなくても起動し、送信制限の判定時に503を返す）
	rdb, err := cache.Open(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis is not reachable", slog.String("error", err.Error()))
	}
	cancelPing()

	// 3. ルーターの構築
	router, rateLimiter, err := buildRouter(cfg, db, rdb, newRegistry())
	if err != nil {
		return err
	}
	defer rateLimiter.Stop()

	if !cfg.GoogleOAuthEnabled() {
		slog.Info("google oauth login is disabled")
	}

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// serveUntilSignal はserverを起動し、SIGINTまたはSIGTERMを受信するとグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s listen error: %w", name, err)
	case <-stop:
	}

	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// newWorkerRouter はワーカーの運用エンドポイント（/health と /metrics）を返す。
func newWorkerRouter(db handler.HealthChecker, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(slog.Default()))
	r.Get("/health", handler.NewHealthHandler(db))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	return r
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、クリーンアップジョブを定期実行する。
// 削除件数は/metricsで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクスとジョブの初期化
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	job := cleanup.NewJob(db, slog.Default(), collector)
	job.VerifierRetention = cfg.VerifierRetention

	// 3. グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	// 4. 運用エンドポイントの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newWorkerRouter(db, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("verifier_retention", cfg.VerifierRetention),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runFlushCache はメール送信制限のキャッシュを消去する。
// 全宛先への再送信がただちに可能になる。
func runFlushCache(cfg *config.Config) error {
	rdb, err := cache.Open(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := cache.NewThrottle(rdb, throttlePrefix).Flush(ctx); err != nil {
		return err
	}

	slog.Info("email throttle cache flushed")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
