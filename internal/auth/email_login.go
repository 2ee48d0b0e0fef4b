package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/muistot/internal/mailer"
	"github.com/hitoshi/muistot/internal/model"
	"github.com/hitoshi/muistot/internal/repository"
	"github.com/hitoshi/muistot/internal/session"
)

// EmailLoginの結果ラベル（メトリクス用）
const (
	ResultSent        = "sent"
	ResultRateLimited = "rate_limited"
	ResultUnavailable = "unavailable"
	ResultNotFound    = "not_found"
	ResultExchanged   = "exchanged"
	ResultError       = "error"
)

// Throttle は宛先ごとの送信間隔制限を提供する。
type Throttle interface {
	// Acquire はkeyが制限中でなければttlの間制限し、trueを返す。
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release はkeyの制限を解除する。
	Release(ctx context.Context, key string) error
}

// NameGenerator は新規ユーザーのユーザー名を払い出す外部サービス。
type NameGenerator interface {
	Allocate(ctx context.Context) (string, error)
}

// SessionIssuer はセッションの発行・検証・失効を行う。
type SessionIssuer interface {
	Issue(ctx context.Context, userID string) (string, *model.Session, error)
	// Prepare は署名済みクレデンシャルと未保存のセッションを返す。
	Prepare(userID string) (string, *model.Session, error)
	Resolve(ctx context.Context, credential string) (*model.Session, error)
	Revoke(ctx context.Context, credential string) error
	RevokeAll(ctx context.Context, userID string) error
}

// LoginRecorder はメールログインの結果を記録する。
type LoginRecorder interface {
	RecordEmailLogin(result string)
	RecordTokenExchange(result string)
	RecordNameGeneratorFailure()
}

type nopRecorder struct{}

func (nopRecorder) RecordEmailLogin(string)     {}
func (nopRecorder) RecordTokenExchange(string)  {}
func (nopRecorder) RecordNameGeneratorFailure() {}

// EmailLoginConfig はメールログインの設定。
type EmailLoginConfig struct {
	TokenTTL   time.Duration // トークンの有効期間
	Cooldown   time.Duration // 同一宛先への再送信禁止期間
	TokenBytes int
}

// EmailLoginDeps はEmailLoginの依存。
type EmailLoginDeps struct {
	Users     repository.UserRepository
	Verifiers repository.VerifierRepository
	Throttle  Throttle
	Names     NameGenerator
	Mailer    mailer.Mailer
	Sessions  SessionIssuer
	Recorder  LoginRecorder
	Logger    *slog.Logger
}

// EmailLogin はメールで送るワンタイムトークンによるログインを提供する。
//
// トークンはハッシュのみを保存し、交換時は提示されたトークンのハッシュと比較する。
// 未消費かつ有効期間内のトークンはすべて個別に有効で、新しいトークンの発行で古いものは無効化されない。
type EmailLogin struct {
	users     repository.UserRepository
	verifiers repository.VerifierRepository
	throttle  Throttle
	names     NameGenerator
	mail      mailer.Mailer
	sessions  SessionIssuer
	recorder  LoginRecorder
	logger    *slog.Logger
	cfg       EmailLoginConfig
	now       func() time.Time
}

// NewEmailLogin はEmailLoginを生成する。
func NewEmailLogin(deps EmailLoginDeps, cfg EmailLoginConfig) *EmailLogin {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 5 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.TokenBytes <= 0 {
		cfg.TokenBytes = 32
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailLogin{
		users:     deps.Users,
		verifiers: deps.Verifiers,
		throttle:  deps.Throttle,
		names:     deps.Names,
		mail:      deps.Mailer,
		sessions:  deps.Sessions,
		recorder:  recorder,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// RequestLogin はログイン用トークンを発行してメールで送信する。
// destinationはメールアドレスまたはユーザー名。未登録のメールアドレスの場合はユーザーを自動作成する。
func (e *EmailLogin) RequestLogin(ctx context.Context, destination, lang string) error {
	err := e.requestLogin(ctx, strings.TrimSpace(destination), lang)
	e.recorder.RecordEmailLogin(loginResult(err))
	return err
}

func (e *EmailLogin) requestLogin(ctx context.Context, destination, lang string) error {
	if destination == "" {
		return model.NewInvalidRequestError("email is required")
	}

	// メールアドレスは大文字小文字を区別しない
	byEmail := strings.Contains(destination, "@")
	if byEmail {
		destination = strings.ToLower(destination)
	}

	// 1. 宛先の送信間隔制限（確認と記録を1操作で行う）
	var held []string
	release := func() {
		for _, key := range held {
			if err := e.throttle.Release(ctx, key); err != nil {
				e.logger.Warn("failed to release email throttle",
					slog.String("error", err.Error()),
				)
			}
		}
	}
	acquire := func(key string) error {
		acquired, err := e.throttle.Acquire(ctx, key, e.cfg.Cooldown)
		if err != nil {
			e.logger.Error("email throttle is unavailable",
				slog.String("error", err.Error()),
			)
			return model.NewDependencyUnavailableError("cache")
		}
		if !acquired {
			return model.NewRateLimitedError()
		}
		held = append(held, key)
		return nil
	}

	destKey := emailThrottleKey(destination)
	if !byEmail {
		destKey = "email-login:user:" + strings.ToLower(destination)
	}
	if err := acquire(destKey); err != nil {
		return err
	}

	// 2. ユーザー名指定の場合は宛先のメールアドレスを解決し、そのアドレスも制限する
	var user *model.User
	email := destination
	if !byEmail {
		found, err := e.users.FindByUsername(ctx, destination)
		if err != nil {
			release()
			return fmt.Errorf("failed to find user: %w", err)
		}
		if found == nil {
			release()
			return model.NewUserNotFoundError()
		}
		user = found
		email = strings.ToLower(found.Email)
		if err := acquire(emailThrottleKey(email)); err != nil {
			release()
			return err
		}
	}

	// 3. トークンの発行と送信
	if err := e.issueLogin(ctx, user, email, lang); err != nil {
		// 失敗時は再試行できるよう制限を解除する
		release()
		return err
	}
	return nil
}

func emailThrottleKey(email string) string {
	return "email-login:" + email
}

// issueLogin はトークンを保存してメールを送信する。userがnilの場合はemailで検索し、なければ作成する。
func (e *EmailLogin) issueLogin(ctx context.Context, user *model.User, email, lang string) error {
	if user == nil {
		found, err := e.users.FindByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("failed to find user: %w", err)
		}
		user = found
	}

	token, verifier, err := e.newVerifier(model.PurposeLogin)
	if err != nil {
		return err
	}

	if user == nil {
		created, err := e.createUser(ctx, email, verifier)
		if err != nil {
			return err
		}
		user = created
	} else {
		verifier.UserID = user.ID
		if err := e.verifiers.Create(ctx, verifier); err != nil {
			return fmt.Errorf("failed to store login token: %w", err)
		}
	}

	return e.send(ctx, mailer.TemplateLogin, user, token, lang)
}

// createUser は払い出したユーザー名で未確認ユーザーを作成する。
// ユーザーとトークンは同一トランザクションで作成し、失敗時は何も残さない。
func (e *EmailLogin) createUser(ctx context.Context, email string, verifier *model.EmailVerifier) (*model.User, error) {
	username, err := e.names.Allocate(ctx)
	if err != nil {
		e.recorder.RecordNameGeneratorFailure()
		e.logger.Warn("username generator failed",
			slog.String("error", err.Error()),
		)
		return nil, model.NewDependencyUnavailableError("username generator")
	}

	now := e.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Username:  username,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	verifier.UserID = user.ID

	if err := e.users.CreateWithVerifier(ctx, user, verifier); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// 払い出されたユーザー名が既に使われている
			return nil, model.NewDependencyUnavailableError("username generator")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	e.logger.Info("new user created by email login",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Enroll は登録ユーザーを作成し、メールアドレス確認用のトークンを送信する。
func (e *EmailLogin) Enroll(ctx context.Context, user *model.User, lang string) error {
	token, verifier, err := e.newVerifier(model.PurposeVerify)
	if err != nil {
		return err
	}
	verifier.UserID = user.ID

	if err := e.users.CreateWithVerifier(ctx, user, verifier); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return model.NewConflictError("User")
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return e.send(ctx, mailer.TemplateVerify, user, token, lang)
}

func (e *EmailLogin) newVerifier(purpose model.Purpose) (string, *model.EmailVerifier, error) {
	token, err := session.NewToken(e.cfg.TokenBytes)
	if err != nil {
		return "", nil, err
	}
	return token, &model.EmailVerifier{
		TokenHash: HashToken(token),
		Purpose:   purpose,
		CreatedAt: e.now(),
	}, nil
}

func (e *EmailLogin) send(ctx context.Context, template string, user *model.User, token, lang string) error {
	payload := mailer.Payload{
		Token:    token,
		User:     user.Username,
		Verified: user.Verified,
		Lang:     lang,
	}
	if err := e.mail.Send(ctx, template, user.Email, payload); err != nil {
		e.logger.Error("failed to send email",
			slog.String("template", template),
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return model.NewDependencyUnavailableError("mailer")
	}
	return nil
}

// Exchange はログイン用トークンをセッションのクレデンシャルに交換する。
// トークンの誤り・期限切れ・消費済み・ユーザー不在はすべて同じNotFoundエラーになる。
func (e *EmailLogin) Exchange(ctx context.Context, username, token string) (string, error) {
	credential, err := e.exchange(ctx, username, token, model.PurposeLogin)
	e.recorder.RecordTokenExchange(exchangeResult(err))
	return credential, err
}

// Confirm は登録時に送信した確認用トークンを消費し、メールアドレスを確認済みにしてログインする。
func (e *EmailLogin) Confirm(ctx context.Context, username, token string) (string, error) {
	return e.exchange(ctx, username, token, model.PurposeVerify)
}

func (e *EmailLogin) exchange(ctx context.Context, username, token string, purpose model.Purpose) (string, error) {
	notFound := model.NewNotFoundError("Token")
	if username == "" || token == "" {
		return "", notFound
	}

	// 1. ユーザーの特定
	user, err := e.users.FindByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return "", notFound
	}

	// 2. クレデンシャルの署名（セッションはまだ保存しない）
	credential, s, err := e.sessions.Prepare(user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to prepare session: %w", err)
	}

	// 3. トークンの消費、確認済み化、セッションの保存（1トランザクション）
	// 失敗した場合はトークンが残るので同じトークンで再試行できる
	consumed, err := e.verifiers.Consume(ctx, user.ID, HashToken(token), purpose, e.now().Add(-e.cfg.TokenTTL), s)
	if err != nil {
		return "", fmt.Errorf("failed to consume token: %w", err)
	}
	if !consumed {
		return "", notFound
	}

	e.logger.Info("email token exchanged",
		slog.String("user_id", user.ID),
		slog.String("purpose", string(purpose)),
	)
	return credential, nil
}

// HashToken はトークンのSHA-256ハッシュを16進文字列で返す。
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func loginResult(err error) string {
	if err == nil {
		return ResultSent
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case model.ErrCodeRateLimited:
			return ResultRateLimited
		case model.ErrCodeDependencyUnavailable:
			return ResultUnavailable
		case model.ErrCodeUserNotFound:
			return ResultNotFound
		}
	}
	return ResultError
}

func exchangeResult(err error) string {
	if err == nil {
		return ResultExchanged
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeNotFound {
		return ResultNotFound
	}
	return ResultError
}
