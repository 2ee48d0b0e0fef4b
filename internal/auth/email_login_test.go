package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/muistot/internal/cache"
	"github.com/hitoshi/muistot/internal/mailer"
	"github.com/hitoshi/muistot/internal/model"
	"github.com/hitoshi/muistot/internal/repository"
	"github.com/hitoshi/muistot/internal/session"
)

// --- モック定義 ---

type fakeUserRepo struct {
	mu          sync.Mutex
	users       map[string]*model.User
	identities  map[string]string // provider/providerUserID -> userID
	verifiers   *fakeVerifierRepo
	createErr   error
	findByIDErr error
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	r := &fakeUserRepo{users: map[string]*model.User{}, identities: map[string]string{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) find(match func(*model.User) bool) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			copied := *u
			return &copied
		}
	}
	return nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	if r.findByIDErr != nil {
		return nil, r.findByIDErr
	}
	return r.find(func(u *model.User) bool { return u.ID == id }), nil
}

func (r *fakeUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Username == username }), nil
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Email == email }), nil
}

func (r *fakeUserRepo) FindByIdentity(_ context.Context, provider, providerUserID string) (*model.User, error) {
	r.mu.Lock()
	userID, ok := r.identities[provider+"/"+providerUserID]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return r.find(func(u *model.User) bool { return u.ID == userID }), nil
}

func (r *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, u := range r.users {
		if u.Username == user.Username || u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *fakeUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	if err := r.Create(ctx, user); err != nil {
		return err
	}
	r.mu.Lock()
	r.identities[identity.Provider+"/"+identity.ProviderUserID] = user.ID
	r.mu.Unlock()
	return nil
}

// CreateWithVerifier はverifiersが設定されている場合のみトークンも保存する。
func (r *fakeUserRepo) CreateWithVerifier(ctx context.Context, user *model.User, verifier *model.EmailVerifier) error {
	if err := r.Create(ctx, user); err != nil {
		return err
	}
	if r.verifiers != nil {
		return r.verifiers.Create(ctx, verifier)
	}
	return nil
}

func (r *fakeUserRepo) update(id string, fn func(*model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return errors.New("user not found")
	}
	fn(u)
	return nil
}

func (r *fakeUserRepo) UpdateUsername(_ context.Context, id, username string) error {
	return r.update(id, func(u *model.User) { u.Username = username })
}

func (r *fakeUserRepo) UpdateEmail(_ context.Context, id, email string) error {
	return r.update(id, func(u *model.User) { u.Email = email })
}

func (r *fakeUserRepo) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return r.update(id, func(u *model.User) { u.PasswordHash = hash })
}

func (r *fakeUserRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

type fakeVerifierRepo struct {
	mu    sync.Mutex
	rows  []*model.EmailVerifier
	users *fakeUserRepo
	// sessions はConsumeが受け取ったセッションを保存する先
	sessions *fakeIssuer
	// consumeErr が設定されている場合はロールバックとして何も変更せずに返す
	consumeErr error
}

func (r *fakeVerifierRepo) Create(_ context.Context, v *model.EmailVerifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *v
	copied.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, &copied)
	return nil
}

func (r *fakeVerifierRepo) Consume(_ context.Context, userID, tokenHash string, purpose model.Purpose, notBefore time.Time, s *model.Session) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumeErr != nil {
		return false, r.consumeErr
	}
	for i, v := range r.rows {
		if v.UserID == userID && v.TokenHash == tokenHash && v.Purpose == purpose && v.CreatedAt.After(notBefore) {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			r.users.update(userID, func(u *model.User) { u.Verified = true })
			if s != nil && r.sessions != nil {
				r.sessions.store(s)
			}
			return true, nil
		}
	}
	return false, nil
}

// age は全トークンの作成時刻をdだけ過去にずらす。
func (r *fakeVerifierRepo) age(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.rows {
		v.CreatedAt = v.CreatedAt.Add(-d)
	}
}

type mockNameGenerator struct {
	allocateFn func(ctx context.Context) (string, error)
}

func (m *mockNameGenerator) Allocate(ctx context.Context) (string, error) {
	if m.allocateFn != nil {
		return m.allocateFn(ctx)
	}
	return "generated-name", nil
}

type sentMail struct {
	template string
	to       string
	payload  mailer.Payload
}

type captureMailer struct {
	mu    sync.Mutex
	sends []sentMail
	err   error
}

func (m *captureMailer) Send(_ context.Context, template, to string, payload mailer.Payload) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, sentMail{template: template, to: to, payload: payload})
	return nil
}

func (m *captureMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sends) == 0 {
		t.Fatal("expected a mail to be sent")
	}
	return m.sends[len(m.sends)-1]
}

// fakeIssuer はクレデンシャルをユーザーIDに対応付けるだけのセッション発行器。
type fakeIssuer struct {
	mu       sync.Mutex
	next     int
	sessions map[string]string
}

func newFakeIssuer() *fakeIssuer {
	return &fakeIssuer{sessions: map[string]string{}}
}

func (f *fakeIssuer) Issue(_ context.Context, userID string) (string, *model.Session, error) {
	credential, s, err := f.Prepare(userID)
	if err != nil {
		return "", nil, err
	}
	f.store(s)
	return credential, s, nil
}

// Prepare はクレデンシャルを払い出すが、storeされるまで解決できない。
func (f *fakeIssuer) Prepare(userID string) (string, *model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	credential := fmt.Sprintf("%s#%d", userID, f.next)
	return credential, &model.Session{ID: credential, UserID: userID}, nil
}

func (f *fakeIssuer) store(s *model.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s.UserID
}

func (f *fakeIssuer) Resolve(_ context.Context, credential string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.sessions[credential]
	if !ok {
		return nil, session.ErrInvalidCredential
	}
	return &model.Session{ID: credential, UserID: userID}, nil
}

func (f *fakeIssuer) Revoke(ctx context.Context, credential string) error {
	if _, err := f.Resolve(ctx, credential); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, credential)
	return nil
}

func (f *fakeIssuer) RevokeAll(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c, u := range f.sessions {
		if u == userID {
			delete(f.sessions, c)
		}
	}
	return nil
}

type countingLoginRecorder struct {
	mu        sync.Mutex
	logins    map[string]int
	exchanges map[string]int
	namegen   int
}

func newCountingLoginRecorder() *countingLoginRecorder {
	return &countingLoginRecorder{logins: map[string]int{}, exchanges: map[string]int{}}
}

func (c *countingLoginRecorder) RecordEmailLogin(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logins[result]++
}

func (c *countingLoginRecorder) RecordTokenExchange(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges[result]++
}

func (c *countingLoginRecorder) RecordNameGeneratorFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.namegen++
}

// --- テストヘルパー ---

type emailLoginFixture struct {
	svc       *EmailLogin
	users     *fakeUserRepo
	verifiers *fakeVerifierRepo
	names     *mockNameGenerator
	mail      *captureMailer
	issuer    *fakeIssuer
	throttle  *cache.Throttle
	recorder  *countingLoginRecorder
	redis     *miniredis.Miniredis
}

func newEmailLoginFixture(t *testing.T, users ...*model.User) *emailLoginFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &emailLoginFixture{
		users:    newFakeUserRepo(users...),
		names:    &mockNameGenerator{},
		mail:     &captureMailer{},
		issuer:   newFakeIssuer(),
		throttle: cache.NewThrottle(client, "test"),
		recorder: newCountingLoginRecorder(),
		redis:    mr,
	}
	f.verifiers = &fakeVerifierRepo{users: f.users, sessions: f.issuer}
	f.users.verifiers = f.verifiers

	f.svc = NewEmailLogin(EmailLoginDeps{
		Users:     f.users,
		Verifiers: f.verifiers,
		Throttle:  f.throttle,
		Names:     f.names,
		Mailer:    f.mail,
		Sessions:  f.issuer,
		Recorder:  f.recorder,
	}, EmailLoginConfig{TokenTTL: 5 * time.Minute, Cooldown: 5 * time.Minute, TokenBytes: 32})
	return f
}

func existingUser() *model.User {
	return &model.User{ID: "user-1", Username: "alice", Email: "alice@example.com"}
}

func errorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// --- テスト ---

func TestRequestLogin_ExistingUserReceivesToken(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())

	if err := f.svc.RequestLogin(context.Background(), "alice@example.com", "en"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mail := f.mail.last(t)
	if mail.template != mailer.TemplateLogin || mail.to != "alice@example.com" {
		t.Errorf("unexpected mail: %+v", mail)
	}
	if mail.payload.Token == "" || mail.payload.User != "alice" || mail.payload.Verified || mail.payload.Lang != "en" {
		t.Errorf("unexpected payload: %+v", mail.payload)
	}

	if len(f.verifiers.rows) != 1 {
		t.Fatalf("expected 1 verifier, got %d", len(f.verifiers.rows))
	}
	stored := f.verifiers.rows[0]
	if stored.TokenHash == mail.payload.Token {
		t.Error("raw token must not be stored")
	}
	if stored.TokenHash != HashToken(mail.payload.Token) {
		t.Error("stored hash does not match the mailed token")
	}
	if f.recorder.logins[ResultSent] != 1 {
		t.Errorf("expected sent to be recorded, got %v", f.recorder.logins)
	}
}

func TestRequestLogin_ByUsername(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())

	if err := f.svc.RequestLogin(context.Background(), "alice", "fi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.mail.last(t).to; got != "alice@example.com" {
		t.Errorf("mail sent to %q", got)
	}
}

func TestRequestLogin_UnknownUsername(t *testing.T) {
	f := newEmailLoginFixture(t)

	err := f.svc.RequestLogin(context.Background(), "nobody", "fi")
	if errorCode(err) != model.ErrCodeUserNotFound {
		t.Fatalf("expected USER_NOT_FOUND, got %v", err)
	}
}

func TestRequestLogin_RateLimitedUntilCacheFlushed(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())
	ctx := context.Background()

	if err := f.svc.RequestLogin(ctx, "alice@example.com", "fi"); err != nil {
		t.Fatalf("first request: %v", err)
	}

	err := f.svc.RequestLogin(ctx, "alice@example.com", "fi")
	if errorCode(err) != model.ErrCodeRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}
	if len(f.mail.sends) != 1 {
		t.Errorf("rate limited request must not send mail, got %d sends", len(f.mail.sends))
	}

	// ユーザー名指定でも同じ宛先として制限される
	err = f.svc.RequestLogin(ctx, "alice", "fi")
	if errorCode(err) != model.ErrCodeRateLimited {
		t.Fatalf("expected RATE_LIMITED by username, got %v", err)
	}

	if err := f.throttle.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := f.svc.RequestLogin(ctx, "alice@example.com", "fi"); err != nil {
		t.Fatalf("request after flush: %v", err)
	}
	if f.recorder.logins[ResultRateLimited] != 2 {
		t.Errorf("expected 2 rate limited results, got %v", f.recorder.logins)
	}
}

func TestRequestLogin_CooldownExpires(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())
	ctx := context.Background()

	if err := f.svc.RequestLogin(ctx, "alice@example.com", "fi"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	f.redis.FastForward(5 * time.Minute)

	if err := f.svc.RequestLogin(ctx, "alice@example.com", "fi"); err != nil {
		t.Fatalf("request after cooldown: %v", err)
	}
}

func TestRequestLogin_CreatesNewUser(t *testing.T) {
	f := newEmailLoginFixture(t)
	f.names.allocateFn = func(context.Context) (string, error) { return "happy-otter", nil }

	if err := f.svc.RequestLogin(context.Background(), "new@example.com", "fi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created, _ := f.users.FindByEmail(context.Background(), "new@example.com")
	if created == nil {
		t.Fatal("expected user to be created")
	}
	if created.Username != "happy-otter" || created.Verified {
		t.Errorf("unexpected user: %+v", created)
	}
	if mail := f.mail.last(t); mail.payload.User != "happy-otter" {
		t.Errorf("unexpected payload: %+v", mail.payload)
	}
}

func TestRequestLogin_NameGeneratorFailureLeavesNothing(t *testing.T) {
	f := newEmailLoginFixture(t)
	ctx := context.Background()
	f.names.allocateFn = func(context.Context) (string, error) { return "", errors.New("exhausted") }

	err := f.svc.RequestLogin(ctx, "new@example.com", "fi")
	if errorCode(err) != model.ErrCodeDependencyUnavailable {
		t.Fatalf("expected DEPENDENCY_UNAVAILABLE, got %v", err)
	}
	if u, _ := f.users.FindByEmail(ctx, "new@example.com"); u != nil {
		t.Error("no user must be created")
	}
	if len(f.verifiers.rows) != 0 || len(f.mail.sends) != 0 {
		t.Error("no token or mail must be produced")
	}
	if f.recorder.namegen != 1 || f.recorder.logins[ResultUnavailable] != 1 {
		t.Errorf("unexpected recorder state: %+v", f.recorder)
	}

	// 失敗時は送信制限を解除するので、すぐに再試行できる
	f.names.allocateFn = nil
	if err := f.svc.RequestLogin(ctx, "new@example.com", "fi"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestRequestLogin_GeneratedNameTaken(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())
	f.names.allocateFn = func(context.Context) (string, error) { return "alice", nil }

	err := f.svc.RequestLogin(context.Background(), "new@example.com", "fi")
	if errorCode(err) != model.ErrCodeDependencyUnavailable {
		t.Fatalf("expected DEPENDENCY_UNAVAILABLE, got %v", err)
	}
}

func TestRequestLogin_MailerFailure(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())
	f.mail.err = errors.New("smtp down")

	err := f.svc.RequestLogin(context.Background(), "alice@example.com", "fi")
	if errorCode(err) != model.ErrCodeDependencyUnavailable {
		t.Fatalf("expected DEPENDENCY_UNAVAILABLE, got %v", err)
	}

	f.mail.err = nil
	if err := f.svc.RequestLogin(context.Background(), "alice@example.com", "fi"); err != nil {
		t.Fatalf("retry after mailer recovered: %v", err)
	}
}

func TestRequestLogin_CacheUnavailable(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())
	f.redis.Close()

	tests := []struct {
		name        string
		destination string
	}{
		{"by email", "alice@example.com"},
		// 送信間隔の確認はユーザー検索より先に行う
		{"by unknown username", "nobody"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.RequestLogin(context.Background(), tt.destination, "fi")
			if errorCode(err) != model.ErrCodeDependencyUnavailable {
				t.Fatalf("expected DEPENDENCY_UNAVAILABLE, got %v", err)
			}
		})
	}

	if len(f.mail.sends) != 0 || len(f.verifiers.rows) != 0 {
		t.Error("no token or mail must be produced")
	}
	if f.recorder.logins[ResultUnavailable] != 2 {
		t.Errorf("expected 2 unavailable results, got %v", f.recorder.logins)
	}
}

func TestRequestLogin_EmailIsCaseInsensitive(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())
	ctx := context.Background()

	if err := f.svc.RequestLogin(ctx, "Alice@Example.COM", "fi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.users.users) != 1 {
		t.Fatalf("no new user must be created, got %d users", len(f.users.users))
	}
	if got := f.mail.last(t); got.to != "alice@example.com" || got.payload.User != "alice" {
		t.Errorf("unexpected mail: %+v", got)
	}

	// 大文字小文字の違いは同じ宛先として制限される
	err := f.svc.RequestLogin(ctx, "ALICE@example.com", "fi")
	if errorCode(err) != model.ErrCodeRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}
}

func TestRequestLogin_NewUserEmailIsStoredLowercase(t *testing.T) {
	f := newEmailLoginFixture(t)

	if err := f.svc.RequestLogin(context.Background(), "New.User@Example.com", "fi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	created, _ := f.users.FindByEmail(context.Background(), "new.user@example.com")
	if created == nil {
		t.Fatal("expected user to be created with a lowercase email")
	}
}

func TestRequestLogin_UsernameThrottledBeforeLookup(t *testing.T) {
	f := newEmailLoginFixture(t)
	ctx := context.Background()

	if _, err := f.throttle.Acquire(ctx, "email-login:user:nobody", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	err := f.svc.RequestLogin(ctx, "Nobody", "fi")
	if errorCode(err) != model.ErrCodeRateLimited {
		t.Fatalf("expected RATE_LIMITED before user lookup, got %v", err)
	}
}

func TestRequestLogin_UnknownUsernameReleasesThrottle(t *testing.T) {
	f := newEmailLoginFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := f.svc.RequestLogin(ctx, "nobody", "fi")
		if errorCode(err) != model.ErrCodeUserNotFound {
			t.Fatalf("attempt %d: expected USER_NOT_FOUND, got %v", i+1, err)
		}
	}
}

func TestRequestLogin_EmptyDestination(t *testing.T) {
	f := newEmailLoginFixture(t)

	err := f.svc.RequestLogin(context.Background(), "  ", "fi")
	if errorCode(err) != model.ErrCodeInvalidRequest {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestExchange_SucceedsExactlyOnce(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())
	ctx := context.Background()

	if err := f.svc.RequestLogin(ctx, "alice@example.com", "fi"); err != nil {
		t.Fatalf("request: %v", err)
	}
	token := f.mail.last(t).payload.Token

	credential, err := f.svc.Exchange(ctx, "alice", token)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if s, err := f.issuer.Resolve(ctx, credential); err != nil || s.UserID != "user-1" {
		t.Errorf("credential does not resolve to the user: %v %v", s, err)
	}

	user, _ := f.users.FindByID(ctx, "user-1")
	if !user.Verified {
		t.Error("exchange must mark the user verified")
	}

	_, err = f.svc.Exchange(ctx, "alice", token)
	if errorCode(err) != model.ErrCodeNotFound {
		t.Fatalf("second exchange: expected NOT_FOUND, got %v", err)
	}
	if f.recorder.exchanges[ResultExchanged] != 1 || f.recorder.exchanges[ResultNotFound] != 1 {
		t.Errorf("unexpected recorder state: %v", f.recorder.exchanges)
	}
}

func TestExchange_SessionStoreFailureKeepsToken(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())
	ctx := context.Background()

	if err := f.svc.RequestLogin(ctx, "alice@example.com", "fi"); err != nil {
		t.Fatalf("request: %v", err)
	}
	token := f.mail.last(t).payload.Token

	f.verifiers.consumeErr = errors.New("connection reset")
	if _, err := f.svc.Exchange(ctx, "alice", token); err == nil {
		t.Fatal("expected exchange to fail")
	}
	if len(f.verifiers.rows) != 1 {
		t.Fatalf("token must survive a failed exchange, got %d rows", len(f.verifiers.rows))
	}
	if len(f.issuer.sessions) != 0 {
		t.Errorf("no session must be stored, got %v", f.issuer.sessions)
	}

	// 同じトークンで再試行できる
	f.verifiers.consumeErr = nil
	credential, err := f.svc.Exchange(ctx, "alice", token)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, err := f.issuer.Resolve(ctx, credential); err != nil {
		t.Errorf("credential must resolve after retry: %v", err)
	}
}

func TestExchange_VerifiedUserStillLogsIn(t *testing.T) {
	u := existingUser()
	u.Verified = true
	f := newEmailLoginFixture(t, u)
	ctx := context.Background()

	if err := f.svc.RequestLogin(ctx, "alice@example.com", "fi"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if !f.mail.last(t).payload.Verified {
		t.Error("payload should report verified user")
	}
	if _, err := f.svc.Exchange(ctx, "alice", f.mail.last(t).payload.Token); err != nil {
		t.Fatalf("exchange: %v", err)
	}
}

func TestExchange_ExpiredToken(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())
	ctx := context.Background()

	if err := f.svc.RequestLogin(ctx, "alice@example.com", "fi"); err != nil {
		t.Fatalf("request: %v", err)
	}
	f.verifiers.age(5 * time.Minute)

	_, err := f.svc.Exchange(ctx, "alice", f.mail.last(t).payload.Token)
	if errorCode(err) != model.ErrCodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestExchange_IndistinguishableFailures(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())
	ctx := context.Background()

	if err := f.svc.RequestLogin(ctx, "alice@example.com", "fi"); err != nil {
		t.Fatalf("request: %v", err)
	}
	token := f.mail.last(t).payload.Token

	tests := []struct {
		name     string
		username string
		token    string
	}{
		{"truncated token", "alice", token[:len(token)-2]},
		{"non ascii token", "alice", "ööööööääääää"},
		{"unknown user", "bob", token},
		{"empty token", "alice", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Exchange(ctx, tt.username, tt.token)
			if errorCode(err) != model.ErrCodeNotFound {
				t.Fatalf("expected NOT_FOUND, got %v", err)
			}
		})
	}
}

// 新しいトークンを発行しても、有効期間内の古いトークンは無効化されない。
func TestExchange_OlderUnexpiredTokensRemainValid(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())
	ctx := context.Background()

	if err := f.svc.RequestLogin(ctx, "alice@example.com", "fi"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	first := f.mail.last(t).payload.Token

	if err := f.throttle.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := f.svc.RequestLogin(ctx, "alice@example.com", "fi"); err != nil {
		t.Fatalf("second request: %v", err)
	}
	second := f.mail.last(t).payload.Token

	if _, err := f.svc.Exchange(ctx, "alice", first); err != nil {
		t.Fatalf("older token: %v", err)
	}
	if _, err := f.svc.Exchange(ctx, "alice", second); err != nil {
		t.Fatalf("newer token: %v", err)
	}
}

func TestConfirm_RequiresVerifyPurpose(t *testing.T) {
	f := newEmailLoginFixture(t, existingUser())
	ctx := context.Background()

	if err := f.svc.RequestLogin(ctx, "alice@example.com", "fi"); err != nil {
		t.Fatalf("request: %v", err)
	}
	loginToken := f.mail.last(t).payload.Token

	_, err := f.svc.Confirm(ctx, "alice", loginToken)
	if errorCode(err) != model.ErrCodeNotFound {
		t.Fatalf("login token must not confirm, got %v", err)
	}
}

func TestEnroll_CreatesUserAndSendsVerifyMail(t *testing.T) {
	f := newEmailLoginFixture(t)
	ctx := context.Background()
	u := &model.User{ID: "user-2", Username: "bob", Email: "bob@example.com"}

	if err := f.svc.Enroll(ctx, u, "en"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	mail := f.mail.last(t)
	if mail.template != mailer.TemplateVerify || mail.to != "bob@example.com" {
		t.Errorf("unexpected mail: %+v", mail)
	}

	if _, err := f.svc.Confirm(ctx, "bob", mail.payload.Token); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	confirmed, _ := f.users.FindByID(ctx, "user-2")
	if !confirmed.Verified {
		t.Error("confirm must mark the user verified")
	}

	err := f.svc.Enroll(ctx, &model.User{ID: "user-3", Username: "bob", Email: "other@example.com"}, "en")
	if errorCode(err) != model.ErrCodeConflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestHashToken_IsDeterministicHex(t *testing.T) {
	a := HashToken("token")
	if a != HashToken("token") {
		t.Error("hash must be deterministic")
	}
	if a == HashToken("token2") {
		t.Error("different tokens must hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}
