package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/middleware"
)

// --- モック定義 ---

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

type mockAccessChecker struct {
	checkAccessFn func(ctx context.Context, policyName string, principal access.Principal, ref access.Ref) (access.Status, error)
}

func (m *mockAccessChecker) CheckAccess(ctx context.Context, policyName string, principal access.Principal, ref access.Ref) (access.Status, error) {
	if m.checkAccessFn != nil {
		return m.checkAccessFn(ctx, policyName, principal, ref)
	}
	return access.StatusPublished, nil
}

// newTestDeps は全依存をモックで埋めたRouterDepsを返す。
func newTestDeps(t *testing.T) *RouterDeps {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return &RouterDeps{
		Authenticator:     stubAuthenticator{},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		HealthChecker:     &mockHealthChecker{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics\n"))
		}),
		AuthService:    &mockAuthService{},
		EmailLogin:     &mockEmailLogin{},
		Sessions:       &mockSessionTerminator{},
		Languages:      testLanguages(),
		UserService:    &mockUserService{},
		ProjectService: &mockProjectService{},
		SiteService:    &mockSiteService{},
		MemoryService:  &mockMemoryService{},
		CommentService: &mockCommentService{},
		AccessChecker:  &mockAccessChecker{},
	}
}

func serveRouter(deps *RouterDeps, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "bearer "+token)
	}
	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, req)
	return w
}

// --- テスト ---

func TestNewRouter_Health(t *testing.T) {
	deps := newTestDeps(t)

	w := serveRouter(deps, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	deps.HealthChecker = &mockHealthChecker{err: errors.New("connection refused")}
	w = serveRouter(deps, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestNewRouter_HealthIgnoresInvalidCredential(t *testing.T) {
	w := serveRouter(newTestDeps(t), http.MethodGet, "/health", "bad-token")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_Metrics(t *testing.T) {
	w := serveRouter(newTestDeps(t), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "# metrics") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestNewRouter_MeRequiresAuth(t *testing.T) {
	deps := newTestDeps(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/me"},
		{http.MethodDelete, "/me"},
		{http.MethodDelete, "/me/sessions"},
		{http.MethodDelete, "/me/account"},
		{http.MethodPost, "/me/username?username=uusi"},
		{http.MethodPost, "/me/email?email=a@example.com"},
		{http.MethodPut, "/me/password?password=salasana123"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := serveRouter(deps, rt.method, rt.path, "")
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestNewRouter_InvalidCredentialIsRejected(t *testing.T) {
	w := serveRouter(newTestDeps(t), http.MethodGet, "/projects", "bad-token")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestNewRouter_AuthenticatedMe(t *testing.T) {
	w := serveRouter(newTestDeps(t), http.MethodGet, "/me", "good-token")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_StatusReflectsCredential(t *testing.T) {
	deps := newTestDeps(t)

	if w := serveRouter(deps, http.MethodGet, "/auth/status", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if w := serveRouter(deps, http.MethodGet, "/auth/status", "good-token"); w.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_EmailLoginIsRateLimitedPerIP(t *testing.T) {
	deps := newTestDeps(t)
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		EmailLoginRate:  0.001,
		EmailLoginBurst: 2,
		CleanupInterval: middleware.DefaultRateLimiterConfig().CleanupInterval,
	})
	t.Cleanup(rl.Stop)
	deps.RateLimiter = rl
	router := NewRouter(deps)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/auth/email?email=aino", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := send(); code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d, want %d", i+1, code, http.StatusNoContent)
		}
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", code, http.StatusTooManyRequests)
	}

	// 他のエンドポイントには影響しない
	req := httptest.NewRequest(http.MethodPost, "/auth/email/exchange?user=aino&token=t", nil)
	req.RemoteAddr = "192.0.2.10:5000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("exchange status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_SecurityAndCORSHeaders(t *testing.T) {
	w := serveRouter(newTestDeps(t), http.MethodGet, "/projects", "")

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Content-Language"); got != "fi" {
		t.Errorf("Content-Language = %q, want %q", got, "fi")
	}
}

func TestNewRouter_UnknownRoute(t *testing.T) {
	w := serveRouter(newTestDeps(t), http.MethodGet, "/no-such-route", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestNewRouter_AccessCheck(t *testing.T) {
	deps := newTestDeps(t)
	var gotPolicy string
	var gotRef access.Ref
	var gotPrincipal access.Principal
	deps.AccessChecker = &mockAccessChecker{
		checkAccessFn: func(ctx context.Context, policyName string, principal access.Principal, ref access.Ref) (access.Status, error) {
			gotPolicy, gotRef, gotPrincipal = policyName, ref, principal
			return access.StatusOwn, nil
		},
	}

	w := serveRouter(deps, http.MethodGet, "/access/require-own?project=parainen&site=3&memory=7", "good-token")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotPolicy != "require-own" {
		t.Errorf("policy = %q", gotPolicy)
	}
	if gotRef != access.MemoryRef("parainen", 3, 7) {
		t.Errorf("ref = %+v", gotRef)
	}
	if gotPrincipal.UserID != "user-123" {
		t.Errorf("principal = %+v", gotPrincipal)
	}
	if !strings.Contains(w.Body.String(), `"status":"`+access.StatusOwn.String()+`"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}
