package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/muistot/internal/access"
	"github.com/hitoshi/muistot/internal/model"
)

// --- モック定義 ---

type mockAuthenticator struct {
	authenticateFn func(ctx context.Context, credential string) (access.Principal, error)
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, credential string) (access.Principal, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, credential)
	}
	return access.Anonymous(), model.NewUnauthenticatedError()
}

func validAuthenticator() *mockAuthenticator {
	return &mockAuthenticator{
		authenticateFn: func(ctx context.Context, credential string) (access.Principal, error) {
			if credential == "good-token" {
				return access.Principal{UserID: "user-123", Username: "aino"}, nil
			}
			return access.Anonymous(), model.NewUnauthenticatedError()
		},
	}
}

// --- テスト ---

func TestPrincipalMiddleware_ValidCredential_InjectsPrincipal(t *testing.T) {
	var captured access.Principal
	var credential string
	handler := NewPrincipalMiddleware(validAuthenticator())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = PrincipalFromContext(r.Context())
		credential = CredentialFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured.UserID != "user-123" || captured.Username != "aino" {
		t.Errorf("principal = %+v", captured)
	}
	if credential != "good-token" {
		t.Errorf("credential = %q, want %q", credential, "good-token")
	}
}

func TestPrincipalMiddleware_NoHeader_ContinuesAnonymously(t *testing.T) {
	called := false
	handler := NewPrincipalMiddleware(&mockAuthenticator{
		authenticateFn: func(ctx context.Context, credential string) (access.Principal, error) {
			t.Error("Authenticate should not be called without a header")
			return access.Anonymous(), nil
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if PrincipalFromContext(r.Context()).Authenticated() {
			t.Error("expected anonymous principal")
		}
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/projects", nil))

	if !called || w.Code != http.StatusOK {
		t.Errorf("called = %v, status = %d", called, w.Code)
	}
}

func TestPrincipalMiddleware_RejectsBadHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"wrong scheme", "Basic Zm9vOmJhcg=="},
		{"missing credential", "bearer "},
		{"no separator", "bearertoken"},
		{"unknown credential", "bearer other-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewPrincipalMiddleware(validAuthenticator())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set("Authorization", tt.header)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestPrincipalMiddleware_InfrastructureError_Returns500(t *testing.T) {
	handler := NewPrincipalMiddleware(&mockAuthenticator{
		authenticateFn: func(ctx context.Context, credential string) (access.Principal, error) {
			return access.Anonymous(), errors.New("db down")
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("authenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req = req.WithContext(ContextWithPrincipal(req.Context(), access.Principal{UserID: "user-1"}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
	})
}

func TestPrincipalFromContext_DefaultsToAnonymous(t *testing.T) {
	if PrincipalFromContext(context.Background()).Authenticated() {
		t.Error("expected anonymous principal for empty context")
	}
	if CredentialFromContext(context.Background()) != "" {
		t.Error("expected empty credential for empty context")
	}
}
