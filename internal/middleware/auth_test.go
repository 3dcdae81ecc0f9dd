package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/evbooking/internal/session"
)

var fixedNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestAuthMiddleware_WithValidBearer(t *testing.T) {
	m := NewAuthMiddleware(func() time.Time { return fixedNow })
	token := signToken(t, jwt.MapClaims{"sub": "U42", "exp": fixedNow.Add(time.Hour).Unix()})

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		s, ok := session.FromContext(r.Context())
		if !ok {
			t.Fatalf("session not in context")
		}
		if s.UserID != "U42" {
			t.Fatalf("user id from session = %q, want U42", s.UserID)
		}
		if s.Token != token {
			t.Fatalf("raw token must be kept for the backend")
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_OpaqueTokenPassesThrough(t *testing.T) {
	m := NewAuthMiddleware(func() time.Time { return fixedNow })

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		s, _ := session.FromContext(r.Context())
		if s.Token != "opaque-token" || s.UserID != "" {
			t.Fatalf("unexpected session %+v", s)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)
	r.Header.Set("Authorization", "bearer opaque-token")
	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	expired := signToken(t, jwt.MapClaims{"sub": "U42", "exp": fixedNow.Add(-time.Minute).Unix()})

	tests := []struct {
		name    string
		header  string
		query   string
		upgrade bool
	}{
		{name: "no header"},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz"},
		{name: "empty bearer", header: "Bearer "},
		{name: "expired token", header: "Bearer " + expired},
		{name: "query token without upgrade", query: "?access_token=abc"},
	}

	m := NewAuthMiddleware(func() time.Time { return fixedNow })
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/bookings"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			m.Middleware(next).ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_WebsocketQueryToken(t *testing.T) {
	m := NewAuthMiddleware(nil)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	r := httptest.NewRequest(http.MethodGet, "/ws/bookings/B1?access_token=abc", nil)
	r.Header.Set("Upgrade", "websocket")
	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}
