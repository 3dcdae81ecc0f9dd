// Package middleware содержит HTTP middleware сервиса бронирования.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/evbooking/internal/session"
)

const bearerPrefix = "Bearer "

// AuthMiddleware строит сессию пользователя из bearer-токена запроса.
// Подпись токена проверяет бэкенд, здесь отсекаются только запросы без токена
// и с истёкшим сроком.
type AuthMiddleware struct {
	now func() time.Time
}

// NewAuthMiddleware создаёт AuthMiddleware. Если now == nil, используется time.Now.
func NewAuthMiddleware(now func() time.Time) *AuthMiddleware {
	if now == nil {
		now = time.Now
	}
	return &AuthMiddleware{now: now}
}

// Middleware кладёт сессию в контекст запроса. WebSocket-клиенты браузера не могут
// выставить заголовок, поэтому для них токен принимается и из параметра access_token.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		sess := session.FromToken(token)
		if sess.Expired(a.now()) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), sess)))
	})
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}
