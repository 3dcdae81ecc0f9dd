// Package session содержит сессию пользователя, построенную из bearer-токена.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const sessionKey contextKey = "session"

// Claims, в которых бэкенд кладёт идентификатор пользователя, в порядке приоритета.
var userIDClaims = []string{"sub", "id", "userId", "_id"}

// Session хранит токен пользователя и извлечённые из него данные.
type Session struct {
	Token     string
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// FromToken строит сессию из bearer-токена. Подпись не проверяется: её проверяет бэкенд,
// здесь claims нужны только для подстановки идентификатора арендатора.
// Непрозрачный токен сохраняется как есть.
func FromToken(raw string) *Session {
	token := strings.TrimSpace(raw)
	s := &Session{Token: token}
	if token == "" {
		return s
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return s
	}

	for _, name := range userIDClaims {
		if v, ok := claims[name].(string); ok && v != "" {
			s.UserID = v
			break
		}
	}
	if v, ok := claims["email"].(string); ok {
		s.Email = v
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.ExpiresAt = exp.Time
	}

	return s
}

// Authenticated сообщает, есть ли у сессии токен.
func (s *Session) Authenticated() bool {
	return s != nil && s.Token != ""
}

// Expired сообщает, истёк ли срок действия токена. Токен без exp не истекает.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Authorization возвращает значение заголовка Authorization для запросов к бэкенду.
func (s *Session) Authorization() string {
	if !s.Authenticated() {
		return ""
	}
	return "Bearer " + s.Token
}

// WithSession кладёт сессию в контекст запроса.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext извлекает сессию из контекста.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok && s != nil
}
