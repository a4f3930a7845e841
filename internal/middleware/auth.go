// Package middleware содержит HTTP middleware сервиса лояльности.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const adminKey contextKey = "admin"

const (
	sessionCookieName = "admin_session"
	sessionTTL        = 12 * time.Hour
	sessionSubject    = "admin"
)

var (
	// ErrInvalidPIN возвращается при неверном PIN-коде администратора.
	ErrInvalidPIN = errors.New("invalid admin pin")
	// ErrAdminDisabled возвращается, если хэш PIN-кода не настроен.
	ErrAdminDisabled = errors.New("admin access is not configured")
)

// AdminAuth проверяет PIN-код кассира-администратора и выдаёт подписанную сессию.
type AdminAuth struct {
	pinHash []byte
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewAdminAuth создаёт AdminAuth. pinHash задаётся bcrypt-хэшем; пустой хэш отключает вход.
// Если secret пуст, ключ подписи генерируется при старте и сессии не переживают перезапуск.
func NewAdminAuth(pinHash, secret string) *AdminAuth {
	key := []byte(secret)
	if len(key) == 0 {
		key = []byte(uuid.NewString() + uuid.NewString())
	}

	return &AdminAuth{
		pinHash: []byte(pinHash),
		secret:  key,
		ttl:     sessionTTL,
		now:     time.Now,
	}
}

// CheckPIN сравнивает PIN с настроенным хэшем.
func (a *AdminAuth) CheckPIN(pin string) error {
	if len(a.pinHash) == 0 {
		return ErrAdminDisabled
	}
	if err := bcrypt.CompareHashAndPassword(a.pinHash, []byte(pin)); err != nil {
		return ErrInvalidPIN
	}
	return nil
}

// IssueToken выпускает токен сессии администратора.
func (a *AdminAuth) IssueToken() (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sessionSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, expires, nil
}

// SetSessionCookie выпускает токен и устанавливает cookie сессии.
func (a *AdminAuth) SetSessionCookie(w http.ResponseWriter) (string, error) {
	token, expires, err := a.IssueToken()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/api/admin",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

// Middleware пропускает запрос только с действующей сессией администратора:
// из cookie или заголовка Authorization: Bearer.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			if cookie, err := r.Cookie(sessionCookieName); err == nil {
				raw = cookie.Value
			}
		}

		if raw == "" || !a.validToken(raw) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), adminKey, true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AdminAuth) validToken(raw string) bool {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(sessionSubject),
		jwt.WithTimeFunc(a.now),
	)
	return err == nil && token.Valid
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// IsAdmin сообщает, прошёл ли запрос проверку сессии администратора.
func IsAdmin(ctx context.Context) bool {
	ok, _ := ctx.Value(adminKey).(bool)
	return ok
}
