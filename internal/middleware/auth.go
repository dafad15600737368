// Package middleware содержит HTTP middleware сервиса станции замены.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/swapstation/internal/validation"
)

type contextKey string

const operatorIDKey contextKey = "operatorID"

const (
	// OperatorCookieName — cookie с подписанным токеном оператора.
	OperatorCookieName = "operator_token"
	// OperatorHeader — заголовок с тем же токеном для клиентов без cookie (терминалы станций).
	OperatorHeader = "X-Operator-Token"

	operatorCookieTTL = 12 * time.Hour
)

// OperatorAuth проверяет подписанный токен оператора. Токены выпускает
// внешний сервис учётных записей с тем же секретом.
type OperatorAuth struct {
	secretKey []byte
}

// NewOperatorAuth создаёт OperatorAuth. Пустой секрет заменяется случайным,
// и тогда принимаются только токены, выпущенные этим процессом.
func NewOperatorAuth(secret string) *OperatorAuth {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &OperatorAuth{
		secretKey: key,
	}
}

// Middleware проверяет токен и добавляет идентификатор оператора в контекст запроса.
func (a *OperatorAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(OperatorHeader)
		if token == "" {
			if cookie, err := r.Cookie(OperatorCookieName); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		operatorID, ok := a.Verify(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), operatorIDKey, operatorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Sign возвращает токен вида "<operatorID>.<hmac>".
func (a *OperatorAuth) Sign(operatorID string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(operatorID))
	return operatorID + "." + hex.EncodeToString(mac.Sum(nil))
}

// Verify проверяет подпись токена и возвращает идентификатор оператора.
func (a *OperatorAuth) Verify(token string) (string, bool) {
	idx := strings.LastIndexByte(token, '.')
	if idx <= 0 || idx == len(token)-1 {
		return "", false
	}
	operatorID, signature := token[:idx], token[idx+1:]
	if !validation.IsValidID(operatorID) {
		return "", false
	}

	if signature == "" || !hmac.Equal([]byte(token), []byte(a.Sign(operatorID))) {
		return "", false
	}
	return operatorID, true
}

// SetOperatorCookie устанавливает cookie с токеном оператора.
func (a *OperatorAuth) SetOperatorCookie(w http.ResponseWriter, operatorID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     OperatorCookieName,
		Value:    a.Sign(operatorID),
		Path:     "/",
		Expires:  time.Now().Add(operatorCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// GetOperatorIDFromContext извлекает идентификатор оператора из контекста запроса.
func GetOperatorIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(operatorIDKey).(string)
	return id, ok
}
