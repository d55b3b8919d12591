package auth

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sharmaji847401-hue/myapi/internal/models"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
)

type contextKey string

const (
	ctxAccountKey  contextKey = "account"
	ctxOperatorKey contextKey = "operator"
)

// CredentialResolver maps a raw API key to an active account.
type CredentialResolver interface {
	GetByCredential(ctx context.Context, apiKey string) (*models.Account, error)
}

// APIKeyMiddleware authenticates gateway callers and stores the account in the
// request context.
func APIKeyMiddleware(accounts CredentialResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ExtractAPIKey(r)
			if key == "" {
				writeFailure(w, http.StatusUnauthorized, "API Key Missing")
				return
			}

			acc, err := accounts.GetByCredential(r.Context(), key)
			switch {
			case stderrors.Is(err, pkgerrors.ErrInvalidCredentials):
				writeFailure(w, http.StatusUnauthorized, "Invalid API Key")
				return
			case stderrors.Is(err, pkgerrors.ErrAccountDisabled):
				writeFailure(w, http.StatusUnauthorized, "Account Disabled")
				return
			case err != nil:
				slog.Error("credential lookup failed", "method", "APIKeyMiddleware", "error", err)
				writeFailure(w, http.StatusInternalServerError, "Database Error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
		})
	}
}

// OperatorMiddleware admits requests carrying a Bearer token with role=operator.
func OperatorMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeFailure(w, http.StatusUnauthorized, "authorization header missing")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeFailure(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			subject, err := ValidateOperatorToken(jwtSecret, parts[1])
			if err != nil {
				slog.Warn("operator token rejected", "method", "OperatorMiddleware", "error", err)
				writeFailure(w, http.StatusForbidden, "Access Denied")
				return
			}

			ctx := context.WithValue(r.Context(), ctxOperatorKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountFromCtx returns the authenticated account or nil.
func AccountFromCtx(ctx context.Context) *models.Account {
	acc, _ := ctx.Value(ctxAccountKey).(*models.Account)
	return acc
}

func WithAccount(ctx context.Context, acc *models.Account) context.Context {
	return context.WithValue(ctx, ctxAccountKey, acc)
}

// OperatorFromCtx returns the subject of the operator token, if any.
func OperatorFromCtx(ctx context.Context) string {
	sub, _ := ctx.Value(ctxOperatorKey).(string)
	return sub
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"status": false, "message": message})
}
