// Package auth issues bearer tokens against the account store and
// guards mutating HTTP routes.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

var (
	// ErrNoCredentials is returned when a request carries no
	// Authorization header at all.
	ErrNoCredentials = errors.New("no credentials supplied")

	// ErrInvalidToken is returned when a bearer token is unknown or
	// has been revoked.
	ErrInvalidToken = errors.New("invalid token")
)

// CredentialChecker verifies a username/password pair. It is satisfied
// by userdb.Store.
type CredentialChecker interface {
	Check(ctx context.Context, username, password string) error
}

// Authenticator exchanges valid credentials for bearer tokens and
// resolves tokens back to usernames. Tokens live in memory only and do
// not survive a restart.
type Authenticator struct {
	checker CredentialChecker
	logger  *slog.Logger

	mu     sync.RWMutex
	tokens map[string]string
}

// New creates an authenticator backed by the given credential checker.
func New(checker CredentialChecker, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Authenticator{
		checker: checker,
		logger:  logger,
		tokens:  make(map[string]string),
	}
}

// Login verifies the credentials and issues a fresh bearer token.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, error) {
	if err := a.checker.Check(ctx, username, password); err != nil {
		return "", err
	}

	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	a.mu.Lock()
	a.tokens[token] = username
	a.mu.Unlock()

	a.logger.Info("token issued", slog.String("username", username))
	return token, nil
}

// Validate resolves a bearer token to the username it was issued for.
func (a *Authenticator) Validate(token string) (string, error) {
	a.mu.RLock()
	username, ok := a.tokens[token]
	a.mu.RUnlock()
	if !ok {
		return "", ErrInvalidToken
	}
	return username, nil
}

// Revoke invalidates a token. Revoking an unknown token is a no-op.
func (a *Authenticator) Revoke(token string) {
	a.mu.Lock()
	delete(a.tokens, token)
	a.mu.Unlock()
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type userContextKey struct{}

// UserFromContext returns the username a request authenticated as.
func UserFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(userContextKey{}).(string)
	return username, ok
}

// Middleware rejects requests that do not carry a valid bearer token
// and stores the authenticated username on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, ErrNoCredentials.Error(), http.StatusUnauthorized)
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
			return
		}

		username, err := a.Validate(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey{}, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
