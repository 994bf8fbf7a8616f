package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"grocerylist/config"
	"grocerylist/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const UserIDKey contextKey = "userID"

var (
	errNoToken        = errors.New("Not authenticated")
	errExpiredToken   = errors.New("Token has expired")
	errInvalidToken   = errors.New("Invalid token")
	errMissingSubject = errors.New("Could not validate credentials")
)

// Authenticator verifies bearer tokens issued by the external identity
// service and exposes the subject claim as the request's principal.
type Authenticator struct {
	secret    []byte
	algorithm string
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{secret: []byte(cfg.Secret), algorithm: cfg.Algorithm}
}

// Principal verifies tokenString and returns its "sub" claim.
func (a *Authenticator) Principal(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errNoToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{a.algorithm}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errExpiredToken
		}
		logger.Sugar.Debugf("Invalid token: %v", err)
		return "", errInvalidToken
	}
	if !token.Valid {
		return "", errInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", errMissingSubject
	}
	return sub, nil
}

// Middleware requires "Authorization: Bearer <token>" on every request.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return a.handler(next, false)
}

// WebSocketMiddleware also accepts the token in the "token" query
// parameter, because the browser WebSocket API cannot set headers.
func (a *Authenticator) WebSocketMiddleware(next http.Handler) http.Handler {
	return a.handler(next, true)
}

func (a *Authenticator) handler(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r.Header.Get("Authorization"))
		if tokenString == "" && allowQuery {
			tokenString, err = r.URL.Query().Get("token"), nil
		}
		if err == nil {
			var userID string
			if userID, err = a.Principal(tokenString); err == nil {
				next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
				return
			}
		}
		unauthorized(w, err)
	})
}

// bearerToken extracts the token from an Authorization header value. An
// absent header yields "" and no error; any other scheme is malformed.
func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errInvalidToken
	}
	return strings.TrimSpace(token), nil
}

func unauthorized(w http.ResponseWriter, err error) {
	if err == nil {
		err = errNoToken
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"detail": err.Error()})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	if holder, ok := ctx.Value(principalHolderKey).(*principalHolder); ok {
		holder.userID = userID
	}
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserIDFromContext returns the authenticated principal, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}
