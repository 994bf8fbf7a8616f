package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"grocerylist/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserIDFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(userID))
	})
}

func TestAuthMiddleware(t *testing.T) {
	authn := NewAuthenticator(config.AuthConfig{Secret: testSecret, Algorithm: "HS256"})
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
		wantDetail string
	}{
		{
			name:       "valid token",
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "alice", "exp": future}),
			wantStatus: http.StatusOK,
			wantBody:   "alice",
		},
		{
			name:       "scheme is case-insensitive",
			header:     "bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "alice"}),
			wantStatus: http.StatusOK,
			wantBody:   "alice",
		},
		{
			name:       "missing header",
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Not authenticated",
		},
		{
			name:       "not a bearer header",
			header:     "Basic YWxpY2U6c2VjcmV0",
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Invalid token",
		},
		{
			name:       "expired",
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Token has expired",
		},
		{
			name:       "wrong secret",
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS256, "other-secret", jwt.MapClaims{"sub": "alice"}),
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Invalid token",
		},
		{
			name:       "algorithm not configured",
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS512, testSecret, jwt.MapClaims{"sub": "alice"}),
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Invalid token",
		},
		{
			name:       "missing subject",
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"exp": future}),
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Could not validate credentials",
		},
		{
			name:       "garbage",
			header:     "Bearer not.a.jwt",
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Invalid token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/lists/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			authn.Middleware(echoUser()).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantBody, rr.Body.String())
				return
			}
			assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.wantDetail, body["detail"])
		})
	}
}

func TestWebSocketMiddlewareAcceptsQueryToken(t *testing.T) {
	authn := NewAuthenticator(config.AuthConfig{Secret: testSecret, Algorithm: "HS256"})
	token := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "bob"})

	req := httptest.NewRequest(http.MethodGet, "/ws?listId=1&token="+token, nil)
	rr := httptest.NewRecorder()
	authn.WebSocketMiddleware(echoUser()).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "bob", rr.Body.String())

	// The plain REST middleware ignores the query parameter.
	rr = httptest.NewRecorder()
	authn.Middleware(echoUser()).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
