package router

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"grocerylist/config"
	"grocerylist/pkg/logger"
	"grocerylist/socket"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Auth:   config.AuthConfig{Secret: "router-secret", Algorithm: "HS256"},
	}
}

func newTestRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := socket.NewHub()
	go hub.Run(ctx)

	return Setup(testConfig(), db, hub), mock
}

func bearer(t *testing.T, sub string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("router-secret"))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h, mock := newTestRouter(t)

	for _, path := range []string{"/api/lists/", "/api/lists/1", "/api/items/list/1", "/api/items/1", "/api/items/stores/popular"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
		assert.JSONEq(t, `{"detail":"Not authenticated"}`, rr.Body.String(), path)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListListsWithToken(t *testing.T) {
	h, mock := newTestRouter(t)

	paths := []string{"/api/lists/", "/api/lists"}
	for range paths {
		mock.ExpectQuery(regexp.QuoteMeta("FROM grocery_lists")).
			WithArgs("alice", false, sqlmock.AnyArg(), 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "owner", "stores", "list_date", "is_closed", "created_at", "updated_at"}))
	}

	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", bearer(t, "alice"))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.JSONEq(t, `[]`, rr.Body.String(), path)
		assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublicRoutes(t *testing.T) {
	h, mock := newTestRouter(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	mock.ExpectPing()
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"grocery-list-service"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreflightFromFrontend(t *testing.T) {
	h, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/lists/1", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://localhost:4200", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestPanickingRequestIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prevLog, prevSugar := logger.Log, logger.Sugar
	logger.Log = zap.New(core)
	logger.Sugar = logger.Log.Sugar()
	t.Cleanup(func() { logger.Log, logger.Sugar = prevLog, prevSugar })

	h := withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), testConfig())

	rr := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/lists/1", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())

	requests := logs.FilterMessage("http.request").All()
	require.Len(t, requests, 1)
	fields := requests[0].ContextMap()
	assert.Equal(t, int64(http.StatusInternalServerError), fields["status"])
	assert.Equal(t, "/api/lists/1", fields["path"])
	assert.Equal(t, rr.Header().Get("X-Request-Id"), fields["request_id"])
}

var (
	listColumns = []string{"id", "name", "description", "owner", "stores", "list_date", "is_closed", "created_at", "updated_at"}
	itemColumns = []string{"id", "grocery_list_id", "name", "quantity", "unit", "category", "store", "notes", "purchased", "created_at", "updated_at"}
)

// TestWeeklyShoppingThroughDatabase drives the full stack: routes, service
// and repository against a mocked Postgres.
func TestWeeklyShoppingThroughDatabase(t *testing.T) {
	h, mock := newTestRouter(t)
	now := time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)

	do := func(method, path, user, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", bearer(t, user))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}
	item := func(purchased bool) *sqlmock.Rows {
		return sqlmock.NewRows(itemColumns).AddRow(10, 1, "Milk", 2.0, "L", nil, nil, nil, purchased, now, now)
	}

	// alice creates a list.
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO grocery_lists")).
		WithArgs("Weekly Shopping", sql.NullString{}, "alice", sql.NullString{}, sql.NullTime{}, false).
		WillReturnRows(sqlmock.NewRows(listColumns).AddRow(1, "Weekly Shopping", nil, "alice", nil, nil, false, now, now))

	rr := do(http.MethodPost, "/api/lists/", "alice", `{"name":"Weekly Shopping"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var list struct {
		ID    int64  `json:"id"`
		Owner string `json:"owner"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, int64(1), list.ID)
	assert.Equal(t, "alice", list.Owner)

	// She adds milk to it.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM grocery_lists WHERE id = $1 AND owner = $2 FOR UPDATE")).
		WithArgs(int64(1), "alice").
		WillReturnRows(sqlmock.NewRows(listColumns).AddRow(1, "Weekly Shopping", nil, "alice", nil, nil, false, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO grocery_items")).
		WithArgs(int64(1), "Milk", 2.0, sql.NullString{String: "L", Valid: true}, sql.NullString{}, sql.NullString{}, sql.NullString{}, false).
		WillReturnRows(item(false))
	mock.ExpectCommit()

	rr = do(http.MethodPost, "/api/items/list/1", "alice", `{"name":"Milk","quantity":2,"unit":"L"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"purchased":false`)

	// And marks it purchased.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE i.id = $1 AND l.owner = $2 FOR UPDATE")).
		WithArgs(int64(10), "alice").
		WillReturnRows(item(false))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE grocery_items SET purchased = $1")).
		WithArgs(true, int64(10)).
		WillReturnRows(item(true))
	mock.ExpectCommit()

	rr = do(http.MethodPatch, "/api/items/10/purchased?purchased=true", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"purchased":true`)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE i.id = $1 AND l.owner = $2")).
		WithArgs(int64(10), "alice").
		WillReturnRows(item(true))

	rr = do(http.MethodGet, "/api/items/10", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"purchased":true`)

	// mallory cannot see alice's list.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM grocery_lists WHERE id = $1 AND owner = $2")).
		WithArgs(int64(1), "mallory").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	rr = do(http.MethodGet, "/api/lists/1", "mallory", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Deleting the list takes its items with it.
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM grocery_lists WHERE id = $1 AND owner = $2")).
		WithArgs(int64(1), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr = do(http.MethodDelete, "/api/lists/1", "alice", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE i.id = $1 AND l.owner = $2")).
		WithArgs(int64(10), "alice").
		WillReturnError(sql.ErrNoRows)

	rr = do(http.MethodGet, "/api/items/10", "alice", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}
