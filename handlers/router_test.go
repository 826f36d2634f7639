package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/CrowderSoup/taskpro/database"
	"github.com/CrowderSoup/taskpro/services"
)

type testServer struct {
	handler http.Handler
	store   *database.Store
}

func newTestServer(t *testing.T, opts RouterOptions) *testServer {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)

	db, err := database.InitDB(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := database.NewStore(db)

	hub := services.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	auth := services.NewAuthService(store, "test-secret", time.Hour, logger)
	if opts.AuthRate == 0 {
		opts.AuthRate = rate.Inf
	}
	handler := NewRouter(Services{
		Auth:   auth,
		Guard:  services.NewGuard(auth, store),
		Boards: services.NewBoardService(store, nil, hub, logger),
		Help:   services.NewHelpService(store, services.LogNotifier{Logger: logger}, logger),
		Hub:    hub,
	}, opts, logger)

	return &testServer{handler: handler, store: store}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func (s *testServer) login(t *testing.T, email string) string {
	t.Helper()
	rec, _ := s.do(t, "POST", "/api/auth/register", "", `{"name":"Alice","email":"`+email+`","password":"Secret1!"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, body := s.do(t, "POST", "/api/auth/login", "", `{"email":"`+email+`","password":"Secret1!"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec, body := s.do(t, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestAccountRoutes(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	token := s.login(t, "alice@example.com")

	t.Run("duplicate registration", func(t *testing.T) {
		rec, body := s.do(t, "POST", "/api/auth/register", "", `{"name":"Alice","email":"alice@example.com","password":"Secret1!"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "Email already registered!", body["message"])
	})

	t.Run("wrong password", func(t *testing.T) {
		rec, body := s.do(t, "POST", "/api/auth/login", "", `{"email":"alice@example.com","password":"Nope123!"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Email or password is wrong", body["message"])
	})

	t.Run("validation errors are listed", func(t *testing.T) {
		rec, body := s.do(t, "POST", "/api/auth/register", "", `{"name":"Al"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		msgs, ok := body["message"].([]any)
		require.True(t, ok)
		assert.Len(t, msgs, 3)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec, _ := s.do(t, "POST", "/api/auth/login", "", `{"email":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("current user", func(t *testing.T) {
		rec, body := s.do(t, "GET", "/api/auth/current", token, "")
		require.Equal(t, http.StatusOK, rec.Code)
		user := body["user"].(map[string]any)
		assert.Equal(t, "Alice", user["name"])
		assert.Equal(t, "dark", user["theme"])
	})

	t.Run("change theme", func(t *testing.T) {
		rec, body := s.do(t, "PATCH", "/api/auth/change-theme", token, `{"theme":"violet"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "violet", body["theme"])

		rec, _ = s.do(t, "PATCH", "/api/auth/change-theme", token, `{"theme":"neon"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("background only for yourself", func(t *testing.T) {
		rec, _ := s.do(t, "PATCH", "/api/auth/users/someone/set-background", token, `{"backgroundImage":"sea.png"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("need help", func(t *testing.T) {
		rec, body := s.do(t, "POST", "/api/need-help", token, `{"comment":"please call me back"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Email sent successfully!", body["message"])
	})

	t.Run("logout", func(t *testing.T) {
		rec, _ := s.do(t, "GET", "/api/auth/logout", token, "")
		require.Equal(t, http.StatusOK, rec.Code)

		rec, body := s.do(t, "GET", "/api/auth/current", token, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Not authorized", body["message"])
	})
}

func TestBoardRoutes(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	token := s.login(t, "alice@example.com")

	rec, _ := s.do(t, "GET", "/api/boards", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, board := s.do(t, "POST", "/api/boards", token, `{"name":"My Dashboard","icon":"icon-3"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "my-dashboard", board["slug"])
	assert.NotEmpty(t, board["_id"])

	rec, _ = s.do(t, "POST", "/api/boards", token, `{"name":"My Dashboard"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, list := s.do(t, "GET", "/api/boards", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, list["dashboards"], 1)

	base := "/api/boards/my-dashboard"
	rec, todo := s.do(t, "POST", base+"/column", token, `{"name":"To Do"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	todoID := todo["_id"].(string)

	rec, done := s.do(t, "POST", base+"/column", token, `{"name":"Done"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	doneID := done["_id"].(string)

	rec, card := s.do(t, "POST", base+"/column/"+todoID, token, `{"title":"X","priority":"high"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cardID := card["_id"].(string)
	assert.Equal(t, todoID, card["columnId"])

	t.Run("rename answers with the column", func(t *testing.T) {
		rec, body := s.do(t, "PATCH", base+"/column/"+doneID, token, `{"name":"Finished"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Finished", body["name"])
	})

	t.Run("move answers with the column order", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("PATCH", base+"/column/"+doneID, strings.NewReader(`{"position":0}`))
		req.Header.Set("Authorization", "Bearer "+token)
		s.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var order []string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
		assert.Equal(t, []string{doneID, todoID}, order)
	})

	t.Run("re-parent card", func(t *testing.T) {
		rec, body := s.do(t, "PATCH", base+"/"+cardID, token, `{"columnId":"`+doneID+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, doneID, body["columnId"])
	})

	t.Run("populated board", func(t *testing.T) {
		rec, body := s.do(t, "GET", base, token, "")
		require.Equal(t, http.StatusOK, rec.Code)
		columns := body["columns"].([]any)
		require.Len(t, columns, 2)
		first := columns[0].(map[string]any)
		assert.Equal(t, "Finished", first["name"])
		assert.Len(t, first["cards"], 1)
	})

	t.Run("other users cannot see the board", func(t *testing.T) {
		other := s.login(t, "bob@example.com")
		rec, body := s.do(t, "GET", base, other, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Dashboard not found", body["message"])

		rec, _ = s.do(t, "DELETE", base+"/"+cardID, other, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown column", func(t *testing.T) {
		rec, body := s.do(t, "DELETE", base+"/column/"+database.NewID(), token, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Column not found", body["message"])
	})

	t.Run("delete column removes its cards", func(t *testing.T) {
		rec, _ := s.do(t, "DELETE", base+"/column/"+doneID, token, "")
		require.Equal(t, http.StatusOK, rec.Code)

		rec, _ = s.do(t, "PATCH", base+"/"+cardID, token, `{"title":"gone"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rename board", func(t *testing.T) {
		rec, body := s.do(t, "PATCH", base, token, `{"name":"Renamed"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "renamed", body["slug"])
	})

	t.Run("delete board", func(t *testing.T) {
		rec, body := s.do(t, "DELETE", "/api/boards/renamed", token, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Dashboard deleted successfully", body["message"])

		rec, _ = s.do(t, "GET", "/api/boards/renamed", token, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAuthRateLimit(t *testing.T) {
	s := newTestServer(t, RouterOptions{AuthRate: rate.Every(time.Hour), AuthBurst: 2})

	for i := 0; i < 2; i++ {
		rec, _ := s.do(t, "POST", "/api/auth/login", "", `{"email":"a@b.co","password":"Secret1!"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec, body := s.do(t, "POST", "/api/auth/login", "", `{"email":"a@b.co","password":"Secret1!"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests", body["message"])
}

func TestRateLimiterDropsIdleClients(t *testing.T) {
	logger := log.New()
	logger.SetOutput(io.Discard)
	l := NewRateLimiter(rate.Every(time.Hour), 1, logger)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.lastSweep = now

	assert.True(t, l.limiter("10.0.0.1").Allow())
	assert.True(t, l.limiter("10.0.0.2").Allow())
	require.Len(t, l.clients, 2)

	// 10.0.0.2 stays active, 10.0.0.1 goes idle
	now = now.Add(limiterIdle - time.Second)
	assert.False(t, l.limiter("10.0.0.2").Allow())
	now = now.Add(limiterSweep)
	l.limiter("10.0.0.3")

	assert.Len(t, l.clients, 2)
	assert.NotContains(t, l.clients, "10.0.0.1")
	assert.Contains(t, l.clients, "10.0.0.2")

	// a returning client starts with a fresh burst
	assert.True(t, l.limiter("10.0.0.1").Allow())
}
