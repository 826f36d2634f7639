package handlers

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/CrowderSoup/taskpro/database"
	"github.com/CrowderSoup/taskpro/services"
)

type contextKey string

const (
	userContextKey  contextKey = "user"
	boardContextKey contextKey = "board"
)

type AuthMiddleware struct {
	guard  *services.Guard
	logger *log.Logger
}

func NewAuthMiddleware(guard *services.Guard, logger *log.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		guard:  guard,
		logger: logger,
	}
}

// Auth resolves the bearer token into the signed-in user
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.guard.Principal(r.Context(), bearerToken(r))
		if err != nil {
			m.logger.WithError(err).WithField("path", r.URL.Path).Debug("unauthorized request")
			writeError(w, m.logger, services.ErrNotAuthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Board loads the caller's board named by the {slug} path variable. It must
// run after Auth.
func (m *AuthMiddleware) Board(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user == nil {
			writeError(w, m.logger, services.ErrNotAuthorized)
			return
		}

		board, err := m.guard.Board(r.Context(), user, mux.Vars(r)["slug"])
		if err != nil {
			writeError(w, m.logger, err)
			return
		}

		ctx := context.WithValue(r.Context(), boardContextKey, board)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		// Browsers cannot set headers on a websocket upgrade
		if websocketUpgrade(r) {
			return r.URL.Query().Get("token")
		}
		return ""
	}

	authParts := strings.Split(authHeader, " ")
	if len(authParts) != 2 || authParts[0] != "Bearer" {
		return ""
	}
	return authParts[1]
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func currentUser(r *http.Request) *database.User {
	user, _ := r.Context().Value(userContextKey).(*database.User)
	return user
}

func currentBoard(r *http.Request) *database.Dashboard {
	board, _ := r.Context().Value(boardContextKey).(*database.Dashboard)
	return board
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the hijacker for websocket upgrades
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the websocket upgrader
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// Logging logs every request with its status and duration
func Logging(logger *log.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.WithFields(log.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Info("request")
		})
	}
}

// Limiters untouched for limiterIdle are dropped, checked at most once per
// limiterSweep.
const (
	limiterIdle  = 10 * time.Minute
	limiterSweep = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client address
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*visitor
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
	logger    *log.Logger
}

func NewRateLimiter(limit rate.Limit, burst int, logger *log.Logger) *RateLimiter {
	return &RateLimiter{
		clients:   make(map[string]*visitor),
		limit:     limit,
		burst:     burst,
		lastSweep: time.Now(),
		now:       time.Now,
		logger:    logger,
	}
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= limiterSweep {
		l.sweep(now)
	}

	v, ok := l.clients[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (l *RateLimiter) sweep(now time.Time) {
	for key, v := range l.clients {
		if now.Sub(v.lastSeen) >= limiterIdle {
			delete(l.clients, key)
		}
	}
	l.lastSweep = now
}

func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter(clientAddr(r)).Allow() {
			l.logger.WithField("client", clientAddr(r)).Warn("rate limited")
			writeError(w, l.logger, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
