package services

import (
	"context"
	"io"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/taskpro/database"
)

func newTestLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	db, err := database.InitDB(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return database.NewStore(db)
}

func createTestUser(t *testing.T, store *database.Store, email string) *database.User {
	t.Helper()
	u := &database.User{Name: "Tester", Email: email, PasswordHash: "x", Theme: "dark"}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

type recordingPublisher struct {
	mu     sync.Mutex
	users  []string
	events []BoardEvent
}

func (p *recordingPublisher) Publish(userID string, message WebSocketMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, userID)
	if ev, ok := message.Data.(BoardEvent); ok {
		p.events = append(p.events, ev)
	}
}

func (p *recordingPublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Action
	}
	return out
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }
