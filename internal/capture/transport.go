package capture

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// SessionStore remembers one session id per user for the life of the store.
type SessionStore interface {
	SessionID(userID string) (string, bool)
	SetSessionID(userID, sessionID string)
}

type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]string
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]string)}
}

func (m *MemorySessionStore) SessionID(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sid, ok := m.sessions[userID]
	return sid, ok
}

func (m *MemorySessionStore) SetSessionID(userID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = sessionID
}

// HTTPPoster posts JSON bodies with net/http.
type HTTPPoster struct {
	client *http.Client
}

func NewHTTPPoster(timeout time.Duration) *HTTPPoster {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPoster{client: &http.Client{Timeout: timeout}}
}

func (p *HTTPPoster) Post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("capture post: status %d", resp.StatusCode)
	}
	return nil
}
