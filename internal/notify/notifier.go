// Package notify delivers outbound user notifications. Delivery is
// fire-and-forget from the workflows' point of view: failures are logged and
// counted, never allowed to block or fail a workflow.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wagerline/sync_core/internal/metrics"
	"github.com/wagerline/sync_core/pkg/logger"
)

// Notification is one outbound push message.
type Notification struct {
	UserID   string         `json:"user_id"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Payload  map[string]any `json:"payload,omitempty"`
	Category string         `json:"category"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Send delivers n best-effort: errors are logged, never returned.
func Send(ctx context.Context, notifier Notifier, n Notification, log *logger.Logger) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, n); err != nil {
		metrics.IncNotification(false)
		if log != nil {
			log.WithError(err).Warnf("notify user %s failed", n.UserID)
		}
		return
	}
	metrics.IncNotification(true)
}

// HTTPNotifier posts notifications to a push endpoint.
type HTTPNotifier struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewHTTPNotifier creates a notifier for the given endpoint.
func NewHTTPNotifier(endpoint, apiKey string, client *http.Client) *HTTPNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPNotifier{client: client, endpoint: endpoint, apiKey: apiKey}
}

func (h *HTTPNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Memory records notifications for tests.
type Memory struct {
	mu   sync.Mutex
	sent []Notification

	// Err, when set, is returned from Notify.
	Err error
}

// NewMemory creates an empty recorder.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Notify(ctx context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, n)
	return nil
}

// Sent returns a copy of recorded notifications.
func (m *Memory) Sent() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.sent))
	copy(out, m.sent)
	return out
}
