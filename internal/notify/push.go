package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hivedesk/relay/pkg/models"
)

// PushConfig configures the HTTP push gateway adapter.
type PushConfig struct {
	// URL of the push gateway's send endpoint.
	URL string
	// APIKey is sent as a bearer token.
	APIKey  string
	Timeout time.Duration
}

// Validate checks required fields.
func (c PushConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("push url is required")
	}
	return nil
}

// HTTPPushSender delivers notifications to the suite's push gateway,
// which owns device tokens and the actual FCM/APNs/web-push handoff.
type HTTPPushSender struct {
	config     PushConfig
	httpClient *http.Client
}

var _ PushSender = (*HTTPPushSender)(nil)

// NewHTTPPushSender creates a push adapter with the given configuration.
func NewHTTPPushSender(config PushConfig) (*HTTPPushSender, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPushSender{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type pushRequest struct {
	UserID         string         `json:"userId"`
	NotificationID string         `json:"notificationId"`
	Kind           string         `json:"kind"`
	Title          string         `json:"title"`
	Body           string         `json:"body,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Send posts the notification to the push gateway.
func (p *HTTPPushSender) Send(ctx context.Context, userID string, n *models.Notification) error {
	body, err := json.Marshal(pushRequest{
		UserID:         userID,
		NotificationID: n.ID,
		Kind:           n.Kind,
		Title:          n.Title,
		Body:           n.Body,
		Payload:        n.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
