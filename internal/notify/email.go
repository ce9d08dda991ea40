package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmailConfig configures the HTTP mail relay adapter.
type EmailConfig struct {
	URL         string
	APIKey      string
	FromAddress string
	FromName    string
	Timeout     time.Duration
}

// Validate checks required fields.
func (c EmailConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("email url is required")
	}
	if c.FromAddress == "" {
		return fmt.Errorf("email from address is required")
	}
	return nil
}

// HTTPEmailSender delivers rendered notification emails through the
// suite's transactional mail relay.
type HTTPEmailSender struct {
	config     EmailConfig
	httpClient *http.Client
}

var _ EmailSender = (*HTTPEmailSender)(nil)

// NewHTTPEmailSender creates an email adapter with the given configuration.
func NewHTTPEmailSender(config EmailConfig) (*HTTPEmailSender, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEmailSender{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Available reports whether the relay is configured.
func (e *HTTPEmailSender) Available() bool {
	return e != nil && e.config.URL != ""
}

type emailRequest struct {
	To       string `json:"to"`
	ToName   string `json:"toName,omitempty"`
	From     string `json:"from"`
	FromName string `json:"fromName,omitempty"`
	Subject  string `json:"subject"`
	HTML     string `json:"html"`
}

// Send posts the rendered email to the mail relay.
func (e *HTTPEmailSender) Send(ctx context.Context, to, name, subject, htmlBody string) error {
	body, err := json.Marshal(emailRequest{
		To:       to,
		ToName:   name,
		From:     e.config.FromAddress,
		FromName: e.config.FromName,
		Subject:  subject,
		HTML:     htmlBody,
	})
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail relay returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
