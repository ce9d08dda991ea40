package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hivedesk/relay/pkg/models"
)

func TestHTTPPushSender_Send(t *testing.T) {
	var got pushRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode push request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender, err := NewHTTPPushSender(PushConfig{URL: server.URL, APIKey: "k1"})
	if err != nil {
		t.Fatal(err)
	}

	n := &models.Notification{
		ID:      "n1",
		Kind:    "chat_mention",
		Title:   "Alice mentioned you",
		Payload: map[string]any{"conversationId": "conv1"},
	}
	if err := sender.Send(context.Background(), "bob", n); err != nil {
		t.Fatalf("Send = %v", err)
	}
	if got.UserID != "bob" || got.NotificationID != "n1" || got.Kind != "chat_mention" {
		t.Fatalf("push request = %+v", got)
	}
	if auth != "Bearer k1" {
		t.Fatalf("authorization = %q, want the bearer key", auth)
	}
}

func TestHTTPPushSender_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no devices registered", http.StatusBadGateway)
	}))
	defer server.Close()

	sender, err := NewHTTPPushSender(PushConfig{URL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	err = sender.Send(context.Background(), "bob", &models.Notification{ID: "n1"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("Send to failing gateway = %v, want a status error", err)
	}
}

func TestHTTPPushSender_RequiresURL(t *testing.T) {
	if _, err := NewHTTPPushSender(PushConfig{}); err == nil {
		t.Fatal("push sender without a url must be rejected")
	}
}

func TestHTTPEmailSender_Send(t *testing.T) {
	var got emailRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode email request: %v", err)
		}
	}))
	defer server.Close()

	sender, err := NewHTTPEmailSender(EmailConfig{
		URL:         server.URL,
		FromAddress: "noreply@example.com",
		FromName:    "HiveDesk",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !sender.Available() {
		t.Fatal("configured sender must report available")
	}

	if err := sender.Send(context.Background(), "bob@example.com", "Bob", "Reminder", "<p>soon</p>"); err != nil {
		t.Fatalf("Send = %v", err)
	}
	if got.To != "bob@example.com" || got.From != "noreply@example.com" || got.Subject != "Reminder" {
		t.Fatalf("email request = %+v", got)
	}
}

func TestHTTPEmailSender_RequiresFromAddress(t *testing.T) {
	if _, err := NewHTTPEmailSender(EmailConfig{URL: "https://mail.internal"}); err == nil {
		t.Fatal("email sender without a from address must be rejected")
	}
}

func TestRenderEmail(t *testing.T) {
	subject, body, err := renderEmail(&models.Notification{
		Title: "Design review",
		Body:  "<b>starts</b> soon",
	})
	if err != nil {
		t.Fatal(err)
	}
	if subject != "Design review" {
		t.Fatalf("subject = %q", subject)
	}
	// Body text is escaped, not injected as markup.
	if strings.Contains(body, "<b>starts</b>") {
		t.Fatal("notification body was not HTML-escaped")
	}
	if !strings.Contains(body, "Design review") {
		t.Fatal("rendered email is missing the title")
	}

	subject, _, err = renderEmail(&models.Notification{})
	if err != nil {
		t.Fatal(err)
	}
	if subject != "New notification" {
		t.Fatalf("empty-title subject = %q, want the fallback", subject)
	}
}
