package notify

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/hivedesk/relay/pkg/models"
)

var emailTemplate = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2933;">
  <h2 style="margin-bottom: 4px;">{{.Title}}</h2>
{{- if .Body}}
  <p>{{.Body}}</p>
{{- end}}
  <p style="color: #7b8794; font-size: 12px;">You received this because of activity in your workspace.</p>
</body>
</html>
`))

// renderEmail produces the subject and HTML body for a notification
// email. The subject reuses the notification title.
func renderEmail(n *models.Notification) (subject, body string, err error) {
	var buf strings.Builder
	if err := emailTemplate.Execute(&buf, n); err != nil {
		return "", "", fmt.Errorf("execute email template: %w", err)
	}
	subject = n.Title
	if subject == "" {
		subject = "New notification"
	}
	return subject, buf.String(), nil
}
