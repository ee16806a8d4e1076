package contact

import (
	"bytes"
	_ "embed"
	"fmt"
	"html"
	"html/template"
	"strings"
)

// PreviewLimit caps the excerpt echoed back in the auto-reply.
const PreviewLimit = 500

// Preview returns message unchanged when it fits in PreviewLimit characters,
// otherwise the first PreviewLimit characters followed by "...".
func Preview(message string) string {
	runes := []rune(message)
	if len(runes) <= PreviewLimit {
		return message
	}
	return string(runes[:PreviewLimit]) + "..."
}

//go:embed templates/auto_reply.html
var autoReplySource string

var autoReplyTemplate = template.Must(template.New("auto_reply").Parse(autoReplySource))

// AutoReplyData feeds both renditions of the confirmation email.
type AutoReplyData struct {
	Name        string
	Preview     string
	DirectEmail string
	SiteName    string
	SiteURL     string
	LogoURL     string
}

type autoReplyView struct {
	AutoReplyData
	PreviewHTML template.HTML
}

// RenderAutoReplyHTML fills the confirmation template. Every value is
// escaped; preview newlines become <br>.
func RenderAutoReplyHTML(data AutoReplyData) (string, error) {
	view := autoReplyView{
		AutoReplyData: data,
		PreviewHTML:   template.HTML(escapeMultiline(data.Preview)),
	}

	var buf bytes.Buffer
	if err := autoReplyTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render auto-reply: %w", err)
	}
	return buf.String(), nil
}

// escapeMultiline escapes & < > " ' and turns line breaks into <br>.
func escapeMultiline(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(html.EscapeString(s), "\n", "<br>")
}

// AutoReplyText is the plain-text fallback of the confirmation email.
func AutoReplyText(data AutoReplyData) string {
	return fmt.Sprintf(`Hi %s,

Thanks for reaching out through %s. Your message has been received and I will get back to you soon.

Your message:
%s

For anything urgent, email me directly at %s.

Visit my portfolio: %s
`, data.Name, data.SiteName, data.Preview, data.DirectEmail, data.SiteURL)
}

// OwnerNotificationText carries the full, untruncated message.
func OwnerNotificationText(s Submission) string {
	return fmt.Sprintf(`New contact form submission from your portfolio:

Name: %s
Email: %s
Message:
%s

---
Sent from your portfolio contact form
`, s.Name, s.Email, s.Message)
}
