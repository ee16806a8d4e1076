package contact

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Zachkp/portfolio/internal/logging"
	"github.com/Zachkp/portfolio/internal/mailer"
)

const (
	defaultSiteName = "my portfolio"
	defaultLogoPath = "/logo.png"
)

// Settings are the deployment-level email settings.
type Settings struct {
	APIKey      string // provider credential
	ToEmail     string // owner inbox
	FromEmail   string // sender address, may include a display name
	DirectEmail string // shown in the auto-reply for urgent matters, defaults to ToEmail
	SiteName    string
	SiteURL     string // overrides the origin derived from the request
	LogoPath    string
}

// Complete reports whether the three required settings are present.
func (s Settings) Complete() bool {
	return strings.TrimSpace(s.APIKey) != "" &&
		strings.TrimSpace(s.ToEmail) != "" &&
		strings.TrimSpace(s.FromEmail) != ""
}

func (s Settings) directEmail() string {
	if s.DirectEmail != "" {
		return s.DirectEmail
	}
	return s.ToEmail
}

func (s Settings) siteName() string {
	if s.SiteName != "" {
		return s.SiteName
	}
	return defaultSiteName
}

func (s Settings) logoPath() string {
	if s.LogoPath != "" {
		return s.LogoPath
	}
	return defaultLogoPath
}

// Relay sends the owner notification and the visitor auto-reply.
type Relay struct {
	settings Settings
	sender   mailer.Sender
	logger   *logging.Logger
}

func NewRelay(settings Settings, sender mailer.Sender, logger *logging.Logger) *Relay {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Relay{settings: settings, sender: sender, logger: logger}
}

func (r *Relay) Configured() bool {
	return r.settings.Complete() && r.sender != nil
}

// Deliver sends the owner notification and, only if that succeeded, the
// auto-reply. Each email is attempted once.
func (r *Relay) Deliver(ctx context.Context, logger *logging.Logger, sub Submission, siteURL string) Outcome {
	if logger == nil {
		logger = r.logger
	}
	if r.settings.SiteURL != "" {
		siteURL = strings.TrimRight(r.settings.SiteURL, "/")
	}

	if err := r.sender.Send(ctx, r.ownerEmail(sub)); err != nil {
		logger.Error("Owner notification failed: %v", err)
		return OutcomeOwnerFailed
	}
	logger.Info("Owner notification sent")

	reply, err := r.autoReplyEmail(sub, siteURL)
	if err != nil {
		logger.Error("Auto-reply not built: %v", err)
		return OutcomeAutoReplyFailed
	}
	if err := r.sender.Send(ctx, reply); err != nil {
		logger.Warn("Auto-reply failed: %v", err)
		return OutcomeAutoReplyFailed
	}
	logger.Info("Auto-reply sent")
	return OutcomeDelivered
}

func (r *Relay) ownerEmail(sub Submission) *mailer.Email {
	return &mailer.Email{
		From:    r.settings.FromEmail,
		To:      []string{r.settings.ToEmail},
		ReplyTo: sub.Email,
		Subject: fmt.Sprintf("Portfolio Contact: %s", singleLine(sub.Name)),
		Text:    OwnerNotificationText(sub),
	}
}

func (r *Relay) autoReplyEmail(sub Submission, siteURL string) (*mailer.Email, error) {
	data := AutoReplyData{
		Name:        sub.Name,
		Preview:     Preview(sub.Message),
		DirectEmail: r.settings.directEmail(),
		SiteName:    r.settings.siteName(),
		SiteURL:     siteURL,
		LogoURL:     siteURL + r.settings.logoPath(),
	}

	body, err := RenderAutoReplyHTML(data)
	if err != nil {
		return nil, err
	}

	return &mailer.Email{
		From:    r.settings.FromEmail,
		To:      []string{sub.Email},
		Subject: fmt.Sprintf("Thanks for reaching out, %s", singleLine(sub.Name)),
		HTML:    body,
		Text:    AutoReplyText(data),
	}, nil
}

// SiteURL is the origin of the incoming request. X-Forwarded-Proto and
// X-Forwarded-Host are only honored when the peer is a trusted proxy.
func SiteURL(r *http.Request, trustForwarded bool) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if !trustForwarded {
		return scheme + "://" + host
	}

	if proto := firstValue(r.Header.Get("X-Forwarded-Proto")); proto == "http" || proto == "https" {
		scheme = proto
	}
	if forwarded := firstValue(r.Header.Get("X-Forwarded-Host")); forwarded != "" {
		host = forwarded
	}
	return scheme + "://" + host
}

func firstValue(header string) string {
	if i := strings.IndexByte(header, ','); i >= 0 {
		header = header[:i]
	}
	return strings.ToLower(strings.TrimSpace(header))
}

// singleLine keeps header values on one line.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
