package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zachkp/portfolio/internal/config"
	"github.com/Zachkp/portfolio/internal/contact"
	"github.com/Zachkp/portfolio/internal/logging"
	"github.com/Zachkp/portfolio/internal/mailer"
	"github.com/Zachkp/portfolio/internal/stats"
)

type countingSender struct {
	calls int32
}

func (s *countingSender) Send(_ context.Context, _ *mailer.Email) error {
	atomic.AddInt32(&s.calls, 1)
	return nil
}

type capturingSender struct {
	mu   sync.Mutex
	sent []*mailer.Email
}

func (s *capturingSender) Send(_ context.Context, email *mailer.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, email)
	return nil
}

func (s *capturingSender) emails() []*mailer.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*mailer.Email(nil), s.sent...)
}

func testConfig(t *testing.T, extra map[string]string) *config.Config {
	t.Helper()
	environment := map[string]string{
		"ENV":                "test",
		"RESEND_API_KEY":     "re_test",
		"CONTACT_TO_EMAIL":   "owner@example.dev",
		"CONTACT_FROM_EMAIL": "contact@example.dev",
		"CONTACT_RATE_BURST": "2",
	}
	for k, v := range extra {
		environment[k] = v
	}
	cfg, err := config.Parse(environment)
	require.NoError(t, err)
	return cfg
}

func post(h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const body = `{"name":"Ana","email":"ana@example.com","message":"hi"}`

func TestHealthz(t *testing.T) {
	srv, err := New(testConfig(t, nil), &countingSender{}, nil, logging.Discard())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestContactEndToEnd(t *testing.T) {
	sender := &countingSender{}
	srv, err := New(testConfig(t, nil), sender, nil, logging.Discard())
	require.NoError(t, err)

	w := post(srv.Handler(), "/api/contact", body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"Message sent. I will get back to you soon."}`, w.Body.String())
	assert.Equal(t, int32(2), atomic.LoadInt32(&sender.calls))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestContactMethodNotAllowed(t *testing.T) {
	srv, err := New(testConfig(t, nil), &countingSender{}, nil, logging.Discard())
	require.NoError(t, err)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/api/contact", nil)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
		assert.JSONEq(t, `{"success":false,"message":"Method not allowed"}`, w.Body.String())
	}
}

func TestContactMisconfigured(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.FromEmail = ""
	sender := &countingSender{}
	srv, err := New(cfg, sender, nil, logging.Discard())
	require.NoError(t, err)

	w := post(srv.Handler(), "/api/contact", body, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Server email settings are not configured"}`, w.Body.String())
	assert.Zero(t, atomic.LoadInt32(&sender.calls))
}

func TestContactRateLimited(t *testing.T) {
	sender := &countingSender{}
	srv, err := New(testConfig(t, nil), sender, nil, logging.Discard())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, post(srv.Handler(), "/api/contact", body, nil).Code)
	assert.Equal(t, http.StatusOK, post(srv.Handler(), "/api/contact", body, nil).Code)

	w := post(srv.Handler(), "/api/contact", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"`+contact.MsgTooManyRequests+`"}`, w.Body.String())
	assert.Equal(t, int32(4), atomic.LoadInt32(&sender.calls))
}

func TestForwardedForIgnoredWithoutTrustedProxies(t *testing.T) {
	srv, err := New(testConfig(t, nil), &countingSender{}, nil, logging.Discard())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		post(srv.Handler(), "/api/contact", body, map[string]string{"X-Forwarded-For": "198.51.100.1"})
	}
	w := post(srv.Handler(), "/api/contact", body, map[string]string{"X-Forwarded-For": "198.51.100.99"})

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestForwardedHostIgnoredWithoutTrustedProxies(t *testing.T) {
	sender := &capturingSender{}
	srv, err := New(testConfig(t, nil), sender, nil, logging.Discard())
	require.NoError(t, err)

	w := post(srv.Handler(), "/api/contact", `{"name":"Ana","email":"victim@example.com","message":"hi"}`,
		map[string]string{"X-Forwarded-Host": "evil.example", "X-Forwarded-Proto": "https"})

	require.Equal(t, http.StatusOK, w.Code)
	emails := sender.emails()
	require.Len(t, emails, 2)
	assert.Equal(t, []string{"victim@example.com"}, emails[1].To)
	assert.NotContains(t, emails[1].Text, "evil.example")
	assert.NotContains(t, emails[1].HTML, "evil.example")
	assert.Contains(t, emails[1].Text, "Visit my portfolio: http://example.com\n")
}

func TestForwardedHostHonoredFromTrustedProxy(t *testing.T) {
	sender := &capturingSender{}
	cfg := testConfig(t, map[string]string{"TRUSTED_PROXIES": "192.0.2.0/24"})
	srv, err := New(cfg, sender, nil, logging.Discard())
	require.NoError(t, err)

	w := post(srv.Handler(), "/api/contact", body,
		map[string]string{"X-Forwarded-Host": "zach.dev", "X-Forwarded-Proto": "https"})

	require.Equal(t, http.StatusOK, w.Code)
	emails := sender.emails()
	require.Len(t, emails, 2)
	assert.Contains(t, emails[1].Text, "Visit my portfolio: https://zach.dev\n")
}

func TestConfiguredSiteURLWinsOverHost(t *testing.T) {
	sender := &capturingSender{}
	cfg := testConfig(t, map[string]string{"SITE_URL": "https://zach.dev"})
	srv, err := New(cfg, sender, nil, logging.Discard())
	require.NoError(t, err)

	w := post(srv.Handler(), "/api/contact", body, map[string]string{"X-Forwarded-Host": "evil.example"})

	require.Equal(t, http.StatusOK, w.Code)
	emails := sender.emails()
	require.Len(t, emails, 2)
	assert.NotContains(t, emails[1].HTML, "http://example.com")
	assert.Contains(t, emails[1].HTML, `src="https://zach.dev/logo.png"`)
}

func TestProductionWarnsWithoutSiteURL(t *testing.T) {
	var logs bytes.Buffer
	cfg := testConfig(t, map[string]string{"ENV": "production"})
	_, err := New(cfg, &countingSender{}, nil, logging.New(&logs, "info"))
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "SITE_URL is not set")

	logs.Reset()
	cfg = testConfig(t, map[string]string{"ENV": "production", "SITE_URL": "https://zach.dev"})
	_, err = New(cfg, &countingSender{}, nil, logging.New(&logs, "info"))
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "SITE_URL is not set")
}

func TestAdminRoutesWithStats(t *testing.T) {
	store, err := stats.Open(filepath.Join(t.TempDir(), "stats.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	cfg := testConfig(t, map[string]string{"ADMIN_TOKEN": "s3cret"})
	srv, err := New(cfg, &countingSender{}, store, logging.Discard())
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, post(srv.Handler(), "/api/contact", body, nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var summary stats.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, int64(1), summary.Total)
	assert.Equal(t, int64(1), summary.ByOutcome[string(contact.OutcomeDelivered)])
	assert.NotContains(t, w.Body.String(), "ana@example.com")
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	store, err := stats.Open(filepath.Join(t.TempDir(), "stats.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	srv, err := New(testConfig(t, nil), &countingSender{}, store, logging.Discard())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, map[string]string{"PORT": "0"})
	srv, err := New(cfg, &countingSender{}, nil, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}
