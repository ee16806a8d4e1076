package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	from string
	to   []string
	data []byte
}

type captureBackend struct {
	mu       sync.Mutex
	messages []captured
	reject   bool
}

func (b *captureBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &captureSession{backend: b}, nil
}

func (b *captureBackend) all() []captured {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]captured(nil), b.messages...)
}

type captureSession struct {
	backend *captureBackend
	from    string
	to      []string
}

func (s *captureSession) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *captureSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.reject {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "mailbox unavailable"}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *captureSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, captured{from: s.from, to: s.to, data: data})
	s.backend.mu.Unlock()
	return nil
}

func (s *captureSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *captureSession) Logout() error {
	return nil
}

func (s *captureSession) AuthPlain(_, _ string) error {
	return nil
}

func startSMTP(t *testing.T, backend *captureBackend) SMTPConfig {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := smtp.NewServer(backend)
	server.Domain = "localhost"
	server.AllowInsecureAuth = true
	go server.Serve(ln)
	t.Cleanup(func() { server.Close() })

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return SMTPConfig{Host: host, Port: port}
}

func TestSMTPSenderPlainText(t *testing.T) {
	backend := &captureBackend{}
	sender := NewSMTPSender(startSMTP(t, backend))

	err := sender.Send(context.Background(), testEmail())
	require.NoError(t, err)

	messages := backend.all()
	require.Len(t, messages, 1)
	assert.Equal(t, "contact@example.dev", messages[0].from)
	assert.Equal(t, []string{"owner@example.dev"}, messages[0].to)

	reader, err := mail.CreateReader(bytes.NewReader(messages[0].data))
	require.NoError(t, err)

	subject, err := reader.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Portfolio Contact: Ana", subject)

	replyTo, err := reader.Header.AddressList("Reply-To")
	require.NoError(t, err)
	require.Len(t, replyTo, 1)
	assert.Equal(t, "visitor@example.com", replyTo[0].Address)

	part, err := reader.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Equal(t, "Name: Ana", strings.TrimSpace(string(body)))
}

func TestSMTPSenderAlternativeParts(t *testing.T) {
	backend := &captureBackend{}
	sender := NewSMTPSender(startSMTP(t, backend))

	email := testEmail()
	email.ReplyTo = ""
	email.HTML = "<p>Hello <strong>Ana</strong></p>"
	require.NoError(t, sender.Send(context.Background(), email))

	messages := backend.all()
	require.Len(t, messages, 1)

	reader, err := mail.CreateReader(bytes.NewReader(messages[0].data))
	require.NoError(t, err)

	bodies := map[string]string{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		header, ok := part.Header.(*mail.InlineHeader)
		require.True(t, ok)
		mediaType, _, err := header.ContentType()
		require.NoError(t, err)
		data, err := io.ReadAll(part.Body)
		require.NoError(t, err)
		bodies[mediaType] = strings.TrimSpace(string(data))
	}

	assert.Equal(t, "Name: Ana", bodies["text/plain"])
	assert.Equal(t, "<p>Hello <strong>Ana</strong></p>", bodies["text/html"])
}

func TestSMTPSenderRejectedRecipient(t *testing.T) {
	backend := &captureBackend{reject: true}
	sender := NewSMTPSender(startSMTP(t, backend))

	err := sender.Send(context.Background(), testEmail())

	var delivery *DeliveryError
	require.True(t, errors.As(err, &delivery))
	assert.Equal(t, "smtp", delivery.Provider)
	assert.Equal(t, 550, delivery.StatusCode)
	assert.Empty(t, backend.all())
}

func TestSMTPSenderCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: "1"}).Send(ctx, testEmail())
	assert.ErrorIs(t, err, context.Canceled)
}

// startStalledSMTP accepts connections and never sends a greeting.
func startStalledSMTP(t *testing.T) SMTPConfig {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return SMTPConfig{Host: host, Port: port}
}

func TestSMTPSenderTimesOutOnStalledServer(t *testing.T) {
	cfg := startStalledSMTP(t)
	cfg.Timeout = 200 * time.Millisecond
	sender := NewSMTPSender(cfg)

	start := time.Now()
	err := sender.Send(context.Background(), testEmail())

	var delivery *DeliveryError
	require.True(t, errors.As(err, &delivery))
	assert.Equal(t, "smtp", delivery.Provider)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSMTPSenderStopsWhenContextCanceled(t *testing.T) {
	sender := NewSMTPSender(startStalledSMTP(t))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	err := sender.Send(ctx, testEmail())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}
