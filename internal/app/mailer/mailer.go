// Package mailer sends transactional mail over SMTP.
package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/flowforge/platform/pkg/logger"
)

// Sender delivers a single message. Implementations must respect ctx.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Config holds SMTP connection settings.
type Config struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// sendTimeout bounds one SMTP conversation.
const sendTimeout = 15 * time.Second

// SMTP is a Sender backed by net/smtp with plain auth.
type SMTP struct {
	cfg Config
	log *logger.Logger
}

// New creates an SMTP sender. Returns nil when no host is configured so
// callers can treat mail as optional.
func New(cfg Config, log *logger.Logger) *SMTP {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil
	}
	if log == nil {
		log = logger.NewDefault("mailer")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &SMTP{cfg: cfg, log: log}
}

// Send delivers one message. The 15 s budget covers dial through data.
func (m *SMTP) Send(ctx context.Context, to, subject, body string) error {
	if m == nil {
		return fmt.Errorf("mailer not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprint(m.cfg.Port))
	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(msg))
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
