// Package mailer implements the outbound delivery boundary: one synchronous
// "send one message to one address" operation over SMTP.
//
// The broadcast engine only depends on the Deliverer interface; the SMTP
// client here is the production implementation.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	logx "mailcast/pkg/logx"
)

// Deliverer attempts one transport-level send. It returns nil on acceptance
// by the upstream relay and an error (with a human-readable reason) otherwise.
// Implementations must respect ctx for cancellation and deadlines.
type Deliverer interface {
	Deliver(ctx context.Context, recipient, subject, body string) error
}

type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	SenderName string
	StartTLS   bool

	// Timeout bounds a single delivery attempt end-to-end (dial through QUIT).
	// Zero means DefaultTimeout.
	Timeout time.Duration
}

const DefaultTimeout = 30 * time.Second

// ValidAddress reports whether s looks like a deliverable address after
// trimming. The check is intentionally shallow ("@" presence); the relay is
// the authority on deliverability.
func ValidAddress(s string) bool {
	t := strings.TrimSpace(s)
	return t != "" && strings.Contains(t, "@")
}

// Client is an SMTP Deliverer. It opens one connection per attempt; pooling
// is left to the relay side.
type Client struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp port out of range: %d", cfg.Port)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log}, nil
}

func (c *Client) Deliver(ctx context.Context, recipient, subject, body string) error {
	recipient = strings.TrimSpace(recipient)
	if !ValidAddress(recipient) {
		return fmt.Errorf("invalid recipient address %q", recipient)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	// One absolute deadline for the whole SMTP conversation; net/smtp has no
	// context plumbing of its own.
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	cl, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer cl.Close()

	if c.cfg.StartTLS {
		if ok, _ := cl.Extension("STARTTLS"); !ok {
			return errors.New("server does not support STARTTLS")
		}
		if err := cl.StartTLS(&tls.Config{ServerName: c.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if c.cfg.Username != "" {
		auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
		if err := cl.Auth(auth); err != nil {
			// Bad credentials are the most common operator mistake; keep the
			// hint close to the failure.
			c.log.Error("smtp authentication failed; check SMTP_USERNAME/SMTP_PASSWORD (Gmail requires an app password)",
				logx.String("host", c.cfg.Host), logx.Err(err))
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := cl.Mail(c.cfg.Username); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := cl.Rcpt(recipient); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := cl.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	msg := buildMessage(c.cfg.SenderName, c.cfg.Username, recipient, subject, body)
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	if err := cl.Quit(); err != nil {
		// Message was already accepted at this point.
		c.log.Debug("smtp quit failed", logx.Err(err))
	}
	return nil
}
