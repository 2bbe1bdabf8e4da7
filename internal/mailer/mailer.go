// Package mailer delivers outreach email over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"github.com/badoux/checkmail"
	"gopkg.in/gomail.v2"

	"github.com/BTreeMap/CadencePipe/internal/messaging"
)

// Opts holds SMTP settings.
type Opts struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// Option configures the SMTP transport.
type Option func(*Opts)

func WithHost(host string) Option {
	return func(o *Opts) { o.Host = host }
}

func WithPort(port int) Option {
	return func(o *Opts) { o.Port = port }
}

func WithCredentials(username, password string) Option {
	return func(o *Opts) {
		o.Username = username
		o.Password = password
	}
}

// WithFrom sets the sender address and display name.
func WithFrom(email, name string) Option {
	return func(o *Opts) {
		o.FromEmail = email
		o.FromName = name
	}
}

// ErrNotConfigured is returned by New when no SMTP host is available.
var ErrNotConfigured = errors.New("smtp host not configured")

// sender is the part of *gomail.Dialer the transport needs.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPTransport implements messaging.EmailTransport with gomail.
type SMTPTransport struct {
	dialer sender
	from   string
}

var _ messaging.EmailTransport = (*SMTPTransport)(nil)

// New builds a transport. Unset options fall back to the SMTP_* environment variables.
func New(opts ...Option) (*SMTPTransport, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Host == "" {
		cfg.Host = os.Getenv("SMTP_HOST")
	}
	if cfg.Port == 0 {
		if p, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil {
			cfg.Port = p
		} else {
			cfg.Port = 587
		}
	}
	if cfg.Username == "" {
		cfg.Username = os.Getenv("SMTP_USERNAME")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("SMTP_PASSWORD")
	}
	if cfg.FromEmail == "" {
		cfg.FromEmail = os.Getenv("SMTP_FROM_EMAIL")
	}
	if cfg.FromName == "" {
		cfg.FromName = os.Getenv("SMTP_FROM_NAME")
	}

	slog.Debug("SMTP transport config loaded", "host", cfg.Host, "port", cfg.Port,
		"username_set", cfg.Username != "", "from", cfg.FromEmail)

	if cfg.Host == "" {
		return nil, ErrNotConfigured
	}
	if err := checkmail.ValidateFormat(cfg.FromEmail); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", cfg.FromEmail, err)
	}
	return newTransport(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.FromEmail, cfg.FromName), nil
}

func newTransport(d sender, fromEmail, fromName string) *SMTPTransport {
	from := fromEmail
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, fromEmail)
	}
	return &SMTPTransport{dialer: d, from: from}
}

// Send delivers one HTML email. Extra headers are set in sorted order.
func (t *SMTPTransport) Send(ctx context.Context, to, subject, html string, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := BuildMessage(t.from, to, subject, html, headers)
	if err := t.dialer.DialAndSend(m); err != nil {
		slog.Error("SMTPTransport.Send: delivery failed", "to", to, "error", err)
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	slog.Debug("SMTPTransport.Send: email sent", "to", to)
	return nil
}

// BuildMessage assembles the gomail message for one email.
func BuildMessage(from, to, subject, html string, headers map[string]string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if headers[k] != "" {
			m.SetHeader(k, headers[k])
		}
	}
	m.SetBody("text/html", html)
	return m
}
