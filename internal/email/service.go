package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"net/url"
	"time"

	"github.com/simphiwe-mabaso/family-dining/internal/config"
	"github.com/simphiwe-mabaso/family-dining/internal/logging"
	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service sends account e-mails over SMTP. Without an SMTP host it only logs
// what it would have sent, which keeps local development quiet.
type Service struct {
	cfg      config.EmailConfig
	resetTTL time.Duration
	logger   *logging.Logger
	send     sendFunc
}

func NewService(cfg config.EmailConfig, resetTTL time.Duration, logger *logging.Logger) *Service {
	return &Service{
		cfg:      cfg,
		resetTTL: resetTTL,
		logger:   logger,
		send:     sendMail,
	}
}

func (s *Service) SendWelcomeEmail(ctx context.Context, u *user.User) error {
	body, err := render("welcome.html", map[string]any{
		"FirstName": u.FirstName,
		"Email":     u.Email,
		"AppLink":   s.cfg.FrontendURL,
	})
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.deliver(ctx, u.Email, "Welcome to Family Dining", body); err != nil {
		return fmt.Errorf("send welcome email: %w", err)
	}
	return nil
}

func (s *Service) SendPasswordResetEmail(ctx context.Context, u *user.User, token string) error {
	resetLink := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.FrontendURL, url.QueryEscape(token))

	body, err := render("password_reset.html", map[string]any{
		"FirstName": u.FirstName,
		"ResetLink": template.URL(resetLink),
		"ValidFor":  s.resetTTL.String(),
	})
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.deliver(ctx, u.Email, "Reset your password", body); err != nil {
		return fmt.Errorf("send password reset email: %w", err)
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, to, subject, body string) error {
	if s.cfg.SMTPHost == "" {
		s.logger.Info("smtp not configured, email not sent", "to", to, "subject", subject)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		s.cfg.FromAddress, to, subject, body,
	))

	var auth smtp.Auth
	if s.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}

	addr := net.JoinHostPort(s.cfg.SMTPHost, s.cfg.SMTPPort)
	done := make(chan error, 1)
	go func() {
		done <- s.send(ctx, addr, auth, s.cfg.FromAddress, []string{to}, msg)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return err
		}
	}

	s.logger.Info("email sent", "to", to, "subject", subject)
	return nil
}

// sendMail is smtp.SendMail with the connection bound to ctx. The ctx deadline
// is set on the connection, and cancellation closes it.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
