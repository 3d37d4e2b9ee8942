package email

import (
	"context"
	"errors"
	"net"
	"net/smtp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simphiwe-mabaso/family-dining/internal/config"
	"github.com/simphiwe-mabaso/family-dining/internal/logging"
	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestService(host string) (*Service, *[]sentMail) {
	var sent []sentMail
	s := NewService(config.EmailConfig{
		SMTPHost:    host,
		SMTPPort:    "2525",
		SMTPUser:    "mailer",
		FromAddress: "noreply@dining.example",
		FrontendURL: "https://dining.example",
	}, time.Hour, logging.Discard())
	s.send = func(_ context.Context, addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return s, &sent
}

var testUser = &user.User{ID: uuid.New(), Email: "thandi@example.com", FirstName: "Thandi", LastName: "Nkosi"}

func TestSendPasswordResetEmail(t *testing.T) {
	s, sent := newTestService("smtp.example")

	require.NoError(t, s.SendPasswordResetEmail(context.Background(), testUser, "abc-_123"))
	require.Len(t, *sent, 1)

	m := (*sent)[0]
	assert.Equal(t, "smtp.example:2525", m.addr)
	assert.Equal(t, []string{"thandi@example.com"}, m.to)
	assert.Contains(t, m.msg, "Subject: Reset your password")
	assert.Contains(t, m.msg, "https://dining.example/reset-password?token=abc-_123")
	assert.Contains(t, m.msg, "Hi Thandi")
	assert.Contains(t, m.msg, "1h0m0s")
}

func TestSendWelcomeEmail(t *testing.T) {
	s, sent := newTestService("smtp.example")

	require.NoError(t, s.SendWelcomeEmail(context.Background(), testUser))
	require.Len(t, *sent, 1)
	assert.Contains(t, (*sent)[0].msg, "Welcome to Family Dining, Thandi!")
}

func TestNoSMTPHostOnlyLogs(t *testing.T) {
	s, sent := newTestService("")

	require.NoError(t, s.SendWelcomeEmail(context.Background(), testUser))
	assert.Empty(t, *sent)
}

func TestSendFailure(t *testing.T) {
	s, _ := newTestService("smtp.example")
	s.send = func(context.Context, string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }

	err := s.SendWelcomeEmail(context.Background(), testUser)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCancelledContext(t *testing.T) {
	s, sent := newTestService("smtp.example")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, s.SendWelcomeEmail(ctx, testUser), context.Canceled)
	assert.Empty(t, *sent)
}

func TestStalledSendHonoursDeadline(t *testing.T) {
	s, _ := newTestService("smtp.example")
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	s.send = func(context.Context, string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.SendWelcomeEmail(ctx, testUser)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSendMailClosesStalledConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	// Accept and never send the SMTP greeting.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1)
		conn.Read(buf)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = sendMail(ctx, ln.Addr().String(), nil, "noreply@dining.example", []string{"thandi@example.com"}, []byte("hi"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
