package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/require"
)

func TestEmailSend(t *testing.T) {
	transport := NewEmail(SmtpConfig{
		Server:       "smtp.test",
		Port:         587,
		EmailAddress: "notifier@test",
		Password:     "secret",
		To:           []string{"parent@test"},
	})

	var sent []*email.Email
	var auths []smtp.Auth
	var addrs []string
	transport.send = func(mail *email.Email, addr string, auth smtp.Auth) error {
		sent = append(sent, mail)
		auths = append(auths, auth)
		addrs = append(addrs, addr)
		if auth != nil {
			return errors.New("smtp: server doesn't support AUTH")
		}
		return nil
	}

	err := transport.Send(context.Background(), Message{
		Title: "Alice: assignment needs attention",
		Body:  "Late: HW1",
		Url:   "https://portal.test/x",
	})
	if err != nil {
		t.Fatal(err)
	}

	require.Len(t, sent, 2)
	require.NotNil(t, auths[0])
	require.Nil(t, auths[1])
	require.Equal(t, "smtp.test:587", addrs[1])

	mail := sent[1]
	require.Equal(t, []string{"parent@test"}, mail.To)
	require.Equal(t, "Alice: assignment needs attention", mail.Subject)
	require.Equal(t, "Late: HW1\n\nhttps://portal.test/x", string(mail.Text))
}

func TestEmailSendFailure(t *testing.T) {
	transport := NewEmail(SmtpConfig{Server: "smtp.test", Port: 25, EmailAddress: "a@test", To: []string{"b@test"}})
	transport.send = func(*email.Email, string, smtp.Auth) error {
		return errors.New("connection refused")
	}

	err := transport.Send(context.Background(), Message{Title: "t", Body: "b"})
	require.ErrorContains(t, err, "connection refused")
}

func TestSmtpConfigured(t *testing.T) {
	require.False(t, SmtpConfig{}.Configured())
	require.False(t, SmtpConfig{Server: "smtp.test", EmailAddress: "a@test"}.Configured())
	require.True(t, SmtpConfig{Server: "smtp.test", EmailAddress: "a@test", To: []string{"b@test"}}.Configured())
}
