package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
)

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	To           []string `json:"to"`
}

func (c SmtpConfig) Configured() bool {
	return c.Server != "" && c.EmailAddress != "" && len(c.To) > 0
}

// Email is a Transport that mails each message to a fixed set of recipients.
type Email struct {
	config SmtpConfig
	// send is swapped out in tests
	send func(mail *email.Email, addr string, auth smtp.Auth) error
}

func NewEmail(config SmtpConfig) Email {
	return Email{
		config: config,
		send: func(mail *email.Email, addr string, auth smtp.Auth) error {
			return mail.Send(addr, auth)
		},
	}
}

func (e Email) compose(msg Message) *email.Email {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Portal Notifier <%s>", e.config.EmailAddress)
	mail.To = e.config.To
	mail.Subject = msg.Title

	body := msg.Body
	if msg.Url != "" {
		body = fmt.Sprintf("%s\n\n%s", body, msg.Url)
	}
	mail.Text = []byte(body)
	return mail
}

func (e Email) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mail := e.compose(msg)
	addr := fmt.Sprintf("%s:%d", e.config.Server, e.config.Port)

	err := e.send(mail, addr, smtp.PlainAuth("", e.config.EmailAddress, e.config.Password, e.config.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = e.send(mail, addr, nil)
	}
	if err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}
