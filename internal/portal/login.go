package portal

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/codes"
)

const (
	loginPath           = "/login"
	loginFormSelector   = "form#login-form"
	confirmFormSelector = "form#confirm-session"
	usernameField       = "username"
	passwordField       = "password"
)

type Credentials struct {
	Username string
	Password string
}

// Session is an authenticated portal session. It owns the client's cookie jar for as long as it is
// in use and is never persisted, every run logs in again.
type Session struct {
	client *Client
}

// Client returns the client the session is bound to.
func (s *Session) Client() *Client {
	return s.client
}

// Login walks the two step login handshake:
//
//  1. the credential form on the landing page is submitted with the username and password filled in
//  2. the response carries a session confirmation form (the sso handshake) that is submitted as is
//
// Completing both steps is the only success check here, credentials the portal rejects surface when
// the dashboard is scraped.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Session, error) {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	fail := func(step string, err error) (*Session, error) {
		c.tel.ReportBroken(report_client_login, fmt.Errorf("%s: %w", step, err))
		span.RecordError(err)
		span.SetStatus(codes.Error, step)
		return nil, fmt.Errorf("%w: %s: %w", ErrAuthentication, step, err)
	}

	doc, res, err := c.Get(ctx, loginPath)
	if err != nil {
		return fail("fetch login page", err)
	}
	form, err := ExtractForm(doc, loginFormSelector)
	if err != nil {
		return fail("extract login form", err)
	}
	form.Set(usernameField, creds.Username)
	form.Set(passwordField, creds.Password)

	target, err := form.Resolve(res.Url)
	if err != nil {
		return fail("resolve login form", err)
	}
	doc, res, err = c.HTML(ctx, http.MethodPost, target.String(), RequestOptions{
		Form: form.Values(),
	})
	if err != nil {
		return fail("submit credentials", err)
	}

	confirm, err := ExtractForm(doc, confirmFormSelector)
	if err != nil {
		return fail("extract session confirmation form", err)
	}
	target, err = confirm.Resolve(res.Url)
	if err != nil {
		return fail("resolve session confirmation form", err)
	}
	res, err = c.Request(ctx, http.MethodPost, target.String(), RequestOptions{
		Form: confirm.Values(),
	})
	if err != nil {
		return fail("confirm session", err)
	}
	if !res.Ok() {
		return fail("confirm session", statusError(http.MethodPost, res))
	}

	c.tel.ReportDebug("logged in", res.Url.String())
	return &Session{client: c}, nil
}
