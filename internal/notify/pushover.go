package notify

import (
	"context"
	"fmt"
	"portal-notifier/internal/components/assert"
	"portal-notifier/internal/components/telemetry"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultPushoverEndpoint = "https://api.pushover.net/1/messages.json"

// pushover rejects messages over these lengths (in characters)
const (
	pushoverMaxTitle   = 250
	pushoverMaxMessage = 1024
	pushoverMaxUrl     = 512
)

const report_pushover_send = "pushover.send"

// Target is the account a message is delivered to and the application it is sent as.
type Target struct {
	UserKey  string
	AppToken string
}

type PushoverOptions struct {
	// Endpoint defaults to DefaultPushoverEndpoint.
	Endpoint  string
	Target    Target
	Timeout   time.Duration
	Telemetry telemetry.API
}

// Pushover is a Transport using the pushover messages api.
type Pushover struct {
	endpoint string
	target   Target
	http     *resty.Client
	tel      telemetry.API
}

func NewPushover(opts PushoverOptions) *Pushover {
	assert.NotNil(opts.Telemetry)

	tel := telemetry.NewScopedAPI("notify", opts.Telemetry)

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultPushoverEndpoint
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 30
	}

	client := resty.New()
	client.SetTimeout(timeout)
	telemetry.InstrumentResty(client, tel)

	return &Pushover{
		endpoint: endpoint,
		target:   opts.Target,
		http:     client,
		tel:      tel,
	}
}

type pushoverResponse struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Errors  []string `json:"errors"`
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func (p *Pushover) Send(ctx context.Context, msg Message) error {
	return p.SendTo(ctx, msg, p.target)
}

// SendTo is Send with an explicit target instead of the configured one.
func (p *Pushover) SendTo(ctx context.Context, msg Message, target Target) error {
	form := map[string]string{
		"token":   target.AppToken,
		"user":    target.UserKey,
		"message": truncate(msg.Body, pushoverMaxMessage),
	}
	if msg.Title != "" {
		form["title"] = truncate(msg.Title, pushoverMaxTitle)
	}
	if msg.Url != "" && len(msg.Url) <= pushoverMaxUrl {
		form["url"] = msg.Url
		if msg.UrlTitle != "" {
			form["url_title"] = truncate(msg.UrlTitle, 100)
		}
	}

	var result pushoverResponse
	res, err := p.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&result).
		SetError(&result).
		Post(p.endpoint)
	if err != nil {
		return fmt.Errorf("pushover: %w", err)
	}
	if res.IsError() || result.Status != 1 {
		err := fmt.Errorf(
			"pushover: status %d: %s",
			res.StatusCode(),
			strings.Join(result.Errors, "; "),
		)
		p.tel.ReportBroken(report_pushover_send, err, result.Request)
		return err
	}

	p.tel.ReportDebug("pushover accepted message", result.Request)
	return nil
}
