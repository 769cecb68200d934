// Package bootstrap connects everything a run depends on, it is the only place anything is retried.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"portal-notifier/internal/components/assert"
	"portal-notifier/internal/components/telemetry"
	"portal-notifier/internal/notify"
	"portal-notifier/internal/portal"
	"portal-notifier/internal/store"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrConnection means the store or the portal client could not be set up within the allowed
// attempts.
var ErrConnection = errors.New("bootstrap: connection failed")

const (
	report_bootstrap_connect = "bootstrap.connect"
	report_bootstrap_attempt = "bootstrap.attempt"
)

// OpenStore opens and checks a store.
//
// note: fault injection point
type OpenStore = func(ctx context.Context, connString string, tel telemetry.API) (store.Store, error)

type Options struct {
	StoreUrl string
	Portal   portal.ClientOptions
	Pushover notify.PushoverOptions
	// Smtp adds an email transport next to pushover when it is configured.
	Smtp notify.SmtpConfig

	// Attempts is the total amount of tries, at least one is always made.
	Attempts int
	// Delay is the constant wait between two attempts.
	Delay time.Duration

	// OpenStore defaults to store.Open.
	OpenStore OpenStore
	Telemetry telemetry.API
}

// Resources are the live dependencies of a single run.
type Resources struct {
	Store     store.Store
	Portal    *portal.Client
	Transport notify.Transport
}

func (r *Resources) Close() error {
	return r.Store.Close()
}

func defaultOpenStore(ctx context.Context, connString string, tel telemetry.API) (store.Store, error) {
	s, err := store.Open(ctx, connString, tel)
	if err != nil {
		return store.Store{}, err
	}
	err = s.Ping(ctx)
	if err != nil {
		s.Close()
		return store.Store{}, fmt.Errorf("ping store: %w", err)
	}
	return s, nil
}

func connectOnce(ctx context.Context, opts Options) (*Resources, error) {
	s, err := opts.OpenStore(ctx, opts.StoreUrl, opts.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	client, err := portal.NewClient(opts.Portal)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("portal client: %w", err)
	}

	var transport notify.Transport = notify.NewPushover(opts.Pushover)
	if opts.Smtp.Configured() {
		transport = notify.Fanout{transport, notify.NewEmail(opts.Smtp)}
	}

	return &Resources{
		Store:     s,
		Portal:    client,
		Transport: transport,
	}, nil
}

// Connect opens the store and builds the portal client and notification transport, retrying the
// whole sequence with a constant delay. A canceled context stops retrying early.
func Connect(ctx context.Context, opts Options) (*Resources, error) {
	assert.NotNil(opts.Telemetry)

	tel := telemetry.NewScopedAPI("bootstrap", opts.Telemetry)
	if opts.OpenStore == nil {
		opts.OpenStore = defaultOpenStore
	}
	if opts.Portal.Telemetry == nil {
		opts.Portal.Telemetry = opts.Telemetry
	}
	if opts.Pushover.Telemetry == nil {
		opts.Pushover.Telemetry = opts.Telemetry
	}
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.Delay), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	var resources *Resources
	err := backoff.RetryNotify(
		func() error {
			attempt++
			res, err := connectOnce(ctx, opts)
			if err != nil {
				return err
			}
			resources = res
			return nil
		},
		policy,
		func(err error, wait time.Duration) {
			tel.ReportWarning(report_bootstrap_attempt, fmt.Errorf("attempt %d of %d: %w", attempt, attempts, err), wait.String())
		},
	)
	if err != nil {
		err = fmt.Errorf("%w: after %d attempt(s): %w", ErrConnection, attempt, err)
		tel.ReportBroken(report_bootstrap_connect, err)
		return nil, err
	}

	tel.ReportDebug("connected", attempt)
	return resources, nil
}

// SelfTest makes sure a run could be set up, nothing is kept.
func SelfTest(ctx context.Context, opts Options) error {
	resources, err := Connect(ctx, opts)
	if err != nil {
		return err
	}
	return resources.Close()
}
