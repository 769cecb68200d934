package app

import (
	"context"
	"errors"
	"fmt"
	"portal-notifier/internal/bootstrap"
	"portal-notifier/internal/components/assert"
	"portal-notifier/internal/components/chrono"
	"portal-notifier/internal/components/telemetry"
	"portal-notifier/internal/notify"
	"portal-notifier/internal/portal"
	"portal-notifier/internal/syncer"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("portal-notifier/internal/app")

// ErrRunInProgress is returned by Run when another run has not finished yet.
var ErrRunInProgress = errors.New("app: a run is already in progress")

const (
	report_runner_run      = "runner.run"
	report_runner_overlap  = "runner.overlap"
	report_runner_schedule = "runner.schedule"
)

type Options struct {
	Bootstrap   bootstrap.Options
	Credentials portal.Credentials
	// RunTimeout bounds a whole run, zero means no bound.
	RunTimeout time.Duration
	Telemetry  telemetry.API
}

// Runner performs complete sync and notify runs, at most one at a time.
type Runner struct {
	opts    Options
	tel     telemetry.API
	running *atomic.Bool
}

// Summary describes a finished run.
type Summary struct {
	Sync     syncer.Result
	Notified int
}

func NewRunner(opts Options) Runner {
	assert.NotNil(opts.Telemetry)
	if opts.Bootstrap.Telemetry == nil {
		opts.Bootstrap.Telemetry = opts.Telemetry
	}

	return Runner{
		opts:    opts,
		tel:     telemetry.NewScopedAPI("app", opts.Telemetry),
		running: &atomic.Bool{},
	}
}

// Run connects, syncs every student, notifies about new problems and disconnects. A run that starts
// while another is still going returns ErrRunInProgress right away and does nothing.
func (r Runner) Run(ctx context.Context) (summary Summary, err error) {
	if !r.running.CompareAndSwap(false, true) {
		r.tel.ReportWarning(report_runner_overlap, ErrRunInProgress)
		return Summary{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	if r.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RunTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "runner:Run")
	defer span.End()
	defer func() {
		if err != nil {
			r.tel.ReportBroken(report_runner_run, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "run")
		}
	}()

	start := time.Now()

	resources, err := bootstrap.Connect(ctx, r.opts.Bootstrap)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		closeErr := resources.Close()
		if closeErr != nil {
			r.tel.ReportWarning(report_runner_run, fmt.Errorf("close resources: %w", closeErr))
		}
	}()

	result, err := syncer.NewSyncer(syncer.Options{
		Store:       resources.Store,
		Portal:      resources.Portal,
		Credentials: r.opts.Credentials,
		Telemetry:   r.opts.Telemetry,
	}).SyncAll(ctx)
	summary.Sync = result
	if err != nil {
		return summary, fmt.Errorf("sync: %w", err)
	}

	notifier := notify.NewNotifier(notify.Options{
		Store:     resources.Store,
		Transport: resources.Transport,
		PortalUrl: resources.Portal.BaseUrl.String(),
		Tenant:    resources.Portal.Tenant,
		Telemetry: r.opts.Telemetry,
	})
	summary.Notified, err = notifier.NotifyProblems(ctx)
	if err != nil {
		return summary, fmt.Errorf("notify: %w", err)
	}

	span.SetAttributes(
		attribute.Int("students", summary.Sync.Students),
		attribute.Int("scores", summary.Sync.Scores),
		attribute.Int("notified", summary.Notified),
	)
	r.tel.ReportDebug(
		"run finished",
		summary.Sync.Students,
		summary.Sync.Scores,
		summary.Notified,
		time.Since(start).String(),
	)
	return summary, nil
}

// Schedule runs on every one of the given cron specs, errors of scheduled runs are only reported.
func (r Runner) Schedule(ctx context.Context, cron chrono.CronAPI, specs []string) error {
	for _, spec := range specs {
		err := cron.Cron(spec, func() {
			// failures are already reported by Run
			_, _ = r.Run(ctx)
		})
		if err != nil {
			r.tel.ReportBroken(report_runner_schedule, err, spec)
			return fmt.Errorf("schedule %q: %w", spec, err)
		}
	}
	return nil
}
