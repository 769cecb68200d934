package main

import (
	"context"
	"fmt"
	"log/slog"
	"portal-notifier/internal/app"
	"portal-notifier/internal/bootstrap"
	"portal-notifier/internal/components/chrono"
	"portal-notifier/internal/components/process"
	"portal-notifier/internal/components/telemetry"
	"portal-notifier/internal/config"
	"portal-notifier/internal/notify"
	"portal-notifier/internal/portal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

const serviceName = "portal-notifier"

func runnerOptions(cfg config.Config, tel telemetry.API) app.Options {
	return app.Options{
		Bootstrap: bootstrap.Options{
			StoreUrl: cfg.StoreUrl,
			Portal: portal.ClientOptions{
				BaseUrl:          cfg.PortalBaseUrl,
				Tenant:           cfg.Tenant,
				RateLimit:        rate.Limit(cfg.PortalRateLimit),
				CloudflareBypass: cfg.CloudflareBypass,
				Timeout:          cfg.RequestTimeout,
				Telemetry:        tel,
			},
			Pushover: notify.PushoverOptions{
				Endpoint: cfg.PushoverEndpoint,
				Target: notify.Target{
					UserKey:  cfg.PushoverUserKey,
					AppToken: cfg.PushoverAppToken,
				},
				Telemetry: tel,
			},
			Smtp:      cfg.Smtp,
			Attempts:  cfg.BootstrapAttempts,
			Delay:     cfg.BootstrapDelay,
			Telemetry: tel,
		},
		Credentials: portal.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
		},
		RunTimeout: cfg.RunTimeout,
		Telemetry:  tel,
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	configPath, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	now, _ := cmd.Flags().GetBool("now")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(config.LoadOptions{
		ConfigPath: configPath,
		EnvFile:    envFile,
	})
	if err != nil {
		return err
	}

	telemetry.InitSlog(verbose || cfg.Debug)

	otel, err := telemetry.SetupOtel(ctx, serviceName, cfg.Otlp)
	if err != nil {
		process.Fatal("setup otel", err)
	}
	tel := telemetry.NewMetricsAPI(telemetry.SlogAPI{})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := otel.Shutdown(shutdownCtx)
		if err != nil {
			slog.Warn("shutdown otel", "err", err.Error())
		}
	}()

	opts := runnerOptions(cfg, tel)

	if cfg.SkipStartupTest {
		slog.Info("skipping startup self-test")
	} else {
		err = bootstrap.SelfTest(ctx, opts.Bootstrap)
		if err != nil {
			process.Fatal("startup self-test", err)
		}
		slog.Info("startup self-test passed")
	}

	location, err := chrono.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("%w: timezone %q: %w", config.ErrConfig, cfg.Timezone, err)
	}

	runner := app.NewRunner(opts)
	cron := chrono.NewStandardCron(tel, location)
	defer cron.Stop()

	err = runner.Schedule(ctx, cron, cfg.Schedule)
	if err != nil {
		return err
	}
	slog.Info("scheduled runs", "crons", cfg.Schedule, "timezone", location.String())

	if now {
		slog.Info("running once on start")
		go func() {
			summary, err := runner.Run(ctx)
			if err != nil {
				return
			}
			slog.Info(
				"run finished",
				"students", summary.Sync.Students,
				"scores", summary.Sync.Scores,
				"notified", summary.Notified,
			)
		}()
	}

	<-ctx.Done()
	return nil
}
