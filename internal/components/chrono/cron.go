package chrono

import (
	"fmt"
	"portal-notifier/internal/components/telemetry"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CronAPI registers callbacks on cron specs.
//
// note: fault injection point
type CronAPI interface {
	Cron(spec string, callback func()) error
}

// StandardCron runs callbacks with robfig/cron. A panicking callback is recovered and reported, a
// callback whose previous invocation is still running skips that trigger.
type StandardCron struct {
	cron *cron.Cron
}

// NewStandardCron starts a scheduler that interprets specs in `location`.
func NewStandardCron(tel telemetry.API, location *time.Location) StandardCron {
	logger := cronLogger{tel: telemetry.NewScopedAPI("cron", tel)}
	scheduler := cron.New(
		cron.WithLocation(location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	scheduler.Start()
	return StandardCron{cron: scheduler}
}

func (s StandardCron) Cron(spec string, callback func()) error {
	_, err := s.cron.AddFunc(spec, callback)
	return err
}

// Stop keeps new triggers from firing and blocks until running callbacks return.
func (s StandardCron) Stop() {
	<-s.cron.Stop().Done()
}

// ValidateSpec checks a 5 field cron spec (or a descriptor such as @daily) without scheduling it.
func ValidateSpec(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

// LoadLocation resolves an IANA timezone name, "" is the local timezone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// cronLogger adapts telemetry.API to cron.Logger.
type cronLogger struct {
	tel telemetry.API
}

func pairs(keysAndValues []any) string {
	var out strings.Builder
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if out.Len() > 0 {
			out.WriteByte(' ')
		}
		fmt.Fprintf(&out, "%v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return out.String()
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.tel.ReportDebug(msg, pairs(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.tel.ReportBroken("job", fmt.Errorf("%s: %w", msg, err), pairs(keysAndValues))
}
