// Package config assembles the process configuration out of the environment (optionally seeded by
// a .env file) and an optional json5 settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"portal-notifier/internal/components/chrono"
	"portal-notifier/internal/components/telemetry"
	"portal-notifier/internal/notify"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// ErrConfig means a required setting is missing or malformed, it is fatal at startup.
var ErrConfig = errors.New("config: invalid configuration")

const (
	EnvTenant           = "PORTAL_TENANT"
	EnvUsername         = "PORTAL_USERNAME"
	EnvPassword         = "PORTAL_PASSWORD"
	EnvStoreUrl         = "STORE_URL"
	EnvPushoverUserKey  = "PUSHOVER_USER_KEY"
	EnvPushoverAppToken = "PUSHOVER_APP_TOKEN"
	EnvDebug            = "DEBUG"
	EnvSkipStartupTest  = "SKIP_STARTUP_TEST"
)

const (
	DefaultConfigPath = "config.json5"
	DefaultEnvFile    = ".env"

	DefaultPortalBaseUrl     = "https://portal.example.com"
	DefaultBootstrapAttempts = 5
	DefaultBootstrapDelay    = 5 * time.Second
	DefaultRunTimeout        = time.Hour
)

// DefaultSchedule is a morning and an afternoon run.
var DefaultSchedule = []string{"0 7 * * *", "0 16 * * *"}

// Env holds the settings that must come from the environment.
type Env struct {
	Tenant           string
	Username         string
	Password         string
	StoreUrl         string
	PushoverUserKey  string
	PushoverAppToken string
	Debug            bool
	SkipStartupTest  bool
}

type PortalConfig struct {
	BaseUrl string `json:"base_url"`
	// RateLimit is in requests per second, zero picks the client default.
	RateLimit        float64 `json:"rate_limit"`
	CloudflareBypass *bool   `json:"cloudflare_bypass"`
	// Timeout of a single request, a go duration string.
	Timeout string `json:"timeout"`
}

type ScheduleConfig struct {
	// Crons are standard 5 field cron specs.
	Crons    []string `json:"crons"`
	Timezone string   `json:"timezone"`
	// RunTimeout bounds a whole run, a go duration string.
	RunTimeout string `json:"run_timeout"`
}

type BootstrapConfig struct {
	Attempts int `json:"attempts"`
	// Delay between attempts, a go duration string.
	Delay string `json:"delay"`
}

type PushoverConfig struct {
	Endpoint string `json:"endpoint"`
}

// File is the shape of the json5 settings file, every field is optional.
type File struct {
	Portal    PortalConfig         `json:"portal"`
	Schedule  ScheduleConfig       `json:"schedule"`
	Bootstrap BootstrapConfig      `json:"bootstrap"`
	Pushover  PushoverConfig       `json:"pushover"`
	Smtp      notify.SmtpConfig    `json:"smtp"`
	Otlp      telemetry.OtlpConfig `json:"otlp"`
}

// Config is the resolved configuration with defaults applied and durations parsed.
type Config struct {
	Env

	PortalBaseUrl     string
	PortalRateLimit   float64
	CloudflareBypass  bool
	RequestTimeout    time.Duration
	Schedule          []string
	Timezone          string
	RunTimeout        time.Duration
	BootstrapAttempts int
	BootstrapDelay    time.Duration
	PushoverEndpoint  string
	Smtp              notify.SmtpConfig
	Otlp              telemetry.OtlpConfig
}

type LoadOptions struct {
	// ConfigPath defaults to DefaultConfigPath, a missing file is not an error.
	ConfigPath string
	// EnvFile defaults to DefaultEnvFile, a missing file is not an error.
	EnvFile string
	// Lookup defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
}

// Load reads the env file into the process environment (without overriding what is already set),
// then resolves the environment and the settings file. Every missing or malformed environment
// variable is reported in the same ErrConfig.
func Load(opts LoadOptions) (Config, error) {
	if opts.ConfigPath == "" {
		opts.ConfigPath = DefaultConfigPath
	}
	if opts.EnvFile == "" {
		opts.EnvFile = DefaultEnvFile
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}

	err := godotenv.Load(opts.EnvFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: env file %s: %w", ErrConfig, opts.EnvFile, err)
	}

	env, err := ReadEnv(opts.Lookup)
	if err != nil {
		return Config{}, err
	}

	file, err := ReadLayered[File](opts.ConfigPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return Resolve(env, file)
}

// ReadEnv reads the required environment variables, booleans accept anything strconv.ParseBool
// does.
func ReadEnv(lookup func(key string) (string, bool)) (Env, error) {
	var missing []string
	var invalid []string

	str := func(key string) string {
		value, ok := lookup(key)
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			missing = append(missing, key)
		}
		return value
	}
	boolean := func(key string) bool {
		value := str(key)
		if value == "" {
			return false
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			invalid = append(invalid, key)
			return false
		}
		return parsed
	}

	env := Env{
		Tenant:           str(EnvTenant),
		Username:         str(EnvUsername),
		Password:         str(EnvPassword),
		StoreUrl:         str(EnvStoreUrl),
		PushoverUserKey:  str(EnvPushoverUserKey),
		PushoverAppToken: str(EnvPushoverAppToken),
		Debug:            boolean(EnvDebug),
		SkipStartupTest:  boolean(EnvSkipStartupTest),
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		problems = append(problems, "not a boolean "+strings.Join(invalid, ", "))
	}
	if len(problems) > 0 {
		return Env{}, fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return env, nil
}

func parseDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrConfig, field, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrConfig, field)
	}
	return parsed, nil
}

// Resolve applies defaults to the settings file and combines it with the environment.
func Resolve(env Env, file File) (Config, error) {
	cfg := Config{
		Env:               env,
		PortalBaseUrl:     file.Portal.BaseUrl,
		PortalRateLimit:   file.Portal.RateLimit,
		CloudflareBypass:  true,
		Schedule:          file.Schedule.Crons,
		Timezone:          file.Schedule.Timezone,
		BootstrapAttempts: file.Bootstrap.Attempts,
		PushoverEndpoint:  file.Pushover.Endpoint,
		Smtp:              file.Smtp,
		Otlp:              file.Otlp,
	}

	if cfg.PortalBaseUrl == "" {
		cfg.PortalBaseUrl = DefaultPortalBaseUrl
	}
	if file.Portal.CloudflareBypass != nil {
		cfg.CloudflareBypass = *file.Portal.CloudflareBypass
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.BootstrapAttempts <= 0 {
		cfg.BootstrapAttempts = DefaultBootstrapAttempts
	}
	if cfg.PushoverEndpoint == "" {
		cfg.PushoverEndpoint = notify.DefaultPushoverEndpoint
	}
	for _, spec := range cfg.Schedule {
		err := chrono.ValidateSpec(spec)
		if err != nil {
			return Config{}, fmt.Errorf("%w: schedule.crons %q: %w", ErrConfig, spec, err)
		}
	}
	_, err := chrono.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("%w: schedule.timezone %q: %w", ErrConfig, cfg.Timezone, err)
	}
	if cfg.PortalRateLimit < 0 {
		return Config{}, fmt.Errorf("%w: portal.rate_limit must not be negative", ErrConfig)
	}

	cfg.RequestTimeout, err = parseDuration("portal.timeout", file.Portal.Timeout, 0)
	if err != nil {
		return Config{}, err
	}
	cfg.RunTimeout, err = parseDuration("schedule.run_timeout", file.Schedule.RunTimeout, DefaultRunTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BootstrapDelay, err = parseDuration("bootstrap.delay", file.Bootstrap.Delay, DefaultBootstrapDelay)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}
