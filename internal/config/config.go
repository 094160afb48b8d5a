package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API and sweeper processes.
// All values come from env (optionally seeded from .env / .env.local).
// No business logic should depend on raw environment variables; components
// receive the section they need at construction.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Broadcast BroadcastConfig
	Push      PushConfig
	RTC       RTCConfig
	Calls     CallsConfig
	Telemetry TelemetryConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicURL is the externally reachable base used to build web join URLs.
	PublicURL string
}

type DBConfig struct {
	// Driver is postgres or sqlite.
	Driver string

	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// SQLitePath is used when Driver == sqlite.
	SQLitePath string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type BroadcastConfig struct {
	Enabled bool
	// Driver is redis or nats.
	Driver  string
	NATSURL string
}

type PushConfig struct {
	Enabled bool
	FCM     FCMConfig
	APNs    APNsConfig
}

type FCMConfig struct {
	ServerKey string
	Endpoint  string
}

type APNsConfig struct {
	KeyID      string
	TeamID     string
	BundleID   string
	KeyPath    string
	Production bool
}

type RTCConfig struct {
	AppID        string
	ServerSecret string
	TokenTTL     time.Duration
}

type CallsConfig struct {
	// NotifyTimeout bounds broadcast + push fan-out after a transition.
	NotifyTimeout time.Duration

	AutoEndMissedCalls bool
	MissedCallTimeout  time.Duration
	SweepBatchSize     int
}

type TelemetryConfig struct {
	MetricsEnabled bool
	TracingEnabled bool
}

// Load reads .env files (if present) and then the process environment.
// Real environment variables always win over .env values.
func Load() (Config, error) {
	loadDotEnv()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_PUBLIC_URL")), "/")

	c.DB.Driver = strings.TrimSpace(os.Getenv("DB_DRIVER"))
	if c.DB.Driver == "" {
		c.DB.Driver = "postgres"
	}
	c.DB.SQLitePath = strings.TrimSpace(os.Getenv("DB_SQLITE_PATH"))
	if c.DB.Driver == "postgres" {
		c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
		{
			n, err := mustInt("DB_PORT")
			n, parseErrs = appendParseErr(parseErrs, n, err)
			c.DB.Port = n
		}
		c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
		c.DB.Password = os.Getenv("DB_PASSWORD")
		c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
		c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Broadcast.Enabled = boolOr("BROADCAST_ENABLED", true)
	c.Broadcast.Driver = strings.TrimSpace(os.Getenv("BROADCAST_DRIVER"))
	c.Broadcast.NATSURL = strings.TrimSpace(os.Getenv("NATS_URL"))

	c.Push.Enabled = boolOr("PUSH_ENABLED", true)
	c.Push.FCM.ServerKey = os.Getenv("FCM_SERVER_KEY")
	c.Push.FCM.Endpoint = strings.TrimSpace(os.Getenv("FCM_ENDPOINT"))
	c.Push.APNs.KeyID = strings.TrimSpace(os.Getenv("APN_KEY_ID"))
	c.Push.APNs.TeamID = strings.TrimSpace(os.Getenv("APN_TEAM_ID"))
	c.Push.APNs.BundleID = strings.TrimSpace(os.Getenv("APN_BUNDLE_ID"))
	c.Push.APNs.KeyPath = strings.TrimSpace(os.Getenv("APN_KEY_PATH"))
	c.Push.APNs.Production = boolOr("APN_PRODUCTION", false)

	c.RTC.AppID = strings.TrimSpace(os.Getenv("RTC_APP_ID"))
	c.RTC.ServerSecret = os.Getenv("RTC_SERVER_SECRET")
	c.RTC.TokenTTL = mustDuration("RTC_TOKEN_TTL")

	c.Calls.NotifyTimeout = mustDuration("CALLS_NOTIFY_TIMEOUT")
	c.Calls.AutoEndMissedCalls = boolOr("CALLS_AUTO_END_MISSED", false)
	c.Calls.MissedCallTimeout = mustDuration("CALLS_MISSED_TIMEOUT")
	if v := strings.TrimSpace(os.Getenv("CALLS_SWEEP_BATCH")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("CALLS_SWEEP_BATCH must be an integer, got %q", v))
		}
		c.Calls.SweepBatchSize = n
	}

	c.Telemetry.MetricsEnabled = boolOr("METRICS_ENABLED", true)
	c.Telemetry.TracingEnabled = boolOr("TRACING_ENABLED", false)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration and fills in environment-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicURL == "" {
		c.App.PublicURL = fmt.Sprintf("http://localhost:%d", c.App.Port)
	}

	switch c.DB.Driver {
	case "postgres":
		errs = append(errs, c.validatePostgres()...)
	case "sqlite":
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_DRIVER=sqlite is not allowed in production"))
		}
		if c.DB.SQLitePath == "" {
			c.DB.SQLitePath = "call-signaling.db"
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be one of postgres, sqlite, got %q", c.DB.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Broadcast.Driver == "" {
		c.Broadcast.Driver = "redis"
	}
	if c.Broadcast.Enabled {
		switch c.Broadcast.Driver {
		case "redis":
			errs = append(errs, c.validateRedis()...)
		case "nats":
			if c.Broadcast.NATSURL == "" {
				errs = append(errs, errors.New("NATS_URL is required when BROADCAST_DRIVER=nats"))
			}
		default:
			errs = append(errs, fmt.Errorf("BROADCAST_DRIVER must be one of redis, nats, got %q", c.Broadcast.Driver))
		}
	}

	if c.Push.FCM.Endpoint == "" {
		c.Push.FCM.Endpoint = "https://fcm.googleapis.com/fcm/send"
	}

	if c.RTC.AppID == "" {
		errs = append(errs, errors.New("RTC_APP_ID is required"))
	}
	if c.RTC.ServerSecret == "" {
		errs = append(errs, errors.New("RTC_SERVER_SECRET is required"))
	}
	if c.RTC.TokenTTL <= 0 {
		c.RTC.TokenTTL = time.Hour
	}

	if c.Calls.NotifyTimeout <= 0 {
		c.Calls.NotifyTimeout = 5 * time.Second
	}
	if c.Calls.MissedCallTimeout <= 0 {
		c.Calls.MissedCallTimeout = 60 * time.Second
	}
	if c.Calls.SweepBatchSize <= 0 {
		c.Calls.SweepBatchSize = 100
	}
	if c.Calls.AutoEndMissedCalls {
		// The sweeper single-flights through Redis.
		errs = append(errs, c.validateRedis()...)
	}

	return joinErrors(dedupe(errs))
}

func (c *Config) validatePostgres() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c *Config) validateRedis() []error {
	var errs []error
	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func loadDotEnv() {
	// godotenv.Load never overrides variables that are already set,
	// so the process environment keeps precedence.
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", f, err)
		}
	}
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func boolOr(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func dedupe(errs []error) []error {
	seen := make(map[string]struct{}, len(errs))
	out := errs[:0]
	for _, e := range errs {
		if _, ok := seen[e.Error()]; ok {
			continue
		}
		seen[e.Error()] = struct{}{}
		out = append(out, e)
	}
	return out
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
