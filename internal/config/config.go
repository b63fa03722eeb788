package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Calls      CallsConfig
	Push       PushConfig
	Media      MediaConfig
	ChangeFeed ChangeFeedConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// CallsConfig tunes the ringing deadline and the server-side missed-call sweep.
type CallsConfig struct {
	RingTimeout   time.Duration
	SweepInterval time.Duration
	// SweepGrace is added to RingTimeout so the caller's own timeout normally wins.
	SweepGrace time.Duration
}

type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the VAPID contact (mailto: or https: URL).
	Subscriber string
	TTL        time.Duration
	// Delivery is "queue" (durable River jobs with retries) or "direct"
	// (best-effort goroutine per notification).
	Delivery string
}

const (
	PushDeliveryQueue  = "queue"
	PushDeliveryDirect = "direct"
)

type MediaConfig struct {
	AppID    string
	Secret   string
	TokenTTL time.Duration
}

type ChangeFeedConfig struct {
	StreamMaxLen int64
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

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

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Calls.RingTimeout = mustDuration("CALL_RING_TIMEOUT")
	c.Calls.SweepInterval = mustDuration("CALL_SWEEP_INTERVAL")
	c.Calls.SweepGrace = mustDuration("CALL_SWEEP_GRACE")

	c.Push.VAPIDPublicKey = strings.TrimSpace(os.Getenv("PUSH_VAPID_PUBLIC_KEY"))
	c.Push.VAPIDPrivateKey = os.Getenv("PUSH_VAPID_PRIVATE_KEY")
	c.Push.Subscriber = strings.TrimSpace(os.Getenv("PUSH_SUBSCRIBER"))
	c.Push.TTL = mustDuration("PUSH_TTL")
	c.Push.Delivery = strings.TrimSpace(os.Getenv("PUSH_DELIVERY"))

	c.Media.AppID = strings.TrimSpace(os.Getenv("MEDIA_APP_ID"))
	c.Media.Secret = os.Getenv("MEDIA_SECRET")
	c.Media.TokenTTL = mustDuration("MEDIA_TOKEN_TTL")

	if v := strings.TrimSpace(os.Getenv("CHANGEFEED_STREAM_MAXLEN")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("CHANGEFEED_STREAM_MAXLEN must be an integer, got %q", v))
		}
		c.ChangeFeed.StreamMaxLen = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
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

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
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
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Calls.RingTimeout <= 0 {
		c.Calls.RingTimeout = 30 * time.Second
	}
	if c.Calls.SweepInterval <= 0 {
		c.Calls.SweepInterval = 15 * time.Second
	}
	if c.Calls.SweepGrace <= 0 {
		c.Calls.SweepGrace = 10 * time.Second
	}

	if c.IsProduction() {
		if c.Push.VAPIDPublicKey == "" || c.Push.VAPIDPrivateKey == "" {
			errs = append(errs, errors.New("PUSH_VAPID_PUBLIC_KEY and PUSH_VAPID_PRIVATE_KEY are required in production"))
		}
		if c.Push.Subscriber == "" {
			errs = append(errs, errors.New("PUSH_SUBSCRIBER is required in production"))
		}
	}
	if c.Push.TTL <= 0 {
		c.Push.TTL = 60 * time.Second
	}
	switch c.Push.Delivery {
	case "":
		c.Push.Delivery = PushDeliveryQueue
	case PushDeliveryQueue, PushDeliveryDirect:
	default:
		errs = append(errs, fmt.Errorf("PUSH_DELIVERY must be queue or direct, got %q", c.Push.Delivery))
	}

	if c.Media.Secret == "" {
		errs = append(errs, errors.New("MEDIA_SECRET is required"))
	}
	if c.Media.TokenTTL <= 0 {
		c.Media.TokenTTL = time.Hour
	}

	if c.ChangeFeed.StreamMaxLen < 0 {
		errs = append(errs, fmt.Errorf("CHANGEFEED_STREAM_MAXLEN must be >= 0, got %d", c.ChangeFeed.StreamMaxLen))
	} else if c.ChangeFeed.StreamMaxLen == 0 {
		c.ChangeFeed.StreamMaxLen = 10000
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// PushEnabled reports whether VAPID keys are configured.
func (c Config) PushEnabled() bool {
	return c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != ""
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
