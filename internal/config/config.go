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
	App         AppConfig
	Store       StoreConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Login       LoginConfig
	Idempotency IdempotencyConfig
	Ledger      LedgerConfig
	Bootstrap   BootstrapConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// StoreConfig selects the persistence backend.
// Accepts: postgres, memory
type StoreConfig struct {
	Driver string
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

// RedisConfig is optional. An empty Host keeps the idempotency cache in process memory.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	TokenSecret     string
	TokenIssuer     string
	SessionAudience string
	ActionAudience  string
	SessionTTL      time.Duration
	ActionTokenTTL  time.Duration
}

type LoginConfig struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

type IdempotencyConfig struct {
	TTL time.Duration
}

type LedgerConfig struct {
	// VerifySchedule is a cron schedule for the in-process chain check. Empty disables it.
	VerifySchedule string
}

// BootstrapConfig optionally provisions one employee account at startup.
// Both fields must be set together.
type BootstrapConfig struct {
	EmployeeUsername string
	EmployeePassword string
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Store.Driver = strings.TrimSpace(os.Getenv("STORE_DRIVER"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.Store.Driver != StoreDriverMemory {
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.TokenSecret = os.Getenv("TOKEN_SECRET")
	c.Auth.TokenIssuer = strings.TrimSpace(os.Getenv("TOKEN_ISSUER"))
	c.Auth.SessionAudience = strings.TrimSpace(os.Getenv("SESSION_AUDIENCE"))
	c.Auth.ActionAudience = strings.TrimSpace(os.Getenv("ACTION_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.SessionTTL = mustDuration("SESSION_TTL")
	c.Auth.ActionTokenTTL = mustDuration("ACTION_TOKEN_TTL")

	if v := strings.TrimSpace(os.Getenv("LOGIN_MAX_FAILED_ATTEMPTS")); v != "" {
		n, err := mustInt("LOGIN_MAX_FAILED_ATTEMPTS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Login.MaxFailedAttempts = n
	}
	c.Login.LockoutDuration = mustDuration("LOGIN_LOCKOUT")

	c.Idempotency.TTL = mustDuration("IDEMPOTENCY_TTL")

	if v, ok := os.LookupEnv("CHAIN_VERIFY_SCHEDULE"); ok {
		c.Ledger.VerifySchedule = strings.TrimSpace(v)
	} else {
		c.Ledger.VerifySchedule = "@every 1h"
	}

	c.Bootstrap.EmployeeUsername = strings.TrimSpace(os.Getenv("BOOTSTRAP_EMPLOYEE_USERNAME"))
	c.Bootstrap.EmployeePassword = os.Getenv("BOOTSTRAP_EMPLOYEE_PASSWORD")

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

	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverPostgres
	}
	switch c.Store.Driver {
	case StoreDriverPostgres:
		errs = append(errs, c.validateDB()...)
	case StoreDriverMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of postgres, memory, got %q", c.Store.Driver))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.TokenSecret == "" {
		errs = append(errs, errors.New("TOKEN_SECRET is required"))
	} else if c.IsProduction() && len(c.Auth.TokenSecret) < 32 {
		errs = append(errs, errors.New("TOKEN_SECRET must be at least 32 bytes in production"))
	}
	if c.Auth.TokenIssuer == "" {
		c.Auth.TokenIssuer = "payments-portal"
	}
	if c.Auth.SessionAudience == "" {
		c.Auth.SessionAudience = "payments-portal:session"
	}
	if c.Auth.ActionAudience == "" {
		c.Auth.ActionAudience = "payments-portal:action"
	}
	if c.Auth.SessionAudience == c.Auth.ActionAudience {
		errs = append(errs, errors.New("SESSION_AUDIENCE and ACTION_AUDIENCE must differ"))
	}
	if c.Auth.SessionTTL <= 0 {
		c.Auth.SessionTTL = time.Hour
	}
	if c.Auth.ActionTokenTTL <= 0 {
		c.Auth.ActionTokenTTL = 15 * time.Minute
	}
	if c.Auth.ActionTokenTTL >= c.Auth.SessionTTL {
		errs = append(errs, errors.New("ACTION_TOKEN_TTL must be shorter than SESSION_TTL"))
	}

	if c.Login.MaxFailedAttempts < 0 {
		errs = append(errs, fmt.Errorf("LOGIN_MAX_FAILED_ATTEMPTS must be positive, got %d", c.Login.MaxFailedAttempts))
	} else if c.Login.MaxFailedAttempts == 0 {
		c.Login.MaxFailedAttempts = 5
	}
	if c.Login.LockoutDuration <= 0 {
		c.Login.LockoutDuration = 15 * time.Minute
	}

	if c.Idempotency.TTL <= 0 {
		c.Idempotency.TTL = 10 * time.Minute
	}

	if (c.Bootstrap.EmployeeUsername == "") != (c.Bootstrap.EmployeePassword == "") {
		errs = append(errs, errors.New("BOOTSTRAP_EMPLOYEE_USERNAME and BOOTSTRAP_EMPLOYEE_PASSWORD must be set together"))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
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
	if c.DB.SSLMode == "" {
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
	if c.Redis.Host == "" {
		return ""
	}
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
