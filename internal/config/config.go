package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Guard     GuardConfig
	Jobs      JobsConfig
	Retention RetentionConfig
	Alerts    AlertsConfig
	Redis     RedisConfig
	Trigger   TriggerConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	// Server-side cap on any single statement so a stuck query surfaces as a store failure
	StatementTimeout time.Duration
	AutoMigrate      bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	// Per-IP request budget for the public /login endpoints, per minute
	LoginRequestsPerMinute int
}

// GuardConfig is the single throttling policy shared by every login entry point
type GuardConfig struct {
	EmailThreshold  int
	IPThreshold     int
	Window          time.Duration
	BlockDuration   time.Duration
	AlertMilestones []int
}

type JobsConfig struct {
	BatchSize          int
	DefaultMaxAttempts int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	RetryInterval      time.Duration // 0 disables the in-process trigger
	HandlerTimeout     time.Duration
	FunctionsBaseURL   string
}

type RetentionConfig struct {
	Interval      time.Duration
	Timeout       time.Duration
	LoginAttempts time.Duration
	Notifications time.Duration
	Logs          time.Duration
	TerminalJobs  time.Duration // 0 keeps terminal jobs forever
}

type AlertsConfig struct {
	EmailTo     string
	FromAddress string
	AWSRegion   string
}

type RedisConfig struct {
	URL string // empty falls back to process-local counters
}

type TriggerConfig struct {
	ServiceRoleSecret string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	secret := getEnv("SERVICE_ROLE_SECRET", "")
	if secret == "" {
		return nil, fmt.Errorf("SERVICE_ROLE_SECRET is required")
	}

	milestones, err := parseMilestones(getEnv("GUARD_ALERT_MILESTONES", "3,5,10"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "petguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			StatementTimeout:  getEnvAsDuration("DB_STATEMENT_TIMEOUT", 5*time.Second),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:                   getEnv("PORT", "8080"),
			Env:                    env,
			LogLevel:               getEnv("LOG_LEVEL", "info"),
			TrustedProxies:         splitList(getEnv("TRUSTED_PROXIES", "")),
			AllowedOrigins:         splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
			ReadTimeout:            getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:           getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:            getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			LoginRequestsPerMinute: getEnvAsInt("LOGIN_REQUESTS_PER_MINUTE", 30),
		},
		Guard: GuardConfig{
			EmailThreshold:  getEnvAsInt("GUARD_EMAIL_THRESHOLD", 5),
			IPThreshold:     getEnvAsInt("GUARD_IP_THRESHOLD", 10),
			Window:          getEnvAsDuration("GUARD_WINDOW", 15*time.Minute),
			BlockDuration:   getEnvAsDuration("GUARD_BLOCK_DURATION", 30*time.Minute),
			AlertMilestones: milestones,
		},
		Jobs: JobsConfig{
			BatchSize:          getEnvAsInt("JOBS_BATCH_SIZE", 10),
			DefaultMaxAttempts: getEnvAsInt("JOBS_DEFAULT_MAX_ATTEMPTS", 5),
			BackoffBase:        getEnvAsDuration("JOBS_BACKOFF_BASE", 60*time.Second),
			BackoffMax:         getEnvAsDuration("JOBS_BACKOFF_MAX", 1*time.Hour),
			RetryInterval:      getEnvAsDuration("JOBS_RETRY_INTERVAL", 1*time.Minute),
			HandlerTimeout:     getEnvAsDuration("JOBS_HANDLER_TIMEOUT", 30*time.Second),
			FunctionsBaseURL:   strings.TrimRight(getEnv("FUNCTIONS_BASE_URL", ""), "/"),
		},
		Retention: RetentionConfig{
			Interval:      getEnvAsDuration("RETENTION_INTERVAL", 1*time.Hour),
			Timeout:       getEnvAsDuration("RETENTION_TIMEOUT", 30*time.Second),
			LoginAttempts: getEnvAsDuration("RETENTION_LOGIN_ATTEMPTS", 90*24*time.Hour),
			Notifications: getEnvAsDuration("RETENTION_NOTIFICATIONS", 30*24*time.Hour),
			Logs:          getEnvAsDuration("RETENTION_LOGS", 60*24*time.Hour),
			TerminalJobs:  getEnvAsDuration("RETENTION_TERMINAL_JOBS", 0),
		},
		Alerts: AlertsConfig{
			EmailTo:     getEnv("ALERT_EMAIL_TO", ""),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Trigger: TriggerConfig{
			ServiceRoleSecret: secret,
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateServiceRoleSecret(secret, env); err != nil {
		return nil, err
	}

	if err := cfg.Guard.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.Jobs.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects policies that would never throttle or never expire
func (g GuardConfig) Validate() error {
	if g.EmailThreshold <= 0 {
		return fmt.Errorf("GUARD_EMAIL_THRESHOLD must be positive (got %d)", g.EmailThreshold)
	}
	if g.IPThreshold <= 0 {
		return fmt.Errorf("GUARD_IP_THRESHOLD must be positive (got %d)", g.IPThreshold)
	}
	if g.Window <= 0 {
		return fmt.Errorf("GUARD_WINDOW must be positive (got %s)", g.Window)
	}
	if g.BlockDuration <= 0 {
		return fmt.Errorf("GUARD_BLOCK_DURATION must be positive (got %s)", g.BlockDuration)
	}
	return nil
}

func (j JobsConfig) Validate() error {
	if j.BatchSize <= 0 {
		return fmt.Errorf("JOBS_BATCH_SIZE must be positive (got %d)", j.BatchSize)
	}
	if j.DefaultMaxAttempts <= 0 {
		return fmt.Errorf("JOBS_DEFAULT_MAX_ATTEMPTS must be positive (got %d)", j.DefaultMaxAttempts)
	}
	if j.BackoffBase <= 0 || j.BackoffMax < j.BackoffBase {
		return fmt.Errorf("JOBS_BACKOFF_BASE must be positive and not exceed JOBS_BACKOFF_MAX")
	}
	return nil
}

// validateServiceRoleSecret enforces minimum strength for the scheduler signing key
func validateServiceRoleSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32 // 256 bits for HS256
	}

	if len(secret) < minLength {
		return fmt.Errorf("SERVICE_ROLE_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSN(c.Host), c.Port, quoteDSN(c.User), quoteDSN(c.Password), quoteDSN(c.Name), quoteDSN(c.SSLMode),
	)
}

// quoteDSN single-quotes a keyword/value DSN value so empty values and spaces parse correctly
func quoteDSN(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// parseMilestones turns "3,5,10" into a sorted, de-duplicated list of positive counts
func parseMilestones(raw string) ([]int, error) {
	seen := make(map[int]bool)
	var out []int
	for _, part := range splitList(raw) {
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("GUARD_ALERT_MILESTONES: invalid value %q", part)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
