package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted in configuration
const (
	IdentityFile   = "file"
	IdentitySQLite = "sqlite"

	EphemeralMemory = "memory"
	EphemeralRedis  = "redis"

	TokenOpaque = "opaque"
	TokenJWT    = "jwt"

	NotifierSMTP = "smtp"
	NotifierLog  = "log"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPAddr    string
	LogLevel    string

	IdentityBackend  string
	DataDir          string
	DatabaseFile     string
	EphemeralBackend string
	RedisURL         string
	EventsBackend    string

	TokenFormat    string
	SigningKeyFile string
	SessionTTL     time.Duration
	OtpTTL         time.Duration
	ResetTTL       time.Duration
	OtpMaxAttempts int
	MaxAdmins      int
	ResetURL       string

	Notifier     string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	StrictResetDelivery  bool
	RateLimitRPM         int
	HousekeepingInterval time.Duration
	ExpiredRetention     time.Duration

	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is believed
	TrustedProxies []string

	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	ShutdownGracePeriod time.Duration
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is loaded first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		IdentityBackend:  strings.ToLower(getEnv("IDENTITY_BACKEND", IdentityFile)),
		DataDir:          getEnv("DATA_DIR", "./data"),
		DatabaseFile:     os.Getenv("DATABASE_FILE"),
		EphemeralBackend: strings.ToLower(getEnv("EPHEMERAL_BACKEND", EphemeralMemory)),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		EventsBackend:    strings.ToLower(getEnv("EVENTS_BACKEND", "gochannel")),

		TokenFormat:    strings.ToLower(getEnv("TOKEN_FORMAT", TokenOpaque)),
		SigningKeyFile: os.Getenv("SIGNING_KEY_FILE"),
		OtpTTL:         getDuration("OTP_TTL", 10*time.Minute),
		ResetTTL:       getDuration("RESET_TTL", 10*time.Minute),
		OtpMaxAttempts: getInt("OTP_MAX_ATTEMPTS", 5),
		MaxAdmins:      getInt("MAX_ADMINS", 10),
		ResetURL:       getEnv("RESET_URL", "http://localhost:3000/reset-password/"),

		Notifier:     strings.ToLower(getEnv("NOTIFIER", NotifierLog)),
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),

		StrictResetDelivery:  getBool("STRICT_RESET_DELIVERY", false),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 30),
		TrustedProxies:       getList("TRUSTED_PROXIES", nil),
		HousekeepingInterval: getDuration("HOUSEKEEPING_INTERVAL", 10*time.Minute),
		ExpiredRetention:     getDuration("EXPIRED_RETENTION", time.Hour),

		BootstrapAdminEmail:    strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL")),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),

		ShutdownGracePeriod: getDuration("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	// Signed tokens carry their own expiry, so they default to a longer life
	defaultSessionTTL := 24 * time.Hour
	if cfg.TokenFormat == TokenJWT {
		defaultSessionTTL = 7 * 24 * time.Hour
	}
	cfg.SessionTTL = getDuration("SESSION_TTL", defaultSessionTTL)

	if cfg.DatabaseFile == "" {
		cfg.DatabaseFile = filepath.Join(cfg.DataDir, "campusauth.db")
	}
	if cfg.SMTPFrom == "" {
		cfg.SMTPFrom = cfg.SMTPUsername
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown backends and unusable values
func (c Config) Validate() error {
	if err := oneOf("IDENTITY_BACKEND", c.IdentityBackend, IdentityFile, IdentitySQLite); err != nil {
		return err
	}
	if err := oneOf("EPHEMERAL_BACKEND", c.EphemeralBackend, EphemeralMemory, EphemeralRedis); err != nil {
		return err
	}
	if err := oneOf("EVENTS_BACKEND", c.EventsBackend, "gochannel", "redis"); err != nil {
		return err
	}
	if err := oneOf("TOKEN_FORMAT", c.TokenFormat, TokenOpaque, TokenJWT); err != nil {
		return err
	}
	if err := oneOf("NOTIFIER", c.Notifier, NotifierSMTP, NotifierLog); err != nil {
		return err
	}

	if c.Notifier == NotifierSMTP && (c.SMTPHost == "" || c.SMTPFrom == "") {
		return fmt.Errorf("SMTP_HOST and SMTP_FROM are required when NOTIFIER=smtp")
	}
	if c.IsProduction() && c.Notifier == NotifierLog {
		return fmt.Errorf("NOTIFIER=log would write codes to the log and is not allowed in production")
	}
	if c.OtpTTL <= 0 || c.ResetTTL <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("OTP_TTL, RESET_TTL and SESSION_TTL must be positive")
	}
	if c.OtpMaxAttempts < 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must not be negative")
	}
	if c.MaxAdmins < 1 {
		return fmt.Errorf("MAX_ADMINS must be at least 1")
	}
	if c.BootstrapAdminEmail != "" && c.BootstrapAdminPassword == "" {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD is required with BOOTSTRAP_ADMIN_EMAIL")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode
func (c Config) IsProduction() bool {
	switch strings.ToLower(c.Environment) {
	case "production", "prod":
		return true
	}
	return false
}

// NeedsRedis reports whether any component is configured to use redis
func (c Config) NeedsRedis() bool {
	return c.EphemeralBackend == EphemeralRedis || c.EventsBackend == "redis"
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		var cleaned []string
		for _, p := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}
