package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "PROSPECTFLOW"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = DriverSQLite
	defaultDatabasePath   = "prospectflow.db"
	defaultLogLevel       = "info"
	defaultIssuer         = "prospectflow-auth"
	defaultCookieName     = "app_session"
	defaultTokenTTL       = 60
	defaultUploadMaxBytes = 10 * 1024 * 1024
	defaultEndpoint       = "https://nominatim.openstreetmap.org/search"
	defaultUserAgent      = "ProspectFlow/1.0"
	defaultTimeout        = 10 * time.Second
	defaultMinInterval    = time.Second
	defaultCountry        = "Italy"
	defaultSentryEnv      = "development"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server and CLI.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string
	LogLevel       string

	SigningSecret string
	Issuer        string
	CookieName    string
	TokenTTL      time.Duration

	UploadMaxBytes int64
	StrictEmail    bool

	Geocoding GeocodingConfig

	SentryDSN         string
	SentryEnvironment string

	AllowedOrigins []string
}

// GeocodingConfig holds the batch geocoding settings.
type GeocodingConfig struct {
	Enabled      bool
	Endpoint     string
	UserAgent    string
	Timeout      time.Duration
	MinInterval  time.Duration
	Country      string
	RedisAddress string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("upload.max_bytes", defaultUploadMaxBytes)
	configViper.SetDefault("import.strict_email", false)
	configViper.SetDefault("geocoding.enabled", true)
	configViper.SetDefault("geocoding.endpoint", defaultEndpoint)
	configViper.SetDefault("geocoding.user_agent", defaultUserAgent)
	configViper.SetDefault("geocoding.timeout", defaultTimeout)
	configViper.SetDefault("geocoding.min_interval", defaultMinInterval)
	configViper.SetDefault("geocoding.country", defaultCountry)
	configViper.SetDefault("geocoding.redis_address", "")
	configViper.SetDefault("sentry.dsn", "")
	configViper.SetDefault("sentry.environment", defaultSentryEnv)
	configViper.SetDefault("cors.allowed_origins", "*")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    strings.TrimSpace(configViper.GetString("http.address")),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   strings.TrimSpace(configViper.GetString("database.path")),
		DatabaseDSN:    strings.TrimSpace(configViper.GetString("database.dsn")),
		LogLevel:       configViper.GetString("log.level"),

		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        strings.TrimSpace(configViper.GetString("auth.issuer")),
		CookieName:    strings.TrimSpace(configViper.GetString("auth.cookie_name")),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,

		UploadMaxBytes: configViper.GetInt64("upload.max_bytes"),
		StrictEmail:    configViper.GetBool("import.strict_email"),

		Geocoding: GeocodingConfig{
			Enabled:      configViper.GetBool("geocoding.enabled"),
			Endpoint:     strings.TrimSpace(configViper.GetString("geocoding.endpoint")),
			UserAgent:    strings.TrimSpace(configViper.GetString("geocoding.user_agent")),
			Timeout:      configViper.GetDuration("geocoding.timeout"),
			MinInterval:  configViper.GetDuration("geocoding.min_interval"),
			Country:      strings.TrimSpace(configViper.GetString("geocoding.country")),
			RedisAddress: strings.TrimSpace(configViper.GetString("geocoding.redis_address")),
		},

		SentryDSN:         strings.TrimSpace(configViper.GetString("sentry.dsn")),
		SentryEnvironment: strings.TrimSpace(configViper.GetString("sentry.environment")),

		AllowedOrigins: splitList(configViper.GetString("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadDatabase parses only the settings needed to open the database. Maintenance
// commands use it so they run without auth configuration.
func LoadDatabase(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   strings.TrimSpace(configViper.GetString("database.path")),
		DatabaseDSN:    strings.TrimSpace(configViper.GetString("database.dsn")),
		LogLevel:       configViper.GetString("log.level"),
	}
	if err := cfg.validateDatabase(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func (c AppConfig) validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf("http.address is required")
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.Issuer == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if c.CookieName == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	if c.Geocoding.Enabled {
		if _, err := url.ParseRequestURI(c.Geocoding.Endpoint); err != nil {
			return fmt.Errorf("geocoding.endpoint is invalid: %v", err)
		}
		if c.Geocoding.UserAgent == "" {
			return fmt.Errorf("geocoding.user_agent is required")
		}
		if c.Geocoding.Timeout <= 0 {
			return fmt.Errorf("geocoding.timeout must be positive")
		}
		if c.Geocoding.MinInterval <= 0 {
			return fmt.Errorf("geocoding.min_interval must be positive")
		}
		if c.Geocoding.Country == "" {
			return fmt.Errorf("geocoding.country is required")
		}
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("cors.allowed_origins is required")
	}
	return nil
}

func (c AppConfig) validateDatabase() error {
	switch c.DatabaseDriver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database.dsn is required")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	return nil
}
