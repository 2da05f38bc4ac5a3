package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime configuration.
//
// Precedence: defaults, then the optional YAML file named by
// LEADERLITE_CONFIG_FILE, then environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the database is configured
	// and reachable.
	ReadinessRequireDB bool

	// If true, LEADERLITE_TOKEN_HMAC_KEY must be set (>= 32 bytes) so
	// refresh-token hashing is HMAC-based.
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

type fileConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	DatabaseURL string `yaml:"database_url"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`

	ReadinessRequireDB bool `yaml:"readiness_require_db"`
	RequireTokenHMAC   bool `yaml:"require_token_hmac"`

	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `yaml:"cors_max_age_seconds"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,

		DBMaxConns: 10,
		DBMinConns: 0,

		CORSMaxAgeSeconds: 600,
	}
}

// LoadConfig builds the runtime configuration.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := EnvString("LEADERLITE_CONFIG_FILE", ""); path != "" {
		if err := applyConfigFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.HTTPAddr = EnvString("LEADERLITE_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("LEADERLITE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("LEADERLITE_LOG_FORMAT", cfg.LogFormat)

	cfg.ReadHeaderTimeout = EnvDuration("LEADERLITE_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("LEADERLITE_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("LEADERLITE_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("LEADERLITE_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("LEADERLITE_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)

	cfg.DatabaseURL = EnvString("LEADERLITE_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxConns = EnvInt32("LEADERLITE_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("LEADERLITE_DB_MIN_CONNS", cfg.DBMinConns)

	cfg.ReadinessRequireDB = EnvBool("LEADERLITE_READINESS_REQUIRE_DB", cfg.ReadinessRequireDB)
	cfg.RequireTokenHMAC = EnvBool("LEADERLITE_REQUIRE_TOKEN_HMAC", cfg.RequireTokenHMAC)

	cfg.CORSAllowedOrigins = EnvCSV("LEADERLITE_CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)
	cfg.CORSAllowCredentials = EnvBool("LEADERLITE_CORS_ALLOW_CREDENTIALS", cfg.CORSAllowCredentials)
	cfg.CORSMaxAgeSeconds = EnvInt("LEADERLITE_CORS_MAX_AGE_SECONDS", cfg.CORSMaxAgeSeconds)

	return cfg, nil
}

func applyConfigFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	if fc.HTTPAddr != "" {
		cfg.HTTPAddr = fc.HTTPAddr
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		cfg.LogFormat = fc.LogFormat
	}
	if fc.ReadHeaderTimeout > 0 {
		cfg.ReadHeaderTimeout = fc.ReadHeaderTimeout
	}
	if fc.ReadTimeout > 0 {
		cfg.ReadTimeout = fc.ReadTimeout
	}
	if fc.WriteTimeout > 0 {
		cfg.WriteTimeout = fc.WriteTimeout
	}
	if fc.IdleTimeout > 0 {
		cfg.IdleTimeout = fc.IdleTimeout
	}
	if fc.MaxHeaderBytes > 0 {
		cfg.MaxHeaderBytes = fc.MaxHeaderBytes
	}
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = fc.DatabaseURL
	}
	if fc.DBMaxConns > 0 {
		cfg.DBMaxConns = fc.DBMaxConns
	}
	if fc.DBMinConns > 0 {
		cfg.DBMinConns = fc.DBMinConns
	}
	if fc.ReadinessRequireDB {
		cfg.ReadinessRequireDB = true
	}
	if fc.RequireTokenHMAC {
		cfg.RequireTokenHMAC = true
	}
	if len(fc.CORSAllowedOrigins) > 0 {
		cfg.CORSAllowedOrigins = fc.CORSAllowedOrigins
	}
	if fc.CORSAllowCredentials {
		cfg.CORSAllowCredentials = true
	}
	if fc.CORSMaxAgeSeconds > 0 {
		cfg.CORSMaxAgeSeconds = fc.CORSMaxAgeSeconds
	}
	return nil
}
