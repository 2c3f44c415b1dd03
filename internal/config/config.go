package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Addr             string
	DBDriver         string
	DBDSN            string
	MigrationsDir    string
	CredentialSecret string
	CredentialTTL    time.Duration
	AdminJWTSecret   string
	PoolSize         int
	PublicLinkBase   string
	SessionCacheSize int
	SessionCacheTTL  time.Duration
	SweepInterval    time.Duration
	LogLevel         string
	LogFormat        string
	CORSOrigins      []string
	StaticDir        string
	DevFrontendURL   string
	Commit           string
	BuildTime        string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("db_driver", "sqlite3")
	v.SetDefault("db_dsn", "candor.db")
	v.SetDefault("migrations_dir", "")
	v.SetDefault("credential_ttl", "2160h")
	v.SetDefault("pool_size", 5)
	v.SetDefault("public_link_base", "/feedback/anonymous?token=")
	v.SetDefault("session_cache_size", 4096)
	v.SetDefault("session_cache_ttl", "10m")
	v.SetDefault("sweep_interval", "0s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("cors_origins", "")
	v.SetDefault("static_dir", "")
	v.SetDefault("dev_frontend_url", "")
	v.SetDefault("commit", "")
	v.SetDefault("build_time", "")
}

// Load reads configuration from CANDOR_* environment variables, after
// merging an optional .env file from the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	v.SetEnvPrefix("candor")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	cfg := &Config{
		Addr:             v.GetString("addr"),
		DBDriver:         v.GetString("db_driver"),
		DBDSN:            v.GetString("db_dsn"),
		MigrationsDir:    v.GetString("migrations_dir"),
		CredentialSecret: v.GetString("credential_secret"),
		CredentialTTL:    v.GetDuration("credential_ttl"),
		AdminJWTSecret:   v.GetString("admin_jwt_secret"),
		PoolSize:         v.GetInt("pool_size"),
		PublicLinkBase:   v.GetString("public_link_base"),
		SessionCacheSize: v.GetInt("session_cache_size"),
		SessionCacheTTL:  v.GetDuration("session_cache_ttl"),
		SweepInterval:    v.GetDuration("sweep_interval"),
		LogLevel:         v.GetString("log_level"),
		LogFormat:        v.GetString("log_format"),
		CORSOrigins:      splitList(v.GetString("cors_origins")),
		StaticDir:        v.GetString("static_dir"),
		DevFrontendURL:   v.GetString("dev_frontend_url"),
		Commit:           v.GetString("commit"),
		BuildTime:        v.GetString("build_time"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.CredentialSecret) < 16 {
		errs = append(errs, errors.New("CANDOR_CREDENTIAL_SECRET must be at least 16 characters"))
	}
	if len(c.AdminJWTSecret) < 16 {
		errs = append(errs, errors.New("CANDOR_ADMIN_JWT_SECRET must be at least 16 characters"))
	}
	if c.CredentialSecret != "" && c.CredentialSecret == c.AdminJWTSecret {
		errs = append(errs, errors.New("credential and admin secrets must differ"))
	}
	switch c.DBDriver {
	case "sqlite3", "pgx":
	default:
		errs = append(errs, fmt.Errorf("unsupported db_driver %q", c.DBDriver))
	}
	if c.PoolSize < 2 {
		errs = append(errs, fmt.Errorf("pool_size must be at least 2, got %d", c.PoolSize))
	}
	if c.CredentialTTL <= 0 {
		errs = append(errs, errors.New("credential_ttl must be positive"))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("sweep_interval must not be negative"))
	}
	if c.DevFrontendURL != "" {
		if u, err := url.Parse(c.DevFrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid dev_frontend_url %q", c.DevFrontendURL))
		}
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
