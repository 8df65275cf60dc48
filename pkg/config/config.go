package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeflare/crudrouter/pkg/httputil/middleware"
	"github.com/edgeflare/crudrouter/pkg/notify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X github.com/edgeflare/crudrouter/pkg/config.Version=...".
var Version = "dev"

// EnvPrefix prefixes environment overrides, e.g. CRUDROUTER_SERVER_LISTENADDR.
const EnvPrefix = "CRUDROUTER"

// Config holds application-wide configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listenAddr"`
	// BaseURL prefixes every generated route, e.g. /api/v1.
	BaseURL string `mapstructure:"baseURL"`
	// Paginate overrides the page cap of every resource. Zero keeps each resource's own.
	Paginate int `mapstructure:"paginate"`
	// BasicAuth maps usernames to passwords. When set, mutating routes require credentials.
	BasicAuth map[string]string       `mapstructure:"basicAuth"`
	OIDC      OIDCConfig              `mapstructure:"oidc"`
	CORS      *middleware.CORSOptions `mapstructure:"cors"`
	TLS       TLSConfig               `mapstructure:"tls"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// TLSConfig serves HTTPS when CertFile and KeyFile are set.
type TLSConfig struct {
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
	// SelfSigned generates a localhost pair at CertFile and KeyFile when they are missing.
	SelfSigned bool `mapstructure:"selfSigned"`
}

func (c TLSConfig) Enabled() bool { return c.CertFile != "" && c.KeyFile != "" }

type OIDCConfig struct {
	ClientID     string        `mapstructure:"clientID"`
	ClientSecret string        `mapstructure:"clientSecret"`
	Issuer       string        `mapstructure:"issuer"`
	CacheTTL     time.Duration `mapstructure:"cacheTTL"`
}

// Enabled reports whether enough is configured to introspect tokens.
func (c OIDCConfig) Enabled() bool {
	return c.ClientID != "" && c.Issuer != ""
}

// Backend drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
)

type BackendConfig struct {
	// Driver is one of memory, sqlite, postgres (database/sql), pgx (native pool), mongo or redis.
	Driver string `mapstructure:"driver"`
	// DSN is the connection string or URL; for sqlite a file name or :memory:.
	DSN string `mapstructure:"dsn"`
	// Database names the MongoDB database.
	Database string `mapstructure:"database"`
	// Namespace prefixes Redis keys.
	Namespace string `mapstructure:"namespace"`
	// Migrate creates missing tables for relational drivers.
	Migrate bool `mapstructure:"migrate"`
	// ConnectTimeout bounds connection retries at startup.
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

type NotifyConfig struct {
	BufferSize int                 `mapstructure:"bufferSize"`
	Sinks      []notify.SinkConfig `mapstructure:"sinks"`
}

// Default returns the configuration used for keys absent from file, environment and flags.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 10 * time.Second,
			OIDC:            OIDCConfig{CacheTTL: 30 * time.Second},
		},
		Backend: BackendConfig{
			Driver:         DriverMemory,
			Database:       "crudrouter",
			Namespace:      "crud",
			Migrate:        true,
			ConnectTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{Addr: ":9100", Path: "/metrics"},
		Notify:  NotifyConfig{BufferSize: notify.DefaultBufferSize},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.listenAddr", d.Server.ListenAddr)
	v.SetDefault("server.baseURL", d.Server.BaseURL)
	v.SetDefault("server.tls.certFile", d.Server.TLS.CertFile)
	v.SetDefault("server.tls.keyFile", d.Server.TLS.KeyFile)
	v.SetDefault("server.tls.selfSigned", d.Server.TLS.SelfSigned)
	v.SetDefault("server.paginate", d.Server.Paginate)
	v.SetDefault("server.shutdownTimeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.oidc.clientID", "")
	v.SetDefault("server.oidc.clientSecret", "")
	v.SetDefault("server.oidc.issuer", "")
	v.SetDefault("server.oidc.cacheTTL", d.Server.OIDC.CacheTTL)
	v.SetDefault("backend.driver", d.Backend.Driver)
	v.SetDefault("backend.dsn", d.Backend.DSN)
	v.SetDefault("backend.database", d.Backend.Database)
	v.SetDefault("backend.namespace", d.Backend.Namespace)
	v.SetDefault("backend.migrate", d.Backend.Migrate)
	v.SetDefault("backend.connectTimeout", d.Backend.ConnectTimeout)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("notify.bufferSize", d.Notify.BufferSize)
}

// Load reads config from file, environment and flags, in increasing precedence. Flags are bound
// by name, e.g. a "backend.driver" flag overrides the backend.driver key.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("crudrouter")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("error binding flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.Server.BaseURL = strings.TrimSuffix(cfg.Server.BaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot.
func (c *Config) Validate() error {
	switch c.Backend.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverPgx, DriverMongo, DriverRedis:
		if c.Backend.DSN == "" {
			return fmt.Errorf("config: backend.dsn is required for driver %s", c.Backend.Driver)
		}
	default:
		return fmt.Errorf("config: unknown backend.driver %q", c.Backend.Driver)
	}
	if c.Server.BaseURL != "" && !strings.HasPrefix(c.Server.BaseURL, "/") {
		return fmt.Errorf("config: server.baseURL must start with /")
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("config: server.tls needs both certFile and keyFile")
	}
	if c.Server.Paginate < 0 {
		return fmt.Errorf("config: server.paginate must not be negative")
	}
	for i, s := range c.Notify.Sinks {
		if s.Name == "" || s.Type == "" {
			return fmt.Errorf("config: notify.sinks[%d] needs a name and a type", i)
		}
	}
	return nil
}
