package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DBConfig contains PostgreSQL database configuration. Deployments normally
// set DATABASE_URL and let ApplyURL fill these fields; the component
// variables exist for local development overrides.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"ordinaut"`
	Password string `env:"PASSWORD"                envDefault:"ordinaut"`
	Name     string `env:"NAME"                    envDefault:"ordinaut"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// ApplyURL overwrites the connection fields from a postgres:// connection
// string. Parts absent from the URL keep their current values.
func (d *DBConfig) ApplyURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse connection url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported connection url scheme %q", u.Scheme)
	}

	if host := u.Hostname(); host != "" {
		d.Host = host
	}
	if portStr := u.Port(); portStr != "" {
		port, perr := strconv.Atoi(portStr)
		if perr != nil {
			return fmt.Errorf("invalid port %q in connection url", portStr)
		}
		d.Port = port
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			d.User = name
		}
		if password, ok := u.User.Password(); ok {
			d.Password = password
		}
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		d.Name = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		d.SSLMode = mode
	}
	return nil
}

// RedisConfig contains Redis configuration for the event bridge.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelPort       string   `env:"SENTINEL_PORT"        envDefault:"26379"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}
