// Package config loads Foreman's runtime configuration from defaults, a YAML
// file, and environment variables, in that precedence order, backed by
// spf13/viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of configuration inputs the server and worker need.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Broker   BrokerConfig   `mapstructure:"broker"`
}

// ServerConfig controls the HTTP API process.
type ServerConfig struct {
	Port               string        `mapstructure:"port"`
	Environment        string        `mapstructure:"environment"`
	AuthToken          string        `mapstructure:"auth_token"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxTaskBodyBytes   int64         `mapstructure:"max_task_body_bytes"`
}

// DatabaseConfig describes how to reach Postgres under both roles: the
// RLS-scoped application role and the unrestricted root role.
type DatabaseConfig struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	Name                string `mapstructure:"name"`
	SSLMode             string `mapstructure:"ssl_mode"`
	RLSUser             string `mapstructure:"rls_user"`
	RLSPassword         string `mapstructure:"rls_password"`
	RootUser            string `mapstructure:"root_user"`
	RootPassword        string `mapstructure:"root_password"`
	MaxConnsPerRole     int    `mapstructure:"max_conns_per_role"`
}

// BrokerConfig describes the message queue coordinates.
type BrokerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	TasksQueue    string `mapstructure:"tasks_queue"`
	ResultsQueue  string `mapstructure:"results_queue"`
}

// DSN renders a libpq connection string for the given role.
func (d DatabaseConfig) DSN(user, password string) string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, user, password, d.SSLMode)
}

// Addr renders host:port for the broker.
func (b BrokerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// Load reads defaults, an optional YAML file at path, and FOREMAN_*
// environment overrides, in that precedence order (lowest to highest).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("foreman")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.max_task_body_bytes", int64(1<<20))

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "foreman")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.rls_user", "rls_user")
	v.SetDefault("database.root_user", "unrestricted_user")
	v.SetDefault("database.max_conns_per_role", 20)

	v.SetDefault("broker.host", "localhost")
	v.SetDefault("broker.port", 6379)
	v.SetDefault("broker.db", 0)
	v.SetDefault("broker.tasks_queue", "foreman:tasks")
	v.SetDefault("broker.results_queue", "foreman:results")
}
