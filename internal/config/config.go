// Package config loads platform configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the platform.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Providers map[string]ProviderConfig
	Ledgers   LedgerConfig
	Reconcile ReconcileConfig
	LogLevel  string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int
	AllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the dedup fast-path cache settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	SeenTTL  time.Duration
}

// KafkaConfig holds the notification publisher settings.
type KafkaConfig struct {
	Brokers            []string
	NotificationsTopic string
}

// ProviderConfig holds one fiat provider's webhook settings.
type ProviderConfig struct {
	Secret string
	Active bool
}

// LedgerConfig holds confirmation-source settings per settlement rail.
type LedgerConfig struct {
	EVMRPCURL        string
	SecondChainURL   string
	PrivateLedgerURL string
	PollInterval     time.Duration
}

// ReconcileConfig holds the tunables of the reconciliation core.
type ReconcileConfig struct {
	SignatureSkew      time.Duration
	HeuristicTolerance string // decimal, absolute monetary tolerance
	HeuristicWindow    time.Duration
	MaxCASRetries      int
}

// LoadConfig reads configuration from config.yaml (if present) and the
// environment. Environment variables win, e.g. METALEX_DATABASE_DSN.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/metalex")
	v.SetEnvPrefix("METALEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetInt("server.port"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
		},
		Database: DatabaseConfig{
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			SeenTTL:  v.GetDuration("redis.seen_ttl"),
		},
		Kafka: KafkaConfig{
			Brokers:            v.GetStringSlice("kafka.brokers"),
			NotificationsTopic: v.GetString("kafka.notifications_topic"),
		},
		Providers: loadProviders(v),
		Ledgers: LedgerConfig{
			EVMRPCURL:        v.GetString("ledgers.evm_rpc_url"),
			SecondChainURL:   v.GetString("ledgers.second_chain_url"),
			PrivateLedgerURL: v.GetString("ledgers.private_ledger_url"),
			PollInterval:     v.GetDuration("ledgers.poll_interval"),
		},
		Reconcile: ReconcileConfig{
			SignatureSkew:      v.GetDuration("reconcile.signature_skew"),
			HeuristicTolerance: v.GetString("reconcile.heuristic_tolerance"),
			HeuristicWindow:    v.GetDuration("reconcile.heuristic_window"),
			MaxCASRetries:      v.GetInt("reconcile.max_cas_retries"),
		},
		LogLevel: v.GetString("log_level"),
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.seen_ttl", 72*time.Hour)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.notifications_topic", "settlement.notifications")
	v.SetDefault("ledgers.poll_interval", 15*time.Second)
	v.SetDefault("reconcile.signature_skew", 5*time.Minute)
	v.SetDefault("reconcile.heuristic_tolerance", "0.01")
	v.SetDefault("reconcile.heuristic_window", 24*time.Hour)
	v.SetDefault("reconcile.max_cas_retries", 3)
	v.SetDefault("log_level", "info")
}

// loadProviders reads the fiat provider registry. The two launch providers
// are always present; secrets come from env when not in the file.
func loadProviders(v *viper.Viper) map[string]ProviderConfig {
	providers := map[string]ProviderConfig{}
	for _, name := range []string{"paystream", "bankline"} {
		providers[name] = ProviderConfig{
			Secret: v.GetString("providers." + name + ".secret"),
			Active: true,
		}
	}
	for name := range v.GetStringMap("providers") {
		active := true
		if v.IsSet("providers." + name + ".active") {
			active = v.GetBool("providers." + name + ".active")
		}
		providers[name] = ProviderConfig{
			Secret: v.GetString("providers." + name + ".secret"),
			Active: active,
		}
	}
	return providers
}
