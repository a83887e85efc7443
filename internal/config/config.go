// Package config defines the top-level configuration for the marketplace
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Registry RegistryConfig `toml:"registry"`
	Token    TokenConfig    `toml:"token"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig holds the market engine's accounts and fee parameters.
type MarketConfig struct {
	// Owner administers allow-lists and the fee rate and receives trade fees.
	Owner string `toml:"owner"`
	// Address is the engine's escrow account.
	Address string `toml:"address"`
	// FeeBps is the trade fee in basis points over 10000.
	FeeBps uint64 `toml:"fee_bps"`
	// ExpiryGrace is added after a listing's nominal expiry before offers and
	// purchases are refused.
	ExpiryGrace duration `toml:"expiry_grace"`
}

// RegistryConfig holds the asset collection's identity and signing domain.
type RegistryConfig struct {
	Name             string `toml:"name"`
	Symbol           string `toml:"symbol"`
	Address          string `toml:"address"`
	ChainID          int64  `toml:"chain_id"`
	SigningDomain    string `toml:"signing_domain"`
	SignatureVersion string `toml:"signature_version"`
}

// TokenConfig describes the in-process payment token available alongside
// native value.
type TokenConfig struct {
	Name     string `toml:"name"`
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
	Address  string `toml:"address"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade and
// event history stores.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the event bus.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for history archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the periodic JSONL archival of settled trades and
// emitted events.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimitPerMin caps requests per client per minute. Zero disables
	// limiting. Takes effect only when Redis is enabled.
	RateLimitPerMin int `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials. Events lists the
// ledger event names to forward.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			Owner:       "0x0000000000000000000000000000000000000001",
			Address:     "0x0000000000000000000000000000000000000002",
			FeeBps:      250,
			ExpiryGrace: duration{5 * time.Minute},
		},
		Registry: RegistryConfig{
			Name:             "Pharma Trace",
			Symbol:           "PTNFT",
			Address:          "0x0000000000000000000000000000000000000003",
			ChainID:          1337,
			SigningDomain:    "PT-Voucher",
			SignatureVersion: "1",
		},
		Token: TokenConfig{
			Name:     "Market USD",
			Symbol:   "MUSD",
			Decimals: 6,
			Address:  "0x0000000000000000000000000000000000000004",
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Archive: ArchiveConfig{
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"TradeExecuted", "RedeemVoucher", "OfferAccepted", "ItemBought"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":    true,
	"simulate": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, simulate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	if !common.IsHexAddress(c.Market.Owner) {
		errs = append(errs, fmt.Sprintf("market: owner %q is not a hex address", c.Market.Owner))
	}
	if !common.IsHexAddress(c.Market.Address) {
		errs = append(errs, fmt.Sprintf("market: address %q is not a hex address", c.Market.Address))
	}
	if c.Market.FeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("market: fee_bps %d exceeds 10000", c.Market.FeeBps))
	}
	if c.Market.ExpiryGrace.Duration < 0 {
		errs = append(errs, "market: expiry_grace must not be negative")
	}

	// Registry
	if c.Registry.Name == "" {
		errs = append(errs, "registry: name must not be empty")
	}
	if !common.IsHexAddress(c.Registry.Address) {
		errs = append(errs, fmt.Sprintf("registry: address %q is not a hex address", c.Registry.Address))
	}
	if c.Registry.ChainID <= 0 {
		errs = append(errs, "registry: chain_id must be positive")
	}

	// Token
	if !common.IsHexAddress(c.Token.Address) {
		errs = append(errs, fmt.Sprintf("token: address %q is not a hex address", c.Token.Address))
	}

	// Postgres
	if c.Postgres.Enabled {
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: either dsn or host must be set when enabled")
		}
		if c.Postgres.PoolMaxConns < c.Postgres.PoolMinConns {
			errs = append(errs, "postgres: pool_max_conns must be >= pool_min_conns")
		}
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3 to be enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive when enabled")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}

	// Notify
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// OwnerAddress returns the parsed market owner account.
func (c *Config) OwnerAddress() common.Address {
	return common.HexToAddress(c.Market.Owner)
}

// MarketAddress returns the parsed engine escrow account.
func (c *Config) MarketAddress() common.Address {
	return common.HexToAddress(c.Market.Address)
}

// RegistryAddress returns the parsed asset collection account.
func (c *Config) RegistryAddress() common.Address {
	return common.HexToAddress(c.Registry.Address)
}

// TokenAddress returns the parsed payment token account.
func (c *Config) TokenAddress() common.Address {
	return common.HexToAddress(c.Token.Address)
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
