package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Cron    CronConfig    `mapstructure:"cron"`
	Source  SourceConfig  `mapstructure:"source"`
	Session SessionConfig `mapstructure:"session"`
	Fee     FeeConfig     `mapstructure:"fee"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	File              string `mapstructure:"file"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Timezone string `mapstructure:"timezone"`
	// Schedule is a cron spec with a seconds field. The daily 16:01 default
	// mirrors the publication time of the tracked index.
	Schedule string `mapstructure:"schedule"`
}

// SourceConfig describes the market index page and how patiently to read it.
type SourceConfig struct {
	URL           string        `mapstructure:"url"`
	ElementID     string        `mapstructure:"element_id"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MinHumanDelay time.Duration `mapstructure:"min_human_delay"`
	MaxHumanDelay time.Duration `mapstructure:"max_human_delay"`
}

type SessionConfig struct {
	Lifetime time.Duration `mapstructure:"lifetime"`
}

type FeeConfig struct {
	BaselineIndex  float64 `mapstructure:"baseline_index"`
	MinRateBps     int     `mapstructure:"min_rate_bps"`
	MaxRateBps     int     `mapstructure:"max_rate_bps"`
	DefaultRateBps int     `mapstructure:"default_rate_bps"`
}

type LedgerConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	PrivateKey      string        `mapstructure:"private_key"`
	ContractAddress string        `mapstructure:"contract_address"`
	ChainID         int64         `mapstructure:"chain_id"`
	GasLimit        uint64        `mapstructure:"gas_limit"`
	MaxGasPriceGwei int64         `mapstructure:"max_gas_price_gwei"`
	RetryCount      int           `mapstructure:"retry_count"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.timezone", "Europe/London")
	v.SetDefault("cron.schedule", "0 1 16 * * *")
	v.SetDefault("source.url", "")
	v.SetDefault("source.element_id", "price-value")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.retry_delay", "60s")
	v.SetDefault("source.min_human_delay", "3s")
	v.SetDefault("source.max_human_delay", "8s")
	v.SetDefault("session.lifetime", "168h")
	v.SetDefault("fee.baseline_index", 1500.0)
	v.SetDefault("fee.min_rate_bps", 10)
	v.SetDefault("fee.max_rate_bps", 100)
	v.SetDefault("fee.default_rate_bps", 50)
	v.SetDefault("ledger.rpc_url", "")
	v.SetDefault("ledger.private_key", "")
	v.SetDefault("ledger.contract_address", "")
	v.SetDefault("ledger.chain_id", 11155111)
	v.SetDefault("ledger.gas_limit", 200000)
	v.SetDefault("ledger.max_gas_price_gwei", 50)
	v.SetDefault("ledger.retry_count", 3)
	v.SetDefault("ledger.retry_delay", "30s")
	v.SetDefault("ledger.confirm_timeout", "120s")
	v.SetDefault("ledger.dial_timeout", "10s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
