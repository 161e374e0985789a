package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"xquote/internal/infrastructure/push"
)

type Config struct {
	App struct {
		LogLevel      string `toml:"log_level"`
		InitialSymbol string `toml:"initial_symbol"`
	} `toml:"app"`

	Server struct {
		BaseURL  string `toml:"base_url"` // e.g. http://localhost:5000
		// Protocol 推送协议: "socketio" (默认, Flask-SocketIO 服务端) 或 "json"
		Protocol string `toml:"protocol"`
		WsPath   string `toml:"ws_path"`
	} `toml:"server"`

	Exchanges struct {
		Whitelist []string `toml:"whitelist"`
	} `toml:"exchanges"`

	Symbols struct {
		Watchlist []string `toml:"watchlist"`
	} `toml:"symbols"`

	Push struct {
		DialTimeoutMs  int `toml:"dial_timeout_ms"`
		MaxRetries     int `toml:"max_retries"`
		InitialDelayMs int `toml:"initial_delay_ms"`
		MaxDelayMs     int `toml:"max_delay_ms"`
		BufferSize     int `toml:"buffer_size"`
	} `toml:"push"`

	Prime struct {
		TimeoutMs int `toml:"timeout_ms"`
	} `toml:"prime"`

	Redis struct {
		Enabled  bool   `toml:"enabled"`
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
		Prefix   string `toml:"prefix"`
		TTLSec   int    `toml:"ttl_sec"`
	} `toml:"redis"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`
}

// DefaultWatchlist 默认可选交易对列表
var DefaultWatchlist = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT",
	"BTCUSDC", "ETHUSDC", "BNBUSDC",
	"SOLUSDT", "XRPUSDT", "ADAUSDT",
	"DOGEUSDT", "MATICUSDT", "LTCUSDT",
	"DOTUSDT", "AVAXUSDT", "UNIUSDT",
	"LINKUSDT", "ATOMUSDT", "FILUSDT",
	"TRXUSDT", "ETCUSDT", "APTUSDT",
	"ARBUSDT", "OPUSDT", "NEARUSDT",
	"QNTUSDT", "AAVEUSDT", "ALGOUSDT",
	"XLMUSDT", "BCHUSDT", "ICPUSDT",
}

var defaultWhitelist = []string{"mexc", "bybit", "kucoin"}

func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	applyDefaults(&cfg, md)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied, for running without a file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg, toml.MetaData{})
	return &cfg
}

// applyDefaults fills unset fields. md tells an omitted key from an explicit
// zero where zero is a valid value.
func applyDefaults(cfg *Config, md toml.MetaData) {
	if strings.TrimSpace(cfg.App.LogLevel) == "" {
		cfg.App.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Server.BaseURL) == "" {
		cfg.Server.BaseURL = "http://localhost:5000"
	}
	cfg.Server.Protocol = strings.ToLower(strings.TrimSpace(cfg.Server.Protocol))
	if cfg.Server.Protocol == "" {
		cfg.Server.Protocol = string(push.ProtocolSocketIO)
	}
	if strings.TrimSpace(cfg.Server.WsPath) == "" {
		cfg.Server.WsPath = push.Protocol(cfg.Server.Protocol).DefaultPath()
	}
	if len(cfg.Exchanges.Whitelist) == 0 {
		cfg.Exchanges.Whitelist = append([]string(nil), defaultWhitelist...)
	}
	if len(cfg.Symbols.Watchlist) == 0 {
		cfg.Symbols.Watchlist = append([]string(nil), DefaultWatchlist...)
	}
	if cfg.Push.DialTimeoutMs <= 0 {
		cfg.Push.DialTimeoutMs = 10000
	}
	if !md.IsDefined("push", "max_retries") || cfg.Push.MaxRetries < 0 {
		cfg.Push.MaxRetries = push.DefaultRetryConfig.MaxRetries
	}
	if cfg.Push.InitialDelayMs <= 0 {
		cfg.Push.InitialDelayMs = int(push.DefaultRetryConfig.InitialDel.Milliseconds())
	}
	if cfg.Push.MaxDelayMs <= 0 {
		cfg.Push.MaxDelayMs = int(push.DefaultRetryConfig.MaxDelay.Milliseconds())
	}
	if cfg.Push.BufferSize <= 0 {
		cfg.Push.BufferSize = 256
	}
	if cfg.Prime.TimeoutMs <= 0 {
		cfg.Prime.TimeoutMs = 5000
	}
	if strings.TrimSpace(cfg.Redis.Prefix) == "" {
		cfg.Redis.Prefix = "xquote"
	}
}

func validate(cfg *Config) error {
	u, err := url.Parse(strings.TrimSpace(cfg.Server.BaseURL))
	if err != nil {
		return fmt.Errorf("server.base_url invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.base_url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("server.base_url has no host")
	}

	switch push.Protocol(cfg.Server.Protocol) {
	case push.ProtocolSocketIO, push.ProtocolJSON:
	default:
		return fmt.Errorf("server.protocol must be socketio or json, got %q", cfg.Server.Protocol)
	}

	cfg.Exchanges.Whitelist = normalizeExchanges(cfg.Exchanges.Whitelist)
	if len(cfg.Exchanges.Whitelist) == 0 {
		return errors.New("exchanges.whitelist is empty")
	}
	cfg.Symbols.Watchlist = normalizeSymbols(cfg.Symbols.Watchlist)

	if cfg.Push.MaxDelayMs < cfg.Push.InitialDelayMs {
		return errors.New("push.max_delay_ms smaller than push.initial_delay_ms")
	}

	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}
	if cfg.SQLite.Enabled && strings.TrimSpace(cfg.SQLite.Path) == "" {
		return errors.New("sqlite.path empty but enabled")
	}
	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return errors.New("postgres.dsn empty but enabled")
	}
	return nil
}

func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Push.DialTimeoutMs) * time.Millisecond
}

func (c *Config) InitialDelay() time.Duration {
	return time.Duration(c.Push.InitialDelayMs) * time.Millisecond
}

func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Push.MaxDelayMs) * time.Millisecond
}

func (c *Config) PrimeTimeout() time.Duration {
	return time.Duration(c.Prime.TimeoutMs) * time.Millisecond
}

func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSec) * time.Second
}

func normalizeExchanges(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToLower(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
