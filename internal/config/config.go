// Package config loads process settings from defaults, an optional YAML file
// and CONCIERGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"order-concierge/internal/catalog"
)

const envPrefix = "CONCIERGE"

type Config struct {
	LogLevel    string `mapstructure:"log_level"`
	Development bool   `mapstructure:"development"`

	Store     Store     `mapstructure:"store"`
	Hours     Hours     `mapstructure:"hours"`
	Chat      Chat      `mapstructure:"chat"`
	Catalog   Catalog   `mapstructure:"catalog"`
	Inventory Inventory `mapstructure:"inventory"`
	Sessions  Sessions  `mapstructure:"sessions"`
	Gateway   Gateway   `mapstructure:"gateway"`
	HTTP      HTTP      `mapstructure:"http"`
}

type Store struct {
	Name    string `mapstructure:"name"`
	MenuURL string `mapstructure:"menu_url"`
	Address string `mapstructure:"address"`
	PixKey  string `mapstructure:"pix_key"`
}

// Hours is the weekly schedule used when store status is computed locally.
// Week is keyed by lower-case English weekday name.
type Hours struct {
	UTCOffset int                    `mapstructure:"utc_offset"`
	Override  string                 `mapstructure:"override"`
	Week      map[string]catalog.Day `mapstructure:"week"`
}

type Chat struct {
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	MaxParseFailures int           `mapstructure:"max_parse_failures"`
	ExpiryInterval   time.Duration `mapstructure:"expiry_interval"`
}

// Catalog selects where products and store status come from: "local" reads
// the stock store and the configured hours, "api" calls the catalog service.
type Catalog struct {
	Source          string        `mapstructure:"source"`
	BaseURL         string        `mapstructure:"base_url"`
	MenuFile        string        `mapstructure:"menu_file"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// Inventory selects the stock backend, "sqlite" or "dynamodb".
type Inventory struct {
	Backend        string        `mapstructure:"backend"`
	SQLitePath     string        `mapstructure:"sqlite_path"`
	StockTable     string        `mapstructure:"stock_table"`
	CartIdleWindow time.Duration `mapstructure:"cart_idle_window"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// Sessions configures conversation persistence. An empty Table keeps
// sessions in memory only.
type Sessions struct {
	Table            string        `mapstructure:"table"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// Gateway is the outbound messaging transport. Token, when set, is used
// as-is; otherwise TokenParam names the SSM parameter holding it.
type Gateway struct {
	BaseURL     string `mapstructure:"base_url"`
	StaffChatID string `mapstructure:"staff_chat_id"`
	TokenParam  string `mapstructure:"token_param"`
	Token       string `mapstructure:"token"`
}

type HTTP struct {
	Addr         string `mapstructure:"addr"`
	WebhookPath  string `mapstructure:"webhook_path"`
	RealtimePath string `mapstructure:"realtime_path"`
}

// SetDefaults registers every default on v, which also makes each key
// reachable from the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("development", false)

	v.SetDefault("store.name", "Pamonharia")
	v.SetDefault("store.menu_url", "")
	v.SetDefault("store.address", "")
	v.SetDefault("store.pix_key", "")

	v.SetDefault("hours.utc_offset", -3)
	v.SetDefault("hours.override", "")
	v.SetDefault("hours.week", map[string]any{})

	v.SetDefault("chat.idle_timeout", 30*time.Minute)
	v.SetDefault("chat.max_parse_failures", 2)
	v.SetDefault("chat.expiry_interval", time.Minute)

	v.SetDefault("catalog.source", "local")
	v.SetDefault("catalog.base_url", "")
	v.SetDefault("catalog.menu_file", "")
	v.SetDefault("catalog.refresh_interval", time.Minute)

	v.SetDefault("inventory.backend", "sqlite")
	v.SetDefault("inventory.sqlite_path", "concierge.db")
	v.SetDefault("inventory.stock_table", "")
	v.SetDefault("inventory.cart_idle_window", 15*time.Minute)
	v.SetDefault("inventory.sweep_interval", time.Minute)

	v.SetDefault("sessions.table", "")
	v.SetDefault("sessions.snapshot_interval", 30*time.Second)

	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.staff_chat_id", "")
	v.SetDefault("gateway.token_param", "")
	v.SetDefault("gateway.token", "")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.webhook_path", "/webhook")
	v.SetDefault("http.realtime_path", "/ws")
}

// Load reads file (when not empty) over the defaults, applies the
// environment and validates the result.
func Load(v *viper.Viper, file string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Catalog.Source {
	case "local":
	case "api":
		if c.Catalog.BaseURL == "" {
			errs = append(errs, errors.New("catalog.base_url is required when catalog.source is api"))
		}
	default:
		errs = append(errs, fmt.Errorf("catalog.source %q is not local or api", c.Catalog.Source))
	}
	switch c.Inventory.Backend {
	case "sqlite":
		if c.Inventory.SQLitePath == "" {
			errs = append(errs, errors.New("inventory.sqlite_path is required for the sqlite backend"))
		}
	case "dynamodb":
		if c.Inventory.StockTable == "" {
			errs = append(errs, errors.New("inventory.stock_table is required for the dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("inventory.backend %q is not sqlite or dynamodb", c.Inventory.Backend))
	}
	if c.Chat.MaxParseFailures < 1 {
		errs = append(errs, errors.New("chat.max_parse_failures must be at least 1"))
	}
	if c.Hours.UTCOffset < -12 || c.Hours.UTCOffset > 14 {
		errs = append(errs, fmt.Errorf("hours.utc_offset %d is out of range", c.Hours.UTCOffset))
	}
	if _, err := c.Hours.Weekdays(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Weekdays converts the named schedule into the form catalog.NewHours takes.
func (h Hours) Weekdays() (map[time.Weekday]catalog.Day, error) {
	out := make(map[time.Weekday]catalog.Day, len(h.Week))
	for name, d := range h.Week {
		wd, ok := weekdays[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("hours.week: unknown weekday %q", name)
		}
		out[wd] = d
	}
	return out, nil
}

// Schedule builds the local store-status source.
func (h Hours) Schedule() (*catalog.Hours, error) {
	week, err := h.Weekdays()
	if err != nil {
		return nil, err
	}
	return catalog.NewHours(week, h.UTCOffset, catalog.Override(h.Override))
}
