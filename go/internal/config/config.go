package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/mcdev12/hotpotato/go/internal/cluster"
	"github.com/mcdev12/hotpotato/go/internal/dbconfig"
	"github.com/mcdev12/hotpotato/go/internal/payment"
	"github.com/mcdev12/hotpotato/go/internal/session"
	"github.com/mcdev12/hotpotato/go/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HOTPOTATO_"

type Config struct {
	Session  SessionConfig  `yaml:"session" envPrefix:"SESSION_"`
	Rules    RulesConfig    `yaml:"rules" envPrefix:"RULES_"`
	Payment  PaymentConfig  `yaml:"payment" envPrefix:"PAYMENT_"`
	HTTP     HTTPConfig     `yaml:"http" envPrefix:"HTTP_"`
	NATS     NATSConfig     `yaml:"nats" envPrefix:"NATS_"`
	Consul   ConsulConfig   `yaml:"consul" envPrefix:"CONSUL_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	LogLevel string         `yaml:"log_level" env:"LOG_LEVEL"`
}

// SessionConfig names the shared session. Participants using the same app id
// and session name play together.
type SessionConfig struct {
	Name     string `yaml:"name" env:"NAME"`
	AppID    string `yaml:"app_id" env:"APP_ID"`
	APIKey   string `yaml:"api_key" env:"API_KEY"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type RulesConfig struct {
	EntryFee        float64       `yaml:"entry_fee" env:"ENTRY_FEE"`
	HouseFee        float64       `yaml:"house_fee" env:"HOUSE_FEE"`
	GameDuration    time.Duration `yaml:"game_duration" env:"GAME_DURATION"`
	MinPlayers      int           `yaml:"min_players" env:"MIN_PLAYERS"`
	PassIntervalMin time.Duration `yaml:"pass_interval_min" env:"PASS_INTERVAL_MIN"`
	PassIntervalMax time.Duration `yaml:"pass_interval_max" env:"PASS_INTERVAL_MAX"`
	GameTick        time.Duration `yaml:"game_tick" env:"GAME_TICK"`
	PassTick        time.Duration `yaml:"pass_tick" env:"PASS_TICK"`
	PaymentTimeout  time.Duration `yaml:"payment_timeout" env:"PAYMENT_TIMEOUT"`
	WriteRetries    int           `yaml:"write_retries" env:"WRITE_RETRIES"`
	// Seed drives holder and pass choices. Zero seeds from the clock.
	Seed int64 `yaml:"seed" env:"SEED"`
}

type PaymentConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	ChargeDelay   time.Duration `yaml:"charge_delay" env:"CHARGE_DELAY"`
	DisburseDelay time.Duration `yaml:"disburse_delay" env:"DISBURSE_DELAY"`
	MinBalance    float64       `yaml:"min_balance" env:"MIN_BALANCE"`
	MaxBalance    float64       `yaml:"max_balance" env:"MAX_BALANCE"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port" env:"PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// NATSConfig configures the replicated store and the event bus. An empty URL
// keeps the session in memory on this instance.
type NATSConfig struct {
	URL           string        `yaml:"url" env:"URL"`
	MaxReconnects int           `yaml:"max_reconnects" env:"MAX_RECONNECTS"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"RECONNECT_WAIT"`
	History       uint8         `yaml:"history" env:"HISTORY"`
	Replicas      int           `yaml:"replicas" env:"REPLICAS"`
}

// ConsulConfig configures driver election. Empty addresses run a standalone driver.
type ConsulConfig struct {
	Addresses  string        `yaml:"addresses" env:"ADDRESSES"`
	SessionTTL string        `yaml:"session_ttl" env:"SESSION_TTL"`
	RetryWait  time.Duration `yaml:"retry_wait" env:"RETRY_WAIT"`
}

type DatabaseConfig struct {
	// HistoryEnabled archives finished rounds in Postgres.
	HistoryEnabled  bool `yaml:"history_enabled" env:"HISTORY_ENABLED"`
	dbconfig.Config `yaml:",inline"`
}

func Default() Config {
	rules := session.DefaultRules()
	pay := payment.DefaultSimulatedConfig()
	natsCfg := store.DefaultNATSConfig()
	consulCfg := cluster.DefaultConsulConfig()

	return Config{
		Session: SessionConfig{
			Name:     "hot-potato-game",
			AppID:    "hotpotato",
			Password: "potato123",
		},
		Rules: RulesConfig{
			EntryFee:        rules.EntryFee,
			HouseFee:        rules.HouseFee,
			GameDuration:    rules.GameDuration,
			MinPlayers:      rules.MinPlayers,
			PassIntervalMin: rules.PassIntervalMin,
			PassIntervalMax: rules.PassIntervalMax,
			GameTick:        rules.GameTick,
			PassTick:        rules.PassTick,
			PaymentTimeout:  rules.PaymentTimeout,
			WriteRetries:    rules.WriteRetries,
		},
		Payment: PaymentConfig{
			Enabled:       pay.Enabled,
			ChargeDelay:   pay.ChargeDelay,
			DisburseDelay: pay.DisburseDelay,
			MinBalance:    pay.MinBalance,
			MaxBalance:    pay.MaxBalance,
		},
		HTTP: HTTPConfig{
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		NATS: NATSConfig{
			MaxReconnects: natsCfg.MaxReconnects,
			ReconnectWait: natsCfg.ReconnectWait,
			History:       natsCfg.History,
			Replicas:      natsCfg.Replicas,
		},
		Consul: ConsulConfig{
			SessionTTL: consulCfg.SessionTTL,
			RetryWait:  consulCfg.RetryWait,
		},
		Database: DatabaseConfig{
			Config: dbconfig.Default(),
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from the defaults, the YAML file at path (if
// any), a .env file in the working directory and HOTPOTATO_* variables, each
// layer overriding the previous one.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug().Msg("no .env file found")
		} else {
			log.Warn().Err(err).Msg("could not load .env file")
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	r := c.Rules

	if c.Session.Name == "" {
		errs = append(errs, errors.New("session.name is required"))
	}
	if r.MinPlayers < 2 {
		errs = append(errs, fmt.Errorf("rules.min_players must be at least 2, got %d", r.MinPlayers))
	}
	if r.EntryFee <= 0 {
		errs = append(errs, fmt.Errorf("rules.entry_fee must be positive, got %v", r.EntryFee))
	}
	if r.HouseFee < 0 || r.HouseFee >= 1 {
		errs = append(errs, fmt.Errorf("rules.house_fee must be in [0, 1), got %v", r.HouseFee))
	}
	if r.PassIntervalMin <= 0 || r.PassIntervalMin > r.PassIntervalMax {
		errs = append(errs, fmt.Errorf("rules.pass_interval_min must be positive and not above pass_interval_max (%s, %s)", r.PassIntervalMin, r.PassIntervalMax))
	}
	for name, d := range map[string]time.Duration{
		"rules.game_duration":   r.GameDuration,
		"rules.game_tick":       r.GameTick,
		"rules.pass_tick":       r.PassTick,
		"rules.payment_timeout": r.PaymentTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if r.WriteRetries < 1 {
		errs = append(errs, fmt.Errorf("rules.write_retries must be at least 1, got %d", r.WriteRetries))
	}
	if c.Payment.MinBalance > c.Payment.MaxBalance {
		errs = append(errs, fmt.Errorf("payment.min_balance %v is above max_balance %v", c.Payment.MinBalance, c.Payment.MaxBalance))
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid http.port (must be between 1-65535 inclusive): %d", c.HTTP.Port))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

func (c *Config) SessionRules() session.Rules {
	return session.Rules{
		EntryFee:        c.Rules.EntryFee,
		HouseFee:        c.Rules.HouseFee,
		GameDuration:    c.Rules.GameDuration,
		MinPlayers:      c.Rules.MinPlayers,
		PassIntervalMin: c.Rules.PassIntervalMin,
		PassIntervalMax: c.Rules.PassIntervalMax,
		GameTick:        c.Rules.GameTick,
		PassTick:        c.Rules.PassTick,
		PaymentTimeout:  c.Rules.PaymentTimeout,
		WriteRetries:    c.Rules.WriteRetries,
	}
}

func (c *Config) Scope() store.Scope {
	return store.Scope{AppID: c.Session.AppID, SessionName: c.Session.Name}
}

// StoreNATS returns the NATS settings. The session API key authenticates the connection.
func (c *Config) StoreNATS() store.NATSConfig {
	return store.NATSConfig{
		URL:           c.NATS.URL,
		Token:         c.Session.APIKey,
		MaxReconnects: c.NATS.MaxReconnects,
		ReconnectWait: c.NATS.ReconnectWait,
		History:       c.NATS.History,
		Replicas:      c.NATS.Replicas,
	}
}

func (c *Config) SimulatedPayments() payment.SimulatedConfig {
	return payment.SimulatedConfig{
		Enabled:       c.Payment.Enabled,
		ChargeDelay:   c.Payment.ChargeDelay,
		DisburseDelay: c.Payment.DisburseDelay,
		MinBalance:    c.Payment.MinBalance,
		MaxBalance:    c.Payment.MaxBalance,
	}
}

func (c *Config) ClusterConsul() cluster.ConsulConfig {
	return cluster.ConsulConfig{
		Addresses:  c.Consul.Addresses,
		SessionTTL: c.Consul.SessionTTL,
		RetryWait:  c.Consul.RetryWait,
	}
}
