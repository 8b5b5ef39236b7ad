package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

var (
	ErrHelp = pflag.ErrHelp
)

// Config is read from RELAY_* environment variables (and an optional .env
// file), then overridden by command line flags.
type Config struct {
	WSListenAddr   string        `env:"RELAY_WS_LISTEN_ADDR"   envDefault:":8888"  validate:"required"`
	APIListenAddr  string        `env:"RELAY_API_LISTEN_ADDR"  envDefault:":8080"  validate:"required"`
	LogLevel       string        `env:"RELAY_LOG_LEVEL"        envDefault:"debug"  validate:"oneof=trace debug info warn error"`
	WordList       string        `env:"RELAY_WORD_LIST"                            validate:"omitempty,file"`
	NameAttempts   int           `env:"RELAY_NAME_ATTEMPTS"    envDefault:"10"     validate:"min=1,max=1000"`
	MaxMessageSize int64         `env:"RELAY_MAX_MESSAGE_SIZE" envDefault:"65536"  validate:"min=128"`
	PingInterval   time.Duration `env:"RELAY_PING_INTERVAL"    envDefault:"15s"    validate:"min=0"`
	PongWait       time.Duration `env:"RELAY_PONG_WAIT"        envDefault:"20s"    validate:"gtfield=PingInterval"`
	AllowedOrigins []string      `env:"RELAY_ALLOWED_ORIGINS"  envDefault:"*"      envSeparator:"," validate:"min=1,dive,required"`
}

// Load builds the configuration. dotenv is the optional .env path; pass "" to skip it.
func Load(args []string, dotenv string) (*Config, error) {
	if dotenv != "" {
		// missing .env is fine
		_ = godotenv.Load(dotenv)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	fs.StringVarP(&cfg.APIListenAddr, "api-listen-addr", "a", cfg.APIListenAddr, "ops api listen address (health, metrics)")
	fs.StringVarP(&cfg.WSListenAddr, "ws-listen-addr", "w", cfg.WSListenAddr, "websocket relay listen address")
	fs.StringVarP(&cfg.LogLevel, "log-level", "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.WordList, "word-list", cfg.WordList, "file with room names, one per line (built-in list if empty)")
	fs.IntVar(&cfg.NameAttempts, "name-attempts", cfg.NameAttempts, "tries to find a free generated room name")
	fs.Int64Var(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "largest accepted frame in bytes")
	fs.DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "websocket ping interval, 0 disables pings")
	fs.DurationVar(&cfg.PongWait, "pong-wait", cfg.PongWait, "how long to wait for a pong before dropping the peer")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "allowed browser origins")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Join(errors.New("invalid configuration"), err)
	}
	return cfg, nil
}
