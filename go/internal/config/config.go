package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mcdev12/planningpoker/go/internal/rooms"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "config.yaml"

// Config holds server settings. Values come from the defaults, then the YAML
// file, then the environment.
type Config struct {
	Port            string        `yaml:"port"            envconfig:"PORT"`
	LogLevel        string        `yaml:"logLevel"        envconfig:"LOG_LEVEL"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"  envconfig:"CORS_ALLOWED_ORIGINS"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" envconfig:"SHUTDOWN_TIMEOUT"`

	// Websocket tuning
	WSPingInterval time.Duration `yaml:"wsPingInterval" envconfig:"WS_PING_INTERVAL"`
	WSReadTimeout  time.Duration `yaml:"wsReadTimeout"  envconfig:"WS_READ_TIMEOUT"`
	WSSendBuffer   int           `yaml:"wsSendBuffer"   envconfig:"WS_SEND_BUFFER"`

	// Cross-instance relay, disabled when NATSURL is empty
	NATSURL           string `yaml:"natsUrl"           envconfig:"NATS_URL"`
	NATSSubjectPrefix string `yaml:"natsSubjectPrefix" envconfig:"NATS_SUBJECT_PREFIX"`

	// Rooms untouched for longer than RoomTTL are removed by prune_rooms
	RoomTTL time.Duration `yaml:"roomTTL" envconfig:"ROOM_TTL"`

	// Catalog adds or replaces voting systems and time units.
	Catalog rooms.Catalog `yaml:"catalog" ignored:"true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:              "8080",
		LogLevel:          "info",
		AllowedOrigins:    []string{"*"},
		ShutdownTimeout:   10 * time.Second,
		WSPingInterval:    30 * time.Second,
		WSReadTimeout:     60 * time.Second,
		WSSendBuffer:      64,
		NATSSubjectPrefix: "planningpoker.rooms",
		RoomTTL:           7 * 24 * time.Hour,
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is only an error when required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && !required:
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.WSPingInterval <= 0 || c.WSReadTimeout <= c.WSPingInterval {
		return fmt.Errorf("wsReadTimeout (%s) must exceed wsPingInterval (%s)", c.WSReadTimeout, c.WSPingInterval)
	}
	if c.WSSendBuffer <= 0 {
		return errors.New("wsSendBuffer must be positive")
	}
	for system, deck := range c.Catalog.VotingSystems {
		if len(deck) == 0 {
			return fmt.Errorf("voting system %q has no values", system)
		}
	}
	for unit, deck := range c.Catalog.TimeUnits {
		if len(deck) == 0 {
			return fmt.Errorf("time unit %q has no values", unit)
		}
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// RoomCatalog returns the built-in decks with the configured ones laid over.
func (c *Config) RoomCatalog() rooms.Catalog {
	return rooms.DefaultCatalog().Merge(c.Catalog)
}
