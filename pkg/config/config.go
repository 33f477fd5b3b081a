// Package config loads the process configuration from the environment.
//
// The loading sequence is:
//  1. Load a .env file via godotenv (non-fatal if absent).
//  2. Populate Config from MEDREMIND_* variables via envconfig.
//  3. Validate the result with go-playground/validator.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix of every environment variable read by Load.
const Prefix = "MEDREMIND"

type Config struct {
	Port   string `envconfig:"PORT" default:"3000" validate:"required,numeric"`
	DBPath string `envconfig:"DB_PATH" default:"data.db" validate:"required"`

	Log LogConfig `envconfig:"LOG"`

	// Precise alarms are permitted at startup; the permission can be toggled at runtime.
	ExactAlarms bool          `envconfig:"EXACT_ALARMS" default:"true"`
	WakeTimeout time.Duration `envconfig:"WAKE_TIMEOUT" default:"30s" validate:"gt=0"`
	LateGrace   time.Duration `envconfig:"LATE_GRACE" default:"15m" validate:"gte=0"`
	EventBuffer int           `envconfig:"EVENT_BUFFER" default:"16" validate:"gt=0"`

	Speech SpeechConfig `envconfig:"SPEECH"`

	Identity IdentityConfig `envconfig:"IDENTITY"`
	// Secret used to verify callers' ID tokens on the claim check endpoint.
	AuthSecret string `envconfig:"AUTH_SECRET"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `envconfig:"FORMAT" default:"console" validate:"oneof=console json"`
}

type SpeechConfig struct {
	Command  string  `envconfig:"COMMAND" default:"espeak"`
	Rate     float64 `envconfig:"RATE" default:"0.9" validate:"gt=0"`
	Pitch    float64 `envconfig:"PITCH" default:"1.0" validate:"gt=0"`
	Language string  `envconfig:"LANGUAGE" default:"en-US"`
}

type IdentityConfig struct {
	URL   string `envconfig:"URL" validate:"omitempty,url"`
	Token string `envconfig:"TOKEN"`
}

// Load reads the configuration. envFiles are loaded before the environment is
// processed; a missing file is ignored. Variables already set in the
// environment take precedence over the files.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		err := godotenv.Load(f)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to load %s", f)
		}
	}

	var cfg Config
	err := envconfig.Process(Prefix, &cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to process environment")
	}

	err = Validate(&cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags of the configuration.
func Validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return "127.0.0.1:" + c.Port
}
