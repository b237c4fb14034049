package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if KEYPRINT_CONFIG is set or path is non-empty
//  3. env (prefix KEYPRINT_)
func Load(ctx context.Context, path string) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path == "" {
		path = os.Getenv("KEYPRINT_CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadFile, err)
		}
	}

	// Environment variables: KEYPRINT_ADDR, KEYPRINT_DB_PATH, ...
	// Keys keep their underscores to match the koanf tags on the struct.
	envProvider := env.Provider("KEYPRINT_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "keyprint_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadEnv, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnmarshal, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrValidation)
	case c.Temperature <= 0:
		return fmt.Errorf("%w: temperature must be positive", ErrValidation)
	case c.SessionTTL <= 0:
		return fmt.Errorf("%w: session_ttl must be positive", ErrValidation)
	case c.AugmentWindowFraction <= 0 || c.AugmentWindowFraction >= 1:
		return fmt.Errorf("%w: augment_window_fraction must be in (0,1)", ErrValidation)
	case c.AugmentStepFraction <= 0 || c.AugmentStepFraction >= 1:
		return fmt.Errorf("%w: augment_step_fraction must be in (0,1)", ErrValidation)
	case c.TrainTestSplit <= 0 || c.TrainTestSplit >= 1:
		return fmt.Errorf("%w: train_test_split must be in (0,1)", ErrValidation)
	case c.EliminationCap < c.EliminationBase:
		return fmt.Errorf("%w: elimination_cap must be >= elimination_base", ErrValidation)
	}
	return nil
}
