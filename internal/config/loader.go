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
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if PRICEWATCH_CONFIG is set
//  3. env (prefix PRICEWATCH_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("PRICEWATCH_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Environment variables: PRICEWATCH_ADDR, PRICEWATCH_CHANGE_THRESHOLD, ...
	// Map env keys like PRICEWATCH_QUEUE_SIZE -> queue_size (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("PRICEWATCH_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "pricewatch_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.ChangeThreshold <= 0 || c.ChangeThreshold >= 1:
		return fmt.Errorf("%w: change_threshold must be in (0, 1), got %v", ErrInvalidConfig, c.ChangeThreshold)
	case c.MaxSendAttempts < 1:
		return fmt.Errorf("%w: max_send_attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxSendAttempts)
	case c.SendRatePerMinute < 1:
		return fmt.Errorf("%w: send_rate_per_minute must be at least 1, got %d", ErrInvalidConfig, c.SendRatePerMinute)
	case c.CycleBudgetMS <= 0:
		return fmt.Errorf("%w: cycle_budget_ms must be positive, got %d", ErrInvalidConfig, c.CycleBudgetMS)
	case c.WhatsAppGatewayURL == "":
		return fmt.Errorf("%w: whatsapp_gateway_url must not be empty", ErrInvalidConfig)
	}
	return nil
}
