// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries the tunables of the rewards engine. Values come from the
// environment in the host process; Default returns production values for
// embedders that configure programmatically.
type Config struct {
	ServerURL string `env:"REWARDS_SERVER_URL" envDefault:"https://ads-serve.rewards.luxfi.network"`

	// Debug shortens every randomized delay so the full pipeline can be
	// observed in minutes rather than days.
	Debug bool `env:"REWARDS_DEBUG" envDefault:"false"`

	// Refill thresholds for confirmation tokens.
	MinTokenThreshold int `env:"REWARDS_MIN_TOKEN_THRESHOLD" envDefault:"20"`
	MaxTokenCount     int `env:"REWARDS_MAX_TOKEN_COUNT" envDefault:"50"`

	// Cadence of payment token redemption.
	RedeemAfter      time.Duration `env:"REWARDS_REDEEM_AFTER" envDefault:"168h"`
	DebugRedeemAfter time.Duration `env:"REWARDS_DEBUG_REDEEM_AFTER" envDefault:"25m"`

	// Mean of the randomized conversion processing delay.
	ConversionDelay      time.Duration `env:"REWARDS_CONVERSION_DELAY" envDefault:"24h"`
	DebugConversionDelay time.Duration `env:"REWARDS_DEBUG_CONVERSION_DELAY" envDefault:"10m"`
}

// Default returns the production configuration.
func Default() Config {
	return Config{
		ServerURL:            "https://ads-serve.rewards.luxfi.network",
		MinTokenThreshold:    20,
		MaxTokenCount:        50,
		RedeemAfter:          168 * time.Hour,
		DebugRedeemAfter:     25 * time.Minute,
		ConversionDelay:      24 * time.Hour,
		DebugConversionDelay: 10 * time.Minute,
	}
}

// FromEnv parses the configuration from the environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
