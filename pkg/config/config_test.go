// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/rewards/pkg/config"
)

func TestFromEnvUsesDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := config.FromEnv()
	require.NoError(err)
	require.Equal(config.Default(), cfg)
}

func TestFromEnvOverrides(t *testing.T) {
	require := require.New(t)

	t.Setenv("REWARDS_SERVER_URL", "https://ads.example.com")
	t.Setenv("REWARDS_DEBUG", "true")
	t.Setenv("REWARDS_MIN_TOKEN_THRESHOLD", "5")
	t.Setenv("REWARDS_REDEEM_AFTER", "48h")

	cfg, err := config.FromEnv()
	require.NoError(err)
	require.Equal("https://ads.example.com", cfg.ServerURL)
	require.True(cfg.Debug)
	require.Equal(5, cfg.MinTokenThreshold)
	require.Equal(48*time.Hour, cfg.RedeemAfter)
	require.Equal(50, cfg.MaxTokenCount)
}
