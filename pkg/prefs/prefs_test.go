// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package prefs_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/rewards/pkg/prefs"
)

func TestMemoryDefaults(t *testing.T) {
	require := require.New(t)
	m := prefs.NewMemory()

	require.False(m.GetBool(prefs.KeyRewardsEnabled))
	require.Zero(m.GetInt("missing"))
	require.Empty(m.GetString("missing"))
	require.True(m.GetTime(prefs.KeyNextTokenRedemptionAt).IsZero())
}

func TestFileSurvivesReopen(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "prefs.json")

	f, err := prefs.OpenFile(path)
	require.NoError(err)

	next := time.Date(2025, 7, 8, 12, 0, 0, 0, time.UTC)
	f.SetBool(prefs.KeyRewardsEnabled, true)
	f.SetBool(prefs.KeyHasRedeemedBefore, true)
	f.SetTime(prefs.KeyNextTokenRedemptionAt, next)
	f.SetInt("counter", 7)
	f.SetString("label", "primary")

	reopened, err := prefs.OpenFile(path)
	require.NoError(err)
	require.True(reopened.GetBool(prefs.KeyRewardsEnabled))
	require.True(reopened.GetBool(prefs.KeyHasRedeemedBefore))
	require.True(next.Equal(reopened.GetTime(prefs.KeyNextTokenRedemptionAt)))
	require.Equal(int64(7), reopened.GetInt("counter"))
	require.Equal("primary", reopened.GetString("label"))
}
