// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/luxfi/rewards/pkg/ads"
	"github.com/luxfi/rewards/pkg/token"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newConfirmationToken(t *testing.T) ConfirmationToken {
	t.Helper()

	sk, err := token.NewRandomSigningKey()
	require.NoError(t, err)
	tok, err := token.NewRandomToken()
	require.NoError(t, err)

	blinded := tok.Blind()
	return ConfirmationToken{
		UnblindedToken: tok.Unblind(sk.Sign(blinded)),
		PublicKey:      sk.PublicKey(),
	}
}

func TestMigrationsAreReapplySafe(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "rewards.db")

	s, err := Open(path)
	require.NoError(err)

	var version int
	require.NoError(s.db.QueryRow("PRAGMA user_version").Scan(&version))
	require.Equal(len(migrations), version)
	require.NoError(s.Close())

	// Reopening an up-to-date database applies nothing and keeps data.
	s, err = Open(path)
	require.NoError(err)
	defer s.Close()
	require.NoError(s.db.QueryRow("PRAGMA user_version").Scan(&version))
	require.Equal(len(migrations), version)
}

func TestConfirmationTokenSpentAtMostOnce(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)

	ct := newConfirmationToken(t)
	require.NoError(s.AddConfirmationTokens([]ConfirmationToken{ct}))

	n, err := s.ConfirmationTokenCount()
	require.NoError(err)
	require.Equal(1, n)

	next, err := s.NextConfirmationToken()
	require.NoError(err)
	require.Equal(ct.UnblindedToken.EncodeBase64(), next.UnblindedToken.EncodeBase64())

	require.NoError(s.RemoveConfirmationToken(ct))

	// Removing the same token again must fail: it was already spent.
	require.ErrorIs(s.RemoveConfirmationToken(ct), ErrNotFound)

	_, err = s.NextConfirmationToken()
	require.ErrorIs(err, ErrNotFound)
}

func TestDuplicatePaymentTokenRejected(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)

	ct := newConfirmationToken(t)
	pt := PaymentToken{
		TransactionID:    "8b742869-6e4a-490c-ac31-31b49130098a",
		UnblindedToken:   ct.UnblindedToken,
		PublicKey:        ct.PublicKey,
		ConfirmationType: ads.ConfirmationTypeViewed,
		AdType:           ads.AdTypeNotification,
	}
	require.NoError(s.AddPaymentToken(pt))

	// Same unblinded token value, different transaction: rejected, store
	// unchanged.
	dup := pt
	dup.TransactionID = "f3b7f6f1-62e4-47b5-9dfa-9b3a0c2cf4e3"
	require.ErrorIs(s.AddPaymentToken(dup), ErrDuplicatePaymentToken)

	tokens, err := s.PaymentTokens()
	require.NoError(err)
	require.Len(tokens, 1)
	require.Equal(pt.TransactionID, tokens[0].TransactionID)
}

func TestRemovePaymentTokensRemovesExactlyGiven(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)

	first := newConfirmationToken(t)
	second := newConfirmationToken(t)
	for i, ct := range []ConfirmationToken{first, second} {
		require.NoError(s.AddPaymentToken(PaymentToken{
			TransactionID:    []string{"a", "b"}[i],
			UnblindedToken:   ct.UnblindedToken,
			PublicKey:        ct.PublicKey,
			ConfirmationType: ads.ConfirmationTypeViewed,
			AdType:           ads.AdTypeNotification,
		}))
	}

	tokens, err := s.PaymentTokens()
	require.NoError(err)
	require.NoError(s.RemovePaymentTokens(tokens[:1]))

	remaining, err := s.PaymentTokens()
	require.NoError(err)
	require.Len(remaining, 1)
	require.Equal("b", remaining[0].TransactionID)
}

func TestDepositReplaceAndPurge(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	d := Deposit{
		CreativeInstanceID: "546fe7b0-5047-4f28-a11c-81f14edcf0f6",
		Value:              decimal.RequireFromString("0.01"),
		ExpireAt:           now.Add(24 * time.Hour),
	}
	require.NoError(s.SaveDeposit(d))

	d.Value = decimal.RequireFromString("0.02")
	require.NoError(s.SaveDeposit(d))

	value, err := s.DepositValue(d.CreativeInstanceID)
	require.NoError(err)
	require.True(value.Equal(decimal.RequireFromString("0.02")))

	require.NoError(s.PurgeExpiredDeposits(now.Add(48 * time.Hour)))
	_, err = s.DepositValue(d.CreativeInstanceID)
	require.ErrorIs(err, ErrNotFound)
}

func TestOrphanedServedAdEventsPurged(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)

	now := time.Now()

	// Placement with served only: orphaned.
	require.NoError(s.AddAdEvent(ads.Event{
		PlacementID:      "placement-orphan",
		AdType:           ads.AdTypeNotification,
		ConfirmationType: ads.ConfirmationTypeServed,
		CreatedAt:        now,
	}))
	// Placement that progressed to viewed: kept.
	for _, ct := range []ads.ConfirmationType{ads.ConfirmationTypeServed, ads.ConfirmationTypeViewed} {
		require.NoError(s.AddAdEvent(ads.Event{
			PlacementID:      "placement-viewed",
			AdType:           ads.AdTypeNotification,
			ConfirmationType: ct,
			CreatedAt:        now,
		}))
	}

	require.NoError(s.PurgeOrphanedAdEvents())

	events, err := s.AdEvents()
	require.NoError(err)
	require.Len(events, 2)
	for _, e := range events {
		require.Equal("placement-viewed", e.PlacementID)
	}
}

func TestConversionQueueDurability(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	later, err := s.EnqueueConversion(ConversionQueueItem{
		CampaignID:    "campaign-2",
		CreativeSetID: "set-2",
		AdType:        ads.AdTypeNotification,
		ProcessAt:     now.Add(2 * time.Hour),
	})
	require.NoError(err)
	require.NotZero(later.ID)

	earlier, err := s.EnqueueConversion(ConversionQueueItem{
		CampaignID:    "campaign-1",
		CreativeSetID: "set-1",
		AdType:        ads.AdTypeNotification,
		ProcessAt:     now.Add(time.Hour),
	})
	require.NoError(err)

	next, err := s.NextConversionQueueItem()
	require.NoError(err)
	require.Equal(earlier.ID, next.ID)

	require.NoError(s.DeleteConversionQueueItem(earlier.ID))

	next, err = s.NextConversionQueueItem()
	require.NoError(err)
	require.Equal(later.ID, next.ID)

	require.NoError(s.DeleteConversionQueueItem(later.ID))
	_, err = s.NextConversionQueueItem()
	require.ErrorIs(err, ErrNotFound)
}

func TestConfirmationRoundTripWithReward(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)

	tok, err := token.NewRandomToken()
	require.NoError(err)
	spent := newConfirmationToken(t)

	c := Confirmation{
		TransactionID:      "8b742869-6e4a-490c-ac31-31b49130098a",
		CreativeInstanceID: "546fe7b0-5047-4f28-a11c-81f14edcf0f6",
		AdType:             ads.AdTypeNotification,
		ConfirmationType:   ads.ConfirmationTypeViewed,
		CreatedAt:          time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
		Reward: &Reward{
			Token:          tok,
			BlindedToken:   tok.Blind(),
			UnblindedToken: spent.UnblindedToken,
			PublicKey:      spent.PublicKey,
			Credential:     "ZXlKd1lYbHNiMkZrSWpvaWV5SjkifQ",
		},
	}
	require.NoError(s.SaveConfirmation(c))

	loaded, err := s.Confirmations()
	require.NoError(err)
	require.Len(loaded, 1)
	require.Equal(c.TransactionID, loaded[0].TransactionID)
	require.NotNil(loaded[0].Reward)
	require.Equal(c.Reward.Token.EncodeBase64(), loaded[0].Reward.Token.EncodeBase64())
	require.Equal(c.Reward.BlindedToken.EncodeBase64(), loaded[0].Reward.BlindedToken.EncodeBase64())
	require.Equal(c.Reward.UnblindedToken.EncodeBase64(), loaded[0].Reward.UnblindedToken.EncodeBase64())
	require.True(c.Reward.PublicKey.Equal(loaded[0].Reward.PublicKey))
	require.Equal(c.Reward.Credential, loaded[0].Reward.Credential)

	require.NoError(s.RemoveConfirmation(c.TransactionID))
	loaded, err = s.Confirmations()
	require.NoError(err)
	require.Empty(loaded)
}
