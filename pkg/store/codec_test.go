// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/rewards/pkg/ads"
)

func TestPaymentTokenListRoundTrip(t *testing.T) {
	require := require.New(t)

	ct := newConfirmationToken(t)
	tokens := []PaymentToken{
		{
			TransactionID:    "9ea24e6c-2d32-4bd5-9d95-6d57ba996b30",
			UnblindedToken:   ct.UnblindedToken,
			PublicKey:        ct.PublicKey,
			ConfirmationType: ads.ConfirmationTypeViewed,
			AdType:           ads.AdTypeNotification,
		},
		{
			TransactionID:    "3b3e4d3a-14cf-49a4-8e9f-c2a4b7a1f0fd",
			UnblindedToken:   newConfirmationToken(t).UnblindedToken,
			PublicKey:        ct.PublicKey,
			ConfirmationType: ads.ConfirmationTypeConversion,
			AdType:           ads.AdTypeInlineContent,
		},
	}

	data, err := MarshalPaymentTokens(tokens)
	require.NoError(err)

	decoded, err := UnmarshalPaymentTokens(data)
	require.NoError(err)
	require.Len(decoded, len(tokens))
	for i, want := range tokens {
		require.Equal(want.TransactionID, decoded[i].TransactionID)
		require.Equal(want.UnblindedToken.EncodeBase64(), decoded[i].UnblindedToken.EncodeBase64())
		require.True(want.PublicKey.Equal(decoded[i].PublicKey))
		require.Equal(want.ConfirmationType, decoded[i].ConfirmationType)
		require.Equal(want.AdType, decoded[i].AdType)
	}
}

func TestEmptyPaymentTokenListRoundTrip(t *testing.T) {
	require := require.New(t)

	data, err := MarshalPaymentTokens(nil)
	require.NoError(err)

	decoded, err := UnmarshalPaymentTokens(data)
	require.NoError(err)
	require.Nil(decoded)

	data, err = MarshalPaymentTokens([]PaymentToken{})
	require.NoError(err)
	decoded, err = UnmarshalPaymentTokens(data)
	require.NoError(err)
	require.NotNil(decoded)
	require.Empty(decoded)
}
