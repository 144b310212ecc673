// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package issuers_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/rewards/pkg/issuers"
	"github.com/luxfi/rewards/pkg/token"
	"github.com/luxfi/rewards/pkg/urlrequest"
)

func urlResponse(status int, body string) urlrequest.Response {
	return urlrequest.Response{StatusCode: status, Body: body}
}

func TestParseResponseRejectsMissingIssuerType(t *testing.T) {
	require := require.New(t)

	key, err := token.NewRandomSigningKey()
	require.NoError(err)

	body := `{"ping": 7200000, "issuers": [
		{"name": "confirmations", "publicKeys": [{"publicKey": "` +
		key.PublicKey().EncodeBase64() + `", "associatedValue": ""}]}
	]}`

	_, err = issuers.ParseResponse(body)
	require.ErrorIs(err, issuers.ErrMalformedIssuers)
}

func TestParseResponseRejectsInvalidPublicKey(t *testing.T) {
	require := require.New(t)

	body := `{"ping": 7200000, "issuers": [
		{"name": "confirmations", "publicKeys": [{"publicKey": "not a key", "associatedValue": ""}]},
		{"name": "payments", "publicKeys": [{"publicKey": "not a key", "associatedValue": "0.1"}]}
	]}`

	_, err := issuers.ParseResponse(body)
	require.ErrorIs(err, issuers.ErrMalformedIssuers)
}

func TestAssociatedValueLookup(t *testing.T) {
	require := require.New(t)

	key, err := token.NewRandomSigningKey()
	require.NoError(err)
	other, err := token.NewRandomSigningKey()
	require.NoError(err)

	c := &issuers.Collection{
		PingInterval: 7200000,
		Payments: []issuers.Key{
			{PublicKey: key.PublicKey(), AssociatedValue: decimal.RequireFromString("0.03")},
		},
	}

	require.True(c.PublicKeyExists(issuers.TypePayments, key.PublicKey()))
	require.False(c.PublicKeyExists(issuers.TypePayments, other.PublicKey()))
	require.True(decimal.RequireFromString("0.03").Equal(
		c.AssociatedValue(issuers.TypePayments, key.PublicKey())))
	require.True(c.AssociatedValue(issuers.TypePayments, other.PublicKey()).IsZero())
}
