// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package confirmations builds and redeems ad confirmations. A confirmation
// spends one stored confirmation token to produce an anonymous redemption
// credential, then trades that credential with the server for a signed
// payment token.
package confirmations

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/luxfi/rewards/pkg/ads"
	"github.com/luxfi/rewards/pkg/conversions"
	"github.com/luxfi/rewards/pkg/store"
	"github.com/luxfi/rewards/pkg/token"
)

// ErrNoConfirmationTokens is returned by Build when the token store is
// empty. The caller should trigger a refill and retry later.
var ErrNoConfirmationTokens = errors.New("no confirmation tokens available")

type payloadJSON struct {
	BlindedPaymentTokens []string              `json:"blindedPaymentTokens,omitempty"`
	ConversionEnvelope   *conversions.Envelope `json:"conversionEnvelope,omitempty"`
	CreativeInstanceID   string                `json:"creativeInstanceId"`
	PublicKey            string                `json:"publicKey,omitempty"`
	TransactionID        string                `json:"transactionId"`
	Type                 string                `json:"type"`
}

type credentialJSON struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	T         string `json:"t"`
}

// Rewardable reports whether a confirmation type earns value. Non-earning
// types are confirmed without spending a confirmation token and collect no
// payment token afterwards.
func Rewardable(t ads.ConfirmationType) bool {
	switch t {
	case ads.ConfirmationTypeViewed, ads.ConfirmationTypeClicked, ads.ConfirmationTypeConversion:
		return true
	default:
		return false
	}
}

// Build creates a confirmation for an ad event. For rewardable types it
// consumes the oldest stored confirmation token: the payload is signed with
// the token's derived verify key and the token is removed before the
// confirmation is returned, so the same token can never authorize two
// confirmations.
func Build(st *store.Store, now time.Time, event ads.Event) (store.Confirmation, error) {
	return BuildWithEnvelope(st, now, event, nil)
}

// BuildWithEnvelope is Build with a sealed conversion envelope carried in
// the payload, used for verifiable conversion confirmations.
func BuildWithEnvelope(st *store.Store, now time.Time, event ads.Event, envelope *conversions.Envelope) (store.Confirmation, error) {
	transactionID := uuid.NewString()

	if !Rewardable(event.ConfirmationType) {
		return store.Confirmation{
			TransactionID:      transactionID,
			CreativeInstanceID: event.CreativeInstanceID,
			AdType:             event.AdType,
			ConfirmationType:   event.ConfirmationType,
			CreatedAt:          now,
		}, nil
	}

	ct, err := st.NextConfirmationToken()
	if errors.Is(err, store.ErrNotFound) {
		return store.Confirmation{}, ErrNoConfirmationTokens
	}
	if err != nil {
		return store.Confirmation{}, err
	}

	rewardToken, err := token.NewRandomToken()
	if err != nil {
		return store.Confirmation{}, err
	}
	blinded := rewardToken.Blind()

	payload, err := json.Marshal(payloadJSON{
		BlindedPaymentTokens: []string{blinded.EncodeBase64()},
		ConversionEnvelope:   envelope,
		CreativeInstanceID:   event.CreativeInstanceID,
		PublicKey:            ct.PublicKey.EncodeBase64(),
		TransactionID:        transactionID,
		Type:                 string(event.ConfirmationType),
	})
	if err != nil {
		return store.Confirmation{}, err
	}

	credential, err := json.Marshal(credentialJSON{
		Payload:   string(payload),
		Signature: ct.UnblindedToken.SignMessage(string(payload)),
		T:         ct.UnblindedToken.Preimage(),
	})
	if err != nil {
		return store.Confirmation{}, err
	}

	// Spend the token. A missing row means it was already spent.
	if err := st.RemoveConfirmationToken(ct); err != nil {
		return store.Confirmation{}, err
	}

	return store.Confirmation{
		TransactionID:      transactionID,
		CreativeInstanceID: event.CreativeInstanceID,
		AdType:             event.AdType,
		ConfirmationType:   event.ConfirmationType,
		CreatedAt:          now,
		Reward: &store.Reward{
			Token:          rewardToken,
			BlindedToken:   blinded,
			UnblindedToken: ct.UnblindedToken,
			PublicKey:      ct.PublicKey,
			Credential:     base64.RawURLEncoding.EncodeToString(credential),
		},
	}, nil
}

// DecodeCredential unpacks a redemption credential back into its payload and
// token parts, as the server sees them.
func DecodeCredential(credential string) (payload, signature, preimage string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(credential)
	if err != nil {
		return "", "", "", err
	}
	var c credentialJSON
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", "", "", err
	}
	return c.Payload, c.Signature, c.T, nil
}
