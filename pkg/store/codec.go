// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"encoding/json"

	"github.com/luxfi/rewards/pkg/ads"
)

type paymentTokenJSON struct {
	TransactionID    string `json:"transactionId"`
	UnblindedToken   string `json:"unblindedToken"`
	PublicKey        string `json:"publicKey"`
	ConfirmationType string `json:"confirmationType"`
	AdType           string `json:"adType"`
}

// MarshalPaymentTokens serializes a payment token list for export or
// diagnostics. UnmarshalPaymentTokens reverses it exactly.
func MarshalPaymentTokens(tokens []PaymentToken) ([]byte, error) {
	if tokens == nil {
		return json.Marshal([]paymentTokenJSON(nil))
	}
	out := make([]paymentTokenJSON, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, paymentTokenJSON{
			TransactionID:    t.TransactionID,
			UnblindedToken:   t.UnblindedToken.EncodeBase64(),
			PublicKey:        t.PublicKey.EncodeBase64(),
			ConfirmationType: string(t.ConfirmationType),
			AdType:           string(t.AdType),
		})
	}
	return json.Marshal(out)
}

// UnmarshalPaymentTokens parses a list produced by MarshalPaymentTokens.
func UnmarshalPaymentTokens(data []byte) ([]PaymentToken, error) {
	var in []paymentTokenJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	if in == nil {
		return nil, nil
	}
	tokens := make([]PaymentToken, 0, len(in))
	for _, t := range in {
		ct, err := decodeConfirmationToken(t.UnblindedToken, t.PublicKey)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, PaymentToken{
			TransactionID:    t.TransactionID,
			UnblindedToken:   ct.UnblindedToken,
			PublicKey:        ct.PublicKey,
			ConfirmationType: ads.ConfirmationType(t.ConfirmationType),
			AdType:           ads.AdType(t.AdType),
		})
	}
	return tokens, nil
}
