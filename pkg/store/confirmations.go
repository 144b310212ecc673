// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"encoding/json"
	"time"

	"github.com/luxfi/rewards/pkg/ads"
	"github.com/luxfi/rewards/pkg/token"
)

// Reward is the redemption material a value-earning confirmation carries: a
// fresh raw token with its blinded counterpart, which the server signs into
// the payment token, plus the confirmation token that was spent to build the
// credential. The credential is built exactly once, when the confirmation is
// created, so retries never consume a second confirmation token.
type Reward struct {
	Token          *token.Token
	BlindedToken   token.BlindedToken
	UnblindedToken token.UnblindedToken
	PublicKey      token.PublicKey
	Credential     string
}

// Confirmation is a claim that a specific ad event occurred. Created when a
// deposit is recorded, removed once redeemed or permanently failed.
type Confirmation struct {
	TransactionID      string
	CreativeInstanceID string
	AdType             ads.AdType
	ConfirmationType   ads.ConfirmationType
	CreatedAt          time.Time
	Reward             *Reward // nil for non-rewardable confirmation types
}

type rewardJSON struct {
	Token          string `json:"token"`
	BlindedToken   string `json:"blindedToken"`
	UnblindedToken string `json:"unblindedToken"`
	PublicKey      string `json:"publicKey"`
	Credential     string `json:"credential"`
}

func encodeReward(r *Reward) (string, error) {
	if r == nil {
		return "", nil
	}
	raw, err := json.Marshal(rewardJSON{
		Token:          r.Token.EncodeBase64(),
		BlindedToken:   r.BlindedToken.EncodeBase64(),
		UnblindedToken: r.UnblindedToken.EncodeBase64(),
		PublicKey:      r.PublicKey.EncodeBase64(),
		Credential:     r.Credential,
	})
	return string(raw), err
}

func decodeReward(s string) (*Reward, error) {
	if s == "" {
		return nil, nil
	}
	var j rewardJSON
	if err := json.Unmarshal([]byte(s), &j); err != nil {
		return nil, err
	}
	t, err := token.TokenFromBase64(j.Token)
	if err != nil {
		return nil, err
	}
	b, err := token.BlindedTokenFromBase64(j.BlindedToken)
	if err != nil {
		return nil, err
	}
	u, err := token.UnblindedTokenFromBase64(j.UnblindedToken)
	if err != nil {
		return nil, err
	}
	pk, err := token.PublicKeyFromBase64(j.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Reward{
		Token:          t,
		BlindedToken:   b,
		UnblindedToken: u,
		PublicKey:      pk,
		Credential:     j.Credential,
	}, nil
}

// SaveConfirmation persists a queued confirmation so it survives restart.
func (s *Store) SaveConfirmation(c Confirmation) error {
	reward, err := encodeReward(c.Reward)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO confirmations (transaction_id, creative_instance_id, ad_type,
		   confirmation_type, created_at, reward)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.TransactionID, c.CreativeInstanceID, string(c.AdType),
		string(c.ConfirmationType), c.CreatedAt.UTC().Unix(), reward)
	return err
}

// Confirmations returns all queued confirmations, oldest first.
func (s *Store) Confirmations() ([]Confirmation, error) {
	rows, err := s.db.Query(
		`SELECT transaction_id, creative_instance_id, ad_type, confirmation_type, created_at, reward
		 FROM confirmations ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var confirmations []Confirmation
	for rows.Next() {
		var c Confirmation
		var adType, confirmationType, reward string
		var createdAt int64
		if err := rows.Scan(&c.TransactionID, &c.CreativeInstanceID, &adType,
			&confirmationType, &createdAt, &reward); err != nil {
			return nil, err
		}
		c.AdType = ads.AdType(adType)
		c.ConfirmationType = ads.ConfirmationType(confirmationType)
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		if c.Reward, err = decodeReward(reward); err != nil {
			return nil, err
		}
		confirmations = append(confirmations, c)
	}
	return confirmations, rows.Err()
}

// RemoveConfirmation deletes a redeemed or permanently failed confirmation.
func (s *Store) RemoveConfirmation(transactionID string) error {
	_, err := s.db.Exec(`DELETE FROM confirmations WHERE transaction_id = ?`, transactionID)
	return err
}
