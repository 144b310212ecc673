// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"database/sql"
	"errors"

	"github.com/luxfi/rewards/pkg/ads"
	"github.com/luxfi/rewards/pkg/token"
	"github.com/mattn/go-sqlite3"
)

// ConfirmationToken is the spendable unit authorizing exactly one future
// confirmation. Created by the refill engine, removed by the confirmation
// engine on redemption.
type ConfirmationToken struct {
	UnblindedToken token.UnblindedToken
	PublicKey      token.PublicKey
}

// PaymentToken is produced by a successful confirmation redemption and
// consumed in batches by the payment redemption engine. No two payment
// tokens may share an unblinded token value.
type PaymentToken struct {
	TransactionID    string
	UnblindedToken   token.UnblindedToken
	PublicKey        token.PublicKey
	ConfirmationType ads.ConfirmationType
	AdType           ads.AdType
}

// AddConfirmationTokens inserts a refill batch in one transaction.
func (s *Store) AddConfirmationTokens(tokens []ConfirmationToken) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO confirmation_tokens (unblinded_token, public_key) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range tokens {
		if _, err := stmt.Exec(t.UnblindedToken.EncodeBase64(), t.PublicKey.EncodeBase64()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ConfirmationTokenCount reports how many tokens are available to spend.
func (s *Store) ConfirmationTokenCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM confirmation_tokens`).Scan(&n)
	return n, err
}

// NextConfirmationToken returns the oldest stored token without consuming
// it. ErrNotFound when the store is empty.
func (s *Store) NextConfirmationToken() (ConfirmationToken, error) {
	var unblinded, publicKey string
	err := s.db.QueryRow(
		`SELECT unblinded_token, public_key FROM confirmation_tokens ORDER BY rowid LIMIT 1`,
	).Scan(&unblinded, &publicKey)
	if errors.Is(err, sql.ErrNoRows) {
		return ConfirmationToken{}, ErrNotFound
	}
	if err != nil {
		return ConfirmationToken{}, err
	}
	return decodeConfirmationToken(unblinded, publicKey)
}

// RemoveConfirmationToken deletes a spent or invalidated token. Removing a
// token that is already gone returns ErrNotFound, which is how the
// no-double-spend invariant surfaces.
func (s *Store) RemoveConfirmationToken(t ConfirmationToken) error {
	res, err := s.db.Exec(
		`DELETE FROM confirmation_tokens WHERE unblinded_token = ?`,
		t.UnblindedToken.EncodeBase64())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddPaymentToken stores one redeemed payment token. A token whose unblinded
// value already exists is rejected with ErrDuplicatePaymentToken and the
// store is left unchanged.
func (s *Store) AddPaymentToken(t PaymentToken) error {
	_, err := s.db.Exec(
		`INSERT INTO payment_tokens (transaction_id, unblinded_token, public_key, confirmation_type, ad_type)
		 VALUES (?, ?, ?, ?, ?)`,
		t.TransactionID,
		t.UnblindedToken.EncodeBase64(),
		t.PublicKey.EncodeBase64(),
		string(t.ConfirmationType),
		string(t.AdType))
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return ErrDuplicatePaymentToken
	}
	return err
}

// PaymentTokens returns every accumulated payment token, oldest first.
func (s *Store) PaymentTokens() ([]PaymentToken, error) {
	rows, err := s.db.Query(
		`SELECT transaction_id, unblinded_token, public_key, confirmation_type, ad_type
		 FROM payment_tokens ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []PaymentToken
	for rows.Next() {
		var transactionID, unblinded, publicKey, confirmationType, adType string
		if err := rows.Scan(&transactionID, &unblinded, &publicKey, &confirmationType, &adType); err != nil {
			return nil, err
		}
		ct, err := decodeConfirmationToken(unblinded, publicKey)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, PaymentToken{
			TransactionID:    transactionID,
			UnblindedToken:   ct.UnblindedToken,
			PublicKey:        ct.PublicKey,
			ConfirmationType: ads.ConfirmationType(confirmationType),
			AdType:           ads.AdType(adType),
		})
	}
	return tokens, rows.Err()
}

// PaymentTokenCount reports how many payment tokens await redemption.
func (s *Store) PaymentTokenCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM payment_tokens`).Scan(&n)
	return n, err
}

// RemovePaymentTokens deletes exactly the given tokens, tolerating payment
// tokens added concurrently with a redemption.
func (s *Store) RemovePaymentTokens(tokens []PaymentToken) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`DELETE FROM payment_tokens WHERE unblinded_token = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range tokens {
		if _, err := stmt.Exec(t.UnblindedToken.EncodeBase64()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func decodeConfirmationToken(unblinded, publicKey string) (ConfirmationToken, error) {
	u, err := token.UnblindedTokenFromBase64(unblinded)
	if err != nil {
		return ConfirmationToken{}, err
	}
	pk, err := token.PublicKeyFromBase64(publicKey)
	if err != nil {
		return ConfirmationToken{}, err
	}
	return ConfirmationToken{UnblindedToken: u, PublicKey: pk}, nil
}
