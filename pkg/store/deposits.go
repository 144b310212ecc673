// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/luxfi/rewards/pkg/ads"
	"github.com/shopspring/decimal"
)

// Deposit is the monetary value attached to a creative, one row per
// creative, replaced on conflict.
type Deposit struct {
	CreativeInstanceID string
	Value              decimal.Decimal
	ExpireAt           time.Time
}

// Transaction is one append-only ledger row of settled value.
type Transaction struct {
	ID                 string
	CreativeInstanceID string
	Value              decimal.Decimal
	AdType             ads.AdType
	ConfirmationType   ads.ConfirmationType
	CreatedAt          time.Time
	ReconciledAt       time.Time // zero until payment redemption settles it
}

// SaveDeposit inserts or replaces the deposit for a creative.
func (s *Store) SaveDeposit(d Deposit) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO deposits (creative_instance_id, value, expire_at) VALUES (?, ?, ?)`,
		d.CreativeInstanceID, d.Value.String(), d.ExpireAt.UTC().Unix())
	return err
}

// DepositValue looks up the value for a creative. ErrNotFound when no
// deposit is known.
func (s *Store) DepositValue(creativeInstanceID string) (decimal.Decimal, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM deposits WHERE creative_instance_id = ?`,
		creativeInstanceID).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(value)
}

// PurgeExpiredDeposits removes deposits past their expiry.
func (s *Store) PurgeExpiredDeposits(now time.Time) error {
	_, err := s.db.Exec(`DELETE FROM deposits WHERE expire_at < ?`, now.UTC().Unix())
	return err
}

// AddTransaction appends one settled-value row to the ledger.
func (s *Store) AddTransaction(t Transaction) error {
	var reconciledAt int64
	if !t.ReconciledAt.IsZero() {
		reconciledAt = t.ReconciledAt.UTC().Unix()
	}
	_, err := s.db.Exec(
		`INSERT INTO transactions (id, creative_instance_id, value, ad_type, confirmation_type, created_at, reconciled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CreativeInstanceID, t.Value.String(), string(t.AdType),
		string(t.ConfirmationType), t.CreatedAt.UTC().Unix(), reconciledAt)
	return err
}

// MarkTransactionsReconciled stamps the given transaction ids with a
// reconciliation time, once payment tokens were cashed for them.
func (s *Store) MarkTransactionsReconciled(ids []string, reconciledAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE transactions SET reconciled_at = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(reconciledAt.UTC().Unix(), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TransactionsForRange returns ledger rows created in [from, to], oldest
// first.
func (s *Store) TransactionsForRange(from, to time.Time) ([]Transaction, error) {
	rows, err := s.db.Query(
		`SELECT id, creative_instance_id, value, ad_type, confirmation_type, created_at, reconciled_at
		 FROM transactions WHERE created_at >= ? AND created_at <= ? ORDER BY created_at`,
		from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		var t Transaction
		var value, adType, confirmationType string
		var createdAt, reconciledAt int64
		if err := rows.Scan(&t.ID, &t.CreativeInstanceID, &value, &adType, &confirmationType, &createdAt, &reconciledAt); err != nil {
			return nil, err
		}
		if t.Value, err = decimal.NewFromString(value); err != nil {
			return nil, err
		}
		t.AdType = ads.AdType(adType)
		t.ConfirmationType = ads.ConfirmationType(confirmationType)
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		if reconciledAt != 0 {
			t.ReconciledAt = time.Unix(reconciledAt, 0).UTC()
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}
