// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store is the durable side of the rewards engine: confirmation and
// payment tokens, deposits, the transaction ledger, ad events and the
// conversion queue, all in one embedded sqlite database owned by the
// profile. Access is serialized by the engines; the store itself performs
// each mutation in a single transaction.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicatePaymentToken = errors.New("payment token already exists")
)

// Store handles all database operations.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies any pending
// migrations. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is the forward-only schema history. The slice index + 1 is the
// schema version recorded in PRAGMA user_version; a database is migrated by
// applying every entry past its current version, in order.
var migrations = []func(*sql.Tx) error{
	migrateInitialSchema,
	migrateAddLookupIndexes,
	migrateTimestampsToEpoch,
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if err := migrations[i](tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func migrateInitialSchema(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS confirmation_tokens (
			unblinded_token TEXT PRIMARY KEY,
			public_key TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS payment_tokens (
			transaction_id TEXT NOT NULL,
			unblinded_token TEXT PRIMARY KEY,
			public_key TEXT NOT NULL,
			confirmation_type TEXT NOT NULL,
			ad_type TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS deposits (
			creative_instance_id TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expire_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			creative_instance_id TEXT NOT NULL,
			value TEXT NOT NULL,
			ad_type TEXT NOT NULL,
			confirmation_type TEXT NOT NULL,
			created_at TEXT NOT NULL,
			reconciled_at TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS ad_events (
			placement_id TEXT NOT NULL,
			ad_type TEXT NOT NULL,
			confirmation_type TEXT NOT NULL,
			campaign_id TEXT NOT NULL,
			creative_set_id TEXT NOT NULL,
			creative_instance_id TEXT NOT NULL,
			advertiser_id TEXT NOT NULL,
			segment TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS confirmations (
			transaction_id TEXT PRIMARY KEY,
			creative_instance_id TEXT NOT NULL,
			ad_type TEXT NOT NULL,
			confirmation_type TEXT NOT NULL,
			created_at TEXT NOT NULL,
			reward TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS conversion_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			campaign_id TEXT NOT NULL,
			creative_set_id TEXT NOT NULL,
			creative_instance_id TEXT NOT NULL,
			advertiser_id TEXT NOT NULL,
			conversion_id TEXT NOT NULL DEFAULT '',
			advertiser_public_key TEXT NOT NULL DEFAULT '',
			ad_type TEXT NOT NULL,
			process_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS creative_set_conversions (
			creative_set_id TEXT NOT NULL,
			type TEXT NOT NULL,
			url_pattern TEXT NOT NULL,
			advertiser_public_key TEXT NOT NULL DEFAULT '',
			observation_window INTEGER NOT NULL,
			expire_at TEXT NOT NULL,
			PRIMARY KEY (creative_set_id, url_pattern)
		)`,
	}

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func migrateAddLookupIndexes(tx *sql.Tx) error {
	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_ad_events_creative_set_id ON ad_events(creative_set_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ad_events_placement_id ON ad_events(placement_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deposits_expire_at ON deposits(expire_at)`,
		`CREATE INDEX IF NOT EXISTS idx_conversion_queue_process_at ON conversion_queue(process_at)`,
	}

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// migrateTimestampsToEpoch converts RFC 3339 time columns to unix epoch
// seconds. sqlite columns are dynamically typed, so an UPDATE suffices.
func migrateTimestampsToEpoch(tx *sql.Tx) error {
	queries := []string{
		`UPDATE deposits SET expire_at = CAST(strftime('%s', expire_at) AS INTEGER) WHERE expire_at GLOB '*-*'`,
		`UPDATE transactions SET created_at = CAST(strftime('%s', created_at) AS INTEGER) WHERE created_at GLOB '*-*'`,
		`UPDATE transactions SET reconciled_at = CAST(strftime('%s', reconciled_at) AS INTEGER) WHERE reconciled_at GLOB '*-*'`,
		`UPDATE ad_events SET created_at = CAST(strftime('%s', created_at) AS INTEGER) WHERE created_at GLOB '*-*'`,
		`UPDATE confirmations SET created_at = CAST(strftime('%s', created_at) AS INTEGER) WHERE created_at GLOB '*-*'`,
		`UPDATE conversion_queue SET process_at = CAST(strftime('%s', process_at) AS INTEGER) WHERE process_at GLOB '*-*'`,
		`UPDATE creative_set_conversions SET expire_at = CAST(strftime('%s', expire_at) AS INTEGER) WHERE expire_at GLOB '*-*'`,
	}

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}
