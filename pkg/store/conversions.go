// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/luxfi/rewards/pkg/ads"
)

// ConversionRule is advertiser-declared reference data matched against
// redirect chains. Type is "postview" or "postclick".
type ConversionRule struct {
	CreativeSetID       string
	Type                string
	URLPattern          string
	AdvertiserPublicKey string // base64, empty unless the conversion is verifiable
	ObservationWindow   int    // days
	ExpireAt            time.Time
}

// ConversionQueueItem is a detected conversion awaiting delayed processing.
// Durable: unprocessed items are re-scheduled on load.
type ConversionQueueItem struct {
	ID                  int64
	CampaignID          string
	CreativeSetID       string
	CreativeInstanceID  string
	AdvertiserID        string
	ConversionID        string
	AdvertiserPublicKey string
	AdType              ads.AdType
	ProcessAt           time.Time
}

// SaveConversionRules replaces the rule set wholesale, the way reference
// data arrives from the catalog.
func (s *Store) SaveConversionRules(rules []ConversionRule) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM creative_set_conversions`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO creative_set_conversions
		   (creative_set_id, type, url_pattern, advertiser_public_key, observation_window, expire_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rules {
		if _, err := stmt.Exec(r.CreativeSetID, r.Type, r.URLPattern,
			r.AdvertiserPublicKey, r.ObservationWindow, r.ExpireAt.UTC().Unix()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ConversionRules returns the rules that have not expired at now.
func (s *Store) ConversionRules(now time.Time) ([]ConversionRule, error) {
	rows, err := s.db.Query(
		`SELECT creative_set_id, type, url_pattern, advertiser_public_key, observation_window, expire_at
		 FROM creative_set_conversions WHERE expire_at >= ? ORDER BY rowid`,
		now.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []ConversionRule
	for rows.Next() {
		var r ConversionRule
		var expireAt int64
		if err := rows.Scan(&r.CreativeSetID, &r.Type, &r.URLPattern,
			&r.AdvertiserPublicKey, &r.ObservationWindow, &expireAt); err != nil {
			return nil, err
		}
		r.ExpireAt = time.Unix(expireAt, 0).UTC()
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// EnqueueConversion appends one item to the durable conversion queue and
// returns it with its assigned id.
func (s *Store) EnqueueConversion(item ConversionQueueItem) (ConversionQueueItem, error) {
	res, err := s.db.Exec(
		`INSERT INTO conversion_queue (campaign_id, creative_set_id, creative_instance_id,
		   advertiser_id, conversion_id, advertiser_public_key, ad_type, process_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.CampaignID, item.CreativeSetID, item.CreativeInstanceID, item.AdvertiserID,
		item.ConversionID, item.AdvertiserPublicKey, string(item.AdType),
		item.ProcessAt.UTC().Unix())
	if err != nil {
		return ConversionQueueItem{}, err
	}
	item.ID, err = res.LastInsertId()
	return item, err
}

// NextConversionQueueItem returns the earliest unprocessed item.
// ErrNotFound when the queue is empty.
func (s *Store) NextConversionQueueItem() (ConversionQueueItem, error) {
	var item ConversionQueueItem
	var adType string
	var processAt int64
	err := s.db.QueryRow(
		`SELECT id, campaign_id, creative_set_id, creative_instance_id, advertiser_id,
		   conversion_id, advertiser_public_key, ad_type, process_at
		 FROM conversion_queue ORDER BY process_at, id LIMIT 1`,
	).Scan(&item.ID, &item.CampaignID, &item.CreativeSetID, &item.CreativeInstanceID,
		&item.AdvertiserID, &item.ConversionID, &item.AdvertiserPublicKey, &adType, &processAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ConversionQueueItem{}, ErrNotFound
	}
	if err != nil {
		return ConversionQueueItem{}, err
	}
	item.AdType = ads.AdType(adType)
	item.ProcessAt = time.Unix(processAt, 0).UTC()
	return item, nil
}

// ConversionQueue returns every queued item in processing order.
func (s *Store) ConversionQueue() ([]ConversionQueueItem, error) {
	rows, err := s.db.Query(
		`SELECT id, campaign_id, creative_set_id, creative_instance_id, advertiser_id,
		   conversion_id, advertiser_public_key, ad_type, process_at
		 FROM conversion_queue ORDER BY process_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ConversionQueueItem
	for rows.Next() {
		var item ConversionQueueItem
		var adType string
		var processAt int64
		if err := rows.Scan(&item.ID, &item.CampaignID, &item.CreativeSetID,
			&item.CreativeInstanceID, &item.AdvertiserID, &item.ConversionID,
			&item.AdvertiserPublicKey, &adType, &processAt); err != nil {
			return nil, err
		}
		item.AdType = ads.AdType(adType)
		item.ProcessAt = time.Unix(processAt, 0).UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteConversionQueueItem removes a converted or invalid item.
func (s *Store) DeleteConversionQueueItem(id int64) error {
	_, err := s.db.Exec(`DELETE FROM conversion_queue WHERE id = ?`, id)
	return err
}
