// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"time"

	"github.com/luxfi/rewards/pkg/ads"
)

// AddAdEvent appends one ad-event row.
func (s *Store) AddAdEvent(e ads.Event) error {
	_, err := s.db.Exec(
		`INSERT INTO ad_events (placement_id, ad_type, confirmation_type, campaign_id,
		   creative_set_id, creative_instance_id, advertiser_id, segment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.PlacementID, string(e.AdType), string(e.ConfirmationType), e.CampaignID,
		e.CreativeSetID, e.CreativeInstanceID, e.AdvertiserID, e.Segment,
		e.CreatedAt.UTC().Unix())
	return err
}

// AdEvents returns every ad event, oldest first.
func (s *Store) AdEvents() ([]ads.Event, error) {
	rows, err := s.db.Query(
		`SELECT placement_id, ad_type, confirmation_type, campaign_id, creative_set_id,
		   creative_instance_id, advertiser_id, segment, created_at
		 FROM ad_events ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ads.Event
	for rows.Next() {
		var e ads.Event
		var adType, confirmationType string
		var createdAt int64
		if err := rows.Scan(&e.PlacementID, &adType, &confirmationType, &e.CampaignID,
			&e.CreativeSetID, &e.CreativeInstanceID, &e.AdvertiserID, &e.Segment, &createdAt); err != nil {
			return nil, err
		}
		e.AdType = ads.AdType(adType)
		e.ConfirmationType = ads.ConfirmationType(confirmationType)
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// PurgeOrphanedAdEvents removes "served" events for placements that never
// produced any other event.
func (s *Store) PurgeOrphanedAdEvents() error {
	_, err := s.db.Exec(
		`DELETE FROM ad_events WHERE confirmation_type = ? AND placement_id NOT IN (
		   SELECT placement_id FROM ad_events WHERE confirmation_type != ?)`,
		string(ads.ConfirmationTypeServed), string(ads.ConfirmationTypeServed))
	return err
}
