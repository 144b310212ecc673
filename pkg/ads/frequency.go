// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ads

import (
	"errors"
	"time"
)

var ErrFrequencyCapExceeded = errors.New("frequency cap exceeded")

// Caps bounds ad delivery without any user identifier: all counting happens
// against the device-local event ledger.
type Caps struct {
	AdsPerHour     int
	AdsPerDay      int
	PerCampaign    int // views per campaign within CampaignWindow
	CampaignWindow time.Duration
}

// DefaultCaps mirrors the served notification ad limits.
var DefaultCaps = Caps{
	AdsPerHour:     10,
	AdsPerDay:      100,
	PerCampaign:    4,
	CampaignWindow: 24 * time.Hour,
}

// CheckFrequencyCaps reports whether another ad from the campaign may be
// shown at now, given the recorded event ledger. Only view events count
// against caps.
func CheckFrequencyCaps(events []Event, campaignID string, caps Caps, now time.Time) error {
	var lastHour, lastDay, campaign int
	for _, e := range events {
		if e.ConfirmationType != ConfirmationTypeViewed {
			continue
		}
		age := now.Sub(e.CreatedAt)
		if age < 0 {
			continue
		}
		if age <= time.Hour {
			lastHour++
		}
		if age <= 24*time.Hour {
			lastDay++
		}
		if e.CampaignID == campaignID && age <= caps.CampaignWindow {
			campaign++
		}
	}

	if caps.AdsPerHour > 0 && lastHour >= caps.AdsPerHour {
		return ErrFrequencyCapExceeded
	}
	if caps.AdsPerDay > 0 && lastDay >= caps.AdsPerDay {
		return ErrFrequencyCapExceeded
	}
	if caps.PerCampaign > 0 && campaign >= caps.PerCampaign {
		return ErrFrequencyCapExceeded
	}
	return nil
}
