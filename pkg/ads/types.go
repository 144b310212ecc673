// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ads

import "time"

// AdType identifies the surface an ad was delivered on.
type AdType string

const (
	AdTypeUndefined       AdType = ""
	AdTypeNotification    AdType = "ad_notification"
	AdTypeNewTabPage      AdType = "new_tab_page_ad"
	AdTypePromotedContent AdType = "promoted_content_ad"
	AdTypeInlineContent   AdType = "inline_content_ad"
	AdTypeSearchResult    AdType = "search_result_ad"
)

// ConfirmationType identifies the billable event being confirmed.
type ConfirmationType string

const (
	ConfirmationTypeUndefined  ConfirmationType = ""
	ConfirmationTypeServed     ConfirmationType = "served"
	ConfirmationTypeViewed     ConfirmationType = "view"
	ConfirmationTypeClicked    ConfirmationType = "click"
	ConfirmationTypeDismissed  ConfirmationType = "dismiss"
	ConfirmationTypeLanded     ConfirmationType = "landed"
	ConfirmationTypeConversion ConfirmationType = "conversion"
)

// Event is one append-only ad-event ledger row. It drives frequency
// accounting and conversion matching.
type Event struct {
	PlacementID        string
	AdType             AdType
	ConfirmationType   ConfirmationType
	CampaignID         string
	CreativeSetID      string
	CreativeInstanceID string
	AdvertiserID       string
	Segment            string
	CreatedAt          time.Time
}
