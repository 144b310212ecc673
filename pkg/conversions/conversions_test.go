// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package conversions_test

import (
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"

	"github.com/luxfi/rewards/pkg/ads"
	"github.com/luxfi/rewards/pkg/config"
	"github.com/luxfi/rewards/pkg/conversions"
	"github.com/luxfi/rewards/pkg/log"
	"github.com/luxfi/rewards/pkg/metrics"
	"github.com/luxfi/rewards/pkg/store"
	"github.com/luxfi/rewards/pkg/timeutil"
)

type conversionEvents struct {
	detected  []store.ConversionQueueItem
	converted []store.ConversionQueueItem
	envelopes []*conversions.Envelope
	scheduled []time.Time
}

func (e *conversionEvents) OnDidDetectConversion(item store.ConversionQueueItem) {
	e.detected = append(e.detected, item)
}

func (e *conversionEvents) OnDidConvertAd(item store.ConversionQueueItem, envelope *conversions.Envelope) {
	e.converted = append(e.converted, item)
	e.envelopes = append(e.envelopes, envelope)
}

func (e *conversionEvents) OnWillProcessConversionAt(item store.ConversionQueueItem, at time.Time) {
	e.scheduled = append(e.scheduled, at)
}

type conversionHarness struct {
	engine *conversions.Engine
	clock  *timeutil.FakeClock
	store  *store.Store
	events *conversionEvents
}

func newConversionHarness(t *testing.T) *conversionHarness {
	t.Helper()
	require := require.New(t)

	st, err := store.Open(":memory:")
	require.NoError(err)
	t.Cleanup(func() { st.Close() })

	clock := timeutil.NewFakeClock(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	events := &conversionEvents{}

	engine := conversions.New(config.Default(), clock, log.NoLog, metrics.NewUnregistered(), st)
	engine.SetDelegate(events)

	return &conversionHarness{engine: engine, clock: clock, store: st, events: events}
}

func (h *conversionHarness) addEvent(t *testing.T, creativeSetID string, ct ads.ConfirmationType, at time.Time) {
	t.Helper()
	require.NoError(t, h.store.AddAdEvent(ads.Event{
		PlacementID:        "f0948316-df6f-4e31-814d-d0b5f2a1f28c",
		AdType:             ads.AdTypeNotification,
		ConfirmationType:   ct,
		CampaignID:         "60b22af2-cbd4-4c42-b547-85cdfbcfdcde",
		CreativeSetID:      creativeSetID,
		CreativeInstanceID: "546fe7b0-5047-4f28-a11c-81f14edcf0f6",
		AdvertiserID:       "496b045a-195e-441f-b439-07bac083450f",
		Segment:            "technology & computing",
		CreatedAt:          at,
	}))
}

func (h *conversionHarness) addRule(t *testing.T, creativeSetID, ruleType, pattern, advertiserKey string) {
	t.Helper()
	require.NoError(t, h.store.SaveConversionRules([]store.ConversionRule{{
		CreativeSetID:       creativeSetID,
		Type:                ruleType,
		URLPattern:          pattern,
		AdvertiserPublicKey: advertiserKey,
		ObservationWindow:   30,
		ExpireAt:            h.clock.Now().Add(90 * 24 * time.Hour),
	}}))
}

const creativeSetID = "340c927f-696e-4060-9933-3eafc56c3f31"

func TestViewConvertsThroughPostViewRule(t *testing.T) {
	require := require.New(t)
	h := newConversionHarness(t)

	h.addEvent(t, creativeSetID, ads.ConfirmationTypeViewed, h.clock.Now().Add(-time.Hour))
	h.addRule(t, creativeSetID, conversions.RuleTypePostView, "https://example.com/checkout*", "")

	h.engine.MaybeConvert([]string{"https://example.com/checkout?order=1"}, "", nil)

	require.Len(h.events.detected, 1)
	require.Equal(creativeSetID, h.events.detected[0].CreativeSetID)
	require.Len(h.events.scheduled, 1)

	queued, err := h.store.ConversionQueue()
	require.NoError(err)
	require.Len(queued, 1)
	require.True(queued[0].ProcessAt.After(h.clock.Now()))
}

func TestViewDoesNotSatisfyPostClickRule(t *testing.T) {
	require := require.New(t)
	h := newConversionHarness(t)

	h.addEvent(t, creativeSetID, ads.ConfirmationTypeViewed, h.clock.Now().Add(-time.Hour))
	h.addRule(t, creativeSetID, conversions.RuleTypePostClick, "https://example.com/*", "")

	h.engine.MaybeConvert([]string{"https://example.com/checkout"}, "", nil)

	require.Empty(h.events.detected)
}

func TestCreativeSetConvertsAtMostOnce(t *testing.T) {
	require := require.New(t)
	h := newConversionHarness(t)

	h.addEvent(t, creativeSetID, ads.ConfirmationTypeViewed, h.clock.Now().Add(-time.Hour))
	h.addRule(t, creativeSetID, conversions.RuleTypePostView, "https://example.com/*", "")

	h.engine.MaybeConvert([]string{"https://example.com/checkout"}, "", nil)
	h.engine.MaybeConvert([]string{"https://example.com/checkout"}, "", nil)

	require.Len(h.events.detected, 1)
	queued, err := h.store.ConversionQueue()
	require.NoError(err)
	require.Len(queued, 1)
}

func TestEventOutsideObservationWindowIsIgnored(t *testing.T) {
	require := require.New(t)
	h := newConversionHarness(t)

	h.addEvent(t, creativeSetID, ads.ConfirmationTypeViewed,
		h.clock.Now().Add(-31*24*time.Hour))
	h.addRule(t, creativeSetID, conversions.RuleTypePostView, "https://example.com/*", "")

	h.engine.MaybeConvert([]string{"https://example.com/checkout"}, "", nil)

	require.Empty(h.events.detected)
}

func TestUnsupportedSchemeIsIgnored(t *testing.T) {
	require := require.New(t)
	h := newConversionHarness(t)

	h.addEvent(t, creativeSetID, ads.ConfirmationTypeViewed, h.clock.Now().Add(-time.Hour))
	h.addRule(t, creativeSetID, conversions.RuleTypePostView, "*", "")

	h.engine.MaybeConvert([]string{"chrome://settings"}, "", nil)

	require.Empty(h.events.detected)
}

func TestEachUnconvertedCreativeSetConverts(t *testing.T) {
	require := require.New(t)
	h := newConversionHarness(t)

	other := "45ed1b23-3f26-4cbd-a30b-4e3a57b94f31"
	h.addEvent(t, other, ads.ConfirmationTypeClicked, h.clock.Now().Add(-2*time.Hour))
	h.addEvent(t, creativeSetID, ads.ConfirmationTypeViewed, h.clock.Now().Add(-time.Hour))

	require.NoError(h.store.SaveConversionRules([]store.ConversionRule{
		{CreativeSetID: other, Type: conversions.RuleTypePostClick,
			URLPattern: "https://example.com/*", ObservationWindow: 30,
			ExpireAt: h.clock.Now().Add(90 * 24 * time.Hour)},
		{CreativeSetID: creativeSetID, Type: conversions.RuleTypePostView,
			URLPattern: "https://example.com/*", ObservationWindow: 30,
			ExpireAt: h.clock.Now().Add(90 * 24 * time.Hour)},
	}))

	// Both creative sets convert from a single navigation.
	h.engine.MaybeConvert([]string{"https://example.com/checkout"}, "", nil)

	require.Len(h.events.detected, 2)
	sets := map[string]bool{}
	for _, item := range h.events.detected {
		sets[item.CreativeSetID] = true
	}
	require.True(sets[creativeSetID])
	require.True(sets[other])

	queued, err := h.store.ConversionQueue()
	require.NoError(err)
	require.Len(queued, 2)
}

func TestConvertedCreativeSetStaysConvertedAfterProcessing(t *testing.T) {
	require := require.New(t)
	h := newConversionHarness(t)

	h.addEvent(t, creativeSetID, ads.ConfirmationTypeViewed, h.clock.Now().Add(-time.Hour))
	h.addRule(t, creativeSetID, conversions.RuleTypePostView, "https://example.com/*", "")

	h.engine.MaybeConvert([]string{"https://example.com/checkout"}, "", nil)
	require.Len(h.events.detected, 1)

	// Detection records the conversion ad event immediately, so the guard
	// survives even if the queued hand-off never lands.
	events, err := h.store.AdEvents()
	require.NoError(err)
	converted := 0
	for _, e := range events {
		if e.ConfirmationType == ads.ConfirmationTypeConversion {
			converted++
			require.Equal(creativeSetID, e.CreativeSetID)
		}
	}
	require.Equal(1, converted)

	h.clock.Advance(config.Default().ConversionDelay)
	require.Len(h.events.converted, 1)
	queued, err := h.store.ConversionQueue()
	require.NoError(err)
	require.Empty(queued)

	// Re-navigation after the queue drained must not convert again.
	h.engine.MaybeConvert([]string{"https://example.com/checkout"}, "", nil)
	require.Len(h.events.detected, 1)
}

func TestVerifiableConversionSealsEnvelope(t *testing.T) {
	require := require.New(t)
	h := newConversionHarness(t)

	advertiserPub, advertiserPriv, err := box.GenerateKey(rand.Reader)
	require.NoError(err)

	h.addEvent(t, creativeSetID, ads.ConfirmationTypeViewed, h.clock.Now().Add(-time.Hour))
	h.addRule(t, creativeSetID, conversions.RuleTypePostView, "https://example.com/*",
		base64.StdEncoding.EncodeToString(advertiserPub[:]))

	html := `<html><head><meta name="ad-conversion-id" content="order-8051"></head></html>`
	h.engine.MaybeConvert([]string{"https://example.com/thank-you"}, html, nil)

	require.Len(h.events.detected, 1)
	require.Equal("order-8051", h.events.detected[0].ConversionID)

	h.clock.Advance(config.Default().ConversionDelay)

	require.Len(h.events.converted, 1)
	require.NotNil(h.events.envelopes[0])

	opened, err := conversions.OpenEnvelope(h.events.envelopes[0], advertiserPriv)
	require.NoError(err)
	require.Equal("order-8051", opened)

	queued, err := h.store.ConversionQueue()
	require.NoError(err)
	require.Empty(queued)
}

func TestProcessQueueResumesPersistedItems(t *testing.T) {
	require := require.New(t)
	h := newConversionHarness(t)

	_, err := h.store.EnqueueConversion(store.ConversionQueueItem{
		CampaignID:         "60b22af2-cbd4-4c42-b547-85cdfbcfdcde",
		CreativeSetID:      creativeSetID,
		CreativeInstanceID: "546fe7b0-5047-4f28-a11c-81f14edcf0f6",
		AdvertiserID:       "496b045a-195e-441f-b439-07bac083450f",
		AdType:             ads.AdTypeNotification,
		ProcessAt:          h.clock.Now().Add(-time.Minute),
	})
	require.NoError(err)

	h.engine.ProcessQueue()
	h.clock.Advance(0)

	require.Len(h.events.converted, 1)
	require.Nil(h.events.envelopes[0])
}

func TestExtractConversionIDFromURL(t *testing.T) {
	require := require.New(t)

	patterns := []conversions.IDPattern{{
		URLPattern: "https://example.com/order/*",
		SearchIn:   conversions.SearchInURL,
		IDPattern:  `order/([0-9]+)`,
	}}

	id := conversions.ExtractConversionID(
		[]string{"https://example.com/order/8051"}, "", patterns)
	require.Equal("8051", id)

	// No pattern match and no meta tag: the conversion stays anonymous.
	require.Empty(conversions.ExtractConversionID(
		[]string{"https://example.com/basket"}, "<html></html>", patterns))
}
