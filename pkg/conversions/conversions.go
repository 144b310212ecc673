// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package conversions matches page navigations against advertiser-declared
// conversion rules and queues matched conversions for delayed, randomized
// processing. The delay decouples the conversion confirmation from the
// navigation that triggered it.
package conversions

import (
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/luxfi/rewards/pkg/ads"
	"github.com/luxfi/rewards/pkg/config"
	"github.com/luxfi/rewards/pkg/log"
	"github.com/luxfi/rewards/pkg/metrics"
	"github.com/luxfi/rewards/pkg/store"
	"github.com/luxfi/rewards/pkg/timeutil"
)

// Rule types, matching the catalog's conversion declarations.
const (
	RuleTypePostView  = "postview"
	RuleTypePostClick = "postclick"
)

// Delegate receives conversion notifications. Exactly one delegate per
// engine.
type Delegate interface {
	OnDidDetectConversion(item store.ConversionQueueItem)
	OnDidConvertAd(item store.ConversionQueueItem, envelope *Envelope)
	OnWillProcessConversionAt(item store.ConversionQueueItem, at time.Time)
}

// Engine detects and processes conversions. It holds no network client: the
// resulting conversion confirmations are redeemed by the confirmation
// engine.
type Engine struct {
	cfg     config.Config
	clock   timeutil.Clock
	log     log.Logger
	metrics *metrics.Metrics
	store   *store.Store

	mu       sync.Mutex
	delegate Delegate
	next     timeutil.Timer
}

// New creates a conversion engine.
func New(cfg config.Config, clock timeutil.Clock, logger log.Logger, m *metrics.Metrics, st *store.Store) *Engine {
	return &Engine{
		cfg:     cfg,
		clock:   clock,
		log:     logger,
		metrics: m,
		store:   st,
	}
}

// SetDelegate wires the single delegate. Must be called before use.
func (e *Engine) SetDelegate(d Delegate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delegate = d
}

// MaybeConvert matches one page navigation against the stored conversion
// rules. The redirect chain is the full navigation including intermediate
// redirects; html is the final page content, consulted only when a
// verifiable conversion id must be extracted from it. The most recent
// matching ad event wins, and a creative set converts at most once.
func (e *Engine) MaybeConvert(redirectChain []string, html string, patterns []IDPattern) {
	urls := filterSupportedURLs(redirectChain)
	if len(urls) == 0 {
		return
	}

	now := e.clock.Now()
	rules, err := e.store.ConversionRules(now)
	if err != nil {
		e.log.Error("failed to load conversion rules", "err", err)
		return
	}
	if len(rules) == 0 {
		return
	}

	events, err := e.store.AdEvents()
	if err != nil {
		e.log.Error("failed to load ad events", "err", err)
		return
	}

	converted, err := e.convertedCreativeSets(events)
	if err != nil {
		return
	}

	// Newest events first so the freshest interaction claims the conversion.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})

	// Every still-unconverted creative set converts through its freshest
	// matching event; repeats for a set already claimed in this pass are
	// skipped.
	for _, event := range events {
		if converted[event.CreativeSetID] {
			continue
		}
		rule, ok := matchRule(rules, event, urls, now)
		if !ok {
			continue
		}

		conversionID := ""
		if rule.AdvertiserPublicKey != "" {
			conversionID = ExtractConversionID(urls, html, patterns)
		}

		e.enqueue(event, rule, conversionID, now)
		converted[event.CreativeSetID] = true
	}
}

// convertedCreativeSets collects creative sets that already converted or
// have a conversion pending in the queue.
func (e *Engine) convertedCreativeSets(events []ads.Event) (map[string]bool, error) {
	converted := make(map[string]bool)
	for _, event := range events {
		if event.ConfirmationType == ads.ConfirmationTypeConversion {
			converted[event.CreativeSetID] = true
		}
	}

	queued, err := e.store.ConversionQueue()
	if err != nil {
		e.log.Error("failed to load conversion queue", "err", err)
		return nil, err
	}
	for _, item := range queued {
		converted[item.CreativeSetID] = true
	}
	return converted, nil
}

func matchRule(rules []store.ConversionRule, event ads.Event, urls []string, now time.Time) (store.ConversionRule, bool) {
	var interaction string
	switch event.ConfirmationType {
	case ads.ConfirmationTypeViewed:
		interaction = RuleTypePostView
	case ads.ConfirmationTypeClicked:
		interaction = RuleTypePostClick
	default:
		return store.ConversionRule{}, false
	}

	for _, rule := range rules {
		if rule.CreativeSetID != event.CreativeSetID || rule.Type != interaction {
			continue
		}
		window := time.Duration(rule.ObservationWindow) * 24 * time.Hour
		if event.CreatedAt.Before(now.Add(-window)) {
			continue
		}
		for _, u := range urls {
			if MatchURLPattern(rule.URLPattern, u) {
				return rule, true
			}
		}
	}
	return store.ConversionRule{}, false
}

func (e *Engine) enqueue(event ads.Event, rule store.ConversionRule, conversionID string, now time.Time) {
	item, err := e.store.EnqueueConversion(store.ConversionQueueItem{
		CampaignID:          event.CampaignID,
		CreativeSetID:       event.CreativeSetID,
		CreativeInstanceID:  event.CreativeInstanceID,
		AdvertiserID:        event.AdvertiserID,
		ConversionID:        conversionID,
		AdvertiserPublicKey: rule.AdvertiserPublicKey,
		AdType:              event.AdType,
		ProcessAt:           now.Add(randomDelay(e.delay())),
	})
	if err != nil {
		e.log.Error("failed to enqueue conversion", "err", err)
		return
	}

	// The conversion ad event is recorded at detection, not at hand-off, so
	// the creative set stays converted even if processing later fails.
	if err := e.store.AddAdEvent(ads.Event{
		PlacementID:        event.PlacementID,
		AdType:             event.AdType,
		ConfirmationType:   ads.ConfirmationTypeConversion,
		CampaignID:         event.CampaignID,
		CreativeSetID:      event.CreativeSetID,
		CreativeInstanceID: event.CreativeInstanceID,
		AdvertiserID:       event.AdvertiserID,
		Segment:            event.Segment,
		CreatedAt:          now,
	}); err != nil {
		e.log.Error("failed to record conversion ad event", "err", err)
	}

	e.metrics.ConversionsDetected.Inc()
	e.log.Info("detected conversion",
		"creativeSetID", item.CreativeSetID, "processAt", item.ProcessAt)

	e.notify(func(d Delegate) { d.OnDidDetectConversion(item) })
	e.ProcessQueue()
}

func (e *Engine) delay() time.Duration {
	if e.cfg.Debug {
		return e.cfg.DebugConversionDelay
	}
	return e.cfg.ConversionDelay
}

func randomDelay(d time.Duration) time.Duration {
	return time.Duration(rand.Int63n(int64(d))) + 1
}

// ProcessQueue arms a timer for the earliest queued item, processing it
// immediately if overdue. Called at startup to resume a persisted queue and
// after every enqueue or processed item. At most one timer is armed.
func (e *Engine) ProcessQueue() {
	e.mu.Lock()
	if e.next != nil {
		e.mu.Unlock()
		return
	}

	item, err := e.store.NextConversionQueueItem()
	if err != nil {
		e.mu.Unlock()
		if err != store.ErrNotFound {
			e.log.Error("failed to load conversion queue", "err", err)
		}
		return
	}

	delay := item.ProcessAt.Sub(e.clock.Now())
	if delay < 0 {
		delay = 0
	}
	e.next = e.clock.AfterFunc(delay, func() {
		e.mu.Lock()
		e.next = nil
		e.mu.Unlock()
		e.process(item)
	})
	e.mu.Unlock()

	e.notify(func(d Delegate) { d.OnWillProcessConversionAt(item, item.ProcessAt) })
}

func (e *Engine) process(item store.ConversionQueueItem) {
	var envelope *Envelope
	if item.ConversionID != "" && item.AdvertiserPublicKey != "" {
		sealed, err := SealEnvelope(item.ConversionID, item.AdvertiserPublicKey)
		if err != nil {
			e.log.Warn("failed to seal conversion envelope", "err", err)
		} else {
			envelope = sealed
		}
	}

	if err := e.store.DeleteConversionQueueItem(item.ID); err != nil {
		e.log.Error("failed to delete conversion queue item", "err", err)
		return
	}

	e.log.Info("processed conversion", "creativeSetID", item.CreativeSetID)
	e.notify(func(d Delegate) { d.OnDidConvertAd(item, envelope) })

	e.ProcessQueue()
}

func (e *Engine) notify(f func(Delegate)) {
	e.mu.Lock()
	d := e.delegate
	e.mu.Unlock()
	if d != nil {
		f(d)
	}
}

func filterSupportedURLs(redirectChain []string) []string {
	urls := make([]string, 0, len(redirectChain))
	for _, u := range redirectChain {
		if strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://") {
			urls = append(urls, u)
		}
	}
	return urls
}

// MatchURLPattern reports whether a catalog URL pattern, where "*" matches
// any run of characters, matches the URL.
func MatchURLPattern(pattern, url string) bool {
	if pattern == "" {
		return false
	}
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(url)
}
