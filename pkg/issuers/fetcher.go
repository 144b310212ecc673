// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package issuers

import (
	"net/http"
	"sync"
	"time"

	"github.com/luxfi/rewards/pkg/backoff"
	"github.com/luxfi/rewards/pkg/log"
	"github.com/luxfi/rewards/pkg/metrics"
	"github.com/luxfi/rewards/pkg/timeutil"
	"github.com/luxfi/rewards/pkg/urlrequest"
)

const retryAfter = time.Minute

// FetcherDelegate receives issuer fetch notifications. Exactly one delegate
// per fetcher.
type FetcherDelegate interface {
	OnDidFetchIssuers(collection *Collection)
	OnFailedToFetchIssuers()
	OnWillRetryFetchingIssuers(at time.Time)
	OnBrowserUpgradeRequiredToFetchIssuers()
}

type fetcherState int

const (
	fetcherIdle fetcherState = iota
	fetcherFetching
)

// Fetcher periodically pulls the issuer directory. State machine:
// Idle -> Fetching -> {Scheduled | Retrying} -> Fetching -> ...
type Fetcher struct {
	serverURL string
	client    urlrequest.Fetcher
	clock     timeutil.Clock
	log       log.Logger
	metrics   *metrics.Metrics
	delegate  FetcherDelegate

	mu       sync.Mutex
	state    fetcherState
	periodic bool
	issuers  *Collection
	retry    *backoff.Timer
	next     timeutil.Timer
}

// NewFetcher creates an issuer directory fetcher.
func NewFetcher(serverURL string, client urlrequest.Fetcher, clock timeutil.Clock, logger log.Logger, m *metrics.Metrics) *Fetcher {
	return &Fetcher{
		serverURL: serverURL,
		client:    client,
		clock:     clock,
		log:       logger,
		metrics:   m,
		retry:     backoff.NewTimer(clock, retryAfter, 0),
	}
}

// SetDelegate wires the single delegate. Must be called before fetching.
func (f *Fetcher) SetDelegate(d FetcherDelegate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delegate = d
}

// Issuers returns the most recently fetched directory, or nil before the
// first successful fetch.
func (f *Fetcher) Issuers() *Collection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issuers
}

// SetIssuers seeds the directory, used when the host restored persisted
// issuers.
func (f *Fetcher) SetIssuers(c *Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issuers = c
}

// PeriodicallyFetch starts the fetch loop. Idempotent: starting while
// already active is a no-op.
func (f *Fetcher) PeriodicallyFetch() {
	f.mu.Lock()
	if f.periodic {
		f.mu.Unlock()
		return
	}
	f.periodic = true
	f.mu.Unlock()

	f.Fetch()
}

// Fetch performs one fetch. No-op if a fetch, a retry timer, or a scheduled
// next fetch is already pending.
func (f *Fetcher) Fetch() {
	f.mu.Lock()
	if f.state == fetcherFetching || f.retry.IsRunning() || f.next != nil {
		f.mu.Unlock()
		return
	}
	f.state = fetcherFetching
	f.mu.Unlock()

	f.log.Debug("fetching issuers", "url", f.serverURL+"/v1/issuers/")

	resp, err := f.client.Fetch(urlrequest.Request{
		Method: http.MethodGet,
		URL:    f.serverURL + "/v1/issuers/",
	})
	if err != nil {
		f.handleFailure()
		return
	}

	if resp.StatusCode == http.StatusUpgradeRequired {
		f.handleUpgradeRequired()
		return
	}
	if resp.StatusCode != http.StatusOK {
		f.handleFailure()
		return
	}

	collection, parseErr := ParseResponse(resp.Body)
	if parseErr != nil {
		f.handleFailure()
		return
	}

	f.handleSuccess(collection)
}

func (f *Fetcher) handleSuccess(collection *Collection) {
	f.mu.Lock()
	f.state = fetcherIdle
	f.issuers = collection
	f.retry.Stop()
	delegate := f.delegate

	// Schedule the next fetch after the server-declared ping interval.
	ping := time.Duration(collection.PingInterval) * time.Millisecond
	f.next = f.clock.AfterFunc(ping, func() {
		f.mu.Lock()
		f.next = nil
		f.mu.Unlock()
		f.Fetch()
	})
	f.mu.Unlock()

	f.metrics.IssuerFetches.Inc()
	f.log.Info("fetched issuers", "ping", ping)

	if delegate != nil {
		delegate.OnDidFetchIssuers(collection)
	}
}

func (f *Fetcher) handleFailure() {
	f.mu.Lock()
	f.state = fetcherIdle
	delegate := f.delegate
	delay, started := f.retry.Start(f.Fetch)
	retryAt := f.clock.Now().Add(delay)
	f.mu.Unlock()

	f.metrics.IssuerFetchFailures.Inc()
	f.log.Warn("failed to fetch issuers")

	if delegate != nil {
		delegate.OnFailedToFetchIssuers()
		if started {
			delegate.OnWillRetryFetchingIssuers(retryAt)
		}
	}
}

func (f *Fetcher) handleUpgradeRequired() {
	f.mu.Lock()
	f.state = fetcherIdle
	f.periodic = false
	delegate := f.delegate
	f.mu.Unlock()

	f.log.Error("browser upgrade required to fetch issuers")

	if delegate != nil {
		delegate.OnBrowserUpgradeRequiredToFetchIssuers()
	}
}
