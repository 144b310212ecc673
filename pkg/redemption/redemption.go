// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package redemption cashes accumulated payment tokens. Redemption runs on a
// fixed cadence rather than per token, so the server cannot correlate a
// payout with the ad events that earned it. The next redemption time is
// persisted and survives restarts.
package redemption

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/rewards/pkg/backoff"
	"github.com/luxfi/rewards/pkg/config"
	"github.com/luxfi/rewards/pkg/issuers"
	"github.com/luxfi/rewards/pkg/log"
	"github.com/luxfi/rewards/pkg/metrics"
	"github.com/luxfi/rewards/pkg/prefs"
	"github.com/luxfi/rewards/pkg/store"
	"github.com/luxfi/rewards/pkg/timeutil"
	"github.com/luxfi/rewards/pkg/urlrequest"
	"github.com/luxfi/rewards/pkg/wallet"
)

const (
	retryAfter = time.Minute

	// minimumDelay is applied when the persisted redemption time is already
	// overdue, typically after the process was stopped across the deadline.
	minimumDelay = time.Minute
)

// Delegate receives payment redemption notifications. Exactly one delegate
// per engine.
type Delegate interface {
	OnDidRedeemPaymentTokens(tokens []store.PaymentToken)
	OnFailedToRedeemPaymentTokens()
	OnWillRetryRedeemingPaymentTokens(at time.Time)
	OnDidScheduleNextPaymentTokenRedemption(at time.Time)
}

type redemptionState int

const (
	redemptionIdle redemptionState = iota
	redemptionRedeeming
)

// Engine redeems payment tokens in batches on a persisted schedule.
type Engine struct {
	cfg     config.Config
	client  urlrequest.Fetcher
	clock   timeutil.Clock
	log     log.Logger
	metrics *metrics.Metrics
	store   *store.Store
	prefs   prefs.Store

	mu       sync.Mutex
	state    redemptionState
	delegate Delegate
	retry    *backoff.Timer
	next     timeutil.Timer
	wallet   *wallet.Wallet
}

// New creates a payment token redemption engine.
func New(cfg config.Config, client urlrequest.Fetcher, clock timeutil.Clock, logger log.Logger, m *metrics.Metrics, st *store.Store, p prefs.Store) *Engine {
	return &Engine{
		cfg:     cfg,
		client:  client,
		clock:   clock,
		log:     logger,
		metrics: m,
		store:   st,
		prefs:   p,
		retry:   backoff.NewTimer(clock, retryAfter, 0),
	}
}

// SetDelegate wires the single delegate. Must be called before scheduling.
func (e *Engine) SetDelegate(d Delegate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delegate = d
}

// MaybeRedeemAfterDelay arms the redemption timer for the wallet. The first
// ever redemption lands at a random point within one redemption period; after
// that the persisted schedule is honored, clamped to a minimum delay when
// overdue. No-op while a redemption, retry or scheduled run is pending.
func (e *Engine) MaybeRedeemAfterDelay(w *wallet.Wallet) {
	e.mu.Lock()
	if e.state != redemptionIdle || e.retry.IsRunning() || e.next != nil {
		e.mu.Unlock()
		return
	}
	e.wallet = w

	delay := e.nextDelay()
	at := e.clock.Now().Add(delay)
	e.prefs.SetTime(prefs.KeyNextTokenRedemptionAt, at)
	e.next = e.clock.AfterFunc(delay, func() {
		e.mu.Lock()
		e.next = nil
		e.mu.Unlock()
		e.redeem()
	})
	delegate := e.delegate
	e.mu.Unlock()

	e.log.Debug("scheduled payment token redemption", "at", at)

	if delegate != nil {
		delegate.OnDidScheduleNextPaymentTokenRedemption(at)
	}
}

func (e *Engine) period() time.Duration {
	if e.cfg.Debug {
		return e.cfg.DebugRedeemAfter
	}
	return e.cfg.RedeemAfter
}

func (e *Engine) nextDelay() time.Duration {
	now := e.clock.Now()
	next := e.prefs.GetTime(prefs.KeyNextTokenRedemptionAt)
	switch {
	case next.IsZero():
		// The first-run jitter applies exactly once; a lost schedule after
		// that waits a full period.
		if e.prefs.GetBool(prefs.KeyHasRedeemedBefore) {
			return e.period()
		}
		return randomDelay(e.period())
	case !next.After(now):
		return minimumDelay
	default:
		return next.Sub(now)
	}
}

// randomDelay picks a uniform duration in (0, period].
func randomDelay(period time.Duration) time.Duration {
	return time.Duration(rand.Int63n(int64(period))) + 1
}

func (e *Engine) redeem() {
	e.mu.Lock()
	if e.state != redemptionIdle {
		e.mu.Unlock()
		return
	}
	e.state = redemptionRedeeming
	w := e.wallet
	e.mu.Unlock()

	tokens, err := e.store.PaymentTokens()
	if err != nil {
		e.log.Error("failed to load payment tokens", "err", err)
		e.handleFailure()
		return
	}

	// Nothing to cash: skip the network round trip entirely and settle the
	// next slot.
	if len(tokens) == 0 {
		e.log.Debug("no payment tokens to redeem")
		e.finish(nil)
		return
	}

	body, err := requestBody(w, tokens)
	if err != nil {
		e.log.Error("failed to build redemption request", "err", err)
		e.handleFailure()
		return
	}
	digest, signature := w.SignRequest(body)

	resp, err := e.client.Fetch(urlrequest.Request{
		Method:      http.MethodPut,
		URL:         fmt.Sprintf("%s/v3/payment/%s", e.cfg.ServerURL, w.PaymentID()),
		Headers:     map[string]string{"digest": digest, "signature": signature},
		Body:        body,
		ContentType: "application/json",
	})
	if err != nil || resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		e.log.Warn("failed to redeem payment tokens")
		e.handleFailure()
		return
	}

	// Remove exactly the redeemed batch; tokens banked since the snapshot
	// stay for the next run.
	if err := e.store.RemovePaymentTokens(tokens); err != nil {
		e.log.Error("failed to remove redeemed payment tokens", "err", err)
		e.handleFailure()
		return
	}

	ids := make([]string, len(tokens))
	for i, t := range tokens {
		ids[i] = t.TransactionID
	}
	if err := e.store.MarkTransactionsReconciled(ids, e.clock.Now()); err != nil {
		e.log.Error("failed to mark transactions reconciled", "err", err)
	}

	e.prefs.SetBool(prefs.KeyHasRedeemedBefore, true)
	e.metrics.PaymentTokensCashed.Add(float64(len(tokens)))
	e.log.Info("redeemed payment tokens", "count", len(tokens))

	e.finish(tokens)
}

// finish completes a redemption run and arms the next scheduled one, a full
// period out. An empty run only reschedules; did-redeem fires for cashed
// batches alone.
func (e *Engine) finish(tokens []store.PaymentToken) {
	e.mu.Lock()
	e.state = redemptionIdle
	e.retry.Stop()
	w := e.wallet
	e.wallet = nil
	delegate := e.delegate
	e.mu.Unlock()

	e.prefs.SetTime(prefs.KeyNextTokenRedemptionAt, e.clock.Now().Add(e.period()))

	if delegate != nil && len(tokens) > 0 {
		delegate.OnDidRedeemPaymentTokens(tokens)
	}

	e.MaybeRedeemAfterDelay(w)
}

func (e *Engine) handleFailure() {
	e.mu.Lock()
	e.state = redemptionIdle
	delegate := e.delegate
	delay, started := e.retry.Start(e.redeem)
	retryAt := e.clock.Now().Add(delay)
	e.mu.Unlock()

	e.metrics.RedemptionFailures.Inc()

	if delegate != nil {
		delegate.OnFailedToRedeemPaymentTokens()
		if started {
			delegate.OnWillRetryRedeemingPaymentTokens(retryAt)
		}
	}
}

type credentialWire struct {
	Credential struct {
		Signature string `json:"signature"`
		T         string `json:"t"`
	} `json:"credential"`
	ConfirmationType string `json:"confirmationType"`
	PublicKey        string `json:"publicKey"`
}

// requestBody assembles the signed redemption payload: each token proves,
// without revealing which confirmation earned it, that it was signed by a
// payments issuer key.
func requestBody(w *wallet.Wallet, tokens []store.PaymentToken) (string, error) {
	payload, err := json.Marshal(map[string]string{"paymentId": w.PaymentID()})
	if err != nil {
		return "", err
	}

	credentials := make([]credentialWire, len(tokens))
	for i, t := range tokens {
		credentials[i].Credential.Signature = t.UnblindedToken.SignMessage(string(payload))
		credentials[i].Credential.T = t.UnblindedToken.Preimage()
		credentials[i].ConfirmationType = string(t.ConfirmationType)
		credentials[i].PublicKey = t.PublicKey.EncodeBase64()
	}

	body, err := json.Marshal(map[string]any{
		"payload":            string(payload),
		"paymentCredentials": credentials,
	})
	return string(body), err
}

// TokensValue sums the issuer-associated value of a set of payment tokens.
// Tokens signed by a key the directory no longer lists count as zero.
func TokensValue(tokens []store.PaymentToken, collection *issuers.Collection) decimal.Decimal {
	total := decimal.Zero
	if collection == nil {
		return total
	}
	for _, t := range tokens {
		total = total.Add(collection.AssociatedValue(issuers.TypePayments, t.PublicKey))
	}
	return total
}
