// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package confirmations

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/luxfi/rewards/pkg/backoff"
	"github.com/luxfi/rewards/pkg/config"
	"github.com/luxfi/rewards/pkg/issuers"
	"github.com/luxfi/rewards/pkg/log"
	"github.com/luxfi/rewards/pkg/metrics"
	"github.com/luxfi/rewards/pkg/store"
	"github.com/luxfi/rewards/pkg/timeutil"
	"github.com/luxfi/rewards/pkg/token"
	"github.com/luxfi/rewards/pkg/urlrequest"
)

const retryAfter = time.Minute

// Delegate receives redemption notifications. Exactly one delegate per
// engine.
type Delegate interface {
	OnDidRedeemConfirmation(c store.Confirmation)
	OnFailedToRedeemConfirmation(c store.Confirmation, shouldRetry bool)
	OnWillRetryRedeemingConfirmations(at time.Time)
}

// IssuerSource exposes the current issuer directory to the engine.
type IssuerSource interface {
	Issuers() *issuers.Collection
}

type redeemState int

const (
	redeemIdle redeemState = iota
	redeemProcessing
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetry
	outcomeFatal
)

// Engine drains the persisted confirmation queue, oldest first. At most one
// redemption is in flight; a retryable failure pauses the queue behind a
// single backoff timer rather than skipping to the next item.
type Engine struct {
	cfg     config.Config
	client  urlrequest.Fetcher
	clock   timeutil.Clock
	log     log.Logger
	metrics *metrics.Metrics
	store   *store.Store
	issuers IssuerSource

	mu       sync.Mutex
	state    redeemState
	delegate Delegate
	retry    *backoff.Timer
}

// NewEngine creates a confirmation redemption engine.
func NewEngine(cfg config.Config, client urlrequest.Fetcher, clock timeutil.Clock, logger log.Logger, m *metrics.Metrics, st *store.Store, src IssuerSource) *Engine {
	return &Engine{
		cfg:     cfg,
		client:  client,
		clock:   clock,
		log:     logger,
		metrics: m,
		store:   st,
		issuers: src,
		retry:   backoff.NewTimer(clock, retryAfter, time.Hour),
	}
}

// SetDelegate wires the single delegate. Must be called before processing.
func (e *Engine) SetDelegate(d Delegate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delegate = d
}

// ProcessQueue redeems queued confirmations until the queue is empty or a
// retryable failure pauses it. No-op while already processing or while a
// retry is armed.
func (e *Engine) ProcessQueue() {
	e.mu.Lock()
	if e.state != redeemIdle || e.retry.IsRunning() {
		e.mu.Unlock()
		return
	}
	e.state = redeemProcessing
	e.mu.Unlock()

	e.drain()
}

func (e *Engine) drain() {
	for {
		queued, err := e.store.Confirmations()
		if err != nil {
			e.log.Error("failed to load confirmation queue", "err", err)
			e.setIdle()
			return
		}
		if len(queued) == 0 {
			e.setIdle()
			return
		}

		c := queued[0]
		switch e.redeem(c) {
		case outcomeSuccess:
			if err := e.store.RemoveConfirmation(c.TransactionID); err != nil {
				e.log.Error("failed to remove redeemed confirmation", "err", err)
				e.setIdle()
				return
			}
			e.metrics.ConfirmationsRedeemed.Inc()
			e.log.Info("redeemed confirmation",
				"transactionID", c.TransactionID, "type", c.ConfirmationType)
			e.notify(func(d Delegate) { d.OnDidRedeemConfirmation(c) })

		case outcomeFatal:
			if err := e.store.RemoveConfirmation(c.TransactionID); err != nil {
				e.log.Error("failed to remove failed confirmation", "err", err)
				e.setIdle()
				return
			}
			e.metrics.ConfirmationFailures.Inc()
			e.log.Warn("permanently failed to redeem confirmation",
				"transactionID", c.TransactionID)
			e.notify(func(d Delegate) { d.OnFailedToRedeemConfirmation(c, false) })

		case outcomeRetry:
			e.metrics.ConfirmationFailures.Inc()
			e.log.Warn("failed to redeem confirmation, will retry",
				"transactionID", c.TransactionID)
			e.pauseForRetry(c)
			return
		}
	}
}

func (e *Engine) setIdle() {
	e.mu.Lock()
	e.state = redeemIdle
	e.mu.Unlock()
}

func (e *Engine) pauseForRetry(c store.Confirmation) {
	e.mu.Lock()
	e.state = redeemIdle
	delay, started := e.retry.Start(e.ProcessQueue)
	retryAt := e.clock.Now().Add(delay)
	e.mu.Unlock()

	e.notify(func(d Delegate) {
		d.OnFailedToRedeemConfirmation(c, true)
		if started {
			d.OnWillRetryRedeemingConfirmations(retryAt)
		}
	})
}

func (e *Engine) notify(f func(Delegate)) {
	e.mu.Lock()
	d := e.delegate
	e.mu.Unlock()
	if d != nil {
		f(d)
	}
}

func (e *Engine) redeem(c store.Confirmation) outcome {
	// Redeeming needs the issuer directory to vet the payment token key.
	if c.Reward != nil && e.issuers.Issuers() == nil {
		e.log.Warn("redemption requires issuers")
		return outcomeRetry
	}

	if c.Reward == nil {
		return e.createNonReward(c)
	}
	if out := e.create(c); out != outcomeSuccess {
		return out
	}
	return e.fetchPaymentToken(c)
}

// createNonReward submits a confirmation that earns nothing, so there is no
// payment token to collect afterwards.
func (e *Engine) createNonReward(c store.Confirmation) outcome {
	payload, err := json.Marshal(payloadJSON{
		CreativeInstanceID: c.CreativeInstanceID,
		TransactionID:      c.TransactionID,
		Type:               string(c.ConfirmationType),
	})
	if err != nil {
		return outcomeFatal
	}

	resp, err := e.client.Fetch(urlrequest.Request{
		Method:      http.MethodPost,
		URL:         fmt.Sprintf("%s/v3/confirmation/%s", e.cfg.ServerURL, c.TransactionID),
		Body:        string(payload),
		ContentType: "application/json",
	})
	if err != nil || resp.StatusCode >= http.StatusInternalServerError {
		return outcomeRetry
	}
	// A conflict means a prior attempt already registered it.
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusConflict {
		return outcomeFatal
	}
	return outcomeSuccess
}

// create registers the credential with the server. A conflict means a prior
// attempt already registered it, which is fine: the payment token fetch is
// what settles the redemption.
func (e *Engine) create(c store.Confirmation) outcome {
	payload, _, _, err := DecodeCredential(c.Reward.Credential)
	if err != nil {
		e.log.Error("stored credential is undecodable", "transactionID", c.TransactionID)
		return outcomeFatal
	}

	resp, err := e.client.Fetch(urlrequest.Request{
		Method: http.MethodPost,
		URL: fmt.Sprintf("%s/v3/confirmation/%s/%s",
			e.cfg.ServerURL, c.TransactionID, c.Reward.Credential),
		Body:        payload,
		ContentType: "application/json",
	})
	if err != nil || resp.StatusCode >= http.StatusInternalServerError {
		return outcomeRetry
	}
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusConflict {
		return outcomeFatal
	}
	return outcomeSuccess
}

func (e *Engine) fetchPaymentToken(c store.Confirmation) outcome {
	resp, err := e.client.Fetch(urlrequest.Request{
		Method: http.MethodGet,
		URL: fmt.Sprintf("%s/v3/confirmation/%s/paymentToken",
			e.cfg.ServerURL, c.TransactionID),
	})
	if err != nil {
		return outcomeRetry
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return e.handlePaymentToken(c, resp.Body)
	case resp.StatusCode == http.StatusBadRequest:
		return outcomeFatal
	case resp.StatusCode == http.StatusAccepted,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode >= http.StatusInternalServerError:
		return outcomeRetry
	default:
		return outcomeRetry
	}
}

func (e *Engine) handlePaymentToken(c store.Confirmation, body string) outcome {
	var wire struct {
		ID           string `json:"id"`
		PaymentToken struct {
			PublicKey    string   `json:"publicKey"`
			BatchProof   string   `json:"batchProof"`
			SignedTokens []string `json:"signedTokens"`
		} `json:"paymentToken"`
	}
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return outcomeRetry
	}

	// A response for a different transaction can never become valid.
	if wire.ID != c.TransactionID {
		e.log.Error("payment token transaction mismatch",
			"want", c.TransactionID, "got", wire.ID)
		return outcomeFatal
	}

	publicKey, err := token.PublicKeyFromBase64(wire.PaymentToken.PublicKey)
	if err != nil {
		return outcomeRetry
	}
	collection := e.issuers.Issuers()
	if collection == nil || !collection.PublicKeyExists(issuers.TypePayments, publicKey) {
		// The directory may be stale; refetching issuers can make this key
		// known.
		e.log.Warn("payment token signed by unknown payments issuer key")
		return outcomeRetry
	}

	proof, err := token.BatchDLEQProofFromBase64(wire.PaymentToken.BatchProof)
	if err != nil {
		return outcomeRetry
	}
	if len(wire.PaymentToken.SignedTokens) != 1 {
		return outcomeRetry
	}
	signed, err := token.SignedTokenFromBase64(wire.PaymentToken.SignedTokens[0])
	if err != nil {
		return outcomeRetry
	}

	unblinded, err := token.VerifyAndUnblind(
		[]*token.Token{c.Reward.Token},
		[]token.BlindedToken{c.Reward.BlindedToken},
		[]token.SignedToken{signed}, proof, publicKey)
	if err != nil {
		e.log.Warn("payment token batch proof verification failed", "err", err)
		return outcomeRetry
	}

	err = e.store.AddPaymentToken(store.PaymentToken{
		TransactionID:    c.TransactionID,
		UnblindedToken:   unblinded[0],
		PublicKey:        publicKey,
		ConfirmationType: c.ConfirmationType,
		AdType:           c.AdType,
	})
	if err != nil {
		e.log.Warn("failed to store payment token", "err", err)
		return outcomeRetry
	}
	return outcomeSuccess
}
