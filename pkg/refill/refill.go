// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package refill keeps the confirmation token store topped up. When the
// stored token count drops below the configured threshold the engine blinds
// a fresh batch, has the server sign it, verifies the batch proof against
// the current confirmations issuer key and banks the unblinded results.
package refill

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
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
	"github.com/luxfi/rewards/pkg/wallet"
)

const retryAfter = time.Minute

// Delegate receives refill lifecycle notifications. Exactly one delegate per
// engine.
type Delegate interface {
	OnDidRefillTokens()
	OnFailedToRefillTokens()
	OnWillRetryRefillingTokens(at time.Time)
	OnDidRetryRefillingTokens()
	OnCaptchaRequiredToRefillTokens(captchaID string)
}

// IssuerSource exposes the current issuer directory to the engine.
type IssuerSource interface {
	Issuers() *issuers.Collection
}

type refillState int

const (
	refillIdle refillState = iota
	refillRequesting
)

// Engine refills confirmation tokens. At most one refill is in flight at a
// time; a second MaybeRefill while one is running or a retry is armed is a
// no-op.
type Engine struct {
	cfg     config.Config
	client  urlrequest.Fetcher
	clock   timeutil.Clock
	log     log.Logger
	metrics *metrics.Metrics
	store   *store.Store
	issuers IssuerSource

	mu       sync.Mutex
	state    refillState
	delegate Delegate
	retry    *backoff.Timer

	// In-progress flow, preserved across retries so a signed batch is never
	// requested twice for the same blinded tokens.
	wallet  *wallet.Wallet
	tokens  []*token.Token
	blinded []token.BlindedToken
	nonce   string
}

// New creates a refill engine.
func New(cfg config.Config, client urlrequest.Fetcher, clock timeutil.Clock, logger log.Logger, m *metrics.Metrics, st *store.Store, src IssuerSource) *Engine {
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

// SetDelegate wires the single delegate. Must be called before refilling.
func (e *Engine) SetDelegate(d Delegate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delegate = d
}

// MaybeRefill tops up the token store for the given wallet if the stored
// count is below the minimum threshold.
func (e *Engine) MaybeRefill(w *wallet.Wallet) {
	e.mu.Lock()
	if e.state != refillIdle || e.retry.IsRunning() {
		e.mu.Unlock()
		return
	}

	count, err := e.store.ConfirmationTokenCount()
	if err != nil {
		e.mu.Unlock()
		e.log.Error("failed to count confirmation tokens", "err", err)
		return
	}
	if count >= e.cfg.MinTokenThreshold {
		e.mu.Unlock()
		e.log.Debug("no token refill needed", "count", count)
		return
	}

	e.wallet = w

	if e.issuers.Issuers() == nil {
		e.mu.Unlock()
		e.log.Warn("refill requires issuers")
		e.handleFailure()
		return
	}

	e.state = refillRequesting

	if e.tokens == nil {
		need := e.cfg.MaxTokenCount - count
		tokens, blinded, err := generateTokens(need)
		if err != nil {
			e.state = refillIdle
			e.mu.Unlock()
			e.log.Error("failed to generate tokens", "err", err)
			return
		}
		e.tokens = tokens
		e.blinded = blinded
	}
	resume := e.nonce != ""
	e.mu.Unlock()

	if resume {
		e.fetchSignedTokens()
		return
	}
	e.requestSigning(w)
}

func generateTokens(n int) ([]*token.Token, []token.BlindedToken, error) {
	tokens := make([]*token.Token, 0, n)
	blinded := make([]token.BlindedToken, 0, n)
	for i := 0; i < n; i++ {
		t, err := token.NewRandomToken()
		if err != nil {
			return nil, nil, err
		}
		tokens = append(tokens, t)
		blinded = append(blinded, t.Blind())
	}
	return tokens, blinded, nil
}

// requestSigning submits the blinded batch. The request body is signed with
// the wallet key so the server can bind the batch to the payment ID.
func (e *Engine) requestSigning(w *wallet.Wallet) {
	e.mu.Lock()
	blinded := make([]string, len(e.blinded))
	for i, b := range e.blinded {
		blinded[i] = b.EncodeBase64()
	}
	e.mu.Unlock()

	body, err := json.Marshal(map[string]any{"blindedTokens": blinded})
	if err != nil {
		e.handleFailure()
		return
	}
	digest, signature := w.SignRequest(string(body))

	resp, err := e.client.Fetch(urlrequest.Request{
		Method:      http.MethodPost,
		URL:         fmt.Sprintf("%s/v3/confirmation/token/%s", e.cfg.ServerURL, w.PaymentID()),
		Headers:     map[string]string{"digest": digest, "signature": signature},
		Body:        string(body),
		ContentType: "application/json",
	})
	if err != nil || resp.StatusCode != http.StatusCreated {
		e.log.Warn("failed to request token signing")
		e.handleFailure()
		return
	}

	var created struct {
		Nonce string `json:"nonce"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &created); err != nil || created.Nonce == "" {
		e.handleFailure()
		return
	}

	e.mu.Lock()
	e.nonce = created.Nonce
	e.mu.Unlock()

	e.fetchSignedTokens()
}

// fetchSignedTokens collects the signed batch for the stored nonce.
func (e *Engine) fetchSignedTokens() {
	e.mu.Lock()
	w := e.wallet
	nonce := e.nonce
	e.mu.Unlock()

	resp, err := e.client.Fetch(urlrequest.Request{
		Method: http.MethodGet,
		URL: fmt.Sprintf("%s/v3/confirmation/token/%s?nonce=%s",
			e.cfg.ServerURL, w.PaymentID(), url.QueryEscape(nonce)),
	})
	if err != nil {
		e.handleFailure()
		return
	}

	switch resp.StatusCode {
	case http.StatusOK:
		e.handleSignedTokens(resp.Body)
	case http.StatusAccepted:
		// Batch not signed yet. Keep the nonce and come back.
		e.handleFailure()
	case http.StatusUnauthorized:
		e.handleCaptchaRequired(resp.Body)
	default:
		e.handleFailure()
	}
}

func (e *Engine) handleSignedTokens(body string) {
	var signed struct {
		BatchProof   string   `json:"batchProof"`
		SignedTokens []string `json:"signedTokens"`
		PublicKey    string   `json:"publicKey"`
	}
	if err := json.Unmarshal([]byte(body), &signed); err != nil {
		e.handleFailure()
		return
	}

	publicKey, err := token.PublicKeyFromBase64(signed.PublicKey)
	if err != nil {
		e.handleFailure()
		return
	}

	// The signing key must be a key the confirmations issuer currently
	// advertises, otherwise the server could partition users by key.
	// Retrying cannot repair a wrong key, so the batch is abandoned.
	collection := e.issuers.Issuers()
	if collection == nil || !collection.PublicKeyExists(issuers.TypeConfirmations, publicKey) {
		e.log.Error("signed tokens use an unknown confirmations issuer key")
		e.handleFatal()
		return
	}

	proof, err := token.BatchDLEQProofFromBase64(signed.BatchProof)
	if err != nil {
		e.handleFailure()
		return
	}

	signedTokens := make([]token.SignedToken, 0, len(signed.SignedTokens))
	for _, s := range signed.SignedTokens {
		st, err := token.SignedTokenFromBase64(s)
		if err != nil {
			e.handleFailure()
			return
		}
		signedTokens = append(signedTokens, st)
	}

	e.mu.Lock()
	tokens := e.tokens
	blinded := e.blinded
	e.mu.Unlock()

	unblinded, err := token.VerifyAndUnblind(tokens, blinded, signedTokens, proof, publicKey)
	if err != nil {
		e.log.Error("batch proof verification failed", "err", err)
		e.handleFatal()
		return
	}

	confirmationTokens := make([]store.ConfirmationToken, 0, len(unblinded))
	for _, u := range unblinded {
		confirmationTokens = append(confirmationTokens, store.ConfirmationToken{
			UnblindedToken: u,
			PublicKey:      publicKey,
		})
	}
	if err := e.store.AddConfirmationTokens(confirmationTokens); err != nil {
		e.log.Error("failed to store confirmation tokens", "err", err)
		e.handleFailure()
		return
	}

	e.mu.Lock()
	e.state = refillIdle
	e.wallet = nil
	e.tokens = nil
	e.blinded = nil
	e.nonce = ""
	e.retry.Stop()
	delegate := e.delegate
	e.mu.Unlock()

	e.metrics.TokensRefilled.Add(float64(len(confirmationTokens)))
	e.log.Info("refilled confirmation tokens", "count", len(confirmationTokens))

	if delegate != nil {
		delegate.OnDidRefillTokens()
	}
}

func (e *Engine) handleFailure() {
	e.mu.Lock()
	e.state = refillIdle
	delegate := e.delegate
	w := e.wallet
	delay, started := e.retry.Start(func() {
		e.mu.Lock()
		d := e.delegate
		e.mu.Unlock()
		if d != nil {
			d.OnDidRetryRefillingTokens()
		}
		e.MaybeRefill(w)
	})
	retryAt := e.clock.Now().Add(delay)
	e.mu.Unlock()

	e.metrics.RefillFailures.Inc()
	e.log.Warn("failed to refill confirmation tokens")

	if delegate != nil {
		delegate.OnFailedToRefillTokens()
		if started {
			delegate.OnWillRetryRefillingTokens(retryAt)
		}
	}
}

// handleFatal abandons the in-progress batch. Cryptographic failures are not
// retried; the next MaybeRefill starts over with fresh tokens.
func (e *Engine) handleFatal() {
	e.mu.Lock()
	e.state = refillIdle
	e.wallet = nil
	e.tokens = nil
	e.blinded = nil
	e.nonce = ""
	e.retry.Stop()
	delegate := e.delegate
	e.mu.Unlock()

	e.metrics.RefillFailures.Inc()

	if delegate != nil {
		delegate.OnFailedToRefillTokens()
	}
}

// handleCaptchaRequired stops the flow without scheduling a retry: the host
// must solve the captcha and call MaybeRefill again.
func (e *Engine) handleCaptchaRequired(body string) {
	var unauthorized struct {
		CaptchaID string `json:"captcha_id"`
	}
	_ = json.Unmarshal([]byte(body), &unauthorized)

	e.mu.Lock()
	e.state = refillIdle
	delegate := e.delegate
	e.mu.Unlock()

	e.log.Warn("captcha required to refill tokens", "captchaID", unauthorized.CaptchaID)

	if delegate != nil {
		delegate.OnCaptchaRequiredToRefillTokens(unauthorized.CaptchaID)
	}
}
