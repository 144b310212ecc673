// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package account orchestrates the rewards engines: it owns the wallet,
// records deposits as confirmations and ledger transactions, and reacts to
// engine notifications by driving the next stage of the pipeline.
package account

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/rewards/pkg/ads"
	"github.com/luxfi/rewards/pkg/config"
	"github.com/luxfi/rewards/pkg/confirmations"
	"github.com/luxfi/rewards/pkg/conversions"
	"github.com/luxfi/rewards/pkg/issuers"
	"github.com/luxfi/rewards/pkg/log"
	"github.com/luxfi/rewards/pkg/metrics"
	"github.com/luxfi/rewards/pkg/prefs"
	"github.com/luxfi/rewards/pkg/redemption"
	"github.com/luxfi/rewards/pkg/refill"
	"github.com/luxfi/rewards/pkg/store"
	"github.com/luxfi/rewards/pkg/timeutil"
	"github.com/luxfi/rewards/pkg/urlrequest"
	"github.com/luxfi/rewards/pkg/wallet"
)

var (
	ErrDisabled = errors.New("rewards are disabled")
	ErrNoWallet = errors.New("wallet is not initialized")
)

// Observer receives account-level notifications. Unlike engine delegates,
// any number of observers may register.
type Observer interface {
	OnWalletDidUpdate(paymentID string)
	OnDidProcessDeposit(transaction store.Transaction)
	OnFailedToProcessDeposit(creativeInstanceID string, adType ads.AdType, confirmationType ads.ConfirmationType)
	OnStatementDidChange()
	OnCaptchaRequired(captchaID string)
	OnBrowserUpgradeRequired()
}

// Account wires the engines together. It is the single delegate of each
// engine and fans notifications out to its observers.
type Account struct {
	cfg     config.Config
	clock   timeutil.Clock
	log     log.Logger
	metrics *metrics.Metrics
	store   *store.Store
	prefs   prefs.Store

	issuers       *issuers.Fetcher
	refill        *refill.Engine
	confirmations *confirmations.Engine
	redemption    *redemption.Engine
	conversions   *conversions.Engine

	mu        sync.Mutex
	wallet    *wallet.Wallet
	observers []Observer
}

// New assembles the engines around a shared transport, clock and store.
func New(cfg config.Config, client urlrequest.Fetcher, clock timeutil.Clock, logger log.Logger, m *metrics.Metrics, st *store.Store, p prefs.Store) *Account {
	a := &Account{
		cfg:     cfg,
		clock:   clock,
		log:     logger,
		metrics: m,
		store:   st,
		prefs:   p,
	}

	a.issuers = issuers.NewFetcher(cfg.ServerURL, client, clock, logger, m)
	a.refill = refill.New(cfg, client, clock, logger, m, st, a.issuers)
	a.confirmations = confirmations.NewEngine(cfg, client, clock, logger, m, st, a.issuers)
	a.redemption = redemption.New(cfg, client, clock, logger, m, st, p)
	a.conversions = conversions.New(cfg, clock, logger, m, st)

	a.issuers.SetDelegate(a)
	a.refill.SetDelegate(a)
	a.confirmations.SetDelegate(a)
	a.redemption.SetDelegate(a)
	a.conversions.SetDelegate(a)
	return a
}

// AddObserver registers an observer. Not removable; observers live as long
// as the account.
func (a *Account) AddObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, o)
}

func (a *Account) notify(f func(Observer)) {
	a.mu.Lock()
	observers := append([]Observer(nil), a.observers...)
	a.mu.Unlock()
	for _, o := range observers {
		f(o)
	}
}

// SetWallet installs the wallet. A nil seed creates a fresh random wallet;
// a 32-byte recovery seed restores an existing one, yielding the same
// payment id it had before.
func (a *Account) SetWallet(recoverySeed []byte) error {
	var w *wallet.Wallet
	var err error
	if recoverySeed == nil {
		w, err = wallet.NewRandom()
	} else {
		w, err = wallet.FromRecoverySeed(recoverySeed)
	}
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.wallet = w
	a.mu.Unlock()

	a.log.Info("wallet updated", "paymentID", w.PaymentID())
	a.notify(func(o Observer) { o.OnWalletDidUpdate(w.PaymentID()) })
	return nil
}

// Wallet returns the current wallet, or nil before SetWallet.
func (a *Account) Wallet() *wallet.Wallet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wallet
}

// Enabled reports the rewards opt-in preference.
func (a *Account) Enabled() bool {
	return a.prefs.GetBool(prefs.KeyRewardsEnabled)
}

// SetEnabled flips the opt-in preference. Enabling starts the engines when
// a wallet is present.
func (a *Account) SetEnabled(enabled bool) {
	a.prefs.SetBool(prefs.KeyRewardsEnabled, enabled)
	if enabled && a.Wallet() != nil {
		a.start()
	}
}

// Initialize resumes persisted state after a restart: purges stale rows,
// restarts the issuer fetch loop, drains the confirmation and conversion
// queues and arms the redemption schedule. Requires a wallet.
func (a *Account) Initialize() error {
	w := a.Wallet()
	if w == nil {
		return ErrNoWallet
	}
	if !a.Enabled() {
		return ErrDisabled
	}

	if err := a.store.PurgeExpiredDeposits(a.clock.Now()); err != nil {
		a.log.Warn("failed to purge expired deposits", "err", err)
	}
	if err := a.store.PurgeOrphanedAdEvents(); err != nil {
		a.log.Warn("failed to purge orphaned ad events", "err", err)
	}

	a.start()
	return nil
}

func (a *Account) start() {
	w := a.Wallet()
	a.issuers.PeriodicallyFetch()
	a.conversions.ProcessQueue()
	a.confirmations.ProcessQueue()
	a.redemption.MaybeRedeemAfterDelay(w)
}

// Deposit records a billable ad event: it books the creative's deposit
// value to the ledger and queues a confirmation that redeems a payment
// token for it.
func (a *Account) Deposit(event ads.Event) (store.Transaction, error) {
	return a.deposit(event, nil)
}

func (a *Account) deposit(event ads.Event, envelope *conversions.Envelope) (store.Transaction, error) {
	if !a.Enabled() {
		return store.Transaction{}, ErrDisabled
	}
	if a.Wallet() == nil {
		return store.Transaction{}, ErrNoWallet
	}

	now := a.clock.Now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}

	value := decimal.Zero
	if confirmations.Rewardable(event.ConfirmationType) {
		v, err := a.store.DepositValue(event.CreativeInstanceID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return store.Transaction{}, err
		}
		if err == nil {
			value = v
		}
	}

	c, err := confirmations.BuildWithEnvelope(a.store, now, event, envelope)
	if err != nil {
		a.log.Warn("failed to build confirmation", "err", err)
		a.notify(func(o Observer) {
			o.OnFailedToProcessDeposit(event.CreativeInstanceID, event.AdType, event.ConfirmationType)
		})
		if errors.Is(err, confirmations.ErrNoConfirmationTokens) {
			a.refill.MaybeRefill(a.Wallet())
		}
		return store.Transaction{}, err
	}

	if err := a.store.SaveConfirmation(c); err != nil {
		return store.Transaction{}, err
	}
	// Conversion ad events are recorded by the conversion engine at
	// detection time.
	if event.ConfirmationType != ads.ConfirmationTypeConversion {
		if err := a.store.AddAdEvent(event); err != nil {
			return store.Transaction{}, err
		}
	}

	transaction := store.Transaction{
		ID:                 c.TransactionID,
		CreativeInstanceID: event.CreativeInstanceID,
		Value:              value,
		AdType:             event.AdType,
		ConfirmationType:   event.ConfirmationType,
		CreatedAt:          now,
	}
	if err := a.store.AddTransaction(transaction); err != nil {
		return store.Transaction{}, err
	}

	a.log.Info("processed deposit",
		"creativeInstanceID", event.CreativeInstanceID,
		"type", event.ConfirmationType, "value", value)

	a.notify(func(o Observer) { o.OnDidProcessDeposit(transaction) })
	a.notify(func(o Observer) { o.OnStatementDidChange() })

	a.confirmations.ProcessQueue()
	return transaction, nil
}

// CanShowAd applies the frequency caps to the recorded event ledger. Hosts
// call this before displaying a notification ad.
func (a *Account) CanShowAd(campaignID string, caps ads.Caps) error {
	if !a.Enabled() {
		return ErrDisabled
	}
	events, err := a.store.AdEvents()
	if err != nil {
		return err
	}
	return ads.CheckFrequencyCaps(events, campaignID, caps, a.clock.Now())
}

// MaybeConvert forwards a page navigation to the conversion engine.
func (a *Account) MaybeConvert(redirectChain []string, html string, patterns []conversions.IDPattern) {
	if !a.Enabled() {
		return
	}
	a.conversions.MaybeConvert(redirectChain, html, patterns)
}

// Issuers exposes the issuer directory fetcher, mainly so hosts can seed a
// persisted directory before Initialize.
func (a *Account) Issuers() *issuers.Fetcher {
	return a.issuers
}

// PaymentTokenBalance is the value of unredeemed payment tokens at current
// issuer rates.
func (a *Account) PaymentTokenBalance() (decimal.Decimal, error) {
	tokens, err := a.store.PaymentTokens()
	if err != nil {
		return decimal.Zero, err
	}
	return redemption.TokensValue(tokens, a.issuers.Issuers()), nil
}

// Issuer fetcher delegate.

func (a *Account) OnDidFetchIssuers(*issuers.Collection) {
	if w := a.Wallet(); w != nil {
		a.refill.MaybeRefill(w)
	}
	a.confirmations.ProcessQueue()
}

func (a *Account) OnFailedToFetchIssuers() {}

func (a *Account) OnWillRetryFetchingIssuers(at time.Time) {
	a.log.Debug("will retry fetching issuers", "at", at)
}

func (a *Account) OnBrowserUpgradeRequiredToFetchIssuers() {
	a.notify(func(o Observer) { o.OnBrowserUpgradeRequired() })
}

// Refill delegate.

func (a *Account) OnDidRefillTokens() {
	a.confirmations.ProcessQueue()
}

func (a *Account) OnFailedToRefillTokens() {}

func (a *Account) OnWillRetryRefillingTokens(at time.Time) {
	a.log.Debug("will retry refilling tokens", "at", at)
}

func (a *Account) OnDidRetryRefillingTokens() {}

func (a *Account) OnCaptchaRequiredToRefillTokens(captchaID string) {
	a.notify(func(o Observer) { o.OnCaptchaRequired(captchaID) })
}

// Confirmation redemption delegate.

func (a *Account) OnDidRedeemConfirmation(c store.Confirmation) {
	if w := a.Wallet(); w != nil {
		// Tokens were spent; top the store back up if needed.
		a.refill.MaybeRefill(w)
	}
}

func (a *Account) OnFailedToRedeemConfirmation(c store.Confirmation, shouldRetry bool) {
	if !shouldRetry {
		a.log.Warn("dropped confirmation", "transactionID", c.TransactionID)
	}
}

func (a *Account) OnWillRetryRedeemingConfirmations(at time.Time) {
	a.log.Debug("will retry redeeming confirmations", "at", at)
}

// Payment redemption delegate.

func (a *Account) OnDidRedeemPaymentTokens(tokens []store.PaymentToken) {
	if len(tokens) > 0 {
		a.notify(func(o Observer) { o.OnStatementDidChange() })
	}
}

func (a *Account) OnFailedToRedeemPaymentTokens() {}

func (a *Account) OnWillRetryRedeemingPaymentTokens(at time.Time) {
	a.log.Debug("will retry redeeming payment tokens", "at", at)
}

func (a *Account) OnDidScheduleNextPaymentTokenRedemption(at time.Time) {
	a.log.Debug("next payment token redemption", "at", at)
}

// Conversion delegate.

func (a *Account) OnDidDetectConversion(item store.ConversionQueueItem) {
	a.log.Debug("detected conversion", "creativeSetID", item.CreativeSetID)
}

func (a *Account) OnDidConvertAd(item store.ConversionQueueItem, envelope *conversions.Envelope) {
	_, err := a.deposit(ads.Event{
		PlacementID:        item.CreativeInstanceID,
		AdType:             item.AdType,
		ConfirmationType:   ads.ConfirmationTypeConversion,
		CampaignID:         item.CampaignID,
		CreativeSetID:      item.CreativeSetID,
		CreativeInstanceID: item.CreativeInstanceID,
		AdvertiserID:       item.AdvertiserID,
	}, envelope)
	if err != nil {
		a.log.Warn("failed to deposit conversion", "err", err)
	}
}

func (a *Account) OnWillProcessConversionAt(item store.ConversionQueueItem, at time.Time) {
	a.log.Debug("will process conversion", "creativeSetID", item.CreativeSetID, "at", at)
}
