// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package account_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/rewards/internal/testing/adserver"
	"github.com/luxfi/rewards/pkg/account"
	"github.com/luxfi/rewards/pkg/ads"
	"github.com/luxfi/rewards/pkg/config"
	"github.com/luxfi/rewards/pkg/conversions"
	"github.com/luxfi/rewards/pkg/log"
	"github.com/luxfi/rewards/pkg/metrics"
	"github.com/luxfi/rewards/pkg/prefs"
	"github.com/luxfi/rewards/pkg/store"
	"github.com/luxfi/rewards/pkg/timeutil"
)

type accountEvents struct {
	walletIDs        []string
	deposits         []store.Transaction
	failedDeposits   []string
	statementChanges int
	captchaIDs       []string
	upgradeRequired  int
}

func (e *accountEvents) OnWalletDidUpdate(paymentID string) {
	e.walletIDs = append(e.walletIDs, paymentID)
}

func (e *accountEvents) OnDidProcessDeposit(t store.Transaction) {
	e.deposits = append(e.deposits, t)
}

func (e *accountEvents) OnFailedToProcessDeposit(creativeInstanceID string, _ ads.AdType, _ ads.ConfirmationType) {
	e.failedDeposits = append(e.failedDeposits, creativeInstanceID)
}

func (e *accountEvents) OnStatementDidChange() { e.statementChanges++ }

func (e *accountEvents) OnCaptchaRequired(id string) {
	e.captchaIDs = append(e.captchaIDs, id)
}

func (e *accountEvents) OnBrowserUpgradeRequired() { e.upgradeRequired++ }

type accountHarness struct {
	account *account.Account
	server  *adserver.Server
	clock   *timeutil.FakeClock
	store   *store.Store
	prefs   *prefs.Memory
	events  *accountEvents
}

func newAccountHarness(t *testing.T) *accountHarness {
	t.Helper()
	require := require.New(t)

	server, err := adserver.New()
	require.NoError(err)

	st, err := store.Open(":memory:")
	require.NoError(err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.ServerURL = "https://ads.example.com"
	cfg.MinTokenThreshold = 2
	cfg.MaxTokenCount = 5

	clock := timeutil.NewFakeClock(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	p := prefs.NewMemory()
	p.SetBool(prefs.KeyRewardsEnabled, true)
	events := &accountEvents{}

	a := account.New(cfg, adserver.NewFetcher(server), clock, log.NoLog,
		metrics.NewUnregistered(), st, p)
	a.AddObserver(events)

	require.NoError(a.SetWallet(nil))
	w := a.Wallet()
	server.RegisterWallet(w.PaymentID(), w.PublicKeyBase64())

	return &accountHarness{
		account: a,
		server:  server,
		clock:   clock,
		store:   st,
		prefs:   p,
		events:  events,
	}
}

func viewEvent(creativeInstanceID string) ads.Event {
	return ads.Event{
		PlacementID:        "f0948316-df6f-4e31-814d-d0b5f2a1f28c",
		AdType:             ads.AdTypeNotification,
		ConfirmationType:   ads.ConfirmationTypeViewed,
		CampaignID:         "60b22af2-cbd4-4c42-b547-85cdfbcfdcde",
		CreativeSetID:      "340c927f-696e-4060-9933-3eafc56c3f31",
		CreativeInstanceID: creativeInstanceID,
		AdvertiserID:       "496b045a-195e-441f-b439-07bac083450f",
		Segment:            "technology & computing",
	}
}

func TestInitializeFetchesIssuersAndRefills(t *testing.T) {
	require := require.New(t)
	h := newAccountHarness(t)

	require.NoError(h.account.Initialize())

	require.NotNil(h.account.Issuers().Issuers())
	count, err := h.store.ConfirmationTokenCount()
	require.NoError(err)
	require.Equal(5, count)
}

func TestDepositEarnsAndSettles(t *testing.T) {
	require := require.New(t)
	h := newAccountHarness(t)
	require.NoError(h.account.Initialize())

	creative := "546fe7b0-5047-4f28-a11c-81f14edcf0f6"
	require.NoError(h.store.SaveDeposit(store.Deposit{
		CreativeInstanceID: creative,
		Value:              decimal.RequireFromString("0.02"),
		ExpireAt:           h.clock.Now().Add(30 * 24 * time.Hour),
	}))

	transaction, err := h.account.Deposit(viewEvent(creative))
	require.NoError(err)
	require.True(decimal.RequireFromString("0.02").Equal(transaction.Value))
	require.Len(h.events.deposits, 1)

	// The confirmation was redeemed synchronously against the server and a
	// payment token banked.
	tokens, err := h.store.PaymentTokens()
	require.NoError(err)
	require.Len(tokens, 1)
	require.Equal(transaction.ID, tokens[0].TransactionID)

	balance, err := h.account.PaymentTokenBalance()
	require.NoError(err)
	require.True(decimal.RequireFromString(adserver.TokenValue).Equal(balance))

	statement, err := h.account.Statement()
	require.NoError(err)
	require.True(decimal.RequireFromString("0.02").Equal(statement.EarnedThisMonth))
	require.Equal(1, statement.AdsReceivedThisMonth)
	require.Equal(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), statement.NextPaymentDate)

	// The scheduled batch redemption cashes the token within one period.
	h.clock.Advance(config.Default().RedeemAfter)

	require.Equal(1, h.server.CashedTokenCount())
	remaining, err := h.store.PaymentTokenCount()
	require.NoError(err)
	require.Zero(remaining)
	require.True(h.prefs.GetBool(prefs.KeyHasRedeemedBefore))

	transactions, err := h.store.TransactionsForRange(time.Time{}, h.clock.Now())
	require.NoError(err)
	require.Len(transactions, 1)
	require.False(transactions[0].ReconciledAt.IsZero())
}

func TestDepositWithoutTokensReportsFailure(t *testing.T) {
	require := require.New(t)
	h := newAccountHarness(t)

	// No Initialize: no issuers and no confirmation tokens.
	creative := "546fe7b0-5047-4f28-a11c-81f14edcf0f6"
	_, err := h.account.Deposit(viewEvent(creative))
	require.Error(err)
	require.Equal([]string{creative}, h.events.failedDeposits)
	require.Empty(h.events.deposits)
}

func TestDepositRequiresOptIn(t *testing.T) {
	require := require.New(t)
	h := newAccountHarness(t)

	h.account.SetEnabled(false)
	_, err := h.account.Deposit(viewEvent("546fe7b0-5047-4f28-a11c-81f14edcf0f6"))
	require.ErrorIs(err, account.ErrDisabled)
}

func TestDismissConfirmsWithoutSpendingTokens(t *testing.T) {
	require := require.New(t)
	h := newAccountHarness(t)
	require.NoError(h.account.Initialize())

	event := viewEvent("546fe7b0-5047-4f28-a11c-81f14edcf0f6")
	event.ConfirmationType = ads.ConfirmationTypeDismissed

	transaction, err := h.account.Deposit(event)
	require.NoError(err)
	require.True(transaction.Value.IsZero())

	// The dismissal reached the server without a redemption credential; no
	// confirmation token was spent and no payment token earned.
	require.Equal(1, h.server.NonRewardConfirmationCount())
	count, err := h.store.ConfirmationTokenCount()
	require.NoError(err)
	require.Equal(5, count)
	banked, err := h.store.PaymentTokenCount()
	require.NoError(err)
	require.Zero(banked)
}

func TestConversionFlowsThroughDeposit(t *testing.T) {
	require := require.New(t)
	h := newAccountHarness(t)
	require.NoError(h.account.Initialize())

	event := viewEvent("546fe7b0-5047-4f28-a11c-81f14edcf0f6")
	_, err := h.account.Deposit(event)
	require.NoError(err)

	require.NoError(h.store.SaveConversionRules([]store.ConversionRule{{
		CreativeSetID:     event.CreativeSetID,
		Type:              conversions.RuleTypePostView,
		URLPattern:        "https://example.com/*",
		ObservationWindow: 30,
		ExpireAt:          h.clock.Now().Add(90 * 24 * time.Hour),
	}}))

	h.account.MaybeConvert([]string{"https://example.com/thank-you"}, "", nil)
	h.clock.Advance(config.Default().ConversionDelay)

	transactions, err := h.store.TransactionsForRange(time.Time{}, h.clock.Now())
	require.NoError(err)
	require.Len(transactions, 2)
	require.Equal(ads.ConfirmationTypeConversion, transactions[1].ConfirmationType)

	// Both confirmations were redeemed into payment tokens.
	count, err := h.store.PaymentTokenCount()
	require.NoError(err)
	require.Equal(2, count)
}
