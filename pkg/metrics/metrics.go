// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts engine activity. The host decides whether and where the
// registry is exposed.
type Metrics struct {
	TokensRefilled        prometheus.Counter
	RefillFailures        prometheus.Counter
	ConfirmationsRedeemed prometheus.Counter
	ConfirmationFailures  prometheus.Counter
	PaymentTokensCashed   prometheus.Counter
	RedemptionFailures    prometheus.Counter
	ConversionsDetected   prometheus.Counter
	IssuerFetches         prometheus.Counter
	IssuerFetchFailures   prometheus.Counter
}

// New creates and registers the rewards counters on reg. Pass a private
// registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokensRefilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards", Name: "confirmation_tokens_refilled_total",
			Help: "Confirmation tokens obtained from the issuer.",
		}),
		RefillFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards", Name: "refill_failures_total",
			Help: "Failed confirmation token refill attempts.",
		}),
		ConfirmationsRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards", Name: "confirmations_redeemed_total",
			Help: "Confirmations successfully redeemed for payment tokens.",
		}),
		ConfirmationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards", Name: "confirmation_failures_total",
			Help: "Failed confirmation redemption attempts.",
		}),
		PaymentTokensCashed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards", Name: "payment_tokens_cashed_total",
			Help: "Payment tokens redeemed for value.",
		}),
		RedemptionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards", Name: "payment_redemption_failures_total",
			Help: "Failed payment token redemption attempts.",
		}),
		ConversionsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards", Name: "conversions_detected_total",
			Help: "Conversions matched against navigation redirect chains.",
		}),
		IssuerFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards", Name: "issuer_fetches_total",
			Help: "Successful issuer directory fetches.",
		}),
		IssuerFetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards", Name: "issuer_fetch_failures_total",
			Help: "Failed issuer directory fetches.",
		}),
	}

	reg.MustRegister(
		m.TokensRefilled, m.RefillFailures,
		m.ConfirmationsRedeemed, m.ConfirmationFailures,
		m.PaymentTokensCashed, m.RedemptionFailures,
		m.ConversionsDetected, m.IssuerFetches, m.IssuerFetchFailures)
	return m
}

// NewUnregistered creates counters on a throwaway registry, for engines the
// host runs without instrumentation.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
