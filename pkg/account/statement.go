// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// Statement summarizes earnings for display. Values are estimates until the
// corresponding payment tokens are cashed.
type Statement struct {
	EarnedThisMonth      decimal.Decimal
	EarnedLastMonth      decimal.Decimal
	AdsReceivedThisMonth int
	NextPaymentDate      time.Time
}

// Statement builds the statement of accounts from the transaction ledger.
func (a *Account) Statement() (Statement, error) {
	now := a.clock.Now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	lastMonth := thisMonth.AddDate(0, -1, 0)

	transactions, err := a.store.TransactionsForRange(lastMonth, now)
	if err != nil {
		return Statement{}, err
	}

	s := Statement{
		EarnedThisMonth: decimal.Zero,
		EarnedLastMonth: decimal.Zero,
		NextPaymentDate: thisMonth.AddDate(0, 1, 0),
	}
	for _, t := range transactions {
		if t.CreatedAt.Before(thisMonth) {
			s.EarnedLastMonth = s.EarnedLastMonth.Add(t.Value)
			continue
		}
		s.EarnedThisMonth = s.EarnedThisMonth.Add(t.Value)
		s.AdsReceivedThisMonth++
	}
	return s, nil
}
