// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package issuers maintains the server's current signing-key directory: one
// key set for signing confirmation tokens, one for payment tokens. The
// directory is replaced wholesale on every successful fetch.
package issuers

import (
	"encoding/json"
	"errors"

	"github.com/luxfi/rewards/pkg/token"
	"github.com/shopspring/decimal"
)

// Type distinguishes the two signing authorities.
type Type string

const (
	TypeConfirmations Type = "confirmations"
	TypePayments      Type = "payments"
)

var ErrMalformedIssuers = errors.New("malformed issuers response")

// Key is one issuer public key and the token value it is associated with.
// Confirmation keys carry no value.
type Key struct {
	PublicKey       token.PublicKey
	AssociatedValue decimal.Decimal
}

// Collection is the full directory delivered by one fetch.
type Collection struct {
	PingInterval  int64 // milliseconds until the next scheduled fetch
	Confirmations []Key
	Payments      []Key
}

// PublicKeyExists reports whether pk is a current key of the given type.
func (c *Collection) PublicKeyExists(t Type, pk token.PublicKey) bool {
	for _, k := range c.keysFor(t) {
		if k.PublicKey.Equal(pk) {
			return true
		}
	}
	return false
}

// AssociatedValue returns the token value bound to a payments key, or zero
// if the key is unknown.
func (c *Collection) AssociatedValue(t Type, pk token.PublicKey) decimal.Decimal {
	for _, k := range c.keysFor(t) {
		if k.PublicKey.Equal(pk) {
			return k.AssociatedValue
		}
	}
	return decimal.Zero
}

func (c *Collection) keysFor(t Type) []Key {
	switch t {
	case TypeConfirmations:
		return c.Confirmations
	case TypePayments:
		return c.Payments
	}
	return nil
}

type wireKey struct {
	PublicKey       string `json:"publicKey"`
	AssociatedValue string `json:"associatedValue"`
}

type wireIssuer struct {
	Name       string    `json:"name"`
	PublicKeys []wireKey `json:"publicKeys"`
}

type wireResponse struct {
	Ping    int64        `json:"ping"`
	Issuers []wireIssuer `json:"issuers"`
}

// ParseResponse parses an issuer directory body. Both issuer types must be
// present and the ping interval positive.
func ParseResponse(body string) (*Collection, error) {
	var wire wireResponse
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, ErrMalformedIssuers
	}
	if wire.Ping <= 0 {
		return nil, ErrMalformedIssuers
	}

	c := &Collection{PingInterval: wire.Ping}
	for _, issuer := range wire.Issuers {
		keys, err := parseKeys(issuer.PublicKeys)
		if err != nil {
			return nil, err
		}
		switch Type(issuer.Name) {
		case TypeConfirmations:
			c.Confirmations = keys
		case TypePayments:
			c.Payments = keys
		}
	}
	if c.Confirmations == nil || c.Payments == nil {
		return nil, ErrMalformedIssuers
	}
	return c, nil
}

func parseKeys(wire []wireKey) ([]Key, error) {
	keys := make([]Key, 0, len(wire))
	for _, wk := range wire {
		pk, err := token.PublicKeyFromBase64(wk.PublicKey)
		if err != nil {
			return nil, ErrMalformedIssuers
		}
		value := decimal.Zero
		if wk.AssociatedValue != "" {
			if value, err = decimal.NewFromString(wk.AssociatedValue); err != nil {
				return nil, ErrMalformedIssuers
			}
		}
		keys = append(keys, Key{PublicKey: pk, AssociatedValue: value})
	}
	return keys, nil
}
