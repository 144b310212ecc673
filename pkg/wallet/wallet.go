// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wallet holds the client's settlement identity: a payment id and
// the ed25519 key that signs token-refill requests. Both derive from a
// 32-byte recovery seed, so restoring the seed restores the wallet.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const SeedLen = 32

var ErrInvalidSeed = errors.New("recovery seed must be 32 bytes")

// Wallet is immutable once created and owned exclusively by the account.
type Wallet struct {
	paymentID string
	seed      []byte
	key       ed25519.PrivateKey
}

// FromRecoverySeed derives the wallet from a recovery seed.
func FromRecoverySeed(seed []byte) (*Wallet, error) {
	if len(seed) != SeedLen {
		return nil, ErrInvalidSeed
	}

	key := ed25519.NewKeyFromSeed(seed)
	pub := key.Public().(ed25519.PublicKey)

	return &Wallet{
		paymentID: uuid.NewSHA1(uuid.NameSpaceOID, pub).String(),
		seed:      append([]byte(nil), seed...),
		key:       key,
	}, nil
}

// NewRandom creates a wallet with a fresh recovery seed.
func NewRandom() (*Wallet, error) {
	seed := make([]byte, SeedLen)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return FromRecoverySeed(seed)
}

// PaymentID identifies this wallet on the rewards server.
func (w *Wallet) PaymentID() string { return w.paymentID }

// RecoverySeed returns a copy of the seed for backup.
func (w *Wallet) RecoverySeed() []byte { return append([]byte(nil), w.seed...) }

// PublicKeyBase64 returns the request-signing public key.
func (w *Wallet) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(w.key.Public().(ed25519.PublicKey))
}

// SignRequest produces the digest and signature headers for a signed request
// body: digest is SHA-256 of the body, the signature covers the digest
// header value.
func (w *Wallet) SignRequest(body string) (digestHeader, signatureHeader string) {
	sum := sha256.Sum256([]byte(body))
	digestHeader = "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])

	signed := "digest: " + digestHeader
	sig := ed25519.Sign(w.key, []byte(signed))

	signatureHeader = fmt.Sprintf(
		`keyId="primary",algorithm="ed25519",headers="digest",signature="%s"`,
		base64.StdEncoding.EncodeToString(sig))
	return digestHeader, signatureHeader
}

// VerifyRequestSignature checks headers produced by SignRequest against a
// base64 public key. The mock rewards server uses it.
func VerifyRequestSignature(publicKeyBase64, body, digestHeader, signatureHeader string) bool {
	pub, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}

	sum := sha256.Sum256([]byte(body))
	if digestHeader != "SHA-256="+base64.StdEncoding.EncodeToString(sum[:]) {
		return false
	}

	const prefix = `keyId="primary",algorithm="ed25519",headers="digest",signature="`
	if len(signatureHeader) <= len(prefix)+1 || signatureHeader[:len(prefix)] != prefix ||
		signatureHeader[len(signatureHeader)-1] != '"' {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureHeader[len(prefix) : len(signatureHeader)-1])
	if err != nil {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(pub), []byte("digest: "+digestHeader), sig)
}
