// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package token implements the blind-signature primitives of the rewards
// protocol: a client generates random tokens, blinds them, has the server
// sign the blinded values, verifies the batch DLEQ proof and unblinds. The
// unblinded token later authorizes exactly one confirmation redemption
// without linking it to the signing request.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

var ErrInvalidBase64 = errors.New("invalid base64 token encoding")

// Token is a locally generated secret: a random preimage and the blinding
// scalar used to hide it from the signer. It exists only transiently between
// generation and unblinding.
type Token struct {
	preimage []byte
	r        *big.Int
}

// NewRandomToken generates a fresh token with a random preimage and blinding
// scalar.
func NewRandomToken() (*Token, error) {
	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return nil, err
	}
	r, err := randomScalar()
	if err != nil {
		return nil, err
	}
	return &Token{preimage: preimage, r: r}, nil
}

// Blind maps the preimage onto the curve and multiplies by the blinding
// scalar. The result is what gets sent for signing.
func (t *Token) Blind() BlindedToken {
	return BlindedToken{p: hashToPoint(t.preimage).mul(t.r)}
}

// EncodeBase64 serializes the token as preimage || blinding scalar.
func (t *Token) EncodeBase64() string {
	raw := make([]byte, 0, len(t.preimage)+scalarLen)
	raw = append(raw, t.preimage...)
	raw = append(raw, scalarBytes(t.r)...)
	return base64.StdEncoding.EncodeToString(raw)
}

// TokenFromBase64 decodes a token serialized by EncodeBase64.
func TokenFromBase64(s string) (*Token, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != 32+scalarLen {
		return nil, ErrInvalidBase64
	}
	r, err := unmarshalScalar(raw[32:])
	if err != nil {
		return nil, err
	}
	return &Token{preimage: append([]byte(nil), raw[:32]...), r: r}, nil
}

// BlindedToken is a blinded curve point awaiting a server signature. It is
// paired 1:1 with its raw token by array position and never persisted alone.
type BlindedToken struct {
	p point
}

func (b BlindedToken) EncodeBase64() string {
	return base64.StdEncoding.EncodeToString(b.p.marshal())
}

func BlindedTokenFromBase64(s string) (BlindedToken, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return BlindedToken{}, ErrInvalidBase64
	}
	p, err := unmarshalPoint(raw)
	if err != nil {
		return BlindedToken{}, err
	}
	return BlindedToken{p: p}, nil
}

// SignedToken is the server's signature over one blinded token.
type SignedToken struct {
	p point
}

func (s SignedToken) EncodeBase64() string {
	return base64.StdEncoding.EncodeToString(s.p.marshal())
}

func SignedTokenFromBase64(s string) (SignedToken, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return SignedToken{}, ErrInvalidBase64
	}
	p, err := unmarshalPoint(raw)
	if err != nil {
		return SignedToken{}, err
	}
	return SignedToken{p: p}, nil
}

// UnblindedToken is the spendable unit: the token preimage together with the
// server's signature over it, freed of the blinding scalar.
type UnblindedToken struct {
	preimage []byte
	w        point
}

// Unblind removes the blinding scalar from a signed token. The pairing of
// token and signed token is positional.
func (t *Token) Unblind(s SignedToken) UnblindedToken {
	rInv := new(big.Int).ModInverse(t.r, curve.Params().N)
	return UnblindedToken{
		preimage: append([]byte(nil), t.preimage...),
		w:        s.p.mul(rInv),
	}
}

// Preimage returns the base64 token preimage sent alongside a redemption.
func (u UnblindedToken) Preimage() string {
	return base64.StdEncoding.EncodeToString(u.preimage)
}

// DeriveVerifyKey derives the per-token MAC key shared with the server. The
// server re-derives the same key from the preimage and its signing key.
func (u UnblindedToken) DeriveVerifyKey() []byte {
	r := hkdf.New(sha256.New, append(u.preimage, u.w.marshal()...), nil, []byte("rewards verify key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		panic(err) // hkdf on fixed-size input cannot fail
	}
	return key
}

// SignMessage authenticates a redemption payload under the token's verify
// key.
func (u UnblindedToken) SignMessage(message string) string {
	mac := hmac.New(sha256.New, u.DeriveVerifyKey())
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (u UnblindedToken) EncodeBase64() string {
	raw := make([]byte, 0, len(u.preimage)+pointLen)
	raw = append(raw, u.preimage...)
	raw = append(raw, u.w.marshal()...)
	return base64.StdEncoding.EncodeToString(raw)
}

func UnblindedTokenFromBase64(s string) (UnblindedToken, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != 32+pointLen {
		return UnblindedToken{}, ErrInvalidBase64
	}
	w, err := unmarshalPoint(raw[32:])
	if err != nil {
		return UnblindedToken{}, err
	}
	return UnblindedToken{preimage: append([]byte(nil), raw[:32]...), w: w}, nil
}

// PublicKey is an issuer's signing public key.
type PublicKey struct {
	p point
}

func (k PublicKey) EncodeBase64() string {
	return base64.StdEncoding.EncodeToString(k.p.marshal())
}

func PublicKeyFromBase64(s string) (PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return PublicKey{}, ErrInvalidBase64
	}
	p, err := unmarshalPoint(raw)
	if err != nil {
		return PublicKey{}, err
	}
	return PublicKey{p: p}, nil
}

// Equal reports whether two public keys are the same point.
func (k PublicKey) Equal(other PublicKey) bool {
	return k.p.x.Cmp(other.p.x) == 0 && k.p.y.Cmp(other.p.y) == 0
}
