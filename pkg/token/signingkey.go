// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// SigningKey is the issuer-side secret. It lives here so the mock rewards
// server used in tests can run the real protocol; production clients only
// ever hold PublicKey.
type SigningKey struct {
	k *big.Int
}

// NewRandomSigningKey generates a fresh issuer key.
func NewRandomSigningKey() (*SigningKey, error) {
	k, err := randomScalar()
	if err != nil {
		return nil, err
	}
	return &SigningKey{k: k}, nil
}

// PublicKey returns the commitment Y = k*G.
func (sk *SigningKey) PublicKey() PublicKey {
	return PublicKey{p: basePointMul(sk.k)}
}

// Sign multiplies a blinded token by the signing key.
func (sk *SigningKey) Sign(b BlindedToken) SignedToken {
	return SignedToken{p: b.p.mul(sk.k)}
}

// NewBatchDLEQProof signs nothing; it proves the signed batch was produced
// with this key.
func (sk *SigningKey) NewBatchDLEQProof(blinded []BlindedToken, signed []SignedToken) (BatchDLEQProof, error) {
	if len(blinded) != len(signed) || len(blinded) == 0 {
		return BatchDLEQProof{}, ErrBatchMismatch
	}

	weights := batchWeights(sk.PublicKey(), blinded, signed)
	a, z := batchCompress(weights, blinded, signed)

	w, err := randomScalar()
	if err != nil {
		return BatchDLEQProof{}, err
	}
	r1 := basePointMul(w)
	r2 := a.mul(w)

	n := curve.Params().N
	c := dleqChallenge(sk.PublicKey(), a, z, r1, r2)
	// s = w - c*k mod n
	s := new(big.Int).Mul(c, sk.k)
	s.Sub(w, s)
	s.Mod(s, n)

	return BatchDLEQProof{c: c, s: s}, nil
}

// RederiveVerifyKey reproduces a client's per-token MAC key from the token
// preimage, the way the redemption server validates a credential signature.
func (sk *SigningKey) RederiveVerifyKey(preimageBase64 string) ([]byte, error) {
	preimage, err := base64.StdEncoding.DecodeString(preimageBase64)
	if err != nil {
		return nil, ErrInvalidBase64
	}
	w := hashToPoint(preimage).mul(sk.k)
	r := hkdf.New(sha256.New, append(preimage, w.marshal()...), nil, []byte("rewards verify key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// VerifyMessage checks a credential signature produced by
// UnblindedToken.SignMessage.
func (sk *SigningKey) VerifyMessage(preimageBase64, message, signatureBase64 string) bool {
	key, err := sk.RederiveVerifyKey(preimageBase64)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hmac.Equal(mac.Sum(nil), sig)
}
