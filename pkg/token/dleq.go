// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package token

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math/big"

	"golang.org/x/crypto/sha3"
)

var (
	ErrProofVerification = errors.New("batch proof verification failed")
	ErrBatchMismatch     = errors.New("token and signed token batches differ in length")
)

// BatchDLEQProof proves that every signed token in a batch was produced with
// the same signing key the issuer committed to, without revealing the key.
// Scheme: random-weighted Chaum-Pedersen over the batch.
type BatchDLEQProof struct {
	c *big.Int
	s *big.Int
}

func (p BatchDLEQProof) EncodeBase64() string {
	raw := make([]byte, 0, 2*scalarLen)
	raw = append(raw, scalarBytes(p.c)...)
	raw = append(raw, scalarBytes(p.s)...)
	return base64.StdEncoding.EncodeToString(raw)
}

func BatchDLEQProofFromBase64(s string) (BatchDLEQProof, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != 2*scalarLen {
		return BatchDLEQProof{}, ErrInvalidBase64
	}
	c, err := unmarshalScalar(raw[:scalarLen])
	if err != nil {
		return BatchDLEQProof{}, err
	}
	sc, err := unmarshalScalar(raw[scalarLen:])
	if err != nil {
		return BatchDLEQProof{}, err
	}
	return BatchDLEQProof{c: c, s: sc}, nil
}

// batchWeights derives the per-element weights from a transcript hash of the
// public key and both batches, so neither side can choose them.
func batchWeights(pub PublicKey, blinded []BlindedToken, signed []SignedToken) []*big.Int {
	h := sha3.New256()
	h.Write([]byte("rewards batch dleq v1"))
	h.Write(pub.p.marshal())
	for _, b := range blinded {
		h.Write(b.p.marshal())
	}
	for _, s := range signed {
		h.Write(s.p.marshal())
	}
	seed := h.Sum(nil)

	n := curve.Params().N
	weights := make([]*big.Int, len(blinded))
	for i := range blinded {
		hw := sha3.New256()
		hw.Write(seed)
		var idx [8]byte
		binary.BigEndian.PutUint64(idx[:], uint64(i))
		hw.Write(idx[:])
		weights[i] = new(big.Int).Mod(new(big.Int).SetBytes(hw.Sum(nil)), n)
	}
	return weights
}

// batchCompress folds both batches into single points A = sum m_i*B_i and
// Z = sum m_i*S_i.
func batchCompress(weights []*big.Int, blinded []BlindedToken, signed []SignedToken) (point, point) {
	a := blinded[0].p.mul(weights[0])
	z := signed[0].p.mul(weights[0])
	for i := 1; i < len(blinded); i++ {
		a = a.add(blinded[i].p.mul(weights[i]))
		z = z.add(signed[i].p.mul(weights[i]))
	}
	return a, z
}

func dleqChallenge(pub PublicKey, a, z, r1, r2 point) *big.Int {
	h := sha3.New256()
	h.Write([]byte("rewards dleq challenge v1"))
	h.Write(pub.p.marshal())
	h.Write(a.marshal())
	h.Write(z.marshal())
	h.Write(r1.marshal())
	h.Write(r2.marshal())
	return new(big.Int).Mod(new(big.Int).SetBytes(h.Sum(nil)), curve.Params().N)
}

// Verify checks the proof against an issuer public key and the two batches.
func (p BatchDLEQProof) Verify(pub PublicKey, blinded []BlindedToken, signed []SignedToken) bool {
	if len(blinded) != len(signed) || len(blinded) == 0 {
		return false
	}

	weights := batchWeights(pub, blinded, signed)
	a, z := batchCompress(weights, blinded, signed)

	// r1 = s*G + c*Y, r2 = s*A + c*Z must reproduce the commitments.
	r1 := basePointMul(p.s).add(pub.p.mul(p.c))
	r2 := a.mul(p.s).add(z.mul(p.c))

	return dleqChallenge(pub, a, z, r1, r2).Cmp(p.c) == 0
}

// VerifyAndUnblind verifies the batch proof and, on success, unblinds every
// signed token against its positionally paired raw token. A failed proof
// returns ErrProofVerification and no tokens.
func VerifyAndUnblind(tokens []*Token, blinded []BlindedToken, signed []SignedToken, proof BatchDLEQProof, pub PublicKey) ([]UnblindedToken, error) {
	if len(tokens) != len(blinded) || len(blinded) != len(signed) {
		return nil, ErrBatchMismatch
	}
	if !proof.Verify(pub, blinded, signed) {
		return nil, ErrProofVerification
	}

	unblinded := make([]UnblindedToken, len(tokens))
	for i, t := range tokens {
		unblinded[i] = t.Unblind(signed[i])
	}
	return unblinded, nil
}
