// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package token

import (
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// The token scheme runs over P-256. Points marshal compressed, scalars as
// 32-byte big-endian, both base64 on the wire.

var curve = elliptic.P256()

var (
	ErrInvalidPoint  = errors.New("invalid curve point")
	ErrInvalidScalar = errors.New("invalid scalar")
)

const (
	pointLen  = 33
	scalarLen = 32
)

type point struct {
	x, y *big.Int
}

func (p point) marshal() []byte {
	return elliptic.MarshalCompressed(curve, p.x, p.y)
}

func unmarshalPoint(b []byte) (point, error) {
	if len(b) != pointLen {
		return point{}, ErrInvalidPoint
	}
	x, y := elliptic.UnmarshalCompressed(curve, b)
	if x == nil {
		return point{}, ErrInvalidPoint
	}
	return point{x: x, y: y}, nil
}

func (p point) mul(k *big.Int) point {
	x, y := curve.ScalarMult(p.x, p.y, k.Bytes())
	return point{x: x, y: y}
}

func (p point) add(q point) point {
	x, y := curve.Add(p.x, p.y, q.x, q.y)
	return point{x: x, y: y}
}

func basePointMul(k *big.Int) point {
	x, y := curve.ScalarBaseMult(k.Bytes())
	return point{x: x, y: y}
}

func randomScalar() (*big.Int, error) {
	n := curve.Params().N
	for {
		b := make([]byte, scalarLen)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		k := new(big.Int).SetBytes(b)
		if k.Sign() > 0 && k.Cmp(n) < 0 {
			return k, nil
		}
	}
}

func scalarBytes(k *big.Int) []byte {
	b := k.Bytes()
	out := make([]byte, scalarLen)
	copy(out[scalarLen-len(b):], b)
	return out
}

func unmarshalScalar(b []byte) (*big.Int, error) {
	if len(b) != scalarLen {
		return nil, ErrInvalidScalar
	}
	k := new(big.Int).SetBytes(b)
	if k.Sign() == 0 || k.Cmp(curve.Params().N) >= 0 {
		return nil, ErrInvalidScalar
	}
	return k, nil
}

// hashToPoint maps a token preimage onto the curve by try-and-increment over
// a sha3 digest of the preimage and a counter.
func hashToPoint(preimage []byte) point {
	p := curve.Params().P
	three := big.NewInt(3)

	for ctr := byte(0); ; ctr++ {
		h := sha3.New256()
		h.Write([]byte("rewards token v1"))
		h.Write(preimage)
		h.Write([]byte{ctr})
		digest := h.Sum(nil)

		x := new(big.Int).SetBytes(digest)
		if x.Cmp(p) >= 0 {
			continue
		}

		// y^2 = x^3 - 3x + b
		y2 := new(big.Int).Exp(x, three, p)
		y2.Sub(y2, new(big.Int).Mul(three, x))
		y2.Add(y2, curve.Params().B)
		y2.Mod(y2, p)

		y := new(big.Int).ModSqrt(y2, p)
		if y == nil {
			continue
		}
		return point{x: x, y: y}
	}
}
