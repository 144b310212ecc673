// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package conversions

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"regexp"

	"golang.org/x/crypto/nacl/box"
)

const envelopeAlgorithm = "crypto_box_curve25519xsalsa20poly1305"

// defaultIDPattern finds the conversion id the advertiser embeds in the
// landing page when no resource pattern claims the URL.
var defaultIDPattern = regexp.MustCompile(
	`<meta[^>]*name=["']ad-conversion-id["'][^>]*content=["']([^"']+)["']`)

var ErrInvalidAdvertiserKey = errors.New("advertiser public key must be 32 bytes")

// IDPattern is one resource-declared extraction rule: where to look for the
// conversion id on pages matching URLPattern, and the regexp (with one
// capture group) that extracts it.
type IDPattern struct {
	URLPattern string
	SearchIn   string // "url" or "html"
	IDPattern  string
}

const (
	SearchInURL  = "url"
	SearchInHTML = "html"
)

// ExtractConversionID pulls the conversion id from a matched navigation.
// Resource patterns take precedence; the default landing-page meta tag is
// the fallback. Returns "" when nothing matches, which downgrades the
// conversion to a non-verifiable one.
func ExtractConversionID(urls []string, html string, patterns []IDPattern) string {
	for _, p := range patterns {
		re, err := regexp.Compile(p.IDPattern)
		if err != nil {
			continue
		}
		for _, u := range urls {
			if !MatchURLPattern(p.URLPattern, u) {
				continue
			}
			subject := u
			if p.SearchIn == SearchInHTML {
				subject = html
			}
			if m := re.FindStringSubmatch(subject); len(m) > 1 {
				return m[1]
			}
		}
	}

	if m := defaultIDPattern.FindStringSubmatch(html); len(m) > 1 {
		return m[1]
	}
	return ""
}

// Envelope is a conversion id sealed to the advertiser's key. Only the
// advertiser can open it; the server relays it opaquely.
type Envelope struct {
	Alg                string `json:"alg"`
	Ciphertext         string `json:"ciphertext"`
	EphemeralPublicKey string `json:"epk"`
	Nonce              string `json:"nonce"`
}

// SealEnvelope encrypts the conversion id to the advertiser's curve25519
// public key with a fresh ephemeral key pair and nonce.
func SealEnvelope(conversionID, advertiserPublicKeyBase64 string) (*Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(advertiserPublicKeyBase64)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidAdvertiserKey
	}
	var advertiserKey [32]byte
	copy(advertiserKey[:], raw)

	ephemeralPub, ephemeralPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	ciphertext := box.Seal(nil, []byte(conversionID), &nonce, &advertiserKey, ephemeralPriv)
	return &Envelope{
		Alg:                envelopeAlgorithm,
		Ciphertext:         base64.StdEncoding.EncodeToString(ciphertext),
		EphemeralPublicKey: base64.StdEncoding.EncodeToString(ephemeralPub[:]),
		Nonce:              base64.StdEncoding.EncodeToString(nonce[:]),
	}, nil
}

// OpenEnvelope decrypts an envelope with the advertiser's private key. The
// client never holds that key; this is the advertiser's side of the scheme,
// exercised in tests.
func OpenEnvelope(e *Envelope, advertiserPrivateKey *[32]byte) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(e.Ciphertext)
	if err != nil {
		return "", err
	}
	epkRaw, err := base64.StdEncoding.DecodeString(e.EphemeralPublicKey)
	if err != nil || len(epkRaw) != 32 {
		return "", errors.New("invalid ephemeral public key")
	}
	nonceRaw, err := base64.StdEncoding.DecodeString(e.Nonce)
	if err != nil || len(nonceRaw) != 24 {
		return "", errors.New("invalid nonce")
	}

	var epk [32]byte
	var nonce [24]byte
	copy(epk[:], epkRaw)
	copy(nonce[:], nonceRaw)

	plaintext, ok := box.Open(nil, ciphertext, &nonce, &epk, advertiserPrivateKey)
	if !ok {
		return "", errors.New("failed to open conversion envelope")
	}
	return string(plaintext), nil
}
