// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package adserver is an in-process rewards server used by integration
// tests. It runs the real signing protocol: it signs blinded token batches
// with batch proofs, verifies redemption credentials against derived verify
// keys and enforces one-time token spends.
package adserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/luxfi/rewards/pkg/confirmations"
	"github.com/luxfi/rewards/pkg/token"
	"github.com/luxfi/rewards/pkg/wallet"
)

// PingInterval is the issuer refresh interval the server advertises, in
// milliseconds.
const PingInterval = 7200000

// TokenValue is the value associated with the payments issuer key.
const TokenValue = "0.02"

type confirmationRecord struct {
	blindedToken token.BlindedToken
	payload      string
}

// Server implements the rewards wire protocol over an http.Handler.
type Server struct {
	router *mux.Router

	ConfirmationsKey *token.SigningKey
	PaymentsKey      *token.SigningKey

	mu            sync.Mutex
	wallets       map[string]string // payment id -> wallet public key
	nonces        map[string][]token.BlindedToken
	confirmations map[string]confirmationRecord
	nonReward     map[string]bool // transaction ids confirmed without credentials
	spent         map[string]bool // confirmation token preimages
	cashed        map[string]bool // payment token preimages
	redeemedValue int             // payment tokens cashed in total
}

// New creates a server with fresh issuer keys.
func New() (*Server, error) {
	confirmationsKey, err := token.NewRandomSigningKey()
	if err != nil {
		return nil, err
	}
	paymentsKey, err := token.NewRandomSigningKey()
	if err != nil {
		return nil, err
	}

	s := &Server{
		ConfirmationsKey: confirmationsKey,
		PaymentsKey:      paymentsKey,
		wallets:          make(map[string]string),
		nonces:           make(map[string][]token.BlindedToken),
		confirmations:    make(map[string]confirmationRecord),
		nonReward:        make(map[string]bool),
		spent:            make(map[string]bool),
		cashed:           make(map[string]bool),
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/issuers/", s.handleIssuers).Methods(http.MethodGet)
	r.HandleFunc("/v3/confirmation/token/{paymentID}", s.handleRequestSigning).Methods(http.MethodPost)
	r.HandleFunc("/v3/confirmation/token/{paymentID}", s.handleSignedTokens).Methods(http.MethodGet)
	r.HandleFunc("/v3/confirmation/{transactionID}/paymentToken", s.handlePaymentToken).Methods(http.MethodGet)
	r.HandleFunc("/v3/confirmation/{transactionID}/{credential}", s.handleCreateConfirmation).Methods(http.MethodPost)
	r.HandleFunc("/v3/confirmation/{transactionID}", s.handleCreateNonRewardConfirmation).Methods(http.MethodPost)
	r.HandleFunc("/v3/payment/{paymentID}", s.handleRedeemPayments).Methods(http.MethodPut)
	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RegisterWallet allows a payment id to request token signing and payment
// redemption.
func (s *Server) RegisterWallet(paymentID, publicKeyBase64 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[paymentID] = publicKeyBase64
}

// CashedTokenCount reports how many payment tokens were redeemed for value.
func (s *Server) CashedTokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redeemedValue
}

// NonRewardConfirmationCount reports how many confirmations arrived without
// a redemption credential.
func (s *Server) NonRewardConfirmationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nonReward)
}

func (s *Server) handleIssuers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ping": PingInterval,
		"issuers": []map[string]any{
			{
				"name": "confirmations",
				"publicKeys": []map[string]string{
					{"publicKey": s.ConfirmationsKey.PublicKey().EncodeBase64(), "associatedValue": ""},
				},
			},
			{
				"name": "payments",
				"publicKeys": []map[string]string{
					{"publicKey": s.PaymentsKey.PublicKey().EncodeBase64(), "associatedValue": TokenValue},
				},
			},
		},
	})
}

func (s *Server) handleRequestSigning(w http.ResponseWriter, r *http.Request) {
	paymentID := mux.Vars(r)["paymentID"]
	body, ok := s.verifyWalletRequest(w, r, paymentID)
	if !ok {
		return
	}

	var req struct {
		BlindedTokens []string `json:"blindedTokens"`
	}
	if err := json.Unmarshal([]byte(body), &req); err != nil || len(req.BlindedTokens) == 0 {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	blinded := make([]token.BlindedToken, 0, len(req.BlindedTokens))
	for _, b := range req.BlindedTokens {
		bt, err := token.BlindedTokenFromBase64(b)
		if err != nil {
			http.Error(w, "malformed blinded token", http.StatusBadRequest)
			return
		}
		blinded = append(blinded, bt)
	}

	nonce := uuid.NewString()
	s.mu.Lock()
	s.nonces[nonce] = blinded
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"nonce": nonce})
}

func (s *Server) handleSignedTokens(w http.ResponseWriter, r *http.Request) {
	nonce := r.URL.Query().Get("nonce")

	s.mu.Lock()
	blinded, ok := s.nonces[nonce]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown nonce", http.StatusNotFound)
		return
	}

	signed := make([]token.SignedToken, len(blinded))
	encoded := make([]string, len(blinded))
	for i, b := range blinded {
		signed[i] = s.ConfirmationsKey.Sign(b)
		encoded[i] = signed[i].EncodeBase64()
	}
	proof, err := s.ConfirmationsKey.NewBatchDLEQProof(blinded, signed)
	if err != nil {
		http.Error(w, "proof failure", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batchProof":   proof.EncodeBase64(),
		"signedTokens": encoded,
		"publicKey":    s.ConfirmationsKey.PublicKey().EncodeBase64(),
	})
}

func (s *Server) handleCreateConfirmation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	transactionID := vars["transactionID"]
	credential := vars["credential"]

	payload, signature, preimage, err := confirmations.DecodeCredential(credential)
	if err != nil {
		http.Error(w, "malformed credential", http.StatusBadRequest)
		return
	}
	if !s.ConfirmationsKey.VerifyMessage(preimage, payload, signature) {
		http.Error(w, "invalid credential signature", http.StatusBadRequest)
		return
	}

	var p struct {
		BlindedPaymentTokens []string `json:"blindedPaymentTokens"`
		TransactionID        string   `json:"transactionId"`
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil ||
		p.TransactionID != transactionID || len(p.BlindedPaymentTokens) != 1 {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	blinded, err := token.BlindedTokenFromBase64(p.BlindedPaymentTokens[0])
	if err != nil {
		http.Error(w, "malformed blinded token", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spent[preimage] {
		http.Error(w, "token already spent", http.StatusConflict)
		return
	}
	s.spent[preimage] = true
	s.confirmations[transactionID] = confirmationRecord{blindedToken: blinded, payload: payload}

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleCreateNonRewardConfirmation(w http.ResponseWriter, r *http.Request) {
	transactionID := mux.Vars(r)["transactionID"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	var p struct {
		TransactionID string `json:"transactionId"`
		Type          string `json:"type"`
	}
	if err := json.Unmarshal(body, &p); err != nil ||
		p.TransactionID != transactionID || p.Type == "" {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nonReward[transactionID] {
		http.Error(w, "confirmation exists", http.StatusConflict)
		return
	}
	s.nonReward[transactionID] = true

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handlePaymentToken(w http.ResponseWriter, r *http.Request) {
	transactionID := mux.Vars(r)["transactionID"]

	s.mu.Lock()
	record, ok := s.confirmations[transactionID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown confirmation", http.StatusNotFound)
		return
	}

	signed := s.PaymentsKey.Sign(record.blindedToken)
	proof, err := s.PaymentsKey.NewBatchDLEQProof(
		[]token.BlindedToken{record.blindedToken}, []token.SignedToken{signed})
	if err != nil {
		http.Error(w, "proof failure", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id": transactionID,
		"paymentToken": map[string]any{
			"publicKey":    s.PaymentsKey.PublicKey().EncodeBase64(),
			"batchProof":   proof.EncodeBase64(),
			"signedTokens": []string{signed.EncodeBase64()},
		},
	})
}

func (s *Server) handleRedeemPayments(w http.ResponseWriter, r *http.Request) {
	paymentID := mux.Vars(r)["paymentID"]
	body, ok := s.verifyWalletRequest(w, r, paymentID)
	if !ok {
		return
	}

	var req struct {
		Payload            string `json:"payload"`
		PaymentCredentials []struct {
			Credential struct {
				Signature string `json:"signature"`
				T         string `json:"t"`
			} `json:"credential"`
			PublicKey string `json:"publicKey"`
		} `json:"paymentCredentials"`
	}
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range req.PaymentCredentials {
		if s.cashed[c.Credential.T] {
			http.Error(w, "payment token already cashed", http.StatusConflict)
			return
		}
		if !s.PaymentsKey.VerifyMessage(c.Credential.T, req.Payload, c.Credential.Signature) {
			http.Error(w, "invalid payment credential", http.StatusBadRequest)
			return
		}
	}
	for _, c := range req.PaymentCredentials {
		s.cashed[c.Credential.T] = true
	}
	s.redeemedValue += len(req.PaymentCredentials)

	w.WriteHeader(http.StatusOK)
}

// verifyWalletRequest checks the digest and signature headers against the
// registered wallet key and returns the request body.
func (s *Server) verifyWalletRequest(w http.ResponseWriter, r *http.Request, paymentID string) (string, bool) {
	s.mu.Lock()
	publicKey, ok := s.wallets[paymentID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown wallet", http.StatusNotFound)
		return "", false
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return "", false
	}

	if !wallet.VerifyRequestSignature(publicKey, string(body),
		r.Header.Get("digest"), r.Header.Get("signature")) {
		http.Error(w, "invalid request signature", http.StatusUnauthorized)
		return "", false
	}
	return string(body), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Println("adserver: failed to encode response:", err)
	}
}
