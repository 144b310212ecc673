// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package prefs is the host preference boundary. The embedding application
// typically maps this onto its own profile preference service; Memory is
// used in tests and by hosts without durable preferences.
package prefs

import (
	"sync"
	"time"
)

// Well-known preference keys.
const (
	KeyRewardsEnabled        = "rewards.enabled"
	KeyNextTokenRedemptionAt = "rewards.next_token_redemption_at"
	KeyHasRedeemedBefore     = "rewards.has_redeemed_payment_tokens"
)

// Store is the preference get/set surface consumed by the engines.
type Store interface {
	GetBool(key string) bool
	SetBool(key string, value bool)
	GetInt(key string) int64
	SetInt(key string, value int64)
	GetString(key string) string
	SetString(key string, value string)
	GetTime(key string) time.Time
	SetTime(key string, value time.Time)
}

// Memory is an in-memory Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]any)}
}

func (m *Memory) GetBool(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, _ := m.values[key].(bool)
	return v
}

func (m *Memory) SetBool(key string, value bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *Memory) GetInt(key string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, _ := m.values[key].(int64)
	return v
}

func (m *Memory) SetInt(key string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *Memory) GetString(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, _ := m.values[key].(string)
	return v
}

func (m *Memory) SetString(key string, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *Memory) GetTime(key string) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, _ := m.values[key].(time.Time)
	return v
}

func (m *Memory) SetTime(key string, value time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}
