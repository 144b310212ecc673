// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package responses provides a scripted transport for engine tests: each
// URL is mapped to a queue of canned responses, consumed in order.
package responses

import (
	"fmt"
	"strings"
	"sync"

	"github.com/luxfi/rewards/pkg/urlrequest"
)

// MockFetcher implements urlrequest.Fetcher from a response script.
type MockFetcher struct {
	mu        sync.Mutex
	responses map[string][]urlrequest.Response
	requests  []urlrequest.Request
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{responses: make(map[string][]urlrequest.Response)}
}

// Add queues responses for a URL suffix (path, or path?query). The last
// queued response repeats once the queue drains.
func (m *MockFetcher) Add(urlSuffix string, responses ...urlrequest.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[urlSuffix] = append(m.responses[urlSuffix], responses...)
}

// Set replaces any queued responses for a URL suffix. Used when a later
// response depends on what the engine sent earlier in the test.
func (m *MockFetcher) Set(urlSuffix string, responses ...urlrequest.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[urlSuffix] = responses
}

func (m *MockFetcher) Fetch(req urlrequest.Request) (urlrequest.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	for suffix, queue := range m.responses {
		if !strings.HasSuffix(req.URL, suffix) {
			continue
		}
		resp := queue[0]
		if len(queue) > 1 {
			m.responses[suffix] = queue[1:]
		}
		return resp, nil
	}
	return urlrequest.Response{}, fmt.Errorf("no scripted response for %s %s", req.Method, req.URL)
}

// Requests returns a copy of every request seen.
func (m *MockFetcher) Requests() []urlrequest.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]urlrequest.Request(nil), m.requests...)
}

// CallCount reports how many requests hit a URL suffix.
func (m *MockFetcher) CallCount(urlSuffix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, req := range m.requests {
		if strings.HasSuffix(req.URL, urlSuffix) {
			n++
		}
	}
	return n
}
