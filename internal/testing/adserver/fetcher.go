// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adserver

import (
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/luxfi/rewards/pkg/urlrequest"
)

// Fetcher routes engine requests straight into an http.Handler, no sockets
// involved.
type Fetcher struct {
	handler http.Handler
}

func NewFetcher(h http.Handler) *Fetcher {
	return &Fetcher{handler: h}
}

func (f *Fetcher) Fetch(req urlrequest.Request) (urlrequest.Response, error) {
	httpReq := httptest.NewRequest(req.Method, req.URL, strings.NewReader(req.Body))
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httpReq)

	headers := make(map[string]string, len(rec.Header()))
	for k := range rec.Header() {
		headers[k] = rec.Header().Get(k)
	}
	return urlrequest.Response{
		StatusCode: rec.Code,
		Body:       rec.Body.String(),
		Headers:    headers,
	}, nil
}
