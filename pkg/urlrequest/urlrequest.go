// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package urlrequest is the transport boundary. Engines only ever see the
// request/response shapes below; the concrete transport is injected.
package urlrequest

import (
	"bytes"
	"io"
	"net/http"
	"time"
)

// Request is a wire request to the rewards server.
type Request struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        string
	ContentType string
}

// Response is the wire response delivered back to an engine.
type Response struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// Fetcher submits a request and returns the response. Implementations must
// be safe for concurrent use.
type Fetcher interface {
	Fetch(req Request) (Response, error)
}

// Client is the production Fetcher backed by net/http.
type Client struct {
	http *http.Client
}

// NewClient creates a Fetcher with a sane default timeout.
func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) Fetch(req Request) (Response, error) {
	var body io.Reader
	if req.Body != "" {
		body = bytes.NewReader([]byte(req.Body))
	}

	httpReq, err := http.NewRequest(req.Method, req.URL, body)
	if err != nil {
		return Response{}, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, err
	}

	headers := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}

	return Response{
		StatusCode: httpResp.StatusCode,
		Body:       string(respBody),
		Headers:    headers,
	}, nil
}
