// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx        context.Context
	Method     string
	Host       string
	Path       string
	RawPath    string // percent-encoded form of Path, as received on the wire
	RawQuery   string
	Header     http.Header
	Body       io.ReadCloser
	RemoteAddr string
	Scheme     string // "http" or "https", as negotiated with the client
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
