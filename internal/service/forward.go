// Package service implements the core forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"simpleproxy-go/internal/client"
	"simpleproxy-go/internal/model"
	"simpleproxy-go/internal/router"
)

// hopByHopHeaders are connection-scoped and must never cross a proxy hop.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

const userAgent = "simpleproxy-go/1.0"

// Forwarder builds outbound requests from inbound ones and dispatches them
// to the resolved upstream. It holds no per-request state; a single instance
// serves all requests concurrently.
type Forwarder struct {
	client *client.UpstreamClient
	logger *slog.Logger
}

// NewForwarder creates a Forwarder.
func NewForwarder(c *client.UpstreamClient, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client: c,
		logger: logger.With("component", "forwarder"),
	}
}

// Forward sends a ProxyRequest to the route's upstream and returns the
// response with proxy-upstream hop-by-hop headers already removed. The
// caller is responsible for closing the response body.
//
// The inbound body is handed to the HTTP client as a stream; it is never
// buffered in full. Cancellation of pr.Ctx aborts the upstream exchange.
func (f *Forwarder) Forward(pr *model.ProxyRequest, rt *router.Route) (*model.ProxyResponse, error) {
	target := buildUpstreamURL(rt.Upstream, pr.Path, pr.RawPath, pr.RawQuery)
	header := f.outboundHeaders(pr)

	f.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"upstream", rt.Upstream.String(),
	)

	resp, err := f.client.DoStream(pr.Ctx, pr.Method, target, header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = resp.Header.Clone()
	RemoveHopByHop(resp.Header)
	return resp, nil
}

// buildUpstreamURL joins the upstream base URL with the inbound path and
// raw query, both preserved unmodified. rawPath is the percent-encoded path
// as received from the client; carrying it keeps encoded reserved characters
// (e.g. %2F) intact instead of re-escaping the decoded path.
func buildUpstreamURL(base *url.URL, path, rawPath, rawQuery string) string {
	if rawPath == "" {
		rawPath = path
	}
	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + path
	u.RawPath = strings.TrimSuffix(base.EscapedPath(), "/") + rawPath
	u.RawQuery = rawQuery
	return u.String()
}

// outboundHeaders clones the inbound headers, strips the client-proxy
// hop-by-hop set, and records the forwarding identity of the caller.
func (f *Forwarder) outboundHeaders(pr *model.ProxyRequest) http.Header {
	h := pr.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	RemoveHopByHop(h)

	// X-Forwarded-For is appended, never overwritten, so an existing proxy
	// chain survives. Clients may legally send it as several header lines;
	// fold them all into one before appending.
	if clientIP, _, err := net.SplitHostPort(pr.RemoteAddr); err == nil {
		if prior := strings.Join(h.Values("X-Forwarded-For"), ", "); prior != "" {
			h.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			h.Set("X-Forwarded-For", clientIP)
		}
	}
	if pr.Scheme != "" {
		h.Set("X-Forwarded-Proto", pr.Scheme)
	}
	if pr.Host != "" {
		h.Set("X-Forwarded-Host", pr.Host)
	}

	if h.Get("User-Agent") == "" {
		h.Set("User-Agent", userAgent)
	}
	return h
}

// RemoveHopByHop deletes hop-by-hop headers from h: any header named by a
// Connection token plus the standard fixed set.
func RemoveHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if token = strings.TrimSpace(token); token != "" {
				h.Del(token)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
