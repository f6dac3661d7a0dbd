// Package router resolves inbound requests to configured upstream targets.
package router

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"simpleproxy-go/internal/config"
)

// Route is one compiled entry of the route table.
type Route struct {
	Host       string
	PathPrefix string
	Upstream   *url.URL
}

// Table is the immutable, ordered route table. It is built once at startup
// and shared read-only by every request, so no locking is needed.
type Table struct {
	routes []Route
}

// New compiles the configured routes, preserving declaration order.
func New(cfg *config.Config) (*Table, error) {
	routes := make([]Route, 0, len(cfg.Routes))
	for i, rc := range cfg.Routes {
		u, err := url.Parse(rc.Upstream)
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: parse upstream %q: %w", i, rc.Upstream, err)
		}
		routes = append(routes, Route{
			Host:       rc.Host,
			PathPrefix: rc.PathPrefix,
			Upstream:   u,
		})
	}
	return &Table{routes: routes}, nil
}

// Resolve returns the first route matching the request host and path, in
// declaration order. The second return value is false when no route matches.
func (t *Table) Resolve(host, path string) (*Route, bool) {
	hostname := stripPort(host)
	for i := range t.routes {
		if t.routes[i].matches(hostname, path) {
			return &t.routes[i], true
		}
	}
	return nil, false
}

// Len returns the number of configured routes.
func (t *Table) Len() int {
	return len(t.routes)
}

func (r *Route) matches(hostname, path string) bool {
	if r.Host != "" && r.Host != hostname {
		return false
	}
	if r.PathPrefix != "" && !strings.HasPrefix(path, r.PathPrefix) {
		return false
	}
	return true
}

// stripPort removes a trailing :port from a request host, so configured
// hosts match regardless of the port the client dialed.
func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
