package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"simpleproxy-go/internal/model"
	"simpleproxy-go/internal/router"
	"simpleproxy-go/internal/service"
)

// ProxyHandler resolves inbound requests against the route table and relays
// the upstream response back to the client.
type ProxyHandler struct {
	routes    *router.Table
	forwarder *service.Forwarder
	logger    *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(routes *router.Table, fwd *service.Forwarder, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		routes:    routes,
		forwarder: fwd,
		logger:    logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request to the matched upstream and streams the
// response back. Requests with no matching route get a 404; upstream
// failures are mapped to gateway errors without touching other requests.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	rt, ok := h.routes.Resolve(req.Host, req.URL.Path)
	if !ok {
		h.logger.Debug("no route",
			"host", req.Host,
			"path", req.URL.Path,
		)
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no upstream configured for this host and path",
		})
	}

	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}

	pr := &model.ProxyRequest{
		Ctx:        req.Context(),
		Method:     req.Method,
		Host:       req.Host,
		Path:       req.URL.Path,
		RawPath:    req.URL.EscapedPath(),
		RawQuery:   req.URL.RawQuery,
		Header:     req.Header,
		Body:       req.Body,
		RemoteAddr: req.RemoteAddr,
		Scheme:     scheme,
	}

	resp, err := h.forwarder.Forward(pr, rt)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client, flushing each chunk
	// so trickle-fed upstreams (e.g. SSE) are not held in the response
	// buffer. If the copy fails mid-stream (client disconnect, network
	// error), the HTTP status code has already been sent, so the client
	// receives a truncated response with the original status. Closing the
	// body above releases the upstream connection in that case; we log the
	// error for observability.
	var dst io.Writer = c.Response()
	if f, ok := c.Response().Writer.(http.Flusher); ok {
		dst = &flushWriter{w: dst, f: f}
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// flushWriter pushes each written chunk to the client immediately.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if n > 0 {
		fw.f.Flush()
	}
	return n, err
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		// The client went away; this response is best-effort.
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
