// Package proxy forwards gateway routes to the backing services.
package proxy

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/userpreference/platform/shared/logging"
	"github.com/userpreference/platform/shared/middleware"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderEmail  = "X-User-Email"
)

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

type Proxy struct {
	client *http.Client
}

func New(timeout time.Duration) *Proxy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Proxy{client: &http.Client{Timeout: timeout}}
}

// To forwards the request unchanged to serviceURL. Identity headers from the
// caller are dropped and replaced with the identity established by
// AuthMiddleware, if any.
func (p *Proxy) To(serviceURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		targetURL := serviceURL + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			targetURL += "?" + c.Request.URL.RawQuery
		}

		var bodyBytes []byte
		if c.Request.Body != nil {
			bodyBytes, _ = io.ReadAll(c.Request.Body)
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, bytes.NewReader(bodyBytes))
		if err != nil {
			middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to create request")
			return
		}

		for key, values := range c.Request.Header {
			if hopHeaders[http.CanonicalHeaderKey(key)] {
				continue
			}
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
		req.Header.Del(HeaderUserID)
		req.Header.Del(HeaderEmail)
		if userID, ok := middleware.GetUserID(c); ok {
			req.Header.Set(HeaderUserID, userID)
		}
		if email, ok := middleware.GetEmail(c); ok && email != "" {
			req.Header.Set(HeaderEmail, email)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			slog.ErrorContext(c.Request.Context(), "error proxying request",
				"target", serviceURL, "path", c.Request.URL.Path, logging.FieldError, err)
			middleware.RespondWithError(c, http.StatusBadGateway, "Service unavailable")
			return
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			middleware.RespondWithError(c, http.StatusBadGateway, "Failed to read response")
			return
		}

		for key, values := range resp.Header {
			if hopHeaders[http.CanonicalHeaderKey(key)] {
				continue
			}
			for _, value := range values {
				c.Writer.Header().Add(key, value)
			}
		}
		c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), respBody)
	}
}
