package handlers

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/oaipmh/internal/middleware"
	"github.com/charlesng35/oaipmh/internal/oai"
)

// requestContext returns the request context, or Background when the gin
// context carries no request.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}

// oaiRequest derives the engine input from an HTTP request. The base URL and
// the repository identifier both use the host without its port.
func oaiRequest(c *gin.Context) (oai.Request, error) {
	args, err := requestArgs(c.Request)
	if err != nil {
		return oai.Request{}, err
	}

	host := requestHost(c.Request)
	return oai.Request{
		BaseURL: requestScheme(c) + "://" + host + c.Request.URL.Path,
		Host:    host,
		Args:    args,
	}, nil
}

// requestArgs collects the OAI arguments. For POST the form body is used and
// the query string ignored.
func requestArgs(r *http.Request) (url.Values, error) {
	if r.Method != http.MethodPost {
		return r.URL.Query(), nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return r.PostForm, nil
}

func requestScheme(c *gin.Context) string {
	if middleware.IsHTTPS(c) {
		return "https"
	}
	return "http"
}

// requestHost returns the first X-Forwarded-Host, or the Host header, without
// port or IPv6 brackets.
func requestHost(r *http.Request) string {
	host := r.Host
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx != -1 {
			forwarded = forwarded[:idx]
		}
		host = strings.TrimSpace(forwarded)
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		host = "localhost"
	}
	return host
}
