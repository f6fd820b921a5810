package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

//go:embed VERSION
var version string

// Version returns the build version embedded in the binary.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent is sent on every upstream request.
func UserAgent() string {
	return "OctoIT/" + Version()
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper and sets the User-Agent header.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns an http client with a default user-agent set. The
// underlying transport negotiates HTTP/2 with servers that support it.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: newTransport(),
			userAgent: UserAgent(),
		},
		Timeout: timeout,
	}
}

func newTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	t := base.Clone()
	// ConfigureTransport only fails if the transport was already configured
	// for h2, in which case the clone is still usable as-is.
	_ = http2.ConfigureTransport(t)
	return t
}
