package provision

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// HTTPOptions controls the HTTP client used for provisioning round trips.
type HTTPOptions struct {
	Timeout             time.Duration
	TLSHandshakeTimeout time.Duration
	Transport           http.RoundTripper
}

// HTTPOption mutates HTTPOptions.
type HTTPOption func(*HTTPOptions)

// WithHTTPTimeout bounds a whole request, response body included.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(o *HTTPOptions) { o.Timeout = d }
}

// WithHTTPTransport overrides the default transport.
func WithHTTPTransport(rt http.RoundTripper) HTTPOption {
	return func(o *HTTPOptions) { o.Transport = rt }
}

// NewHTTPClient builds a client sized for a handful of sequential calls
// from an embedded device.
func NewHTTPClient(opts ...HTTPOption) *http.Client {
	options := HTTPOptions{
		Timeout:             10 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	transport := options.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        2,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: options.TLSHandshakeTimeout,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	return &http.Client{Timeout: options.Timeout, Transport: transport}
}
