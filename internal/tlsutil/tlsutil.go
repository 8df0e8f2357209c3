// Package tlsutil provides centralized TLS and transport configuration for
// every outbound HTTP client in claudegate.
// 安全加固：TLS 1.2+，仅 AEAD 密码套件，不读取环境代理。
package tlsutil

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// DialFunc matches http.Transport.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// TransportOptions tunes SecureTransportWith.
type TransportOptions struct {
	// Dial replaces the default dialer. The SSRF-safe client injects an
	// address-checking dialer here.
	Dial DialFunc

	// ResponseHeaderTimeout bounds the wait for response headers. Zero means
	// no transport-level limit.
	ResponseHeaderTimeout time.Duration

	// MaxIdleConnsPerHost defaults to 16.
	MaxIdleConnsPerHost int
}

// DefaultTLSConfig returns a hardened TLS configuration.
// MinVersion TLS 1.2, AEAD-only cipher suites.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// DefaultDialer is the dialer used when TransportOptions.Dial is nil.
func DefaultDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
}

// SecureTransport returns an http.Transport with TLS hardening and default dialing.
func SecureTransport() *http.Transport {
	return SecureTransportWith(TransportOptions{})
}

// SecureTransportWith returns a hardened transport using opts.
// Proxy is always nil: an environment proxy would dial on our behalf and
// bypass any address check done in Dial.
func SecureTransportWith(opts TransportOptions) *http.Transport {
	dial := opts.Dial
	if dial == nil {
		dial = DefaultDialer().DialContext
	}
	perHost := opts.MaxIdleConnsPerHost
	if perHost <= 0 {
		perHost = 16
	}
	return &http.Transport{
		Proxy:                 nil,
		TLSClientConfig:       DefaultTLSConfig(),
		DialContext:           dial,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// SecureHTTPClient returns an http.Client with TLS hardening.
// A zero timeout leaves deadlines to the request context, which streaming
// callers need.
func SecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: SecureTransport(),
	}
}
