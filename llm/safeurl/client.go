package safeurl

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/BaSui01/claudegate/internal/tlsutil"
	"github.com/BaSui01/claudegate/types"
	"go.uber.org/zap"
)

// ClientOptions configures NewClient.
type ClientOptions struct {
	Timeout      time.Duration
	MaxRedirects int
}

// DefaultClientOptions returns conservative defaults for image fetches.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:      20 * time.Second,
		MaxRedirects: 3,
	}
}

// NewClient returns an http.Client whose every hop is checked: redirect
// targets are re-validated and the dialer only connects to addresses that
// passed CheckAddr at connect time, which closes the DNS rebinding window.
func (v *Validator) NewClient(opts ClientOptions) *http.Client {
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = 0
	}
	tr := tlsutil.SecureTransportWith(tlsutil.TransportOptions{
		Dial:                  v.DialContext(tlsutil.DefaultDialer()),
		ResponseHeaderTimeout: opts.Timeout,
	})
	return &http.Client{
		Timeout:       opts.Timeout,
		Transport:     tr,
		CheckRedirect: v.CheckRedirect(opts.MaxRedirects),
	}
}

// CheckRedirect returns an http.Client.CheckRedirect that fails closed.
func (v *Validator) CheckRedirect(maxRedirects int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			v.logger.Warn("redirect limit reached",
				zap.String("host", req.URL.Hostname()),
				zap.Int("hops", len(via)),
			)
			return types.NewSSRFError(types.ReasonRedirect, fmt.Sprintf("more than %d redirects", maxRedirects))
		}
		if err := v.Validate(req.Context(), req.URL.String()); err != nil {
			return err
		}
		return nil
	}
}

// DialContext wraps d so that connections only go to vetted addresses.
func (v *Validator) DialContext(d *net.Dialer) tlsutil.DialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, types.NewSSRFError(types.ReasonInvalidURL, "bad dial address").WithCause(err)
		}
		addrs, err := v.vetHost(ctx, host)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, a := range addrs {
			conn, err := d.DialContext(ctx, network, net.JoinHostPort(a.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}
