package safeurl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/BaSui01/claudegate/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🛡️ SSRF 地址规则
// =============================================================================

// Resolver looks up the addresses of a hostname. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// metadataAddrs are cloud instance-metadata endpoints. Most already fall in a
// blocked range; listing them separately gives a precise reason in logs.
var metadataAddrs = map[netip.Addr]struct{}{
	netip.MustParseAddr("169.254.169.254"): {}, // AWS, GCP, Azure, OpenStack
	netip.MustParseAddr("169.254.170.2"):   {}, // AWS ECS task metadata
	netip.MustParseAddr("fd00:ec2::254"):   {}, // AWS IMDS over IPv6
	netip.MustParseAddr("100.100.100.200"): {}, // Alibaba Cloud
	netip.MustParseAddr("192.0.0.192"):     {}, // Oracle Cloud
}

// blockedPrefixes covers special-purpose ranges that netip's predicates miss.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("100::/64"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("fec0::/10"),
}

var (
	sixToFour = netip.MustParsePrefix("2002::/16")

	// embedsV4Tail carries an IPv4 destination in the last four bytes:
	// NAT64 well-known and local-use, IPv4-compatible and IPv4-translated.
	embedsV4Tail = []netip.Prefix{
		netip.MustParsePrefix("64:ff9b::/96"),
		netip.MustParsePrefix("64:ff9b:1::/48"),
		netip.MustParsePrefix("::/96"),
		netip.MustParsePrefix("::ffff:0:0/96"),
	}

	defaultHosts = []string{
		"localhost",
		"localhost.localdomain",
		"ip6-localhost",
		"ip6-loopback",
		"metadata",
		"metadata.google.internal",
		"metadata.goog",
		"instance-data",
		"instance-data.ec2.internal",
		"metadata.azure.com",
		"metadata.azure.internal",
	}
	defaultSuffixes = []string{".localhost", ".internal", ".local"}
)

// CheckAddr reports why addr may not be contacted, or "" when it is public.
func CheckAddr(addr netip.Addr) types.Reason {
	if !addr.IsValid() {
		return types.ReasonInvalidURL
	}
	addr = addr.WithZone("").Unmap()
	if _, ok := metadataAddrs[addr]; ok {
		return types.ReasonMetadata
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() {
		return types.ReasonPrivateAddress
	}
	if addr.Is4() && addr == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return types.ReasonPrivateAddress
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return types.ReasonPrivateAddress
		}
	}

	// IPv6 forms that embed an IPv4 destination.
	if addr.Is6() {
		b := addr.As16()
		for _, p := range embedsV4Tail {
			if p.Contains(addr) {
				return CheckAddr(netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}))
			}
		}
		if sixToFour.Contains(addr) {
			return CheckAddr(netip.AddrFrom4([4]byte{b[2], b[3], b[4], b[5]}))
		}
	}
	return ""
}

// =============================================================================
// 🔍 Validator
// =============================================================================

// Validator decides whether a user-supplied URL may be fetched.
type Validator struct {
	resolver Resolver
	hosts    map[string]struct{}
	suffixes []string
	onBlock  func(reason types.Reason)
	logger   *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithResolver replaces the DNS resolver.
func WithResolver(r Resolver) Option {
	return func(v *Validator) { v.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithBlockedHosts adds hostnames to the deny list.
func WithBlockedHosts(hosts ...string) Option {
	return func(v *Validator) {
		for _, h := range hosts {
			v.hosts[normalizeHost(h)] = struct{}{}
		}
	}
}

// WithBlockHook is called once per rejected URL, e.g. to count blocks.
func WithBlockHook(fn func(reason types.Reason)) Option {
	return func(v *Validator) { v.onBlock = fn }
}

// New creates a Validator using the system resolver.
func New(opts ...Option) *Validator {
	v := &Validator{
		resolver: net.DefaultResolver,
		hosts:    make(map[string]struct{}, len(defaultHosts)),
		suffixes: defaultSuffixes,
		logger:   zap.NewNop(),
	}
	for _, h := range defaultHosts {
		v.hosts[h] = struct{}{}
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With(zap.String("component", "safeurl"))
	return v
}

// Validate returns nil when rawURL is https and every address its host
// resolves to is public. Otherwise it returns an SSRFBlocked *types.Error.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return v.block("", types.ReasonInvalidURL, "unparseable url", err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return v.block(u.Hostname(), types.ReasonScheme, fmt.Sprintf("scheme %q not allowed", u.Scheme), nil)
	}
	host := normalizeHost(u.Hostname())
	if host == "" {
		return v.block("", types.ReasonInvalidURL, "missing host", nil)
	}
	_, err = v.vetHost(ctx, host)
	return err
}

// vetHost returns the addresses host may be dialed on.
func (v *Validator) vetHost(ctx context.Context, host string) ([]netip.Addr, error) {
	host = normalizeHost(host)
	if _, ok := v.hosts[host]; ok {
		return nil, v.block(host, types.ReasonBlockedHost, "host on deny list", nil)
	}
	for _, s := range v.suffixes {
		if strings.HasSuffix(host, s) {
			return nil, v.block(host, types.ReasonBlockedHost, "reserved domain suffix", nil)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if reason := CheckAddr(addr); reason != "" {
			return nil, v.block(host, reason, "literal address not allowed", nil)
		}
		return []netip.Addr{addr.WithZone("")}, nil
	}
	// Legacy numeric forms (2130706433, 0x7f.1, 017700000001) parse as IPs in
	// some resolvers but not in netip.
	if looksNumeric(host) {
		return nil, v.block(host, types.ReasonBlockedHost, "ambiguous numeric host", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}
	addrs, err := v.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextError(ctxErr)
		}
		return nil, v.block(host, types.ReasonResolution, "lookup failed", err)
	}
	if len(addrs) == 0 {
		return nil, v.block(host, types.ReasonResolution, "no addresses", nil)
	}
	for _, a := range addrs {
		if reason := CheckAddr(a); reason != "" {
			return nil, v.block(host, reason, fmt.Sprintf("resolves to %s", a), nil)
		}
	}
	return addrs, nil
}

func (v *Validator) block(host string, reason types.Reason, msg string, cause error) error {
	v.logger.Warn("url blocked",
		zap.String("host", host),
		zap.String("reason", string(reason)),
		zap.String("detail", msg),
		zap.Error(cause),
	)
	if v.onBlock != nil {
		v.onBlock(reason)
	}
	return types.NewSSRFError(reason, msg).WithCause(cause)
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.KindTimeout, "url resolution timed out").WithCause(err)
	}
	return types.NewError(types.KindCancelled, "url resolution cancelled").WithCause(err)
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")
	return strings.TrimSuffix(h, ".")
}

// looksNumeric reports hosts made only of digits, dots and hex markers.
func looksNumeric(h string) bool {
	if h == "" {
		return false
	}
	for _, label := range strings.Split(h, ".") {
		l := strings.TrimPrefix(label, "0x")
		if l == "" {
			continue
		}
		for _, r := range l {
			isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
			if !isHex {
				return false
			}
		}
		if label == l && strings.ContainsAny(l, "abcdef") {
			return false
		}
	}
	return true
}
