package testutil

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"
)

// =============================================================================
// 🌐 模拟 DNS 解析器
// =============================================================================

// FakeResolver answers lookups from a fixed table and counts calls.
type FakeResolver struct {
	mu    sync.Mutex
	hosts map[string][]netip.Addr
	calls int
	Err   error
}

// NewFakeResolver builds a resolver from "host" -> "ip[,ip...]" pairs.
func NewFakeResolver(table map[string]string) *FakeResolver {
	r := &FakeResolver{hosts: make(map[string][]netip.Addr, len(table))}
	for host, ips := range table {
		for _, ip := range strings.Split(ips, ",") {
			ip = strings.TrimSpace(ip)
			if ip == "" {
				continue
			}
			r.hosts[host] = append(r.hosts[host], netip.MustParseAddr(ip))
		}
		if _, ok := r.hosts[host]; !ok {
			r.hosts[host] = nil
		}
	}
	return r
}

// LookupNetIP implements safeurl.Resolver.
func (r *FakeResolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	addrs, ok := r.hosts[host]
	if !ok {
		return nil, fmt.Errorf("lookup %s: no such host", host)
	}
	return append([]netip.Addr(nil), addrs...), nil
}

// Calls returns how many lookups were made.
func (r *FakeResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
