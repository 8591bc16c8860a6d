// Package netguard rejects outbound targets that would let a tool call
// reach loopback, link-local, or RFC1918 space (SSRF hardening for
// web_fetch and the browser bridge).
package netguard

import (
	"context"
	"fmt"
	"net"
	"strings"
)

var blockedSuffixes = []string{".localhost", ".local", ".internal"}

var blockedV4 = mustCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10",
)

var blockedV6 = mustCIDRs(
	"fc00::/7",
	"fe80::/10",
	"fec0::/10",
)

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("netguard: bad cidr %q: %v", c, err))
		}
		out = append(out, n)
	}
	return out
}

// Resolver resolves a hostname to its full address set. Swappable in tests.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// AssertPublicHostname validates that host does not name a private or
// local destination, resolving DNS (all records) when it is not an IP
// literal. Returns a descriptive error on rejection.
func AssertPublicHostname(ctx context.Context, host string, resolver Resolver) error {
	h := normalizeHost(host)
	if h == "" {
		return fmt.Errorf("empty hostname")
	}

	if h == "localhost" || h == "metadata.google.internal" {
		return fmt.Errorf("hostname %q is not allowed", host)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(h, suffix) {
			return fmt.Errorf("hostname %q is not allowed", host)
		}
	}

	if ip := net.ParseIP(h); ip != nil {
		if err := assertPublicIP(ip); err != nil {
			return fmt.Errorf("address %q: %w", host, err)
		}
		return nil
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, h)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", host, err)
	}
	for _, addr := range addrs {
		if err := assertPublicIP(addr.IP); err != nil {
			return fmt.Errorf("hostname %q resolves to blocked address %s: %w", host, addr.IP, err)
		}
	}
	return nil
}

// normalizeHost lowercases, strips a trailing dot, and removes IPv6 brackets.
func normalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ".")
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")
	return h
}

func assertPublicIP(ip net.IP) error {
	// IPv4-mapped IPv6 addresses are re-checked as their IPv4 form.
	if v4 := ip.To4(); v4 != nil {
		for _, n := range blockedV4 {
			if n.Contains(v4) {
				return fmt.Errorf("private or reserved range %s", n)
			}
		}
		return nil
	}

	if ip.IsUnspecified() || ip.IsLoopback() {
		return fmt.Errorf("loopback or unspecified address")
	}
	for _, n := range blockedV6 {
		if n.Contains(ip) {
			return fmt.Errorf("private or reserved range %s", n)
		}
	}
	return nil
}
