package netguard

import (
	"context"
	"net"
	"testing"
)

type stubResolver struct {
	addrs []net.IPAddr
	err   error
}

func (s *stubResolver) LookupIPAddr(_ context.Context, _ string) ([]net.IPAddr, error) {
	return s.addrs, s.err
}

func TestAssertPublicHostname_BlockedNames(t *testing.T) {
	blocked := []string{
		"localhost",
		"LOCALHOST",
		"foo.localhost",
		"printer.local",
		"db.internal",
		"metadata.google.internal",
		"metadata.google.internal.",
	}
	for _, host := range blocked {
		if err := AssertPublicHostname(context.Background(), host, &stubResolver{}); err == nil {
			t.Errorf("%q should be rejected", host)
		}
	}
}

func TestAssertPublicHostname_IPLiterals(t *testing.T) {
	tests := []struct {
		host    string
		allowed bool
	}{
		{"127.0.0.1", false},
		{"10.1.2.3", false},
		{"169.254.169.254", false},
		{"172.16.0.1", false},
		{"172.32.0.1", true}, // just outside 172.16/12
		{"192.168.1.1", false},
		{"100.64.0.1", false},
		{"0.0.0.0", false},
		{"8.8.8.8", true},
		{"1.1.1.1", true},
		{"::1", false},
		{"::", false},
		{"[::1]", false},
		{"fc00::1", false},
		{"fe80::1", false},
		{"fec0::1", false},
		{"::ffff:127.0.0.1", false}, // v4-mapped rechecked as v4
		{"::ffff:8.8.8.8", true},
		{"2607:f8b0::1", true},
	}
	for _, tt := range tests {
		err := AssertPublicHostname(context.Background(), tt.host, &stubResolver{})
		if tt.allowed && err != nil {
			t.Errorf("%q should be allowed, got %v", tt.host, err)
		}
		if !tt.allowed && err == nil {
			t.Errorf("%q should be rejected", tt.host)
		}
	}
}

func TestAssertPublicHostname_DNSRejection(t *testing.T) {
	// One public record plus one private record: the private one rejects.
	r := &stubResolver{addrs: []net.IPAddr{
		{IP: net.ParseIP("93.184.216.34")},
		{IP: net.ParseIP("10.0.0.5")},
	}}
	if err := AssertPublicHostname(context.Background(), "example.com", r); err == nil {
		t.Error("mixed public/private resolution should be rejected")
	}

	r = &stubResolver{addrs: []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}}
	if err := AssertPublicHostname(context.Background(), "example.com", r); err != nil {
		t.Errorf("public resolution should pass, got %v", err)
	}
}
