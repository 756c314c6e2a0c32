package netutil

import (
	"net"
	"testing"
)

func TestRestrictive(t *testing.T) {
	ipnet := func(s string) net.Addr { return &net.IPNet{IP: net.ParseIP(s), Mask: net.CIDRMask(24, 32)} }
	tests := []struct {
		name  string
		iface string
		addrs []net.Addr
		want  bool
	}{
		{"plain ethernet", "eth0", []net.Addr{ipnet("192.168.1.10")}, false},
		{"wireguard", "wg0", nil, true},
		{"openvpn", "tun0", nil, true},
		{"warp", "CloudflareWARP", nil, true},
		{"cgnat address", "en0", []net.Addr{ipnet("100.100.1.2")}, true},
		{"just outside cgnat", "en0", []net.Addr{ipnet("100.128.0.1")}, false},
		{"ipaddr form", "en1", []net.Addr{&net.IPAddr{IP: net.ParseIP("100.64.0.1")}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Restrictive(tt.iface, tt.addrs); got != tt.want {
				t.Fatalf("Restrictive(%s)=%v, want %v", tt.iface, got, tt.want)
			}
		})
	}
}
