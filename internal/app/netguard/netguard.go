// Package netguard validates outbound request targets. It is shared by the
// engine's HTTP action, the integration verification worker, and the
// sandbox-fetch passthrough so the three cannot drift apart.
package netguard

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var blockedNets []*net.IPNet

func init() {
	for _, cidr := range []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"192.168.0.0/16",
		"172.16.0.0/12",
		"169.254.0.0/16",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("netguard: parse %s: %v", cidr, err))
		}
		blockedNets = append(blockedNets, network)
	}
}

// ValidateURL checks scheme and host before any connection is made. The
// post-resolution half of the guard runs in ResolveAndCheck, which the
// outbound clients install at their dial layer.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("scheme %q is not allowed", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("url has no host")
	}
	if err := CheckHost(host); err != nil {
		return nil, err
	}
	return parsed, nil
}

// CheckHost rejects loopback, link-local, and RFC1918 targets. Hostnames that
// are not literal addresses pass here and are re-checked post-resolution.
func CheckHost(host string) error {
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("host %q is not allowed", host)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	return CheckIP(ip)
}

// CheckIP rejects addresses inside any blocked range. IPv6-mapped IPv4
// addresses are normalized first.
func CheckIP(ip net.IP) error {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, network := range blockedNets {
		if network.Contains(ip) {
			return fmt.Errorf("address %s is not allowed", ip)
		}
	}
	return nil
}

// ResolveAndCheck resolves host and applies CheckIP to every answer,
// returning the vetted addresses for the caller to dial. The guard therefore
// holds both before DNS resolution (ValidateURL) and again at connect time:
// a DNS name pointing at a reserved address is rejected here even though it
// passed CheckHost. Literal addresses skip DNS.
func ResolveAndCheck(ctx context.Context, host string) ([]net.IP, error) {
	host = strings.Trim(host, "[]")
	if err := CheckHost(host); err != nil {
		return nil, err
	}
	if ip := net.ParseIP(host); ip != nil {
		if err := CheckIP(ip); err != nil {
			return nil, err
		}
		return []net.IP{ip}, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if err := CheckIP(addr.IP); err != nil {
			return nil, err
		}
		ips = append(ips, addr.IP)
	}
	return ips, nil
}
