package utils

import (
	"net"
	"net/url"
	"strings"
)

// AllowedOrigin checks whether an Origin header value should be trusted.
// Local deployments are allowed by default: localhost, private/RFC1918
// addresses, link-local addresses, .local hostnames, and single-label LAN
// names. Anything else must appear in the configured origin list.
func AllowedOrigin(origin string, configured []string) bool {
	if origin == "" {
		return false
	}

	for _, allowed := range configured {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), strings.TrimRight(origin, "/")) {
			return true
		}
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	hostname := parsed.Hostname()

	if hostname == "localhost" {
		return true
	}
	if strings.HasSuffix(hostname, ".local") {
		return true
	}
	// Single-label hostnames are LAN names.
	if !strings.Contains(hostname, ".") {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return isPrivateIP(ip)
	}
	return false
}

// isPrivateIP returns true for RFC1918, loopback, and link-local addresses.
func isPrivateIP(ip net.IP) bool {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
