package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeFeedURL prepares a configured feed URL for fetching. Calendar
// apps hand out webcal:// URLs, which are plain HTTPS underneath; some
// hosted feeds also contain unencoded spaces in their paths.
func NormalizeFeedURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty URL")
	}

	if strings.HasPrefix(strings.ToLower(raw), "webcal://") {
		raw = "https://" + raw[len("webcal://"):]
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host")
	}

	// Re-encode path and query so raw spaces become %20.
	encoded := parsed.Scheme + "://" + parsed.Host + parsed.EscapedPath()
	if parsed.RawQuery != "" {
		encoded += "?" + strings.ReplaceAll(parsed.RawQuery, " ", "%20")
	}
	return encoded, nil
}
