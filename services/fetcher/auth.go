package fetcher

import (
	"net/http"

	"rostercal/config"
)

const (
	userAgent    = "RosterCal/1.0 (Sports Calendar Aggregator)"
	acceptHeader = "text/calendar, application/calendar, text/plain, */*"
)

// applyHeaders sets the default headers, credentials, and conditional
// validators on an outgoing feed request. Accept-Encoding is left to the
// transport so gzip responses are decompressed transparently.
func applyHeaders(req *http.Request, auth config.AuthConfig, etag, lastModified string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Cache-Control", "no-cache")

	applyAuth(req, auth)

	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}
}

// applyAuth adds credentials according to the source's auth descriptor.
// OAuth2 sources carry client credentials for an external exchange; when
// a pre-issued token is present it is sent as a bearer token, otherwise
// the request goes out unauthenticated.
func applyAuth(req *http.Request, auth config.AuthConfig) {
	switch auth.Type {
	case config.AuthBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
	case config.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case config.AuthAPIKey:
		header := auth.APIKeyHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.Token)
	case config.AuthOAuth2:
		if auth.Token != "" {
			req.Header.Set("Authorization", "Bearer "+auth.Token)
		}
	}
}
