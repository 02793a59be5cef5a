/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
)

// DefaultRelevantHeaders are the request headers that make two otherwise equal requests different.
var DefaultRelevantHeaders = []string{"Authorization", "Accept", "Content-Type"}

// RequestKey returns the canonical signature of a request as a hex-encoded SHA-256 digest.
// Requests are logically identical when they have the same method (case-insensitive),
// the same URL up to query parameter order and host case, the same body,
// and the same values of the relevant headers (DefaultRelevantHeaders if nil).
func RequestKey(method, rawURL string, header http.Header, body []byte, relevantHeaders []string) string {
	if relevantHeaders == nil {
		relevantHeaders = DefaultRelevantHeaders
	}
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(canonicalURL(rawURL)))
	h.Write([]byte{0})
	bodySum := sha256.Sum256(body)
	h.Write(bodySum[:])
	for _, name := range relevantHeaders {
		h.Write([]byte{0})
		h.Write([]byte(http.CanonicalHeaderKey(name)))
		h.Write([]byte{':'})
		h.Write([]byte(strings.Join(header.Values(name), ",")))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawQuery = u.Query().Encode() // Encode sorts by key
	return u.String()
}
