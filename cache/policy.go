/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vasayxtx/go-glob"
)

// Policy defaults.
const (
	DefaultMaxEntrySize = 100 * 1024
	DefaultTTL          = 5 * time.Minute
)

// TTLRule assigns a TTL to responses whose URL path matches the glob pattern.
type TTLRule struct {
	Pattern string        `mapstructure:"pattern" yaml:"pattern" json:"pattern"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

type compiledRule struct {
	match func(string) bool
	ttl   time.Duration
}

// Policy decides whether a response may be stored and for how long.
type Policy struct {
	maxEntrySize int
	defaultTTL   time.Duration
	rules        []compiledRule
}

// NewPolicy creates a new Policy. Zero maxEntrySize and defaultTTL mean package defaults.
func NewPolicy(maxEntrySize int, defaultTTL time.Duration, rules []TTLRule) (*Policy, error) {
	if maxEntrySize < 0 {
		return nil, fmt.Errorf("max entry size must be greater or equal to 0")
	}
	if maxEntrySize == 0 {
		maxEntrySize = DefaultMaxEntrySize
	}
	if defaultTTL < 0 {
		return nil, fmt.Errorf("default TTL must be greater or equal to 0")
	}
	if defaultTTL == 0 {
		defaultTTL = DefaultTTL
	}
	p := &Policy{maxEntrySize: maxEntrySize, defaultTTL: defaultTTL}
	for i, r := range rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("rule #%d: pattern is required", i+1)
		}
		if r.TTL <= 0 {
			return nil, fmt.Errorf("rule #%d (%s): TTL must be positive", i+1, r.Pattern)
		}
		p.rules = append(p.rules, compiledRule{match: glob.Compile(r.Pattern), ttl: r.TTL})
	}
	return p, nil
}

// MaxEntrySize returns the maximum size of a cacheable body.
func (p *Policy) MaxEntrySize() int {
	return p.maxEntrySize
}

// CacheableMethod tells whether responses to the method are cached.
// Only GET and HEAD are, unless the caller gives an explicit TTL.
func (p *Policy) CacheableMethod(method string, explicitTTL time.Duration) bool {
	if explicitTTL > 0 {
		return true
	}
	m := strings.ToUpper(method)
	return m == http.MethodGet || m == http.MethodHead
}

// CacheableSize tells whether a body of the given size may be stored: non-empty and at most MaxEntrySize.
func (p *Policy) CacheableSize(size int) bool {
	return size > 0 && size <= p.maxEntrySize
}

// TTL returns the explicit TTL if positive, else the TTL of the first rule matching the URL path, else the default one.
func (p *Policy) TTL(rawURL string, explicitTTL time.Duration) time.Duration {
	if explicitTTL > 0 {
		return explicitTTL
	}
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	for _, r := range p.rules {
		if r.match(path) {
			return r.ttl
		}
	}
	return p.defaultTTL
}
