package bridge

import (
	"fmt"

	"github.com/gobwas/glob"
)

// DefaultRestrictedOrigins are URL patterns no operation may run in.
var DefaultRestrictedOrigins = []string{
	"chrome://*",
	"chrome-extension://*",
	"devtools://*",
	"view-source:*",
	"https://chrome.google.com/webstore/*",
}

// OriginPolicy decides which page URLs accept remote operations.
type OriginPolicy struct {
	allowedPatterns []glob.Glob
	deniedPatterns  []glob.Glob
}

// NewOriginPolicy compiles URL glob patterns. Denied patterns take
// precedence; with no allowed patterns every URL not denied is allowed.
func NewOriginPolicy(allowed, denied []string) (*OriginPolicy, error) {
	p := &OriginPolicy{}

	for _, pattern := range allowed {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed origin pattern '%s': %w", pattern, err)
		}
		p.allowedPatterns = append(p.allowedPatterns, g)
	}

	for _, pattern := range denied {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid restricted origin pattern '%s': %w", pattern, err)
		}
		p.deniedPatterns = append(p.deniedPatterns, g)
	}

	return p, nil
}

// IsAllowed reports whether operations may run in a page at url.
func (p *OriginPolicy) IsAllowed(url string) bool {
	if p == nil {
		return true
	}

	for _, pattern := range p.deniedPatterns {
		if pattern.Match(url) {
			return false
		}
	}

	if len(p.allowedPatterns) == 0 {
		return true
	}

	for _, pattern := range p.allowedPatterns {
		if pattern.Match(url) {
			return true
		}
	}

	return false
}
