// internal/security/guard.go
package security

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"github.com/valpere/ReviewScrapexter/internal/config"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

// ErrRejectedURL is wrapped by every Guard rejection
var ErrRejectedURL = errors.New("url rejected by policy")

const defaultMaxURLLength = 2048

// Guard screens caller-supplied locator URLs before a job is accepted.
// It only inspects the URL text; hostnames are not resolved.
type Guard struct {
	allowedSchemes []string
	blockedDomains []string
	maxURLLength   int
	allowPrivate   bool
}

// NewGuard builds a guard from the server URL policy
func NewGuard(cfg config.URLPolicyConfig) *Guard {
	g := &Guard{
		allowedSchemes: []string{"https", "http"},
		maxURLLength:   cfg.MaxURLLength,
		allowPrivate:   cfg.AllowPrivate,
	}
	if g.maxURLLength <= 0 {
		g.maxURLLength = defaultMaxURLLength
	}
	for _, d := range cfg.BlockedDomains {
		if d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), "."); d != "" {
			g.blockedDomains = append(g.blockedDomains, d)
		}
	}
	return g
}

// CheckRequest applies CheckURL to every locator in req. A nil Guard accepts everything.
func (g *Guard) CheckRequest(req types.JobRequest) error {
	if g == nil {
		return nil
	}
	for _, u := range req.URLs {
		if err := g.CheckURL(u); err != nil {
			return err
		}
	}
	if req.ShoppingURL != "" {
		return g.CheckURL(req.ShoppingURL)
	}
	return nil
}

// CheckURL rejects overlong URLs, disallowed schemes, blocked domains and,
// unless private targets are allowed, loopback or private addresses.
func (g *Guard) CheckURL(raw string) error {
	if len(raw) > g.maxURLLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrRejectedURL, len(raw), g.maxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejectedURL, err)
	}
	if !g.isSchemeAllowed(u.Scheme) {
		return fmt.Errorf("%w: scheme %q not allowed", ErrRejectedURL, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrRejectedURL)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrRejectedURL)
	}
	if g.isDomainBlocked(host) {
		return fmt.Errorf("%w: domain %s is blocked", ErrRejectedURL, host)
	}
	if !g.allowPrivate && isInternalHost(host) {
		return fmt.Errorf("%w: %s is not a public address", ErrRejectedURL, host)
	}
	return nil
}

func (g *Guard) isSchemeAllowed(scheme string) bool {
	for _, allowed := range g.allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func (g *Guard) isDomainBlocked(host string) bool {
	for _, blocked := range g.blockedDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

func isInternalHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		// bare integers such as http://2130706433/ are dialed as IPv4
		return isDecimal(host)
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() || addr.IsMulticast()
}

func isDecimal(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
