package browser

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
)

// URLPolicy decides which URLs a session may navigate to. The zero value
// admits any public host over http or https.
type URLPolicy struct {
	AllowedDomains  []string // host patterns; empty means no domain restriction
	BlockPrivateIPs bool     // resolve hosts and refuse loopback, private and metadata targets
}

// BlockedURLError reports a navigation target the policy refused.
type BlockedURLError struct {
	URL    string
	Reason string
}

func (e *BlockedURLError) Error() string {
	return "URL blocked: " + e.Reason
}

// Validate reports whether urlStr may be navigated to. The scheme and host
// shape checks always apply; the allow-list and the IP checks follow the
// policy fields.
//
// Resolving the host before navigation is what defeats SSRF tricks such as
// decimal or hex encoded addresses and public names that point at loopback.
func (p URLPolicy) Validate(urlStr string) error {
	u, err := url.Parse(urlStr)
	if err != nil {
		return &BlockedURLError{URL: urlStr, Reason: fmt.Sprintf("invalid URL: %v", err)}
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return &BlockedURLError{URL: urlStr, Reason: fmt.Sprintf("scheme %q not allowed, only http/https", u.Scheme)}
	}

	host := u.Hostname()
	if host == "" {
		return &BlockedURLError{URL: urlStr, Reason: "empty hostname"}
	}

	if len(p.AllowedDomains) > 0 && !hostAllowed(host, p.AllowedDomains) {
		return &BlockedURLError{URL: urlStr, Reason: fmt.Sprintf("host %q not in allowed domains", host)}
	}

	if !p.BlockPrivateIPs {
		return nil
	}

	if isMetadataName(host) {
		return &BlockedURLError{URL: urlStr, Reason: "cloud metadata hostname blocked: " + host}
	}

	ips, err := resolveHost(host)
	if err != nil {
		return &BlockedURLError{URL: urlStr, Reason: fmt.Sprintf("DNS resolution failed: %v", err)}
	}
	for _, ip := range ips {
		if reason := blockedIPReason(ip); reason != "" {
			L_debug("urlsafety: refused", "url", urlStr, "ip", ip.String(), "reason", reason)
			return &BlockedURLError{URL: urlStr, Reason: fmt.Sprintf("%s (%s resolves to %s)", reason, host, ip)}
		}
	}

	L_trace("urlsafety: passed", "url", urlStr, "host", host)
	return nil
}

// hostAllowed reports whether host matches any allow-list pattern. A bare
// name matches exactly, "*.name" matches the name and anything under it,
// and "*" admits everything.
func hostAllowed(host string, patterns []string) bool {
	host = strings.ToLower(host)
	for _, pat := range patterns {
		switch pat = strings.ToLower(strings.TrimSpace(pat)); {
		case pat == "":
		case pat == "*":
			return true
		case strings.HasPrefix(pat, "*."):
			if base := pat[2:]; host == base || strings.HasSuffix(host, "."+base) {
				return true
			}
		case host == pat:
			return true
		}
	}
	return false
}

// resolveHost turns a hostname into the addresses navigation would reach.
// Literal IPs skip DNS, so odd encodings are still caught when resolution
// is unavailable.
func resolveHost(host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	return net.LookupIP(host)
}

var ipBlocks = []struct {
	match  func(net.IP) bool
	reason string
}{
	{net.IP.IsLoopback, "loopback address blocked"},
	{net.IP.IsPrivate, "private network address blocked"},
	{net.IP.IsLinkLocalUnicast, "link-local address blocked"},
	{net.IP.IsMulticast, "multicast address blocked"},
	{net.IP.IsUnspecified, "unspecified address blocked"},
}

// blockedIPReason names why ip must not be reached, or returns "" for a
// public address. The net predicates unwrap IPv4-mapped IPv6 themselves,
// so ::ffff:127.0.0.1 lands in the loopback case. The 169.254.169.254
// metadata endpoint is covered by the link-local range.
func blockedIPReason(ip net.IP) string {
	for _, b := range ipBlocks {
		if b.match(ip) {
			return b.reason
		}
	}
	return ""
}

// Metadata service names that must never be fetched, no matter what they
// resolve to.
var metadataNames = map[string]bool{
	"metadata.google.internal": true,
	"metadata.goog":            true,
	"kubernetes.default.svc":   true,
	"kubernetes.default":       true,
	"metadata":                 true,
}

func isMetadataName(host string) bool {
	h := strings.ToLower(host)
	for {
		if metadataNames[h] {
			return true
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			return false
		}
		h = h[i+1:]
	}
}
