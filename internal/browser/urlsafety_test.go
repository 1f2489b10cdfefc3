package browser

import (
	"net"
	"strings"
	"testing"
)

func TestPolicyValidate(t *testing.T) {
	strict := URLPolicy{BlockPrivateIPs: true}

	cases := []struct {
		name string
		url  string
		want string // "" allows; otherwise a substring of the refusal
	}{
		// The allowed cases need working DNS.
		{"public https", "https://google.com", ""},
		{"public http", "http://example.com", ""},
		{"port and path", "https://example.com:8080/a/b", ""},

		{"file scheme", "file:///etc/passwd", "scheme"},
		{"javascript scheme", "javascript:alert(1)", "scheme"},
		{"data scheme", "data:text/html,x", "scheme"},
		{"ftp scheme", "ftp://example.com", "scheme"},
		{"bare host without scheme", "example.com", "scheme"},

		{"localhost name", "http://localhost", "loopback"},
		{"loopback literal", "http://127.0.0.1:3000", "loopback"},
		{"loopback range end", "http://127.255.255.255", "loopback"},
		{"ipv6 loopback", "http://[::1]", "loopback"},

		{"private ten block", "http://10.0.0.1", "private"},
		{"private mid block", "http://172.16.0.1", "private"},
		{"private home block", "http://192.168.1.1", "private"},

		{"link-local", "http://169.254.1.1", "link-local"},
		{"metadata endpoint", "http://169.254.169.254/latest/meta-data/", "link-local"},
		{"metadata name", "http://metadata.google.internal", "cloud metadata hostname"},

		{"all zeroes", "http://0.0.0.0", "unspecified"},
		{"empty host", "http:///path", "empty hostname"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := strict.Validate(tc.url)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("Validate(%q) = %v, want nil", tc.url, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate(%q) = %v, want refusal mentioning %q", tc.url, err, tc.want)
			}
		})
	}
}

func TestPolicyAllowedDomains(t *testing.T) {
	policy := URLPolicy{
		AllowedDomains: []string{"example.com", "*.github.com"},
	}

	cases := []struct {
		name    string
		url     string
		blocked bool
	}{
		{"exact match", "https://example.com/page", false},
		{"exact match is not a suffix rule", "https://evil-example.com", true},
		{"subdomain of exact pattern", "https://sub.example.com", true},
		{"wildcard apex", "https://github.com", false},
		{"wildcard subdomain", "https://api.github.com", false},
		{"wildcard deep subdomain", "https://a.b.github.com", false},
		{"wildcard suffix trick", "https://notgithub.com", true},
		{"unlisted host", "https://example.org", true},
		{"scheme still enforced", "file:///etc/passwd", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := policy.Validate(tc.url)
			if (err != nil) != tc.blocked {
				t.Errorf("Validate(%q) = %v, blocked should be %v", tc.url, err, tc.blocked)
			}
		})
	}
}

func TestPolicyZeroValueSkipsIPChecks(t *testing.T) {
	// Without BlockPrivateIPs the policy only enforces scheme and host shape.
	var policy URLPolicy
	if err := policy.Validate("http://127.0.0.1"); err != nil {
		t.Errorf("zero policy should not resolve IPs: %v", err)
	}
	if err := policy.Validate("file:///etc/passwd"); err == nil {
		t.Error("scheme check must apply even for the zero policy")
	}
}

func TestBlockedIPReason(t *testing.T) {
	cases := []struct {
		ip   string
		want string
	}{
		{"8.8.8.8", ""},
		{"1.1.1.1", ""},
		{"127.0.0.1", "loopback address blocked"},
		{"127.255.255.255", "loopback address blocked"},
		{"::1", "loopback address blocked"},
		{"::ffff:127.0.0.1", "loopback address blocked"},
		{"10.0.0.1", "private network address blocked"},
		{"172.16.0.1", "private network address blocked"},
		{"172.31.255.255", "private network address blocked"},
		{"192.168.0.1", "private network address blocked"},
		{"fc00::1", "private network address blocked"},
		{"169.254.1.1", "link-local address blocked"},
		{"169.254.169.254", "link-local address blocked"},
		{"fe80::1", "link-local address blocked"},
		{"224.0.0.1", "multicast address blocked"},
		{"0.0.0.0", "unspecified address blocked"},
		{"::", "unspecified address blocked"},
	}

	for _, tc := range cases {
		ip := net.ParseIP(tc.ip)
		if ip == nil {
			t.Fatalf("bad test address %q", tc.ip)
		}
		if got := blockedIPReason(ip); got != tc.want {
			t.Errorf("blockedIPReason(%s) = %q, want %q", tc.ip, got, tc.want)
		}
	}
}

func TestMetadataNames(t *testing.T) {
	cases := []struct {
		host string
		want bool
	}{
		{"metadata.google.internal", true},
		{"sub.metadata.google.internal", true},
		{"Metadata.GOOG", true},
		{"metadata", true},
		{"kubernetes.default", true},
		{"kubernetes.default.svc", true},
		{"metadata.example.com", false},
		{"example.com", false},
		{"googlemetadata", false},
	}

	for _, tc := range cases {
		if got := isMetadataName(tc.host); got != tc.want {
			t.Errorf("isMetadataName(%q) = %v, want %v", tc.host, got, tc.want)
		}
	}
}
