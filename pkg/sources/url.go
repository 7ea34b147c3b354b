package sources

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// URLPolicy restricts the endpoints network sources may connect to.
// Secure schemes (https, wss) are always allowed.
type URLPolicy struct {
	// AllowInsecure permits http and ws.
	AllowInsecure bool
	// AllowLocalNetworks permits localhost and loopback, private or
	// link-local addresses.
	AllowLocalNetworks bool
}

// Check validates rawURL against the policy. IP literals are checked without
// DNS lookups; hostnames are only checked by name.
func (p URLPolicy) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid source URL")
	}

	switch parsed.Scheme {
	case "https", "wss":
	case "http", "ws":
		if !p.AllowInsecure {
			return errors.Errorf("insecure scheme %q is not allowed", parsed.Scheme)
		}
	default:
		return errors.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.New("source URL has no host")
	}

	if !p.AllowLocalNetworks {
		if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
			return errors.Errorf("local hostname %q is not allowed", host)
		}
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	if addr.Zone() != "" && !p.AllowLocalNetworks {
		return errors.Errorf("zoned address %q is not allowed", host)
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return errors.Errorf("address %q is not allowed", host)
	}
	if !p.AllowLocalNetworks &&
		(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()) {
		return errors.Errorf("local network address %q is not allowed", host)
	}
	return nil
}

func checkURL(policy *URLPolicy, rawURL string) error {
	if policy == nil {
		return nil
	}
	return policy.Check(rawURL)
}
