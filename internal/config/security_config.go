package config

import (
	"fmt"
	"net/netip"
	"strings"
)

type SecurityConfig interface {
	// GetLoginRatePerMinute caps credential validation attempts per client address.
	// Zero disables the limiter.
	GetLoginRatePerMinute() int
	// GetTrustedProxies lists the proxies allowed to report the client address
	// through X-Forwarded-For. Empty means the connection address is always used.
	GetTrustedProxies() []netip.Prefix
}

type Security struct {
	s       *settings
	proxies []netip.Prefix
}

var _ SecurityConfig = Security{}

func (s Security) GetLoginRatePerMinute() int {
	return s.s.Login.RatePerMinute
}

func (s Security) GetTrustedProxies() []netip.Prefix {
	return s.proxies
}

// parseTrustedProxies accepts CIDR ranges and bare addresses.
func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("login.trusted_proxies: %w", err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("login.trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
