package credential

import (
	"fmt"
	"strings"
)

// Tier is the access level a credential carries on the backend.
type Tier string

const (
	// TierTop may manage every environment of the organisation.
	TierTop Tier = "APP_ADMIN"
	// TierScopedAdmin may read and write inside one environment.
	TierScopedAdmin Tier = "ENV_ADMIN"
	// TierScopedReadOnly may only read inside one environment.
	TierScopedReadOnly Tier = "ENV_READ_ONLY"
)

// ParseTier maps the backend's key type vocabulary onto a Tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierTop:
		return TierTop, nil
	case TierScopedAdmin:
		return TierScopedAdmin, nil
	case TierScopedReadOnly:
		return TierScopedReadOnly, nil
	}
	return "", fmt.Errorf("unknown key type %q", s)
}

func (t Tier) IsScoped() bool {
	return t == TierScopedAdmin || t == TierScopedReadOnly
}

func (t Tier) CanWrite() bool {
	return t == TierTop || t == TierScopedAdmin
}

func (t Tier) String() string {
	return string(t)
}

// KeyInfo is the result of classifying a credential.
type KeyInfo struct {
	Tier    Tier
	ScopeID *int64 // environment the key is bound to; nil for TierTop
}

// Validate checks that ScopeID is present exactly when the tier is scoped.
func (k KeyInfo) Validate() error {
	switch {
	case k.Tier == TierTop && k.ScopeID != nil:
		return fmt.Errorf("%s key must not carry a scope id", k.Tier)
	case k.Tier.IsScoped() && k.ScopeID == nil:
		return fmt.Errorf("%s key requires a scope id", k.Tier)
	case k.Tier != TierTop && !k.Tier.IsScoped():
		return fmt.Errorf("unknown tier %q", k.Tier)
	}
	return nil
}

const maskPrefixLen = 6

// Mask renders a credential safe for logs: a short prefix and an ellipsis.
// Short credentials are masked completely.
func Mask(credential string) string {
	runes := []rune(credential)
	if len(runes) < 10 {
		return "***"
	}
	return string(runes[:maskPrefixLen]) + "..."
}
