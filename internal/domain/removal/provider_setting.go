package removal

import (
	"github.com/google/uuid"
)

// Provider keys for the five external services we propagate to. The set is
// fixed at build time; per-organization enablement is data.
const (
	ProviderYtel     = "ytel"
	ProviderGenesys  = "genesys"
	ProviderDNCScrub = "dncscrub"
	ProviderCCC      = "ccc"
	ProviderFilevine = "filevine"
)

// AllProviderKeys returns every known provider key in a stable order
func AllProviderKeys() []string {
	return []string{ProviderYtel, ProviderGenesys, ProviderDNCScrub, ProviderCCC, ProviderFilevine}
}

// IsKnownProvider reports whether key names one of the five integrations
func IsKnownProvider(key string) bool {
	switch key {
	case ProviderYtel, ProviderGenesys, ProviderDNCScrub, ProviderCCC, ProviderFilevine:
		return true
	}
	return false
}

// ProviderSetting is per-organization provider configuration, consumed
// read-only by the core. A disabled provider is a capability gate: attempts
// for it are recorded as skipped without an adapter call.
type ProviderSetting struct {
	OrganizationID uuid.UUID         `json:"organization_id"`
	ProviderKey    string            `json:"provider_key"`
	Enabled        bool              `json:"enabled"`
	Credentials    map[string]string `json:"credentials,omitempty"`
}

// IsUsable reports whether the orchestrator may call this provider's adapter
func (s *ProviderSetting) IsUsable() bool {
	return s != nil && s.Enabled
}
