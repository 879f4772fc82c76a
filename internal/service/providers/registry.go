package providers

import (
	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/infrastructure/config"
)

// Factory builds adapters per organization from endpoint configuration plus
// the organization's stored credentials. Endpoint config (URLs, timeouts) is
// process-wide; credentials come from the provider settings row.
type Factory struct {
	config *config.ProvidersConfig
}

// NewFactory creates an adapter factory
func NewFactory(cfg *config.ProvidersConfig) *Factory {
	return &Factory{config: cfg}
}

// ForSetting builds the adapter for one provider setting. Returns
// NotConfigured when the provider is disabled or has no credentials, and the
// orchestrator records the attempt as skipped.
func (f *Factory) ForSetting(setting *removal.ProviderSetting) (Adapter, error) {
	if setting == nil {
		return nil, domainerrors.NewNotConfiguredError("unknown")
	}
	if !setting.IsUsable() {
		return nil, domainerrors.NewNotConfiguredError(setting.ProviderKey)
	}

	creds := Credentials(setting.Credentials)

	switch setting.ProviderKey {
	case removal.ProviderYtel:
		ep := f.config.Ytel
		return NewYtelAdapter(YtelConfig{
			BaseURL:      ep.BaseURL,
			Timeout:      ep.Timeout,
			RateLimitRPS: ep.RateLimitRPS,
		}, creds), nil

	case removal.ProviderGenesys:
		ep := f.config.Genesys
		return NewGenesysAdapter(GenesysConfig{
			BaseURL:      ep.BaseURL,
			AuthURL:      ep.AuthURL,
			Timeout:      ep.Timeout,
			RateLimitRPS: ep.RateLimitRPS,
		}, creds), nil

	case removal.ProviderDNCScrub:
		ep := f.config.DNCScrub
		return NewDNCScrubAdapter(DNCScrubConfig{
			BaseURL:      ep.BaseURL,
			Timeout:      ep.Timeout,
			RateLimitRPS: ep.RateLimitRPS,
		}, creds), nil

	case removal.ProviderCCC:
		ep := f.config.CCC
		return NewCCCAdapter(CCCConfig{
			BaseURL:      ep.BaseURL,
			Timeout:      ep.Timeout,
			RateLimitRPS: ep.RateLimitRPS,
		}, creds), nil

	case removal.ProviderFilevine:
		ep := f.config.Filevine
		return NewFilevineAdapter(FilevineConfig{
			BaseURL:      ep.BaseURL,
			AuthURL:      ep.AuthURL,
			Timeout:      ep.Timeout,
			RateLimitRPS: ep.RateLimitRPS,
		}, creds), nil

	default:
		return nil, domainerrors.NewNotConfiguredError(setting.ProviderKey)
	}
}
