package database

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
)

// ProviderSettingRepository implements removal.ProviderSettingRepository.
// Settings are written by the organization-management surface, which is
// outside this service; this repository is read-only.
type ProviderSettingRepository struct {
	db *pgxpool.Pool
}

// NewProviderSettingRepository creates a new provider setting repository
func NewProviderSettingRepository(db *pgxpool.Pool) *ProviderSettingRepository {
	return &ProviderSettingRepository{db: db}
}

// FindByOrganization returns one setting per known provider key. Providers
// without a stored row are returned disabled so callers can record skips.
func (r *ProviderSettingRepository) FindByOrganization(ctx context.Context, orgID uuid.UUID) ([]*removal.ProviderSetting, error) {
	query := `
		SELECT organization_id, provider_key, enabled, credentials
		FROM provider_settings
		WHERE organization_id = $1
	`

	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		return nil, errors.NewInternalError("failed to list provider settings").WithCause(err)
	}
	defer rows.Close()

	stored := make(map[string]*removal.ProviderSetting)
	for rows.Next() {
		setting, err := scanProviderSetting(rows.Scan)
		if err != nil {
			return nil, err
		}
		stored[setting.ProviderKey] = setting
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate provider settings").WithCause(err)
	}

	settings := make([]*removal.ProviderSetting, 0, len(removal.AllProviderKeys()))
	for _, key := range removal.AllProviderKeys() {
		if setting, ok := stored[key]; ok {
			settings = append(settings, setting)
			continue
		}
		settings = append(settings, &removal.ProviderSetting{
			OrganizationID: orgID,
			ProviderKey:    key,
			Enabled:        false,
		})
	}
	return settings, nil
}

// Get returns the setting for one provider, disabled if no row exists
func (r *ProviderSettingRepository) Get(ctx context.Context, orgID uuid.UUID, providerKey string) (*removal.ProviderSetting, error) {
	if !removal.IsKnownProvider(providerKey) {
		return nil, errors.NewValidationError("UNKNOWN_PROVIDER", "unknown provider key: "+providerKey)
	}

	query := `
		SELECT organization_id, provider_key, enabled, credentials
		FROM provider_settings
		WHERE organization_id = $1 AND provider_key = $2
	`

	rows, err := r.db.Query(ctx, query, orgID, providerKey)
	if err != nil {
		return nil, errors.NewInternalError("failed to load provider setting").WithCause(err)
	}
	defer rows.Close()

	if rows.Next() {
		return scanProviderSetting(rows.Scan)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to load provider setting").WithCause(err)
	}

	return &removal.ProviderSetting{
		OrganizationID: orgID,
		ProviderKey:    providerKey,
		Enabled:        false,
	}, nil
}

func scanProviderSetting(scan func(dest ...any) error) (*removal.ProviderSetting, error) {
	var setting removal.ProviderSetting
	var credentials []byte

	if err := scan(&setting.OrganizationID, &setting.ProviderKey, &setting.Enabled, &credentials); err != nil {
		return nil, errors.NewInternalError("failed to scan provider setting").WithCause(err)
	}
	if len(credentials) > 0 {
		if err := json.Unmarshal(credentials, &setting.Credentials); err != nil {
			return nil, errors.NewInternalError("failed to unmarshal provider credentials").WithCause(err)
		}
	}
	return &setting, nil
}
