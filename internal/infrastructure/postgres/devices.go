package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mealbridge/notification/internal/domain"
)

// DeviceStore is the PostgreSQL implementation of domain.DeviceStore.
type DeviceStore struct {
	pool *pgxpool.Pool
}

func NewDeviceStore(pool *pgxpool.Pool) *DeviceStore {
	return &DeviceStore{pool: pool}
}

// Upsert registers a device token. Re-registering an existing token
// reactivates it and may move it to a new recipient.
func (s *DeviceStore) Upsert(ctx context.Context, d domain.DeviceToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_tokens (token, recipient_id, platform, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, NOW(), NOW())
		ON CONFLICT (token) DO UPDATE SET
			recipient_id = EXCLUDED.recipient_id,
			platform = EXCLUDED.platform,
			is_active = TRUE,
			updated_at = NOW()
	`, d.Token, d.RecipientID, string(d.Platform))
	if err != nil {
		return fmt.Errorf("upsert device token: %w", err)
	}
	return nil
}

// ActiveForRecipient returns the most recently registered active token.
func (s *DeviceStore) ActiveForRecipient(ctx context.Context, recipientID string) (*domain.DeviceToken, error) {
	var d domain.DeviceToken
	var platform string
	err := s.pool.QueryRow(ctx, `
		SELECT token, recipient_id, platform, is_active, created_at, updated_at
		FROM device_tokens
		WHERE recipient_id = $1 AND is_active = TRUE
		ORDER BY created_at DESC
		LIMIT 1
	`, recipientID).Scan(&d.Token, &d.RecipientID, &platform, &d.IsActive,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNoActiveDevice
	}
	if err != nil {
		return nil, fmt.Errorf("fetch active device: %w", err)
	}
	d.Platform = domain.Platform(platform)
	return &d, nil
}

// Deactivate retires a single token. Unknown tokens are a no-op.
func (s *DeviceStore) Deactivate(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE device_tokens SET is_active = FALSE, updated_at = NOW()
		WHERE token = $1 AND is_active = TRUE
	`, token)
	if err != nil {
		return fmt.Errorf("deactivate device token: %w", err)
	}
	return nil
}

// DeactivateForRecipient retires every active token of a recipient. Called
// when the push provider reports the token class invalid.
func (s *DeviceStore) DeactivateForRecipient(ctx context.Context, recipientID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE device_tokens SET is_active = FALSE, updated_at = NOW()
		WHERE recipient_id = $1 AND is_active = TRUE
	`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("deactivate recipient devices: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Preferences returns the recipient's preferences, or nil when none are stored.
func (s *DeviceStore) Preferences(ctx context.Context, recipientID string) (*domain.Preferences, error) {
	var p domain.Preferences
	var disabledJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT recipient_id, quiet_start, quiet_end, timezone, disabled_types
		FROM notification_preferences WHERE recipient_id = $1
	`, recipientID).Scan(&p.RecipientID, &p.QuietStart, &p.QuietEnd, &p.Timezone, &disabledJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch preferences: %w", err)
	}
	if len(disabledJSON) > 0 {
		_ = json.Unmarshal(disabledJSON, &p.DisabledTypes)
	}
	return &p, nil
}

// UpsertPreferences stores or replaces a recipient's preferences.
func (s *DeviceStore) UpsertPreferences(ctx context.Context, p domain.Preferences) error {
	disabledJSON, _ := json.Marshal(p.DisabledTypes)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_preferences (recipient_id, quiet_start, quiet_end, timezone, disabled_types)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (recipient_id) DO UPDATE SET
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			timezone = EXCLUDED.timezone,
			disabled_types = EXCLUDED.disabled_types
	`, p.RecipientID, p.QuietStart, p.QuietEnd, p.Timezone, disabledJSON)
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}
