package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nazuninha/wabot/internal/domain"
)

const settingsKey = "bot:settings"

// SettingsStore persists the global settings as a single keyed JSON record.
type SettingsStore struct {
	rdb *redis.Client
}

var _ domain.SettingsStore = (*SettingsStore)(nil)

func NewSettingsStore(client *Client) *SettingsStore {
	return &SettingsStore{rdb: client.Underlying()}
}

func (s *SettingsStore) LoadSettings(ctx context.Context) (*domain.Settings, error) {
	raw, err := s.rdb.Get(ctx, settingsKey).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	var settings domain.Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &settings, nil
}

func (s *SettingsStore) SaveSettings(ctx context.Context, settings domain.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := s.rdb.Set(ctx, settingsKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
