package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/config"
	"github.com/talkincode/wabot/internal/bot"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
)

// ConfigManager merges bot_config overrides over the file defaults. Values are
// cached; Reload re-reads the table.
type ConfigManager struct {
	repo      store.ConfigRepository
	defaults  map[string]string
	mu        sync.RWMutex
	overrides map[string]string
}

var _ bot.SettingsProvider = (*ConfigManager)(nil)

// ConfigKeys lists the keys accepted by Set, in display order.
var ConfigKeys = []string{
	domain.ConfigPrefix,
	domain.ConfigOwnerName,
	domain.ConfigOwnerNumber,
	domain.ConfigAllowedNumber,
	domain.ConfigSessionRetentionDays,
	domain.ConfigMessageRetentionDays,
}

func NewConfigManager(repo store.ConfigRepository, defaults config.BotConfig) *ConfigManager {
	return &ConfigManager{
		repo: repo,
		defaults: map[string]string{
			domain.ConfigPrefix:               defaults.Prefix,
			domain.ConfigOwnerName:            defaults.OwnerName,
			domain.ConfigOwnerNumber:          defaults.OwnerNumber,
			domain.ConfigAllowedNumber:        defaults.AllowedNumber,
			domain.ConfigSessionRetentionDays: cast.ToString(defaults.SessionRetentionDays),
			domain.ConfigMessageRetentionDays: cast.ToString(defaults.MessageRetentionDays),
		},
		overrides: map[string]string{},
	}
}

// Reload replaces the cached overrides with the table contents.
func (m *ConfigManager) Reload(ctx context.Context) error {
	rows, err := m.repo.ListConfigs(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.overrides = rows
	m.mu.Unlock()
	return nil
}

// GetString returns the override for key, else the file default.
func (m *ConfigManager) GetString(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.overrides[key]; ok {
		return v
	}
	return m.defaults[key]
}

func (m *ConfigManager) GetInt(key string) int {
	return cast.ToInt(m.GetString(key))
}

// All returns the effective value of every known key.
func (m *ConfigManager) All() map[string]string {
	out := make(map[string]string, len(ConfigKeys))
	for _, k := range ConfigKeys {
		out[k] = m.GetString(k)
	}
	return out
}

// Set validates and stores an override, then refreshes the cache.
func (m *ConfigManager) Set(ctx context.Context, key, value string) error {
	value = strings.TrimSpace(value)
	if err := validateConfig(key, value); err != nil {
		return err
	}
	if err := m.repo.SetConfig(ctx, key, value); err != nil {
		return err
	}
	zap.L().Info("bot config updated", zap.String("namespace", "app"), zap.String("key", key))
	return m.Reload(ctx)
}

func validateConfig(key, value string) error {
	switch key {
	case domain.ConfigPrefix:
		if value == "" || strings.ContainsAny(value, " \t\n") {
			return fmt.Errorf("prefix must be non-empty and contain no whitespace")
		}
	case domain.ConfigOwnerName:
	case domain.ConfigOwnerNumber, domain.ConfigAllowedNumber:
		if value != "" && !bot.ValidPhoneNumber(value) {
			return fmt.Errorf("%s: %w", key, bot.ErrInvalidPhoneNumber)
		}
	case domain.ConfigSessionRetentionDays, domain.ConfigMessageRetentionDays:
		days, err := cast.ToIntE(value)
		if err != nil || days <= 0 {
			return fmt.Errorf("%s must be a positive number of days", key)
		}
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

// BotSettings implements bot.SettingsProvider.
func (m *ConfigManager) BotSettings() bot.Settings {
	return bot.Settings{
		Prefix:        m.GetString(domain.ConfigPrefix),
		OwnerName:     m.GetString(domain.ConfigOwnerName),
		OwnerNumber:   m.GetString(domain.ConfigOwnerNumber),
		AllowedNumber: m.GetString(domain.ConfigAllowedNumber),
	}
}
