package app

import (
	"sync"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/bitcodr/waplane/internal/domain"
)

const settingsCacheTTL = 30 * time.Second

// ConfigManager fronts the sys_config table with a short-lived cache.
// Settings are runtime-tunable knobs (handover timeout, retention window)
// as opposed to the static AppConfig loaded at boot.
type ConfigManager struct {
	app *Application

	mu       sync.RWMutex
	cache    map[string]string
	loadedAt time.Time
}

func NewConfigManager(app *Application) *ConfigManager {
	return &ConfigManager{app: app, cache: make(map[string]string)}
}

func (m *ConfigManager) reload() {
	var rows []domain.SysConfig
	if err := m.app.DB().Find(&rows).Error; err != nil {
		zap.L().Warn("settings: reload failed", zap.Error(err))
		return
	}
	fresh := make(map[string]string, len(rows))
	for _, row := range rows {
		fresh[row.Type+"."+row.Name] = row.Value
	}
	m.mu.Lock()
	m.cache = fresh
	m.loadedAt = time.Now()
	m.mu.Unlock()
}

func (m *ConfigManager) get(category, name string) string {
	m.mu.RLock()
	stale := time.Since(m.loadedAt) > settingsCacheTTL
	m.mu.RUnlock()
	if stale {
		m.reload()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache[category+"."+name]
}

func (m *ConfigManager) GetString(category, name string) string {
	return m.get(category, name)
}

func (m *ConfigManager) GetInt(category, name string) int {
	return cast.ToInt(m.get(category, name))
}

func (m *ConfigManager) GetInt64(category, name string) int64 {
	return cast.ToInt64(m.get(category, name))
}

func (m *ConfigManager) GetBool(category, name string) bool {
	return cast.ToBool(m.get(category, name))
}

// Set writes a setting through to the database and refreshes the cache.
func (m *ConfigManager) Set(category, name, value string) error {
	err := m.app.DB().Model(&domain.SysConfig{}).
		Where("type = ? AND name = ?", category, name).
		Update("value", value).Error
	if err != nil {
		return err
	}
	m.reload()
	return nil
}
