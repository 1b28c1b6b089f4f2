package db

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Recognised setting keys. Unknown keys are stored for forward
// compatibility but never take effect.
const (
	SettingJWTSecret             = "jwtSecret"
	SettingPrimaryHostname       = "primaryHostname"
	SettingDisableAuth           = "disableAuth"
	SettingTrustProxy            = "trustProxy"
	SettingServerTimezone        = "serverTimezone"
	SettingCheckUpdate           = "checkUpdate"
	SettingPasswordEncryptionKey = "passwordEncryptionKey"
	SettingLatestVersion         = "latestVersion"
)

// SettingTypeGeneral groups the keys exposed by getSettings.
const SettingTypeGeneral = "general"

// Setting is a typed key/value row. Values are stored JSON-encoded.
type Setting struct {
	ID    int64  `gorm:"primaryKey"`
	Key   string `gorm:"column:key;uniqueIndex;not null"`
	Value string `gorm:"column:value"`
	Type  string `gorm:"column:type;size:20"`
}

// TableName keeps the singular table name of the schema contract.
func (Setting) TableName() string { return "setting" }

// SettingsCacheTTL is how long a cached read stays valid.
const SettingsCacheTTL = 60 * time.Second

type cacheEntry struct {
	value    string
	storedAt time.Time
}

// SettingsCache is a read-through cache over the setting table.
type SettingsCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewSettingsCache creates an empty cache.
func NewSettingsCache() *SettingsCache {
	return &SettingsCache{entries: make(map[string]cacheEntry)}
}

func (c *SettingsCache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || time.Since(entry.storedAt) > SettingsCacheTTL {
		return "", false
	}
	return entry.value, true
}

func (c *SettingsCache) set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, storedAt: time.Now()}
}

func (c *SettingsCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep removes expired entries. Run by the broadcast scheduler.
func (c *SettingsCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if time.Since(entry.storedAt) > SettingsCacheTTL {
			delete(c.entries, key)
		}
	}
}

// GetSetting reads a setting into out (a pointer), going through the
// cache. A missing key leaves out untouched and returns nil.
func (s *Store) GetSetting(key string, out any) error {
	if raw, ok := s.cache.get(key); ok {
		return json.Unmarshal([]byte(raw), out)
	}

	var setting Setting
	err := s.db.Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return wrapQuery(err, "get setting")
	}

	s.cache.set(key, setting.Value)
	return json.Unmarshal([]byte(setting.Value), out)
}

// GetBoolSetting reads a boolean setting, tolerating "true"/"false"
// strings written by older versions.
func (s *Store) GetBoolSetting(key string) (bool, error) {
	return s.GetBoolSettingDefault(key, false)
}

// GetBoolSettingDefault reads a boolean setting, returning def when the
// key has never been written.
func (s *Store) GetBoolSettingDefault(key string, def bool) (bool, error) {
	var raw json.RawMessage
	if err := s.GetSetting(key, &raw); err != nil {
		return def, err
	}
	if len(raw) == 0 {
		return def, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str == "true", nil
	}
	return def, nil
}

// SetSetting JSON-encodes and upserts a setting, invalidating the cache.
func (s *Store) SetSetting(key string, value any, settingType string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return wrapQuery(err, "encode setting")
	}

	var existing Setting
	err = s.db.Where("key = ?", key).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = s.db.Create(&Setting{Key: key, Value: string(encoded), Type: settingType}).Error
	case err == nil:
		err = s.db.Model(&existing).Updates(map[string]any{
			"value": string(encoded),
			"type":  settingType,
		}).Error
	}
	if err != nil {
		return wrapQuery(err, "set setting")
	}

	s.cache.invalidate(key)
	return nil
}

// GetSettingsByType returns all settings of a type as decoded values.
func (s *Store) GetSettingsByType(settingType string) (map[string]any, error) {
	var rows []Setting
	if err := s.db.Where("type = ?", settingType).Find(&rows).Error; err != nil {
		return nil, wrapQuery(err, "list settings")
	}

	out := make(map[string]any, len(rows))
	for _, row := range rows {
		var value any
		if err := json.Unmarshal([]byte(row.Value), &value); err != nil {
			value = row.Value
		}
		out[row.Key] = value
	}
	return out, nil
}

// SetSettingsByType upserts a batch of settings under one type. Keys that
// already exist with a different type are skipped.
func (s *Store) SetSettingsByType(settingType string, data map[string]any) error {
	for key, value := range data {
		var existing Setting
		err := s.db.Where("key = ?", key).First(&existing).Error
		if err == nil && existing.Type != settingType {
			continue
		}
		if err := s.SetSetting(key, value, settingType); err != nil {
			return err
		}
	}
	return nil
}
