// Package db implements the SQLite store for users, settings and agents.
package db

import (
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/griffithind/dockge/internal/crypto"
	"github.com/griffithind/dockge/internal/errors"
	"github.com/griffithind/dockge/internal/util"
)

// DBFileName is the SQLite database file under the data directory.
const DBFileName = "dockge.db"

// Store wraps the database handle and the settings cache.
type Store struct {
	db    *gorm.DB
	cache *SettingsCache
}

// Open connects to the SQLite database under dataDir, creating and
// migrating it as needed.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, DBFileName)
	dsn := path + "?_busy_timeout=120000&_journal_mode=WAL"
	return open(dsn)
}

// OpenMemory opens a private in-memory database, used by tests.
func OpenMemory() (*Store, error) {
	name := "mem-" + uuid.NewString()
	return open("file:" + name + "?mode=memory&cache=shared&_busy_timeout=5000")
}

func open(dsn string) (*Store, error) {
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryDatabase, errors.CodeDatabaseQuery,
			"failed to open database")
	}

	store := &Store{
		db:    gdb,
		cache: NewSettingsCache(),
	}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&User{}, &Setting{}, &Agent{}); err != nil {
		return errors.Wrap(err, errors.CategoryDatabase, errors.CodeDatabaseMigration,
			"database migration failed")
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Cache exposes the settings cache for the periodic sweep.
func (s *Store) Cache() *SettingsCache {
	return s.cache
}

// InitSecrets ensures the jwtSecret and passwordEncryptionKey settings
// exist, generating them on first boot. It then migrates any plaintext
// agent passwords to the encrypted form.
func (s *Store) InitSecrets() error {
	if _, err := s.ensureSecret(SettingJWTSecret, 64); err != nil {
		return err
	}
	if _, err := s.ensureSecret(SettingPasswordEncryptionKey, 32); err != nil {
		return err
	}

	migrated, err := s.MigrateAgentPasswords()
	if err != nil {
		return err
	}
	if migrated > 0 {
		util.Info("encrypted %d stored agent password(s)", migrated)
	}
	return nil
}

func (s *Store) ensureSecret(key string, length int) (string, error) {
	var existing string
	if err := s.GetSetting(key, &existing); err == nil && existing != "" {
		return existing, nil
	}
	secret := crypto.GenSecret(length)
	if err := s.SetSetting(key, secret, ""); err != nil {
		return "", err
	}
	return secret, nil
}

// JWTSecret returns the token signing secret.
func (s *Store) JWTSecret() (string, error) {
	var secret string
	if err := s.GetSetting(SettingJWTSecret, &secret); err != nil {
		return "", err
	}
	if secret == "" {
		return "", errors.New(errors.CategoryDatabase, errors.CodeDatabaseQuery, "jwtSecret not initialized")
	}
	return secret, nil
}

// RotateJWTSecret replaces the signing secret, revoking all outstanding
// bearer tokens.
func (s *Store) RotateJWTSecret() error {
	return s.SetSetting(SettingJWTSecret, crypto.GenSecret(64), "")
}

// EncryptionSecret returns the agent-password wrapping key.
func (s *Store) EncryptionSecret() (string, error) {
	var secret string
	if err := s.GetSetting(SettingPasswordEncryptionKey, &secret); err != nil {
		return "", err
	}
	if secret == "" {
		return "", errors.New(errors.CategoryDatabase, errors.CodeDatabaseQuery, "passwordEncryptionKey not initialized")
	}
	return secret, nil
}
