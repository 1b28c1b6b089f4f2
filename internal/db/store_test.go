package db

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/griffithind/dockge/internal/auth"
	"github.com/griffithind/dockge/internal/crypto"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitSecrets())
	return store
}

func TestUserLifecycle(t *testing.T) {
	store := openTestStore(t)

	count, err := store.CountUsers()
	require.NoError(t, err)
	assert.Zero(t, count)

	user, err := store.CreateUser("admin", "password123")
	require.NoError(t, err)
	assert.True(t, auth.VerifyPassword("password123", user.Password))

	// Lookup is case-insensitive.
	found, err := store.FindUserByUsername("ADMIN")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, user.ID, found.ID)

	missing, err := store.FindUserByUsername("nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.UpdateUserPassword(user, "new-password"))
	assert.True(t, auth.VerifyPassword("new-password", user.Password))

	active, err := store.FirstActiveUser()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "admin", active.Username)
}

func TestUserTwoFA(t *testing.T) {
	store := openTestStore(t)

	user, err := store.CreateUser("admin", "password123")
	require.NoError(t, err)

	require.NoError(t, store.SetUserTwoFA(user, "SECRET", true))
	found, err := store.FindUserByID(user.ID)
	require.NoError(t, err)
	assert.True(t, found.TwoFAStatus)
	assert.Equal(t, "SECRET", found.TwoFASecret)

	require.NoError(t, store.SetUserTwoFALastToken(user, "123456"))
	found, err = store.FindUserByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "123456", found.TwoFALastToken)

	require.NoError(t, store.SetUserTwoFA(user, "", false))
	found, err = store.FindUserByID(user.ID)
	require.NoError(t, err)
	assert.False(t, found.TwoFAStatus)
	assert.Empty(t, found.TwoFALastToken)
}

func TestSettingsRoundTrip(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SetSetting(SettingPrimaryHostname, "dockge.example", SettingTypeGeneral))

	var hostname string
	require.NoError(t, store.GetSetting(SettingPrimaryHostname, &hostname))
	assert.Equal(t, "dockge.example", hostname)

	// Missing keys leave the target untouched.
	other := "unchanged"
	require.NoError(t, store.GetSetting("noSuchKey", &other))
	assert.Equal(t, "unchanged", other)

	require.NoError(t, store.SetSetting(SettingDisableAuth, true, SettingTypeGeneral))
	disabled, err := store.GetBoolSetting(SettingDisableAuth)
	require.NoError(t, err)
	assert.True(t, disabled)

	general, err := store.GetSettingsByType(SettingTypeGeneral)
	require.NoError(t, err)
	assert.Equal(t, "dockge.example", general[SettingPrimaryHostname])
	assert.Equal(t, true, general[SettingDisableAuth])
	assert.NotContains(t, general, SettingJWTSecret)
}

func TestSettingsCacheInvalidatedOnWrite(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SetSetting(SettingCheckUpdate, true, SettingTypeGeneral))
	first, err := store.GetBoolSetting(SettingCheckUpdate)
	require.NoError(t, err)
	assert.True(t, first)

	require.NoError(t, store.SetSetting(SettingCheckUpdate, false, SettingTypeGeneral))
	second, err := store.GetBoolSetting(SettingCheckUpdate)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestSecretsGeneratedOnce(t *testing.T) {
	store := openTestStore(t)

	jwtSecret, err := store.JWTSecret()
	require.NoError(t, err)
	assert.Len(t, jwtSecret, 64)

	encSecret, err := store.EncryptionSecret()
	require.NoError(t, err)
	assert.Len(t, encSecret, 32)

	// A second init must not rotate existing secrets.
	require.NoError(t, store.InitSecrets())
	again, err := store.JWTSecret()
	require.NoError(t, err)
	assert.Equal(t, jwtSecret, again)

	require.NoError(t, store.RotateJWTSecret())
	rotated, err := store.JWTSecret()
	require.NoError(t, err)
	assert.NotEqual(t, jwtSecret, rotated)
}

func TestAgentPasswordEncryptedAtRest(t *testing.T) {
	store := openTestStore(t)

	agent, err := store.CreateAgent("http://10.0.0.5:5001", "admin", "agent-pass")
	require.NoError(t, err)
	assert.Equal(t, "agent-pass", agent.Password)
	assert.Equal(t, "10.0.0.5:5001", agent.Endpoint())

	var stored Agent
	require.NoError(t, store.db.Where("url = ?", "http://10.0.0.5:5001").First(&stored).Error)
	require.True(t, strings.HasPrefix(stored.Password, crypto.EncPrefix))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored.Password, crypto.EncPrefix))
	require.NoError(t, err)
	// 12-byte nonce plus a 16-byte tag at minimum.
	assert.GreaterOrEqual(t, len(raw), 28)

	agents, err := store.FindAgents()
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-pass", agents[0].Password)
}

func TestCreateAgentRejectsDuplicateURL(t *testing.T) {
	store := openTestStore(t)

	_, err := store.CreateAgent("http://10.0.0.5:5001", "admin", "pass")
	require.NoError(t, err)

	_, err = store.CreateAgent("http://10.0.0.5:5001", "admin", "pass")
	assert.Error(t, err)
}

func TestDeleteAgentByURL(t *testing.T) {
	store := openTestStore(t)

	_, err := store.CreateAgent("http://10.0.0.5:5001", "admin", "pass")
	require.NoError(t, err)

	require.NoError(t, store.DeleteAgentByURL("http://10.0.0.5:5001"))
	agents, err := store.FindAgents()
	require.NoError(t, err)
	assert.Empty(t, agents)

	// Unknown URLs are a no-op.
	require.NoError(t, store.DeleteAgentByURL("http://nope:5001"))
}

func TestMigrateAgentPasswords(t *testing.T) {
	store := openTestStore(t)

	// Simulate a row written before encryption existed.
	require.NoError(t, store.db.Create(&Agent{
		URL:      "http://legacy:5001",
		Username: "admin",
		Password: "plaintext-pass",
		Active:   true,
	}).Error)

	migrated, err := store.MigrateAgentPasswords()
	require.NoError(t, err)
	assert.Equal(t, 1, migrated)

	var stored Agent
	require.NoError(t, store.db.Where("url = ?", "http://legacy:5001").First(&stored).Error)
	assert.True(t, crypto.IsEncrypted(stored.Password))

	// Migration is idempotent.
	migrated, err = store.MigrateAgentPasswords()
	require.NoError(t, err)
	assert.Zero(t, migrated)

	agents, err := store.FindAgents()
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "plaintext-pass", agents[0].Password)
}

func TestEndpointFromURL(t *testing.T) {
	assert.Equal(t, "10.0.0.5:5001", EndpointFromURL("http://10.0.0.5:5001"))
	assert.Equal(t, "dockge.example", EndpointFromURL("https://dockge.example"))
	assert.Equal(t, "dockge.example", EndpointFromURL("dockge.example/"))
}
