package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhrumil1411/Web-Chat-App/internal/models"
)

func cachePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), ".chat_user")
}

func TestUserCache_SaveLoadRoundTrip(t *testing.T) {
	cache := NewUserCache(cachePath(t), []byte("secret"))
	user := &models.User{
		ID:          "alice",
		DisplayName: "Alice",
		AvatarURL:   "https://example.com/a.png",
		Email:       "alice@example.com",
	}

	require.NoError(t, cache.Save(user))

	got, err := cache.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, user.DisplayName, got.DisplayName)
	assert.Equal(t, user.AvatarURL, got.AvatarURL)
	assert.Equal(t, user.Email, got.Email)
}

func TestUserCache_LoadMissingFile(t *testing.T) {
	cache := NewUserCache(cachePath(t), []byte("secret"))

	got, err := cache.Load()
	require.NoError(t, err)
	assert.Nil(t, got, "no cache means no user, not an error")
}

func TestUserCache_WrongSecretFails(t *testing.T) {
	path := cachePath(t)
	require.NoError(t, NewUserCache(path, []byte("secret")).Save(&models.User{
		ID: "alice", DisplayName: "Alice",
	}))

	_, err := NewUserCache(path, []byte("other")).Load()
	assert.Error(t, err)
}

func TestUserCache_TamperedFileFails(t *testing.T) {
	path := cachePath(t)
	require.NoError(t, os.WriteFile(path, []byte("not a token"), 0o600))

	_, err := NewUserCache(path, []byte("secret")).Load()
	assert.Error(t, err)
}

func TestUserCache_Clear(t *testing.T) {
	path := cachePath(t)
	cache := NewUserCache(path, []byte("secret"))
	require.NoError(t, cache.Save(&models.User{ID: "alice", DisplayName: "Alice"}))

	require.NoError(t, cache.Clear())
	got, err := cache.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	// Clearing an already-clear cache is fine.
	require.NoError(t, cache.Clear())
}
