// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"path/filepath"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/kai/internal/provider"
)

func TestCurrentProviderDefaultsToFree(t *testing.T) {
	s := New(NewMemoryKV())

	p, err := s.CurrentProvider()
	require.NoError(t, err)
	assert.Equal(t, provider.FreeID, p.ID)
}

func TestCurrentProviderUnknownStoredID(t *testing.T) {
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(KeyCurrentService, "openrouter"))

	p, err := New(kv).CurrentProvider()
	require.NoError(t, err)
	assert.Equal(t, provider.FreeID, p.ID)
}

func TestSetCurrentProvider(t *testing.T) {
	s := New(NewMemoryKV())

	require.NoError(t, s.SetCurrentProvider(provider.GeminiID))
	p, err := s.CurrentProvider()
	require.NoError(t, err)
	assert.Equal(t, provider.GeminiID, p.ID)

	err = s.SetCurrentProvider("nope")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := New(NewMemoryKV())

	_, found, err := s.APIKey(provider.GroqCloudID)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetAPIKey(provider.GroqCloudID, "  gsk_123 "))
	key, found, err := s.APIKey(provider.GroqCloudID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "gsk_123", key)

	require.NoError(t, s.DeleteAPIKey(provider.GroqCloudID))
	_, found, err = s.APIKey(provider.GroqCloudID)
	require.NoError(t, err)
	assert.False(t, found)

	assert.ErrorIs(t, s.SetAPIKey(provider.GroqCloudID, "   "), ErrEmptyValue)
}

func TestModelFallsBackToDefault(t *testing.T) {
	s := New(NewMemoryKV())

	m, err := s.Model(provider.GeminiID)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", m)

	require.NoError(t, s.SetModel(provider.GeminiID, "gemini-1.5-pro"))
	m, err = s.Model(provider.GeminiID)
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", m)
}

func TestSubscribe(t *testing.T) {
	s := New(NewMemoryKV())

	var got []Change
	cancel := s.Subscribe(func(c Change) { got = append(got, c) })

	require.NoError(t, s.SetAPIKey(provider.GeminiID, "k1"))
	require.NoError(t, s.SetModel(provider.GeminiID, "m"))
	require.NoError(t, s.SetCurrentProvider(provider.OllamaID))
	require.NoError(t, s.DeleteAPIKey(provider.GeminiID))

	assert.Equal(t, []Change{
		{Kind: ChangeAPIKey, ProviderID: provider.GeminiID},
		{Kind: ChangeModel, ProviderID: provider.GeminiID},
		{Kind: ChangeCurrentProvider, ProviderID: provider.OllamaID},
		{Kind: ChangeAPIKey, ProviderID: provider.GeminiID},
	}, got)

	cancel()
	cancel()
	require.NoError(t, s.SetAPIKey(provider.GeminiID, "k2"))
	assert.Len(t, got, 4)
}

func TestFailedWriteDoesNotPublish(t *testing.T) {
	s := New(NewMemoryKV())
	called := false
	s.Subscribe(func(Change) { called = true })

	_ = s.SetAPIKey("nope", "x")
	_ = s.SetModel(provider.GeminiID, "")
	assert.False(t, called)
}

func TestEncryptionKeyGeneratedOnce(t *testing.T) {
	kv := NewMemoryKV()
	s := New(kv)

	k1, err := s.EncryptionKey()
	require.NoError(t, err)
	assert.Len(t, k1, EncryptionKeySize)

	k2, err := s.EncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	// a second façade over the same store sees the same key
	k3, err := New(kv).EncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, k1, k3)

	require.NoError(t, s.DeleteEncryptionKey())
	k4, err := s.EncryptionKey()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

func TestEncryptionKeyCorrupt(t *testing.T) {
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(KeyEncryptionKey, "not base64!!"))

	_, err := New(kv).EncryptionKey()
	assert.ErrorIs(t, err, ErrCorruptKey)
}

func TestIncrementAppOpens(t *testing.T) {
	s := New(NewMemoryKV())
	for i := 1; i <= 3; i++ {
		n, err := s.IncrementAppOpens()
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	n, err := s.AppOpens()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMigrate(t *testing.T) {
	kv := NewMemoryKV()
	require.NoError(t, kv.Set("gemini_api_key", "legacy-key"))
	require.NoError(t, kv.Set("gemini_model", "gemini-pro"))
	require.NoError(t, kv.Set("groqcloud_api_key", "old"))
	require.NoError(t, kv.Set(APIKeyKey(provider.GroqCloudID), "new"))

	s := New(kv)
	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	moved, err := s.Migrate()
	require.NoError(t, err)
	assert.Equal(t, 2, moved)
	assert.Equal(t, []Change{
		{Kind: ChangeAPIKey, ProviderID: provider.GeminiID},
		{Kind: ChangeModel, ProviderID: provider.GeminiID},
	}, changes)

	key, _, err := s.APIKey(provider.GeminiID)
	require.NoError(t, err)
	assert.Equal(t, "legacy-key", key)

	m, err := s.Model(provider.GeminiID)
	require.NoError(t, err)
	assert.Equal(t, "gemini-pro", m)

	// existing values win over legacy ones
	key, _, err = s.APIKey(provider.GroqCloudID)
	require.NoError(t, err)
	assert.Equal(t, "new", key)

	_, found, _ := kv.Get("gemini_api_key")
	assert.False(t, found)

	moved, err = s.Migrate()
	require.NoError(t, err)
	assert.Zero(t, moved)
	assert.Len(t, changes, 2)
}

func TestKeyringSecrets(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	kv := NewMemoryKV()
	s := New(kv, WithSecrets(NewKeyringSecrets(ring)))

	require.NoError(t, s.SetAPIKey(provider.GeminiID, "AIza-test"))

	item, err := ring.Get(APIKeyKey(provider.GeminiID))
	require.NoError(t, err)
	assert.Equal(t, "AIza-test", string(item.Data))

	// never written to the plain settings store
	_, found, _ := kv.Get(APIKeyKey(provider.GeminiID))
	assert.False(t, found)

	key, found, err := s.APIKey(provider.GeminiID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "AIza-test", key)

	require.NoError(t, s.DeleteAPIKey(provider.GeminiID))
	require.NoError(t, s.DeleteAPIKey(provider.GeminiID))
	_, found, err = s.APIKey(provider.GeminiID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteKV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")

	kv, err := OpenSQLite(path)
	require.NoError(t, err)

	_, found, err := kv.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kv.Set("model_gemini", "a"))
	require.NoError(t, kv.Set("model_gemini", "b"))
	require.NoError(t, kv.Set("model_ollama", "c"))
	require.NoError(t, kv.Set("current_service", "gemini"))

	v, found, err := kv.Get("model_gemini")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "b", v)

	keys, err := kv.Keys("model_")
	require.NoError(t, err)
	assert.Equal(t, []string{"model_gemini", "model_ollama"}, keys)

	require.NoError(t, kv.Delete("model_ollama"))
	require.NoError(t, kv.Close())

	// reopen and check persistence
	kv, err = OpenSQLite(path)
	require.NoError(t, err)
	defer kv.Close()

	s := New(kv)
	p, err := s.CurrentProvider()
	require.NoError(t, err)
	assert.Equal(t, provider.GeminiID, p.ID)

	_, found, err = kv.Get("model_ollama")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryKVKeys(t *testing.T) {
	var kv MemoryKV
	require.NoError(t, kv.Set("b", "1"))
	require.NoError(t, kv.Set("a", "1"))
	require.NoError(t, kv.Set("x", "1"))

	keys, err := kv.Keys("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "x"}, keys)
}
