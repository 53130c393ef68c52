// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// =============================================================================
// SECRET STORAGE
// =============================================================================

// SecretStore holds provider API keys, addressed by provider id.
type SecretStore interface {
	Get(providerID string) (string, bool, error)
	Set(providerID, key string) error
	Delete(providerID string) error
}

// KVSecrets keeps API keys in the settings KV under api_key_<id>.
type KVSecrets struct {
	kv KV
}

// NewKVSecrets wraps kv.
func NewKVSecrets(kv KV) *KVSecrets {
	return &KVSecrets{kv: kv}
}

func (s *KVSecrets) Get(providerID string) (string, bool, error) {
	return s.kv.Get(APIKeyKey(providerID))
}

func (s *KVSecrets) Set(providerID, key string) error {
	return s.kv.Set(APIKeyKey(providerID), key)
}

func (s *KVSecrets) Delete(providerID string) error {
	return s.kv.Delete(APIKeyKey(providerID))
}

// KeyringSecrets keeps API keys in the OS credential store.
type KeyringSecrets struct {
	ring keyring.Keyring
}

// NewKeyringSecrets wraps an opened keyring.
func NewKeyringSecrets(ring keyring.Keyring) *KeyringSecrets {
	return &KeyringSecrets{ring: ring}
}

// OpenKeyring opens the platform keyring for service. fileDir is used by the
// encrypted-file backend when no native keyring is available.
func OpenKeyring(service, fileDir string) (*KeyringSecrets, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              service,
		KeychainTrustApplication: true,
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.TerminalPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewKeyringSecrets(ring), nil
}

func (s *KeyringSecrets) Get(providerID string) (string, bool, error) {
	item, err := s.ring.Get(APIKeyKey(providerID))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s key from keyring: %w", providerID, err)
	}
	return string(item.Data), true, nil
}

func (s *KeyringSecrets) Set(providerID, key string) error {
	err := s.ring.Set(keyring.Item{
		Key:         APIKeyKey(providerID),
		Data:        []byte(key),
		Label:       "kai " + providerID + " API key",
		Description: "API key",
	})
	if err != nil {
		return fmt.Errorf("failed to store %s key in keyring: %w", providerID, err)
	}
	return nil
}

func (s *KeyringSecrets) Delete(providerID string) error {
	err := s.ring.Remove(APIKeyKey(providerID))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to remove %s key from keyring: %w", providerID, err)
	}
	return nil
}
