// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings is the typed view over the device key/value store:
// current provider, per-provider API keys and models, the conversation
// encryption key and a few counters.
package settings

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/kai/internal/logging"
	"github.com/jeranaias/kai/internal/provider"
)

// Storage keys.
const (
	KeyCurrentService    = "current_service"
	KeyEncryptionKey     = "encryption_key"
	KeyAppOpenCount      = "app_open_count"
	KeyMigrationComplete = "migration_complete"

	apiKeyPrefix = "api_key_"
	modelPrefix  = "model_"
)

// EncryptionKeySize is the length in bytes of the generated encryption key.
const EncryptionKeySize = 32

// APIKeyKey is the KV key of a provider's API key.
func APIKeyKey(providerID string) string { return apiKeyPrefix + providerID }

// ModelKey is the KV key of a provider's selected model.
func ModelKey(providerID string) string { return modelPrefix + providerID }

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrEmptyValue      = errors.New("value must not be empty")
	ErrCorruptKey      = errors.New("stored encryption key is corrupt")
)

// =============================================================================
// CHANGE NOTIFICATION
// =============================================================================

// ChangeKind identifies what a Change touched.
type ChangeKind int

const (
	ChangeAPIKey ChangeKind = iota
	ChangeModel
	ChangeCurrentProvider
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAPIKey:
		return "api_key"
	case ChangeModel:
		return "model"
	case ChangeCurrentProvider:
		return "current_provider"
	default:
		return "unknown"
	}
}

// Change is published after every successful write that affects requests.
type Change struct {
	Kind       ChangeKind
	ProviderID string
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings is safe for concurrent use.
type Settings struct {
	kv       KV
	secrets  SecretStore
	registry *provider.Registry
	log      *zap.Logger

	mu     sync.Mutex // serialises read-modify-write sequences
	subMu  sync.RWMutex
	subs   map[int]func(Change)
	nextID int
}

// Option configures a Settings.
type Option func(*Settings)

// WithSecrets stores API keys in s instead of the KV.
func WithSecrets(s SecretStore) Option {
	return func(st *Settings) { st.secrets = s }
}

// WithRegistry overrides the provider registry.
func WithRegistry(r *provider.Registry) Option {
	return func(st *Settings) { st.registry = r }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(st *Settings) { st.log = logging.For(l, "settings") }
}

// New returns settings backed by kv.
func New(kv KV, opts ...Option) *Settings {
	s := &Settings{
		kv:       kv,
		registry: provider.Default(),
		log:      zap.NewNop(),
		subs:     make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.secrets == nil {
		s.secrets = NewKVSecrets(kv)
	}
	return s
}

// KV exposes the backing store for components that keep their own keys
// (the web conversation blob).
func (s *Settings) KV() KV {
	return s.kv
}

// Registry returns the provider registry the settings validate against.
func (s *Settings) Registry() *provider.Registry {
	return s.registry
}

// Subscribe registers fn for change notifications. fn runs synchronously on
// the writer's goroutine and must not call back into a setter.
func (s *Settings) Subscribe(fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Settings) publish(c Change) {
	s.subMu.RLock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (s *Settings) lookup(id string) (provider.Provider, error) {
	p, ok := s.registry.Lookup(id)
	if !ok {
		return provider.Provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return p, nil
}

// -----------------------------------------------------------------------------
// Current provider
// -----------------------------------------------------------------------------

// CurrentProvider returns the selected provider. Missing or unknown stored
// ids resolve to the default provider.
func (s *Settings) CurrentProvider() (provider.Provider, error) {
	id, _, err := s.kv.Get(KeyCurrentService)
	if err != nil {
		return s.registry.Resolve(provider.DefaultID), err
	}
	return s.registry.Resolve(id), nil
}

// SetCurrentProvider selects id as the current provider.
func (s *Settings) SetCurrentProvider(id string) error {
	p, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := s.kv.Set(KeyCurrentService, p.ID); err != nil {
		return err
	}
	s.log.Info("current provider changed", zap.String("provider", p.ID))
	s.publish(Change{Kind: ChangeCurrentProvider, ProviderID: p.ID})
	return nil
}

// -----------------------------------------------------------------------------
// API keys
// -----------------------------------------------------------------------------

// APIKey returns the stored key for a provider; found is false when none is set.
func (s *Settings) APIKey(providerID string) (key string, found bool, err error) {
	p, err := s.lookup(providerID)
	if err != nil {
		return "", false, err
	}
	key, found, err = s.secrets.Get(p.ID)
	if err != nil {
		return "", false, err
	}
	if strings.TrimSpace(key) == "" {
		return "", false, nil
	}
	return key, true, nil
}

// SetAPIKey stores key for a provider and notifies subscribers so cached
// clients are rebuilt.
func (s *Settings) SetAPIKey(providerID, key string) error {
	p, err := s.lookup(providerID)
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("api key: %w", ErrEmptyValue)
	}
	if err := s.secrets.Set(p.ID, key); err != nil {
		return err
	}
	s.log.Info("api key updated", zap.String("provider", p.ID))
	s.publish(Change{Kind: ChangeAPIKey, ProviderID: p.ID})
	return nil
}

// DeleteAPIKey removes a provider's key.
func (s *Settings) DeleteAPIKey(providerID string) error {
	p, err := s.lookup(providerID)
	if err != nil {
		return err
	}
	if err := s.secrets.Delete(p.ID); err != nil {
		return err
	}
	s.log.Info("api key removed", zap.String("provider", p.ID))
	s.publish(Change{Kind: ChangeAPIKey, ProviderID: p.ID})
	return nil
}

// -----------------------------------------------------------------------------
// Models
// -----------------------------------------------------------------------------

// Model returns the selected model for a provider, or its default.
func (s *Settings) Model(providerID string) (string, error) {
	p, err := s.lookup(providerID)
	if err != nil {
		return "", err
	}
	m, found, err := s.kv.Get(ModelKey(p.ID))
	if err != nil {
		return p.DefaultModel, err
	}
	if !found || strings.TrimSpace(m) == "" {
		return p.DefaultModel, nil
	}
	return m, nil
}

// SetModel selects model for a provider.
func (s *Settings) SetModel(providerID, model string) error {
	p, err := s.lookup(providerID)
	if err != nil {
		return err
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("model: %w", ErrEmptyValue)
	}
	if err := s.kv.Set(ModelKey(p.ID), model); err != nil {
		return err
	}
	s.publish(Change{Kind: ChangeModel, ProviderID: p.ID})
	return nil
}

// -----------------------------------------------------------------------------
// Encryption key
// -----------------------------------------------------------------------------

// EncryptionKey returns the conversation encryption key, generating and
// storing a new random one on first use.
func (s *Settings) EncryptionKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, found, err := s.kv.Get(KeyEncryptionKey)
	if err != nil {
		return nil, err
	}
	if found {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(key) != EncryptionKeySize {
			return nil, ErrCorruptKey
		}
		return key, nil
	}

	key := make([]byte, EncryptionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	if err := s.kv.Set(KeyEncryptionKey, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, err
	}
	s.log.Info("generated conversation encryption key")
	return key, nil
}

// DeleteEncryptionKey forgets the encryption key. The next EncryptionKey call
// generates a fresh one.
func (s *Settings) DeleteEncryptionKey() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(KeyEncryptionKey)
}

// -----------------------------------------------------------------------------
// Counters and migration
// -----------------------------------------------------------------------------

// AppOpens returns how many times the application has been opened.
func (s *Settings) AppOpens() (int, error) {
	v, found, err := s.kv.Get(KeyAppOpenCount)
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// IncrementAppOpens bumps the open counter and returns the new value.
func (s *Settings) IncrementAppOpens() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.AppOpens()
	if err != nil {
		return 0, err
	}
	n++
	if err := s.kv.Set(KeyAppOpenCount, strconv.Itoa(n)); err != nil {
		return 0, err
	}
	return n, nil
}

// Migrate moves keys written by older releases (<id>_api_key, <id>_model)
// into the current key space. It runs once; later calls are no-ops. It
// returns the number of values moved. Every moved value is published to
// subscribers like a regular write.
func (s *Settings) Migrate() (int, error) {
	s.mu.Lock()
	changes, err := s.migrateLocked()
	s.mu.Unlock()

	for _, c := range changes {
		s.publish(c)
	}
	if err == nil && len(changes) > 0 {
		s.log.Info("migrated legacy settings", zap.Int("values", len(changes)))
	}
	return len(changes), err
}

func (s *Settings) migrateLocked() ([]Change, error) {
	done, _, err := s.kv.Get(KeyMigrationComplete)
	if err != nil {
		return nil, err
	}
	if done == "true" {
		return nil, nil
	}

	var changes []Change
	for _, p := range s.registry.All() {
		legacyKey := p.ID + "_api_key"
		if v, found, err := s.kv.Get(legacyKey); err != nil {
			return changes, err
		} else if found && strings.TrimSpace(v) != "" {
			if _, have, err := s.secrets.Get(p.ID); err != nil {
				return changes, err
			} else if !have {
				if err := s.secrets.Set(p.ID, strings.TrimSpace(v)); err != nil {
					return changes, err
				}
				changes = append(changes, Change{Kind: ChangeAPIKey, ProviderID: p.ID})
			}
		}
		if err := s.kv.Delete(legacyKey); err != nil {
			return changes, err
		}

		legacyModel := p.ID + "_model"
		if v, found, err := s.kv.Get(legacyModel); err != nil {
			return changes, err
		} else if found && strings.TrimSpace(v) != "" {
			if _, have, err := s.kv.Get(ModelKey(p.ID)); err != nil {
				return changes, err
			} else if !have {
				if err := s.kv.Set(ModelKey(p.ID), strings.TrimSpace(v)); err != nil {
					return changes, err
				}
				changes = append(changes, Change{Kind: ChangeModel, ProviderID: p.ID})
			}
		}
		if err := s.kv.Delete(legacyModel); err != nil {
			return changes, err
		}
	}

	return changes, s.kv.Set(KeyMigrationComplete, "true")
}
