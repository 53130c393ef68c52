// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history owns the in-memory conversation list, notifies observers
// of every change and persists the list through the storage package.
package history

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/kai/internal/logging"
	"github.com/jeranaias/kai/internal/model"
	"github.com/jeranaias/kai/internal/provider"
	"github.com/jeranaias/kai/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrInvalidRole          = errors.New("invalid turn role")
)

// KeySource supplies the at-rest encryption key. *settings.Settings
// implements it.
type KeySource interface {
	EncryptionKey() ([]byte, error)
	DeleteEncryptionKey() error
}

// =============================================================================
// STATE
// =============================================================================

// State is an immutable snapshot of the repository.
type State struct {
	Conversations []model.Conversation
	ActiveID      string
}

// Active returns the active conversation. A conversation that was started
// but has no turns yet is not part of the list and is reported as absent.
func (s State) Active() (model.Conversation, bool) {
	return s.Find(s.ActiveID)
}

// Find returns the conversation with id.
func (s State) Find(id string) (model.Conversation, bool) {
	if id == "" {
		return model.Conversation{}, false
	}
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return model.Conversation{}, false
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository is safe for concurrent use. Mutations are applied in memory
// only; call Persist to write them out.
type Repository struct {
	blob     storage.Blob
	keys     KeySource
	registry *provider.Registry
	log      *zap.Logger

	mu      sync.Mutex
	convs   []*model.Conversation
	active  string
	pending *model.Conversation // started, no turn yet

	subMu  sync.RWMutex
	subs   map[int]func(State)
	nextID int

	persistMu sync.Mutex
}

// Option configures a Repository.
type Option func(*Repository)

// WithRegistry sets the registry used to validate stored provider ids.
func WithRegistry(r *provider.Registry) Option {
	return func(repo *Repository) { repo.registry = r }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(repo *Repository) { repo.log = logging.For(l, "history") }
}

// New returns an empty repository persisting to blob with keys from keys.
func New(blob storage.Blob, keys KeySource, opts ...Option) *Repository {
	r := &Repository{
		blob:     blob,
		keys:     keys,
		registry: provider.Default(),
		log:      zap.NewNop(),
		subs:     make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// -----------------------------------------------------------------------------
// Observation
// -----------------------------------------------------------------------------

// Snapshot returns a deep copy of the current state.
func (r *Repository) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Repository) snapshotLocked() State {
	st := State{
		Conversations: make([]model.Conversation, 0, len(r.convs)),
		ActiveID:      r.active,
	}
	for _, c := range r.convs {
		st.Conversations = append(st.Conversations, *c.Clone())
	}
	return st
}

// Subscribe registers fn to receive a snapshot after every mutation. fn is
// called synchronously on the mutating goroutine, after the repository lock
// has been released.
func (r *Repository) Subscribe(fn func(State)) (cancel func()) {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

func (r *Repository) notify(st State) {
	r.subMu.RLock()
	fns := make([]func(State), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.RUnlock()

	for _, fn := range fns {
		fn(st)
	}
}

// mutate runs fn under the lock and, when it succeeds, notifies observers.
func (r *Repository) mutate(fn func() error) error {
	r.mu.Lock()
	if err := fn(); err != nil {
		r.mu.Unlock()
		return err
	}
	st := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(st)
	return nil
}

func (r *Repository) findLocked(id string) (*model.Conversation, int) {
	for i, c := range r.convs {
		if c.ID == id {
			return c, i
		}
	}
	return nil, -1
}

// -----------------------------------------------------------------------------
// Mutations
// -----------------------------------------------------------------------------

// Start makes a fresh conversation with serviceID active and returns its id.
// The conversation joins the list when its first turn is appended. Unknown
// provider ids fall back to the default provider.
func (r *Repository) Start(serviceID string) string {
	conv := model.NewConversation(r.registry.Resolve(serviceID).ID)
	_ = r.mutate(func() error {
		r.pending = conv
		r.active = conv.ID
		return nil
	})
	return conv.ID
}

// ActiveOrStart returns the active conversation id, or starts one bound to
// serviceID as Start does when none is active. The check and the start are
// one step, so concurrent callers agree on a single conversation.
func (r *Repository) ActiveOrStart(serviceID string) string {
	r.mu.Lock()
	if r.active != "" {
		id := r.active
		r.mu.Unlock()
		return id
	}
	conv := model.NewConversation(r.registry.Resolve(serviceID).ID)
	r.pending = conv
	r.active = conv.ID
	st := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(st)
	return conv.ID
}

// Select makes an existing conversation active.
func (r *Repository) Select(id string) error {
	return r.mutate(func() error {
		if c, _ := r.findLocked(id); c == nil {
			return ErrConversationNotFound
		}
		r.active = id
		r.pending = nil
		return nil
	})
}

// AppendTurn appends t to the active conversation and returns its id.
func (r *Repository) AppendTurn(t model.Turn) (string, error) {
	var id string
	err := r.mutate(func() error {
		if r.active == "" {
			return ErrNoActiveConversation
		}
		id = r.active
		return r.appendLocked(id, t)
	})
	return id, err
}

// AppendTo appends t to conversation id, which need not be active.
func (r *Repository) AppendTo(id string, t model.Turn) error {
	return r.mutate(func() error {
		return r.appendLocked(id, t)
	})
}

func (r *Repository) appendLocked(id string, t model.Turn) error {
	if !t.Role.Valid() {
		return ErrInvalidRole
	}
	if c, _ := r.findLocked(id); c != nil {
		c.Append(t)
		return nil
	}
	if r.pending != nil && r.pending.ID == id {
		c := r.pending
		r.pending = nil
		c.Append(t)
		// newest conversation first
		r.convs = append([]*model.Conversation{c}, r.convs...)
		return nil
	}
	return ErrConversationNotFound
}

// Turns returns a copy of the turns of conversation id. A started
// conversation without turns yields an empty slice.
func (r *Repository) Turns(id string) ([]model.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, _ := r.findLocked(id); c != nil {
		return append([]model.Turn{}, c.Messages...), nil
	}
	if r.pending != nil && r.pending.ID == id {
		return []model.Turn{}, nil
	}
	return nil, ErrConversationNotFound
}

// ServiceID returns the provider a conversation is bound to.
func (r *Repository) ServiceID(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, _ := r.findLocked(id); c != nil {
		return c.ServiceID, nil
	}
	if r.pending != nil && r.pending.ID == id {
		return r.pending.ServiceID, nil
	}
	return "", ErrConversationNotFound
}

// Delete removes a conversation. Deleting the active conversation leaves no
// conversation active.
func (r *Repository) Delete(id string) error {
	return r.mutate(func() error {
		if r.pending != nil && r.pending.ID == id {
			r.pending = nil
			r.active = ""
			return nil
		}
		_, i := r.findLocked(id)
		if i < 0 {
			return ErrConversationNotFound
		}
		r.convs = append(r.convs[:i], r.convs[i+1:]...)
		if r.active == id {
			r.active = ""
		}
		return nil
	})
}

// -----------------------------------------------------------------------------
// Persistence
// -----------------------------------------------------------------------------

// Persist writes the complete conversation list to the blob.
func (r *Repository) Persist(ctx context.Context) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	st := r.Snapshot()

	key, err := r.keys.EncryptionKey()
	if err != nil {
		return err
	}
	codec, err := storage.NewCodec(key)
	if err != nil {
		return err
	}
	data, err := codec.Encode(st.Conversations)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.blob.Write(data); err != nil {
		return err
	}
	r.log.Debug("conversations persisted",
		zap.Int("conversations", len(st.Conversations)),
		zap.Int("bytes", len(data)))
	return nil
}

// Load replaces the in-memory list with the persisted one. It never fails:
// a missing, unreadable or undecodable blob yields an empty list and the
// cause is logged.
func (r *Repository) Load(ctx context.Context) {
	convs, err := r.read(ctx)
	switch {
	case errors.Is(err, storage.ErrBlobNotFound):
		convs = nil
	case err != nil:
		r.log.Warn("failed to load conversations, starting empty", zap.Error(err))
		convs = nil
	}

	loaded := make([]*model.Conversation, 0, len(convs))
	seen := make(map[string]bool, len(convs))
	for i := range convs {
		c := convs[i]
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		c.ServiceID = r.registry.Resolve(c.ServiceID).ID
		loaded = append(loaded, &c)
	}

	_ = r.mutate(func() error {
		r.convs = loaded
		r.active = ""
		r.pending = nil
		return nil
	})
	r.log.Debug("conversations loaded", zap.Int("conversations", len(loaded)))
}

func (r *Repository) read(ctx context.Context) ([]model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := r.blob.Read()
	if err != nil {
		return nil, err
	}
	key, err := r.keys.EncryptionKey()
	if err != nil {
		return nil, err
	}
	codec, err := storage.NewCodec(key)
	if err != nil {
		return nil, err
	}
	return codec.Decode(data)
}

// DeleteAll clears memory and removes the persisted blob and its key.
func (r *Repository) DeleteAll(ctx context.Context) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	_ = r.mutate(func() error {
		r.convs = nil
		r.active = ""
		r.pending = nil
		return nil
	})

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.blob.Remove(); err != nil {
		return err
	}
	if err := r.keys.DeleteEncryptionKey(); err != nil {
		return err
	}
	r.log.Info("all conversations deleted")
	return nil
}
