// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/kai/internal/model"
	"github.com/jeranaias/kai/internal/provider"
	"github.com/jeranaias/kai/internal/settings"
	"github.com/jeranaias/kai/internal/storage"
)

func newRepo(t *testing.T) (*Repository, *storage.FileBlob, *settings.Settings) {
	t.Helper()
	blob := storage.NewFileBlob(filepath.Join(t.TempDir(), "conversations.bin"))
	st := settings.New(settings.NewMemoryKV())
	return New(blob, st), blob, st
}

// =============================================================================
// IN-MEMORY BEHAVIOUR
// =============================================================================

func TestStartCreatesConversationOnFirstTurn(t *testing.T) {
	repo, _, _ := newRepo(t)

	id := repo.Start(provider.GeminiID)
	st := repo.Snapshot()
	assert.Equal(t, id, st.ActiveID)
	assert.Empty(t, st.Conversations)
	_, ok := st.Active()
	assert.False(t, ok)

	turns, err := repo.Turns(id)
	require.NoError(t, err)
	assert.Empty(t, turns)

	got, err := repo.AppendTurn(model.NewUserTurn("first question"))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	active, ok := repo.Snapshot().Active()
	require.True(t, ok)
	assert.Equal(t, provider.GeminiID, active.ServiceID)
	assert.Equal(t, "first question", active.Title)
	assert.Len(t, active.Messages, 1)
}

func TestStartUnknownProviderFallsBack(t *testing.T) {
	repo, _, _ := newRepo(t)
	id := repo.Start("openrouter")

	svc, err := repo.ServiceID(id)
	require.NoError(t, err)
	assert.Equal(t, provider.FreeID, svc)
}

func TestActiveOrStart(t *testing.T) {
	repo, _, _ := newRepo(t)

	var notified int
	repo.Subscribe(func(State) { notified++ })

	id := repo.ActiveOrStart(provider.OllamaID)
	assert.Equal(t, id, repo.Snapshot().ActiveID)
	assert.Equal(t, 1, notified)

	assert.Equal(t, id, repo.ActiveOrStart(provider.GeminiID), "active conversation is kept")
	assert.Equal(t, 1, notified)

	svc, err := repo.ServiceID(id)
	require.NoError(t, err)
	assert.Equal(t, provider.OllamaID, svc)
}

func TestActiveOrStartConcurrent(t *testing.T) {
	repo, _, _ := newRepo(t)

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i] = repo.ActiveOrStart(provider.FreeID)
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, ids[0], repo.Snapshot().ActiveID)
}

func TestAppendWithoutActive(t *testing.T) {
	repo, _, _ := newRepo(t)
	_, err := repo.AppendTurn(model.NewUserTurn("x"))
	assert.ErrorIs(t, err, ErrNoActiveConversation)

	assert.ErrorIs(t, repo.AppendTo("missing", model.NewUserTurn("x")), ErrConversationNotFound)
}

func TestAppendRejectsUnknownRole(t *testing.T) {
	repo, _, _ := newRepo(t)
	repo.Start(provider.FreeID)
	_, err := repo.AppendTurn(model.Turn{Role: "system", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestAppendToInactiveConversation(t *testing.T) {
	repo, _, _ := newRepo(t)

	first := repo.Start(provider.FreeID)
	_, err := repo.AppendTurn(model.NewUserTurn("q1"))
	require.NoError(t, err)

	second := repo.Start(provider.OllamaID)
	_, err = repo.AppendTurn(model.NewUserTurn("q2"))
	require.NoError(t, err)

	require.NoError(t, repo.AppendTo(first, model.NewAssistantTurn("a1")))

	turns, err := repo.Turns(first)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "a1", turns[1].Content)

	st := repo.Snapshot()
	assert.Equal(t, second, st.ActiveID)
	require.Len(t, st.Conversations, 2)
	assert.Equal(t, second, st.Conversations[0].ID, "newest first")
}

func TestSelectAndDelete(t *testing.T) {
	repo, _, _ := newRepo(t)

	a := repo.Start(provider.FreeID)
	_, _ = repo.AppendTurn(model.NewUserTurn("a"))
	b := repo.Start(provider.FreeID)
	_, _ = repo.AppendTurn(model.NewUserTurn("b"))

	require.NoError(t, repo.Select(a))
	assert.Equal(t, a, repo.Snapshot().ActiveID)
	assert.ErrorIs(t, repo.Select("nope"), ErrConversationNotFound)

	require.NoError(t, repo.Delete(a))
	st := repo.Snapshot()
	assert.Empty(t, st.ActiveID)
	require.Len(t, st.Conversations, 1)
	assert.Equal(t, b, st.Conversations[0].ID)

	assert.ErrorIs(t, repo.Delete(a), ErrConversationNotFound)
}

func TestDeletePending(t *testing.T) {
	repo, _, _ := newRepo(t)
	id := repo.Start(provider.FreeID)
	require.NoError(t, repo.Delete(id))
	assert.Empty(t, repo.Snapshot().ActiveID)
	_, err := repo.Turns(id)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSnapshotIsImmutable(t *testing.T) {
	repo, _, _ := newRepo(t)
	repo.Start(provider.FreeID)
	_, _ = repo.AppendTurn(model.NewUserTurn("original"))

	st := repo.Snapshot()
	st.Conversations[0].Messages[0].Content = "changed"
	st.Conversations[0].Title = "changed"

	again := repo.Snapshot()
	assert.Equal(t, "original", again.Conversations[0].Messages[0].Content)
	assert.Equal(t, "original", again.Conversations[0].Title)
}

func TestSubscribe(t *testing.T) {
	repo, _, _ := newRepo(t)

	var states []State
	cancel := repo.Subscribe(func(s State) { states = append(states, s) })

	id := repo.Start(provider.FreeID)
	_, _ = repo.AppendTurn(model.NewUserTurn("q"))
	_ = repo.AppendTo(id, model.NewAssistantTurn("a"))

	require.Len(t, states, 3)
	assert.Equal(t, id, states[0].ActiveID)
	assert.Empty(t, states[0].Conversations)
	assert.Len(t, states[2].Conversations[0].Messages, 2)

	// failed mutations do not notify
	_ = repo.Select("nope")
	assert.Len(t, states, 3)

	cancel()
	_, _ = repo.AppendTurn(model.NewUserTurn("q2"))
	assert.Len(t, states, 3)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestPersistLoadRoundTrip(t *testing.T) {
	repo, blob, st := newRepo(t)

	repo.Start(provider.GeminiID)
	_, _ = repo.AppendTurn(model.NewUserTurn("Grüße 👋 日本").WithAttachment("image/png", []byte{9, 9}))
	_, _ = repo.AppendTurn(model.NewAssistantTurn("multi\nline"))
	repo.Start(provider.GroqCloudID)
	_, _ = repo.AppendTurn(model.NewUserTurn("second"))

	want := repo.Snapshot().Conversations
	require.NoError(t, repo.Persist(context.Background()))

	fresh := New(blob, st)
	fresh.Load(context.Background())
	got := fresh.Snapshot()
	assert.Equal(t, want, got.Conversations)
	assert.Empty(t, got.ActiveID)
}

func TestPersistTwiceIsIdempotent(t *testing.T) {
	repo, blob, st := newRepo(t)
	repo.Start(provider.FreeID)
	_, _ = repo.AppendTurn(model.NewUserTurn("hello"))

	require.NoError(t, repo.Persist(context.Background()))
	require.NoError(t, repo.Persist(context.Background()))

	fresh := New(blob, st)
	fresh.Load(context.Background())
	assert.Equal(t, repo.Snapshot().Conversations, fresh.Snapshot().Conversations)
}

func TestLoadEmptyConversationsAndUnknownService(t *testing.T) {
	repo, blob, st := newRepo(t)

	key, err := st.EncryptionKey()
	require.NoError(t, err)
	codec, err := storage.NewCodec(key)
	require.NoError(t, err)
	data, err := codec.Encode([]model.Conversation{
		{ID: "c1", Messages: []model.Turn{}, CreatedAt: 5, UpdatedAt: 6, ServiceID: "retired-provider"},
		{ID: "c1", Messages: []model.Turn{}, ServiceID: "gemini"},
		{ID: "c2", Messages: []model.Turn{}, ServiceID: "ollama"},
	})
	require.NoError(t, err)
	require.NoError(t, blob.Write(data))

	repo.Load(context.Background())
	convs := repo.Snapshot().Conversations
	require.Len(t, convs, 2)
	assert.Equal(t, provider.FreeID, convs[0].ServiceID)
	assert.Empty(t, convs[0].Messages)
	assert.Equal(t, int64(5), convs[0].CreatedAt)
	assert.Equal(t, provider.OllamaID, convs[1].ServiceID)
}

func TestLoadMissingBlobIsEmpty(t *testing.T) {
	repo, _, _ := newRepo(t)
	repo.Start(provider.FreeID)
	_, _ = repo.AppendTurn(model.NewUserTurn("in memory"))

	repo.Load(context.Background())
	st := repo.Snapshot()
	assert.Empty(t, st.Conversations)
	assert.Empty(t, st.ActiveID)
}

func TestLoadCorruptBlobIsEmpty(t *testing.T) {
	repo, blob, _ := newRepo(t)
	require.NoError(t, blob.Write([]byte("definitely not a valid blob")))

	notified := 0
	repo.Subscribe(func(State) { notified++ })

	repo.Load(context.Background())
	assert.Empty(t, repo.Snapshot().Conversations)
	assert.Equal(t, 1, notified)
}

func TestLoadAfterKeyLossIsEmpty(t *testing.T) {
	repo, blob, st := newRepo(t)
	repo.Start(provider.FreeID)
	_, _ = repo.AppendTurn(model.NewUserTurn("secret"))
	require.NoError(t, repo.Persist(context.Background()))

	require.NoError(t, st.DeleteEncryptionKey())

	fresh := New(blob, st)
	fresh.Load(context.Background())
	assert.Empty(t, fresh.Snapshot().Conversations)
}

func TestPersistCancelled(t *testing.T) {
	repo, blob, _ := newRepo(t)
	repo.Start(provider.FreeID)
	_, _ = repo.AppendTurn(model.NewUserTurn("x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, repo.Persist(ctx), context.Canceled)

	_, err := blob.Read()
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
}

func TestDeleteAll(t *testing.T) {
	kv := settings.NewMemoryKV()
	st := settings.New(kv)
	blob := storage.NewKVBlob(kv, "")
	repo := New(blob, st)

	repo.Start(provider.FreeID)
	_, _ = repo.AppendTurn(model.NewUserTurn("x"))
	require.NoError(t, repo.Persist(context.Background()))

	_, found, _ := kv.Get(settings.KeyEncryptionKey)
	require.True(t, found)

	require.NoError(t, repo.DeleteAll(context.Background()))

	snap := repo.Snapshot()
	assert.Empty(t, snap.Conversations)
	assert.Empty(t, snap.ActiveID)

	_, err := blob.Read()
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
	_, found, _ = kv.Get(settings.KeyEncryptionKey)
	assert.False(t, found)

	// a reload after wiping stays empty
	repo.Load(context.Background())
	assert.Empty(t, repo.Snapshot().Conversations)
}
