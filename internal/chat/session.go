// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat runs one user exchange at a time per conversation: append the
// user turn, ask the conversation's provider, append the reply and persist
// the history in the background.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/kai/internal/history"
	"github.com/jeranaias/kai/internal/logging"
	"github.com/jeranaias/kai/internal/model"
	"github.com/jeranaias/kai/internal/provider"
)

// persistTimeout bounds a background write of the history.
const persistTimeout = 10 * time.Second

var (
	// ErrBusy rejects a send while a request for the same conversation is
	// in flight. Nothing is queued.
	ErrBusy = errors.New("a request for this conversation is already in flight")

	ErrEmptyMessage   = errors.New("message is empty")
	ErrNothingToRetry = errors.New("last turn already has a reply")
)

// Sender is the request layer. *llm.Client implements it.
type Sender interface {
	SendChat(ctx context.Context, providerID string, turns []model.Turn) (string, error)
}

// ProviderSource names the provider new conversations are bound to.
// *settings.Settings implements it.
type ProviderSource interface {
	CurrentProvider() (provider.Provider, error)
}

// Attachment is a file sent along with a message.
type Attachment struct {
	MimeType string
	Data     []byte
}

// Session coordinates sends against a history repository.
type Session struct {
	repo      *history.Repository
	sender    Sender
	providers ProviderSource
	log       *zap.Logger

	mu   sync.Mutex
	busy map[string]bool

	persists sync.WaitGroup
}

// NewSession wires a session. logger may be nil.
func NewSession(repo *history.Repository, sender Sender, providers ProviderSource, logger *zap.Logger) *Session {
	return &Session{
		repo:      repo,
		sender:    sender,
		providers: providers,
		log:       logging.For(logger, "chat"),
		busy:      make(map[string]bool),
	}
}

// SetSender replaces the request layer. Requests already in flight finish
// on the previous one.
func (s *Session) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

func (s *Session) currentSender() Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender
}

// Busy reports whether a request for conversation id is in flight.
func (s *Session) Busy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy[id]
}

func (s *Session) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[id] {
		return false
	}
	s.busy[id] = true
	return true
}

func (s *Session) release(id string) {
	s.mu.Lock()
	delete(s.busy, id)
	s.mu.Unlock()
}

// activeConversation returns the active conversation id, starting one bound
// to the current provider when there is none.
func (s *Session) activeConversation() (string, error) {
	if id := s.repo.Snapshot().ActiveID; id != "" {
		return id, nil
	}
	p, err := s.providers.CurrentProvider()
	if err != nil {
		s.log.Warn("failed to read current provider, using default", zap.Error(err))
	}
	return s.repo.ActiveOrStart(p.ID), nil
}

// Send appends a user turn to the active conversation and asks its provider
// for a reply. On failure the user turn stays in history and the error is
// returned unchanged, so Retry can resend it.
func (s *Session) Send(ctx context.Context, text string, att *Attachment) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" && (att == nil || len(att.Data) == 0) {
		return "", ErrEmptyMessage
	}

	id, err := s.activeConversation()
	if err != nil {
		return "", err
	}
	if !s.acquire(id) {
		return "", ErrBusy
	}
	defer s.release(id)

	turn := model.NewUserTurn(text)
	if att != nil && len(att.Data) > 0 {
		turn = turn.WithAttachment(att.MimeType, att.Data)
	}
	if err := s.repo.AppendTo(id, turn); err != nil {
		return "", err
	}
	defer s.persistInBackground(ctx)

	return s.exchange(ctx, id)
}

// Retry resends the active conversation when its last turn is an unanswered
// user turn. No new user turn is appended.
func (s *Session) Retry(ctx context.Context) (string, error) {
	id := s.repo.Snapshot().ActiveID
	if id == "" {
		return "", history.ErrNoActiveConversation
	}
	if !s.acquire(id) {
		return "", ErrBusy
	}
	defer s.release(id)

	turns, err := s.repo.Turns(id)
	if err != nil {
		return "", err
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != model.RoleUser {
		return "", ErrNothingToRetry
	}

	reply, err := s.exchange(ctx, id)
	if err == nil {
		s.persistInBackground(ctx)
	}
	return reply, err
}

// exchange sends the conversation's turns and appends the reply.
func (s *Session) exchange(ctx context.Context, id string) (string, error) {
	turns, err := s.repo.Turns(id)
	if err != nil {
		return "", err
	}
	svc, err := s.repo.ServiceID(id)
	if err != nil {
		return "", err
	}

	start := time.Now()
	reply, err := s.currentSender().SendChat(ctx, svc, turns)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.log.Debug("chat request cancelled", zap.String("conversation", id))
		} else {
			s.log.Warn("chat request failed",
				zap.String("conversation", id),
				zap.String("provider", svc),
				zap.Error(err))
		}
		return "", err
	}

	// the conversation may have been deleted while the request was in flight
	if err := s.repo.AppendTo(id, model.NewAssistantTurn(reply)); err != nil {
		return "", err
	}
	s.log.Info("chat reply received",
		zap.String("conversation", id),
		zap.String("provider", svc),
		zap.Duration("duration", time.Since(start)))
	return reply, nil
}

// persistInBackground writes the history without blocking the caller. The
// write outlives the caller's context.
func (s *Session) persistInBackground(ctx context.Context) {
	s.persists.Add(1)
	go func() {
		defer s.persists.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := s.repo.Persist(pctx); err != nil {
			s.log.Error("failed to persist conversations", zap.Error(err))
		}
	}()
}

// Wait blocks until every background persist has finished.
func (s *Session) Wait() {
	s.persists.Wait()
}
