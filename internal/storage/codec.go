// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20"

	"github.com/jeranaias/kai/internal/model"
)

// CurrentVersion is the envelope version written by this release.
const CurrentVersion = 1

// KeySize is the required encryption key length.
const KeySize = chacha20.KeySize

// Envelope is the persisted document.
type Envelope struct {
	Version       int                  `json:"version"`
	Conversations []model.Conversation `json:"conversations"`
}

// Codec turns a conversation list into scrambled bytes and back.
// Layout: nonce (12 bytes) || ChaCha20(JSON envelope).
type Codec struct {
	key []byte
}

// NewCodec returns a codec for a KeySize-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, wrap(ErrInvalidKey, fmt.Errorf("got %d bytes, want %d", len(key), KeySize))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Codec{key: k}, nil
}

// Encode serialises convs under a fresh random nonce.
func (c *Codec) Encode(convs []model.Conversation) ([]byte, error) {
	if convs == nil {
		convs = []model.Conversation{}
	}
	plain, err := json.Marshal(Envelope{Version: CurrentVersion, Conversations: convs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversations: %w", err)
	}

	out := make([]byte, chacha20.NonceSize+len(plain))
	nonce := out[:chacha20.NonceSize]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	stream, err := chacha20.NewUnauthenticatedCipher(c.key, nonce)
	if err != nil {
		return nil, err
	}
	stream.XORKeyStream(out[chacha20.NonceSize:], plain)
	return out, nil
}

// Decode reverses Encode. Envelopes newer than CurrentVersion are rejected
// rather than partially read.
func (c *Codec) Decode(data []byte) ([]model.Conversation, error) {
	if len(data) < chacha20.NonceSize {
		return nil, wrap(ErrCorrupt, fmt.Errorf("blob too short (%d bytes)", len(data)))
	}

	stream, err := chacha20.NewUnauthenticatedCipher(c.key, data[:chacha20.NonceSize])
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(data)-chacha20.NonceSize)
	stream.XORKeyStream(plain, data[chacha20.NonceSize:])

	var env Envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, wrap(ErrCorrupt, err)
	}
	if env.Version > CurrentVersion {
		return nil, wrap(ErrUnsupportedVersion, fmt.Errorf("version %d", env.Version))
	}
	if env.Conversations == nil {
		env.Conversations = []model.Conversation{}
	}
	for i := range env.Conversations {
		if env.Conversations[i].Messages == nil {
			env.Conversations[i].Messages = []model.Turn{}
		}
	}
	return env.Conversations, nil
}
