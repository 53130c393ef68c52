// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and turns.
//
// # Key Types
//
//   - Conversation: ordered turns plus the provider they were exchanged with
//   - Turn: one user or assistant message, optionally carrying an attachment
//   - ModelInfo: an entry of a provider's model listing
//
// # Usage
//
//	conv := model.NewConversation(provider.GeminiID)
//	conv.Append(model.NewUserTurn("Hello!"))
//
// Timestamps are Unix milliseconds so they survive the JSON envelope
// unchanged on every platform.
package model
