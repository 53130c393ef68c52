// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm is kai's request layer: it turns conversation turns into one
// provider-specific HTTP call and the provider's answer back into plain text.
//
// Three wire dialects are spoken (Gemini generateContent, OpenAI chat
// completions, Ollama /api/chat). Every failure is reported as an *Error
// whose Kind is one of a small taxonomy, so callers can test with errors.Is
// against ErrInvalidAPIKey, ErrRateLimited, ErrModelNotFound,
// ErrConnectionFailed, ErrProvider or ErrUnknown without knowing which
// provider answered.
//
// # Behaviour
//
//   - one attempt per call, fixed timeout, no retries
//   - context cancellation is returned as context.Canceled
//   - an authorised client is cached per provider and rebuilt after the
//     provider's API key changes in settings
//   - model listings are cached per provider
//
// # Usage
//
//	c := llm.New(st, llm.Options{})
//	defer c.Close()
//	reply, err := c.SendChat(ctx, provider.GeminiID, conv.Messages)
//	if errors.Is(err, llm.ErrInvalidAPIKey) {
//	    // ask for a new key
//	}
package llm
