// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli is the kai command-line harness.
//
// It loads the configuration, wires the settings store, the conversation
// repository, the request layer and the chat session into an App, and
// dispatches one command against it. The interactive chat REPL uses liner
// for line editing and glamour for rendering replies.
package cli
