// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/kai/internal/chat"
	"github.com/jeranaias/kai/internal/config"
	"github.com/jeranaias/kai/internal/export"
	"github.com/jeranaias/kai/internal/history"
	"github.com/jeranaias/kai/internal/llm"
	"github.com/jeranaias/kai/internal/settings"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
	ExitInterrupted   = 130
)

// UsageError reports invalid command usage.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// GetExitCode maps an error to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsageError
	}
	var verrs config.ValidateErrors
	if errors.As(err, &verrs) {
		return ExitConfigError
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.Is(err, llm.ErrInvalidAPIKey):
		return ExitAuthError
	case errors.Is(err, llm.ErrConnectionFailed):
		return ExitNetworkError
	case errors.Is(err, llm.ErrModelNotFound),
		errors.Is(err, history.ErrConversationNotFound):
		return ExitNotFoundError
	case errors.Is(err, settings.ErrUnknownProvider),
		errors.Is(err, llm.ErrUnknownProvider),
		errors.Is(err, llm.ErrModelListingUnsupported),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, export.ErrEmptyConversation):
		return ExitUsageError
	}
	return ExitGeneralError
}

// describe turns request layer errors into a one-line hint for humans.
func describe(err error) string {
	switch llm.KindOf(err) {
	case llm.KindInvalidAPIKey:
		return "the provider rejected the API key (set one with: kai key set <provider>)"
	case llm.KindRateLimited:
		return "rate limited, wait a moment and retry"
	case llm.KindModelNotFound:
		return "model not found (pick another with: kai model <provider> <model>)"
	case llm.KindConnectionFailed:
		return "could not reach the provider"
	}
	switch {
	case errors.Is(err, chat.ErrBusy):
		return "still waiting for the previous reply"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return err.Error()
}
