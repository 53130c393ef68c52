// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// Kind categorizes request failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidAPIKey
	KindRateLimited
	KindModelNotFound
	KindConnectionFailed
	KindProvider
)

func (k Kind) String() string {
	switch k {
	case KindInvalidAPIKey:
		return "invalid_api_key"
	case KindRateLimited:
		return "rate_limited"
	case KindModelNotFound:
		return "model_not_found"
	case KindConnectionFailed:
		return "connection_failed"
	case KindProvider:
		return "provider_error"
	default:
		return "unknown"
	}
}

// Error is a failed chat or listing request. Status and Body are set for
// KindProvider (and, when available, for the other HTTP-derived kinds).
type Error struct {
	Kind     Kind
	Provider string
	Status   int
	Body     string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same Kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors for easy checking.
var (
	ErrInvalidAPIKey    = &Error{Kind: KindInvalidAPIKey, Message: "invalid API key"}
	ErrRateLimited      = &Error{Kind: KindRateLimited, Message: "rate limited"}
	ErrModelNotFound    = &Error{Kind: KindModelNotFound, Message: "model not found"}
	ErrConnectionFailed = &Error{Kind: KindConnectionFailed, Message: "connection failed"}
	ErrProvider         = &Error{Kind: KindProvider, Message: "provider error"}
	ErrUnknown          = &Error{Kind: KindUnknown, Message: "unknown error"}
)

// Precondition failures. These are programming or configuration errors and
// never reach the network.
var (
	ErrModelListingUnsupported = errors.New("provider does not support model listing")
	ErrUnknownProvider         = errors.New("unknown provider")
	ErrNoTurns                 = errors.New("no turns to send")
)

// KindOf returns the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
