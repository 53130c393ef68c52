// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// TURN TYPE
// =============================================================================

// ErrNoAttachment is returned by Turn.Attachment when the turn carries none.
var ErrNoAttachment = errors.New("turn has no attachment")

// Turn is a single message in a conversation. Data holds base64 text of an
// optional attachment whose type is MimeType.
type Turn struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// NewTurn creates a turn with a generated ID.
func NewTurn(role Role, content string) Turn {
	return Turn{
		ID:      uuid.New().String(),
		Role:    role,
		Content: content,
	}
}

// NewUserTurn creates a user turn.
func NewUserTurn(content string) Turn {
	return NewTurn(RoleUser, content)
}

// NewAssistantTurn creates an assistant turn.
func NewAssistantTurn(content string) Turn {
	return NewTurn(RoleAssistant, content)
}

// WithAttachment returns a copy of t carrying raw as a base64 attachment.
func (t Turn) WithAttachment(mimeType string, raw []byte) Turn {
	t.MimeType = strings.TrimSpace(mimeType)
	t.Data = base64.StdEncoding.EncodeToString(raw)
	return t
}

// HasAttachment reports whether the turn carries attachment data.
func (t Turn) HasAttachment() bool {
	return t.Data != ""
}

// IsImage reports whether the attachment is an image.
func (t Turn) IsImage() bool {
	return t.HasAttachment() && strings.HasPrefix(strings.ToLower(t.MimeType), "image/")
}

// Attachment decodes the attachment bytes.
func (t Turn) Attachment() ([]byte, error) {
	if !t.HasAttachment() {
		return nil, ErrNoAttachment
	}
	return base64.StdEncoding.DecodeString(t.Data)
}
