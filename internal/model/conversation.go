// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/kai/internal/util"
)

// TitleWidth is the display width derived titles are truncated to.
const TitleWidth = 48

// DefaultTitle is shown for conversations without a user turn yet.
const DefaultTitle = "New conversation"

// now is replaced in tests.
var now = time.Now

// NowMillis returns the current time in Unix milliseconds.
func NowMillis() int64 {
	return now().UnixMilli()
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds an ordered list of turns exchanged with one provider.
type Conversation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Messages  []Turn `json:"messages"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	ServiceID string `json:"serviceId"`
}

// NewConversation creates an empty conversation bound to serviceID.
func NewConversation(serviceID string) *Conversation {
	ts := NowMillis()
	return &Conversation{
		ID:        uuid.New().String(),
		Messages:  make([]Turn, 0),
		CreatedAt: ts,
		UpdatedAt: ts,
		ServiceID: serviceID,
	}
}

// Append adds a turn, bumps UpdatedAt and derives the title from the first
// user turn when none is set.
func (c *Conversation) Append(t Turn) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	c.Messages = append(c.Messages, t)
	c.UpdatedAt = NowMillis()
	if c.Title == "" && t.Role == RoleUser {
		c.Title = DeriveTitle(t)
	}
}

// LastUserTurn returns the most recent user turn.
func (c *Conversation) LastUserTurn() (Turn, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i], true
		}
	}
	return Turn{}, false
}

// LastTurn returns the most recent turn of any role.
func (c *Conversation) LastTurn() (Turn, bool) {
	if len(c.Messages) == 0 {
		return Turn{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// IsEmpty returns true if there are no turns.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// DisplayTitle returns the title or DefaultTitle.
func (c *Conversation) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return DefaultTitle
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = make([]Turn, len(c.Messages))
	// Turn holds only strings, so copying values is a deep copy
	copy(clone.Messages, c.Messages)
	return &clone
}

// =============================================================================
// TITLE DERIVATION
// =============================================================================

// DeriveTitle builds a one-line, width-limited title from a turn's text.
// Attachment-only turns are titled by their MIME type.
func DeriveTitle(t Turn) string {
	title := util.SingleLine(norm.NFC.String(t.Content))
	if title == "" && t.HasAttachment() {
		title = t.MimeType
		if title == "" {
			title = "attachment"
		}
	}
	return util.TruncateWidth(title, TitleWidth)
}
