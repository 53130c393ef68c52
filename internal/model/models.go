// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// ModelInfo is one entry of a provider's model listing.
type ModelInfo struct {
	// ID is the model identifier used in API calls
	ID string `json:"id"`

	// Name is the human-readable display name; falls back to ID
	Name string `json:"name,omitempty"`

	// Provider is the registry id the model belongs to
	Provider string `json:"provider"`
}

// DisplayName returns Name, or ID when no name was reported.
func (m ModelInfo) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}
