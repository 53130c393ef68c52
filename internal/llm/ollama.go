// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"encoding/json"
	"errors"

	"github.com/jeranaias/kai/internal/model"
)

// =============================================================================
// OLLAMA /api/chat
// =============================================================================

// ollamaMessage is a chat message in Ollama's native schema.
type ollamaMessage struct {
	Role    string   `json:"role"`             // "user", "assistant"
	Content string   `json:"content"`          // The message content
	Images  []string `json:"images,omitempty"` // base64, multimodal models only
}

// ollamaChatRequest is the request body for /api/chat.
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"` // always false, replies are read whole
}

// ollamaChatResponse is the non-streaming reply of /api/chat.
type ollamaChatResponse struct {
	Model      string        `json:"model"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`
	EvalCount  int           `json:"eval_count,omitempty"` // number of tokens generated
}

// ollamaTagsResponse is the reply of /api/tags.
type ollamaTagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
		Size  int64  `json:"size"`
	} `json:"models"`
}

type ollamaDialect struct{}

func (ollamaDialect) chatBody(modelID string, turns []model.Turn) (any, error) {
	req := ollamaChatRequest{Model: modelID, Messages: make([]ollamaMessage, 0, len(turns))}
	for _, t := range turns {
		msg := ollamaMessage{Role: string(t.Role), Content: t.Content}
		switch {
		case t.IsImage():
			msg.Images = []string{t.Data}
		case t.HasAttachment():
			text, err := inlineText(t)
			if err != nil {
				return nil, err
			}
			msg.Content = text
		}
		req.Messages = append(req.Messages, msg)
	}
	return req, nil
}

func (ollamaDialect) parseChat(providerID string, body []byte) (string, error) {
	var resp ollamaChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", decodeFailure(providerID, err)
	}
	if resp.Message.Content == "" {
		return "", emptyReply(providerID)
	}
	return resp.Message.Content, nil
}

func (ollamaDialect) parseModels(providerID string, body []byte) ([]model.ModelInfo, error) {
	var resp ollamaTagsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, decodeFailure(providerID, err)
	}
	if resp.Models == nil {
		return nil, decodeFailure(providerID, errors.New("missing models field"))
	}
	out := make([]model.ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		out = append(out, model.ModelInfo{ID: m.Name, Provider: providerID})
	}
	return out, nil
}
