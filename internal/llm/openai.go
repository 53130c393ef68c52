// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/kai/internal/model"
)

// =============================================================================
// OPENAI chat/completions (GroqCloud, free proxy)
// =============================================================================

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// openAIMessage carries either a plain string or a list of content parts.
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type openAIModelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

type openAIDialect struct{}

func (openAIDialect) chatBody(modelID string, turns []model.Turn) (any, error) {
	req := openAIRequest{Model: modelID, Messages: make([]openAIMessage, 0, len(turns))}
	for _, t := range turns {
		msg := openAIMessage{Role: string(t.Role)}
		switch {
		case t.IsImage():
			parts := []openAIPart{}
			if t.Content != "" {
				parts = append(parts, openAIPart{Type: "text", Text: t.Content})
			}
			parts = append(parts, openAIPart{
				Type:     "image_url",
				ImageURL: &openAIImageURL{URL: "data:" + t.MimeType + ";base64," + t.Data},
			})
			msg.Content = parts
		case t.HasAttachment():
			text, err := inlineText(t)
			if err != nil {
				return nil, err
			}
			msg.Content = text
		default:
			msg.Content = t.Content
		}
		req.Messages = append(req.Messages, msg)
	}
	return req, nil
}

// inlineText appends a textual attachment to the turn's own text. Binary
// attachments other than images cannot be expressed in this dialect and are
// dropped.
func inlineText(t model.Turn) (string, error) {
	if !isTextual(t.MimeType) {
		return t.Content, nil
	}
	raw, err := t.Attachment()
	if err != nil {
		return "", fmt.Errorf("turn %s: invalid attachment: %w", t.ID, err)
	}
	if t.Content == "" {
		return string(raw), nil
	}
	return t.Content + "\n\n" + string(raw), nil
}

func isTextual(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	return strings.HasPrefix(mt, "text/") || mt == "application/json" || mt == "application/xml"
}

func (openAIDialect) parseChat(providerID string, body []byte) (string, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", decodeFailure(providerID, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", emptyReply(providerID)
	}
	return resp.Choices[0].Message.Content, nil
}

func (openAIDialect) parseModels(providerID string, body []byte) ([]model.ModelInfo, error) {
	var resp openAIModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, decodeFailure(providerID, err)
	}
	if resp.Data == nil {
		return nil, decodeFailure(providerID, errors.New("missing data field"))
	}
	out := make([]model.ModelInfo, 0, len(resp.Data))
	for _, m := range resp.Data {
		out = append(out, model.ModelInfo{ID: m.ID, Provider: providerID})
	}
	return out, nil
}
