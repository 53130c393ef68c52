// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/jeranaias/kai/internal/model"
)

// =============================================================================
// GEMINI generateContent
// =============================================================================

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type geminiModelsResponse struct {
	NextPageToken string `json:"nextPageToken,omitempty"`
	Models        []struct {
		Name                       string   `json:"name"`
		DisplayName                string   `json:"displayName"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
}

type geminiDialect struct{}

// geminiRole maps the assistant role onto Gemini's "model".
func geminiRole(r model.Role) string {
	if r == model.RoleAssistant {
		return "model"
	}
	return "user"
}

func (geminiDialect) chatBody(_ string, turns []model.Turn) (any, error) {
	req := geminiRequest{Contents: make([]geminiContent, 0, len(turns))}
	for _, t := range turns {
		c := geminiContent{Role: geminiRole(t.Role)}
		if t.Content != "" {
			c.Parts = append(c.Parts, geminiPart{Text: t.Content})
		}
		if t.HasAttachment() {
			c.Parts = append(c.Parts, geminiPart{InlineData: &geminiInlineData{
				MimeType: t.MimeType,
				Data:     t.Data,
			}})
		}
		if len(c.Parts) == 0 {
			c.Parts = []geminiPart{{Text: " "}}
		}
		req.Contents = append(req.Contents, c)
	}
	return req, nil
}

func (geminiDialect) parseChat(providerID string, body []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", decodeFailure(providerID, err)
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", &Error{
				Kind:     KindUnknown,
				Provider: providerID,
				Message:  "prompt blocked: " + resp.PromptFeedback.BlockReason,
			}
		}
		return "", emptyReply(providerID)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", emptyReply(providerID)
	}
	return sb.String(), nil
}

func (geminiDialect) parseModels(providerID string, body []byte) ([]model.ModelInfo, error) {
	var resp geminiModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, decodeFailure(providerID, err)
	}
	if resp.Models == nil {
		return nil, decodeFailure(providerID, errors.New("missing models field"))
	}

	out := make([]model.ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		if !supportsGenerate(m.SupportedGenerationMethods) {
			continue
		}
		out = append(out, model.ModelInfo{
			ID:       strings.TrimPrefix(m.Name, "models/"),
			Name:     m.DisplayName,
			Provider: providerID,
		})
	}
	return out, nil
}

// geminiPageSize is the largest page models.list accepts.
const geminiPageSize = 1000

func (geminiDialect) pageQuery(token string) url.Values {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(geminiPageSize))
	if token != "" {
		q.Set("pageToken", token)
	}
	return q
}

func (geminiDialect) nextPageToken(body []byte) string {
	var resp geminiModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.NextPageToken
}

func supportsGenerate(methods []string) bool {
	// older listings omit the field entirely
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if m == "generateContent" {
			return true
		}
	}
	return false
}
