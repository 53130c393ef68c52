// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/jeranaias/kai/internal/model"
	"github.com/jeranaias/kai/internal/provider"
)

// dialect encodes requests and decodes responses for one wire schema.
type dialect interface {
	chatBody(modelID string, turns []model.Turn) (any, error)
	parseChat(providerID string, body []byte) (string, error)
	parseModels(providerID string, body []byte) ([]model.ModelInfo, error)
}

// modelPager is implemented by dialects whose model listing is paginated.
type modelPager interface {
	// pageQuery returns the query for the page after token, "" for the
	// first page.
	pageQuery(token string) url.Values
	nextPageToken(body []byte) string
}

// maxModelPages bounds how many listing pages one ListModels call follows.
const maxModelPages = 20

func dialectFor(d provider.Dialect) dialect {
	switch d {
	case provider.DialectGemini:
		return geminiDialect{}
	case provider.DialectOllama:
		return ollamaDialect{}
	default:
		return openAIDialect{}
	}
}

// =============================================================================
// STATUS MAPPING
// =============================================================================

// maxErrorBody bounds the provider body kept on an *Error.
const maxErrorBody = 4096

// classify converts a non-2xx response into the error taxonomy.
func classify(p provider.Provider, status int, body []byte) error {
	e := &Error{
		Provider: p.ID,
		Status:   status,
		Body:     truncateBody(body),
		Message:  errorMessage(body),
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindInvalidAPIKey
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status == http.StatusNotFound:
		e.Kind = KindModelNotFound
	case status == http.StatusBadRequest && p.Dialect == provider.DialectGemini &&
		strings.Contains(string(body), "API_KEY_INVALID"):
		// Gemini reports a bad key as 400 INVALID_ARGUMENT
		e.Kind = KindInvalidAPIKey
	default:
		e.Kind = KindProvider
	}

	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// errorMessage pulls a human-readable message out of the common error
// shapes: {"error":{"message":"..."}} (Gemini, OpenAI) and {"error":"..."}
// (Ollama).
func errorMessage(body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}
	return ""
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}
	return string(body)
}

// emptyReply is returned when a 2xx response carries no text.
func emptyReply(providerID string) error {
	return &Error{Kind: KindUnknown, Provider: providerID, Message: "response contained no text"}
}

// decodeFailure is returned when a 2xx response is not the expected JSON.
func decodeFailure(providerID string, err error) error {
	return &Error{Kind: KindUnknown, Provider: providerID, Message: "failed to decode response", Cause: err}
}
