// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider is the static catalog of chat back-ends kai can talk to.
//
// Providers are immutable values defined at compile time and looked up by
// identifier. Base URLs may be overridden from configuration (self-hosted
// Ollama, a different free proxy) by deriving a new Registry; the package
// level catalog itself never changes.
package provider

import (
	"strings"
)

// Well-known provider identifiers.
const (
	FreeID      = "free"
	GeminiID    = "gemini"
	GroqCloudID = "groqcloud"
	OllamaID    = "ollama"
)

// DefaultID is used whenever a stored or requested identifier is unknown.
const DefaultID = FreeID

// Dialect names the wire schema a provider speaks.
type Dialect string

const (
	DialectGemini Dialect = "gemini" // contents/parts -> candidates
	DialectOpenAI Dialect = "openai" // messages -> choices
	DialectOllama Dialect = "ollama" // native /api/chat messages -> message
)

// AuthStyle says how the API key travels with a request.
type AuthStyle string

const (
	AuthNone   AuthStyle = "none"
	AuthBearer AuthStyle = "bearer" // Authorization: Bearer <key>
	AuthQuery  AuthStyle = "query"  // ?key=<key>
)

// Provider describes one back-end.
type Provider struct {
	ID             string
	DisplayName    string
	RequiresAPIKey bool
	DefaultModel   string

	// ChatURL and ModelsURL are templates; {base} and {model} are substituted.
	// An empty ModelsURL means the provider cannot list its models.
	ChatURL   string
	ModelsURL string
	BaseURL   string

	Dialect Dialect
	Auth    AuthStyle
}

// CanListModels reports whether the provider exposes a model-listing endpoint.
func (p Provider) CanListModels() bool {
	return p.ModelsURL != ""
}

// ChatEndpoint expands the chat URL template for model.
func (p Provider) ChatEndpoint(model string) string {
	return p.expand(p.ChatURL, model)
}

// ModelsEndpoint expands the model-listing URL template. It returns "" when
// the provider cannot list models.
func (p Provider) ModelsEndpoint() string {
	if !p.CanListModels() {
		return ""
	}
	return p.expand(p.ModelsURL, "")
}

func (p Provider) expand(tmpl, model string) string {
	r := strings.NewReplacer(
		"{base}", strings.TrimSuffix(p.BaseURL, "/"),
		"{model}", model,
	)
	return r.Replace(tmpl)
}

// catalog is the compile-time provider list, in display order.
var catalog = []Provider{
	{
		ID:             FreeID,
		DisplayName:    "Free",
		RequiresAPIKey: false,
		DefaultModel:   "default",
		BaseURL:        "http://127.0.0.1:8080",
		ChatURL:        "{base}/v1/chat/completions",
		Dialect:        DialectOpenAI,
		Auth:           AuthNone,
	},
	{
		ID:             GeminiID,
		DisplayName:    "Gemini",
		RequiresAPIKey: true,
		DefaultModel:   "gemini-2.0-flash",
		BaseURL:        "https://generativelanguage.googleapis.com",
		ChatURL:        "{base}/v1beta/models/{model}:generateContent",
		ModelsURL:      "{base}/v1beta/models",
		Dialect:        DialectGemini,
		Auth:           AuthQuery,
	},
	{
		ID:             GroqCloudID,
		DisplayName:    "GroqCloud",
		RequiresAPIKey: true,
		DefaultModel:   "llama-3.3-70b-versatile",
		BaseURL:        "https://api.groq.com",
		ChatURL:        "{base}/openai/v1/chat/completions",
		ModelsURL:      "{base}/openai/v1/models",
		Dialect:        DialectOpenAI,
		Auth:           AuthBearer,
	},
	{
		ID:             OllamaID,
		DisplayName:    "Ollama",
		RequiresAPIKey: false,
		DefaultModel:   "llama3.2",
		BaseURL:        "http://127.0.0.1:11434",
		ChatURL:        "{base}/api/chat",
		ModelsURL:      "{base}/api/tags",
		Dialect:        DialectOllama,
		Auth:           AuthBearer,
	},
}

// Registry is a lookup table over a provider list. The zero value is not
// usable; use Default or Registry.WithBaseURL.
type Registry struct {
	order []string
	byID  map[string]Provider
}

var defaultRegistry = newRegistry(catalog)

// Default returns the compile-time registry.
func Default() *Registry {
	return defaultRegistry
}

func newRegistry(list []Provider) *Registry {
	r := &Registry{
		order: make([]string, 0, len(list)),
		byID:  make(map[string]Provider, len(list)),
	}
	for _, p := range list {
		r.order = append(r.order, p.ID)
		r.byID[p.ID] = p
	}
	return r
}

// Lookup returns the provider registered under id.
func (r *Registry) Lookup(id string) (Provider, bool) {
	p, ok := r.byID[normalizeID(id)]
	return p, ok
}

// Resolve returns the provider for id, falling back to the free provider for
// empty or unknown identifiers.
func (r *Registry) Resolve(id string) Provider {
	if p, ok := r.Lookup(id); ok {
		return p
	}
	return r.byID[DefaultID]
}

// All returns every provider in display order.
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// IDs returns the registered identifiers in display order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// WithBaseURL returns a copy of the registry in which provider id uses base
// instead of its built-in base URL. Unknown ids and empty bases leave the
// copy unchanged.
func (r *Registry) WithBaseURL(id, base string) *Registry {
	list := r.All()
	id = normalizeID(id)
	base = strings.TrimSpace(base)
	for i := range list {
		if list[i].ID == id && base != "" {
			list[i].BaseURL = strings.TrimSuffix(base, "/")
		}
	}
	return newRegistry(list)
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
