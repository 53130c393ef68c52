// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/kai/internal/logging"
	"github.com/jeranaias/kai/internal/model"
	"github.com/jeranaias/kai/internal/provider"
	"github.com/jeranaias/kai/internal/settings"
)

const (
	// DefaultTimeout bounds every request, connect to last byte.
	DefaultTimeout = 30 * time.Second

	// DefaultModelCacheTTL is how long a model listing is reused.
	DefaultModelCacheTTL = 10 * time.Minute

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB

	userAgent = "kai/1.0"
)

// DefaultRequestsPerMinute paces providers that share a public quota.
var DefaultRequestsPerMinute = map[string]int{
	provider.FreeID: 20,
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	// Registry overrides the provider catalog (custom base URLs).
	Registry *provider.Registry

	// Timeout is the fixed per-request timeout.
	Timeout time.Duration

	// ModelCacheTTL controls how long ListModels results are reused.
	ModelCacheTTL time.Duration

	// RequestsPerMinute enables client-side pacing per provider id. A nil
	// map selects DefaultRequestsPerMinute; zero or negative disables pacing
	// for that provider.
	RequestsPerMinute map[string]int

	// Transport overrides the HTTP transport.
	Transport http.RoundTripper

	Logger *zap.Logger
}

// =============================================================================
// CLIENT
// =============================================================================

// Client sends chat and listing requests to any registered provider.
// It is safe for concurrent use.
type Client struct {
	settings *settings.Settings
	registry *provider.Registry
	http     *http.Client
	log      *zap.Logger

	mu      sync.Mutex
	clients map[string]*providerClient

	limiters map[string]*rate.Limiter
	models   *cache.Cache

	unsubscribe func()
}

// providerClient is an authorised binding of one provider to one key.
type providerClient struct {
	provider    provider.Provider
	dialect     dialect
	key         string
	fingerprint string
}

// New returns a client reading keys and models from st. The client follows
// key changes published by st until Close is called.
func New(st *settings.Settings, opts Options) *Client {
	if opts.Registry == nil {
		opts.Registry = st.Registry()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ModelCacheTTL <= 0 {
		opts.ModelCacheTTL = DefaultModelCacheTTL
	}
	if opts.RequestsPerMinute == nil {
		opts.RequestsPerMinute = DefaultRequestsPerMinute
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}

	c := &Client{
		settings: st,
		registry: opts.Registry,
		http:     &http.Client{Timeout: opts.Timeout, Transport: transport},
		log:      logging.For(opts.Logger, "llm"),
		clients:  make(map[string]*providerClient),
		limiters: make(map[string]*rate.Limiter),
		models:   cache.New(opts.ModelCacheTTL, 2*opts.ModelCacheTTL),
	}

	for id, rpm := range opts.RequestsPerMinute {
		if rpm > 0 {
			c.limiters[id] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
		}
	}

	c.unsubscribe = st.Subscribe(func(ch settings.Change) {
		if ch.Kind == settings.ChangeAPIKey {
			c.InvalidateProvider(ch.ProviderID)
		}
	})
	return c
}

// Close stops following settings changes.
func (c *Client) Close() {
	c.unsubscribe()
}

// InvalidateProvider drops the cached authorised client and model listing of
// a provider. The next request rebuilds them from current settings.
func (c *Client) InvalidateProvider(id string) {
	c.mu.Lock()
	_, had := c.clients[id]
	delete(c.clients, id)
	c.mu.Unlock()

	c.models.Delete(id)
	if had {
		c.log.Debug("provider client invalidated", zap.String("provider", id))
	}
}

// clientFor returns the cached authorised client for id, building it on
// first use. A provider that requires a key and has none fails with
// ErrInvalidAPIKey and nothing is cached.
func (c *Client) clientFor(id string) (*providerClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pc, ok := c.clients[id]; ok {
		return pc, nil
	}

	p, ok := c.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}

	key, found, err := c.settings.APIKey(p.ID)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Provider: p.ID, Message: "failed to read API key", Cause: err}
	}
	if p.RequiresAPIKey && !found {
		return nil, &Error{Kind: KindInvalidAPIKey, Provider: p.ID, Message: "no API key configured"}
	}

	pc := &providerClient{
		provider:    p,
		dialect:     dialectFor(p.Dialect),
		key:         key,
		fingerprint: KeyFingerprint(key),
	}
	c.clients[p.ID] = pc
	c.log.Debug("provider client built",
		zap.String("provider", p.ID),
		zap.String("key_fingerprint", pc.fingerprint))
	return pc, nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// SendChat sends turns to a provider and returns the reply text. The model
// is the one selected in settings for that provider.
func (c *Client) SendChat(ctx context.Context, providerID string, turns []model.Turn) (string, error) {
	if len(turns) == 0 {
		return "", ErrNoTurns
	}
	pc, err := c.clientFor(providerID)
	if err != nil {
		return "", err
	}
	if err := c.allow(pc.provider.ID); err != nil {
		return "", err
	}

	modelID, err := c.settings.Model(pc.provider.ID)
	if err != nil {
		return "", &Error{Kind: KindUnknown, Provider: pc.provider.ID, Message: "failed to read model", Cause: err}
	}

	payload, err := pc.dialect.chatBody(modelID, turns)
	if err != nil {
		return "", &Error{Kind: KindUnknown, Provider: pc.provider.ID, Message: "failed to build request", Cause: err}
	}

	body, err := c.do(ctx, pc, http.MethodPost, pc.provider.ChatEndpoint(modelID), payload)
	if err != nil {
		return "", err
	}
	return pc.dialect.parseChat(pc.provider.ID, body)
}

// ListModels returns the models a provider offers. Providers without a
// listing endpoint fail immediately with ErrModelListingUnsupported.
func (c *Client) ListModels(ctx context.Context, providerID string) ([]model.ModelInfo, error) {
	p, ok := c.registry.Lookup(providerID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerID)
	}
	if !p.CanListModels() {
		return nil, fmt.Errorf("%s: %w", p.ID, ErrModelListingUnsupported)
	}

	if cached, ok := c.models.Get(p.ID); ok {
		return append([]model.ModelInfo(nil), cached.([]model.ModelInfo)...), nil
	}

	pc, err := c.clientFor(p.ID)
	if err != nil {
		return nil, err
	}
	if err := c.allow(p.ID); err != nil {
		return nil, err
	}

	models, err := c.fetchModels(ctx, pc)
	if err != nil {
		return nil, err
	}

	c.models.SetDefault(p.ID, models)
	return append([]model.ModelInfo(nil), models...), nil
}

// fetchModels reads every page of a provider's model listing.
func (c *Client) fetchModels(ctx context.Context, pc *providerClient) ([]model.ModelInfo, error) {
	p := pc.provider
	pager, paged := pc.dialect.(modelPager)
	if !paged {
		body, err := c.do(ctx, pc, http.MethodGet, p.ModelsEndpoint(), nil)
		if err != nil {
			return nil, err
		}
		return pc.dialect.parseModels(p.ID, body)
	}

	var (
		all   []model.ModelInfo
		token string
	)
	for page := 0; page < maxModelPages; page++ {
		endpoint, err := withQuery(p.ModelsEndpoint(), pager.pageQuery(token))
		if err != nil {
			return nil, &Error{Kind: KindConnectionFailed, Provider: p.ID, Message: "invalid endpoint", Cause: err}
		}
		body, err := c.do(ctx, pc, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		models, err := pc.dialect.parseModels(p.ID, body)
		if err != nil {
			return nil, err
		}
		all = append(all, models...)

		if token = pager.nextPageToken(body); token == "" {
			return all, nil
		}
	}
	c.log.Warn("model listing truncated", zap.String("provider", p.ID), zap.Int("pages", maxModelPages))
	return all, nil
}

func withQuery(endpoint string, extra url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range extra {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// allow applies client-side pacing. An exhausted limiter fails fast.
func (c *Client) allow(id string) error {
	lim, ok := c.limiters[id]
	if !ok || lim.Allow() {
		return nil
	}
	c.log.Warn("request paced locally", zap.String("provider", id))
	return &Error{Kind: KindRateLimited, Provider: id, Message: "too many requests, slow down"}
}

// =============================================================================
// TRANSPORT
// =============================================================================

// do performs one HTTP exchange and returns a 2xx body or a classified
// error.
func (c *Client) do(ctx context.Context, pc *providerClient, method, endpoint string, payload any) ([]byte, error) {
	p := pc.provider

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Kind: KindUnknown, Provider: p.ID, Message: "failed to marshal request", Cause: err}
		}
		reqBody = bytes.NewReader(data)
	}

	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, &Error{Kind: KindConnectionFailed, Provider: p.ID, Message: "invalid endpoint", Cause: err}
	}
	if p.Auth == provider.AuthQuery && pc.key != "" {
		q := target.Query()
		q.Set("key", pc.key)
		target.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reqBody)
	if err != nil {
		return nil, &Error{Kind: KindConnectionFailed, Provider: p.ID, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.Auth == provider.AuthBearer && pc.key != "" {
		req.Header.Set("Authorization", "Bearer "+pc.key)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// caller cancellation is not a transport failure
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		c.log.Warn("request failed",
			zap.String("provider", p.ID),
			zap.String("path", target.Path),
			zap.Duration("duration", time.Since(start)),
			zap.Error(redact(err, pc.key)))
		return nil, &Error{Kind: KindConnectionFailed, Provider: p.ID, Message: "request failed", Cause: redact(err, pc.key)}
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		return nil, &Error{Kind: KindConnectionFailed, Provider: p.ID, Message: "failed to read response", Cause: err}
	}

	c.log.Debug("request completed",
		zap.String("provider", p.ID),
		zap.String("method", method),
		zap.String("path", target.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.String("key_fingerprint", pc.fingerprint))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classify(p, resp.StatusCode, body)
	}
	return body, nil
}

// readResponse reads the response body with size limits to prevent memory
// exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// KeyFingerprint identifies a key in logs without exposing any of it.
func KeyFingerprint(key string) string {
	if key == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:4])
}

// redact strips the key from transport errors, which quote the full URL
// (and with it Gemini's ?key= parameter).
func redact(err error, key string) error {
	if key == "" {
		return err
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		clean := *uerr
		if u, perr := url.Parse(uerr.URL); perr == nil {
			q := u.Query()
			if q.Has("key") {
				q.Set("key", "REDACTED")
				u.RawQuery = q.Encode()
			}
			clean.URL = u.String()
		}
		return &clean
	}
	return err
}
