// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeranaias/kai/internal/config"
	"github.com/jeranaias/kai/internal/history"
	"github.com/jeranaias/kai/internal/llm"
	"github.com/jeranaias/kai/internal/model"
	"github.com/jeranaias/kai/internal/provider"
	"github.com/jeranaias/kai/internal/settings"
)

func TestMain(m *testing.M) {
	DisableColors()
	applyColorProfile()
	os.Exit(m.Run())
}

// =============================================================================
// PARSING
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		want    Command
		sub     string
		words   []string
		wantErr bool
		check   func(*testing.T, Args)
	}{
		{name: "default is chat", argv: nil, want: CmdChat},
		{name: "ask joins words", argv: []string{"ask", "why", "is", "sky"}, want: CmdAsk, words: []string{"why", "is", "sky"}},
		{name: "ask without question", argv: []string{"ask"}, wantErr: true},
		{name: "provider flag", argv: []string{"-p", "ollama", "ask", "hi"}, want: CmdAsk,
			check: func(t *testing.T, a Args) { assert.Equal(t, "ollama", a.Provider) }},
		{name: "provider equals", argv: []string{"chat", "--provider=gemini"}, want: CmdChat,
			check: func(t *testing.T, a Args) { assert.Equal(t, "gemini", a.Provider) }},
		{name: "file flag", argv: []string{"ask", "-f", "x.png", "describe"}, want: CmdAsk,
			check: func(t *testing.T, a Args) { assert.Equal(t, "x.png", a.File) }},
		{name: "flag missing value", argv: []string{"--config"}, wantErr: true},
		{name: "providers alias", argv: []string{"ls"}, want: CmdProviders},
		{name: "use", argv: []string{"use", "groqcloud"}, want: CmdUse, words: []string{"groqcloud"}},
		{name: "use needs one", argv: []string{"use"}, wantErr: true},
		{name: "model two words", argv: []string{"model", "ollama", "qwen"}, want: CmdModel, words: []string{"ollama", "qwen"}},
		{name: "key set", argv: []string{"key", "set", "gemini"}, want: CmdKey, sub: "set", words: []string{"gemini"}},
		{name: "key needs provider", argv: []string{"key", "delete"}, wantErr: true},
		{name: "key unknown sub", argv: []string{"key", "rotate", "x"}, wantErr: true},
		{name: "history defaults to list", argv: []string{"history"}, want: CmdHistory, sub: "list"},
		{name: "history export json", argv: []string{"history", "export", "3", "--json"}, want: CmdHistory, sub: "export",
			words: []string{"3"}, check: func(t *testing.T, a Args) { assert.True(t, a.HasFlag("--json")) }},
		{name: "history export format", argv: []string{"history", "export", "--format=html", "2", "--out=/tmp/x"}, want: CmdHistory,
			sub: "export", words: []string{"2"}, check: func(t *testing.T, a Args) {
				f, ok := a.FlagValue("--format")
				assert.True(t, ok)
				assert.Equal(t, "html", f)
				out, _ := a.FlagValue("--out")
				assert.Equal(t, "/tmp/x", out)
				_, ok = a.FlagValue("--theme")
				assert.False(t, ok)
			}},
		{name: "config defaults to show", argv: []string{"config"}, want: CmdConfig, sub: "show"},
		{name: "version flag", argv: []string{"--version"}, want: CmdVersion},
		{name: "quiet and verbose", argv: []string{"-q", "-v", "--no-color", "providers"}, want: CmdProviders,
			check: func(t *testing.T, a Args) {
				assert.True(t, a.Quiet)
				assert.True(t, a.Verbose)
				assert.True(t, a.NoColor)
			}},
		{name: "double dash stops flags", argv: []string{"ask", "--", "-p", "is", "a", "flag"}, want: CmdAsk,
			words: []string{"-p", "is", "a", "flag"}},
		{name: "unknown command", argv: []string{"frobnicate"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args, err := Parse(tt.argv)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, ExitUsageError, GetExitCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd)
			assert.Equal(t, tt.sub, args.Subcommand)
			if tt.words != nil {
				assert.Equal(t, tt.words, args.Words())
			}
			if tt.check != nil {
				tt.check(t, args)
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitAuthError, GetExitCode(&llm.Error{Kind: llm.KindInvalidAPIKey}))
	assert.Equal(t, ExitNetworkError, GetExitCode(fmt.Errorf("send: %w", &llm.Error{Kind: llm.KindConnectionFailed})))
	assert.Equal(t, ExitNotFoundError, GetExitCode(&llm.Error{Kind: llm.KindModelNotFound}))
	assert.Equal(t, ExitNotFoundError, GetExitCode(history.ErrConversationNotFound))
	assert.Equal(t, ExitInterrupted, GetExitCode(context.Canceled))
	assert.Equal(t, ExitConfigError, GetExitCode(config.ValidateErrors{{Field: "x", Message: "y"}}))
	assert.Equal(t, ExitUsageError, GetExitCode(llm.ErrModelListingUnsupported))
	assert.Equal(t, ExitGeneralError, GetExitCode(&llm.Error{Kind: llm.KindProvider, Status: 500}))
}

// =============================================================================
// APP FIXTURE
// =============================================================================

// fakeOllama answers /api/chat and /api/tags. failFirst makes the first
// chat request return 500.
type fakeOllama struct {
	chats     atomic.Int32
	failFirst bool
	lastBody  atomic.Value
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/tags":
		io.WriteString(w, `{"models":[{"name":"llama3.2"},{"name":"qwen2.5:7b"}]}`)
	case "/api/chat":
		n := f.chats.Add(1)
		body, _ := io.ReadAll(r.Body)
		f.lastBody.Store(string(body))
		if f.failFirst && n == 1 {
			http.Error(w, `{"error":"model is loading"}`, http.StatusInternalServerError)
			return
		}
		io.WriteString(w, `{"model":"llama3.2","message":{"role":"assistant","content":"hi there"},"done":true}`)
	default:
		http.NotFound(w, r)
	}
}

type testApp struct {
	*App
	out *bytes.Buffer
	err *bytes.Buffer
	srv *fakeOllama
}

func newTestApp(t *testing.T, srv *fakeOllama, stdin string) *testApp {
	t.Helper()
	if srv == nil {
		srv = &fakeOllama{}
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Settings.Backend = config.BackendMemory
	zero := 0
	for _, id := range provider.Default().IDs() {
		cfg.Providers[id] = config.ProviderConfig{BaseURL: ts.URL, RequestsPerMinute: &zero}
	}

	var out, errb bytes.Buffer
	app, err := Open(context.Background(), cfg, nil, AppOptions{
		Out: &out,
		Err: &errb,
		In:  strings.NewReader(stdin),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	require.NoError(t, app.Settings.SetCurrentProvider(provider.OllamaID))
	out.Reset()
	return &testApp{App: app, out: &out, err: &errb, srv: srv}
}

// scriptReader feeds fixed lines to the REPL, then EOF.
type scriptReader struct {
	lines []string
}

func (s *scriptReader) ReadInput(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptReader) Close() {}

// =============================================================================
// COMMANDS
// =============================================================================

func TestOpen_CountsLaunchAndMigrates(t *testing.T) {
	kv := settings.NewMemoryKV()
	require.NoError(t, kv.Set("gemini_api_key", "legacy-key"))

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	app, err := Open(context.Background(), cfg, nil, AppOptions{KV: kv, Out: io.Discard, Err: io.Discard})
	require.NoError(t, err)
	defer app.Close()

	key, found, err := app.Settings.APIKey(provider.GeminiID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "legacy-key", key)

	opens, err := app.Settings.AppOpens()
	require.NoError(t, err)
	assert.Equal(t, 1, opens)
}

func TestOpen_SQLiteBackendPersists(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	app, err := Open(context.Background(), cfg, nil, AppOptions{Out: io.Discard, Err: io.Discard})
	require.NoError(t, err)
	require.NoError(t, app.Settings.SetCurrentProvider(provider.GroqCloudID))
	require.NoError(t, app.Close())

	app, err = Open(context.Background(), cfg, nil, AppOptions{Out: io.Discard, Err: io.Discard})
	require.NoError(t, err)
	defer app.Close()

	p, err := app.Settings.CurrentProvider()
	require.NoError(t, err)
	assert.Equal(t, provider.GroqCloudID, p.ID)
	opens, _ := app.Settings.AppOpens()
	assert.Equal(t, 2, opens)
	assert.FileExists(t, cfg.SettingsDBPath())
}

func TestProviders(t *testing.T) {
	a := newTestApp(t, nil, "")
	require.NoError(t, a.Settings.SetAPIKey(provider.GeminiID, "k"))

	require.NoError(t, a.Providers())
	out := a.out.String()
	for _, id := range provider.Default().IDs() {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, "* ollama")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "no")
}

func TestUseAndModel(t *testing.T) {
	a := newTestApp(t, nil, "")

	require.NoError(t, a.Use(provider.GroqCloudID))
	assert.Contains(t, a.out.String(), "no API key stored")
	p, err := a.Settings.CurrentProvider()
	require.NoError(t, err)
	assert.Equal(t, provider.GroqCloudID, p.ID)

	require.NoError(t, a.SetModel([]string{"mixtral"}))
	m, _ := a.Settings.Model(provider.GroqCloudID)
	assert.Equal(t, "mixtral", m)

	require.NoError(t, a.SetModel([]string{"ollama", "qwen2.5:7b"}))
	m, _ = a.Settings.Model(provider.OllamaID)
	assert.Equal(t, "qwen2.5:7b", m)

	err = a.Use("openrouter")
	assert.ErrorIs(t, err, settings.ErrUnknownProvider)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestKeySet_PromptsWhenOmitted(t *testing.T) {
	a := newTestApp(t, nil, "")
	var prompted string
	a.ReadSecret = func(prompt string) (string, error) {
		prompted = prompt
		return "  gsk-secret  ", nil
	}

	require.NoError(t, a.KeySet(provider.GroqCloudID, ""))
	assert.Contains(t, prompted, "API key")
	key, found, _ := a.Settings.APIKey(provider.GroqCloudID)
	assert.True(t, found)
	assert.Equal(t, "gsk-secret", key)
	assert.NotContains(t, a.out.String(), "gsk-secret")

	require.NoError(t, a.KeyDelete(provider.GroqCloudID))
	_, found, _ = a.Settings.APIKey(provider.GroqCloudID)
	assert.False(t, found)
}

func TestModels(t *testing.T) {
	a := newTestApp(t, nil, "")

	require.NoError(t, a.Models(context.Background(), ""))
	out := a.out.String()
	assert.Contains(t, out, "* llama3.2")
	assert.Contains(t, out, "qwen2.5:7b")

	err := a.Models(context.Background(), provider.FreeID)
	assert.ErrorIs(t, err, llm.ErrModelListingUnsupported)
}

func TestAsk_StoresConversation(t *testing.T) {
	a := newTestApp(t, nil, "")

	require.NoError(t, a.Ask(context.Background(), "", "What is kai?", ""))
	assert.Contains(t, a.out.String(), "hi there")
	a.Session.Wait()

	st := a.History.Snapshot()
	require.Len(t, st.Conversations, 1)
	c := st.Conversations[0]
	assert.Equal(t, provider.OllamaID, c.ServiceID)
	assert.Equal(t, "What is kai?", c.Title)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, model.RoleAssistant, c.Messages[1].Role)
}

func TestAsk_Attachment(t *testing.T) {
	a := newTestApp(t, nil, "")
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("remember the milk"), 0600))

	require.NoError(t, a.Ask(context.Background(), "", "summarise", path))

	st := a.History.Snapshot()
	require.Len(t, st.Conversations, 1)
	user := st.Conversations[0].Messages[0]
	assert.Equal(t, "text/plain", user.MimeType)
	assert.Contains(t, a.srv.lastBody.Load().(string), "remember the milk")
}

func TestAsk_ProviderOverrideAndErrors(t *testing.T) {
	a := newTestApp(t, nil, "")

	err := a.Ask(context.Background(), provider.GeminiID, "hello", "")
	assert.ErrorIs(t, err, llm.ErrInvalidAPIKey)
	assert.Equal(t, ExitAuthError, GetExitCode(err))
	assert.Equal(t, int32(0), a.srv.chats.Load())
	assert.Contains(t, describe(err), "kai key set")

	_, err = readAttachment(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestHistoryCommands(t *testing.T) {
	a := newTestApp(t, nil, "n\n")
	ctx := context.Background()

	require.NoError(t, a.Ask(ctx, "", "first question", ""))
	require.NoError(t, a.Ask(ctx, "", "second question", ""))
	a.Session.Wait()
	a.out.Reset()

	require.NoError(t, a.HistoryList())
	list := a.out.String()
	assert.Less(t, strings.Index(list, "second question"), strings.Index(list, "first question"), "newest first")

	a.out.Reset()
	require.NoError(t, a.HistoryShow("2"))
	assert.Contains(t, a.out.String(), "first question")
	assert.Contains(t, a.out.String(), "hi there")

	a.out.Reset()
	id := a.History.Snapshot().Conversations[0].ID
	require.NoError(t, a.HistoryExport(id[:6], "json", ""))
	assert.Contains(t, a.out.String(), `"serviceId": "ollama"`)

	a.out.Reset()
	require.NoError(t, a.HistoryExport("1", "", ""))
	assert.Contains(t, a.out.String(), "# second question")
	assert.Contains(t, a.out.String(), "provider: ollama")

	a.out.Reset()
	outDir := filepath.Join(t.TempDir(), "exports")
	require.NoError(t, a.HistoryExport("1", "html", outDir))
	files, err := filepath.Glob(filepath.Join(outDir, "conversation_second_question_*.html"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, a.out.String(), files[0])
	page, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(page), "<title>second question</title>")

	err = a.HistoryExport("1", "pdf", "")
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	_, err = a.findConversation("zzzz-not-there")
	assert.ErrorIs(t, err, history.ErrConversationNotFound)

	require.NoError(t, a.HistoryDelete(ctx, "1"))
	assert.Len(t, a.History.Snapshot().Conversations, 1)

	// stdin answers "n"
	require.NoError(t, a.HistoryClear(ctx, false))
	assert.Contains(t, a.out.String(), "aborted")
	assert.Len(t, a.History.Snapshot().Conversations, 1)

	require.NoError(t, a.HistoryClear(ctx, true))
	assert.Empty(t, a.History.Snapshot().Conversations)
	assert.NoError(t, a.HistoryList())
	assert.Contains(t, a.out.String(), "no saved conversations")
}

// =============================================================================
// REPL
// =============================================================================

func TestChatLoop(t *testing.T) {
	a := newTestApp(t, nil, "")
	r := &scriptReader{lines: []string{"hello", "", "/status", "/bogus", "/new", "/history", "exit", "never read"}}

	require.NoError(t, a.ChatLoop(context.Background(), r, ""))

	out := a.out.String()
	assert.Contains(t, out, "hi there")
	assert.Contains(t, out, "Ollama")
	assert.Contains(t, out, "new conversation")
	assert.Contains(t, a.err.String(), "unknown command /bogus")
	assert.Equal(t, []string{"never read"}, r.lines)
	assert.Equal(t, int32(1), a.srv.chats.Load())
}

func TestChatLoop_RetryAfterFailure(t *testing.T) {
	srv := &fakeOllama{failFirst: true}
	a := newTestApp(t, srv, "")
	r := &scriptReader{lines: []string{"hello", "/retry", "/retry"}}

	require.NoError(t, a.ChatLoop(context.Background(), r, ""))
	a.Session.Wait()

	assert.Contains(t, a.err.String(), "[error]")
	assert.Contains(t, a.out.String(), "hi there")
	assert.Equal(t, int32(2), srv.chats.Load())

	c, ok := a.History.Snapshot().Active()
	require.True(t, ok)
	require.Len(t, c.Messages, 2, "retry does not duplicate the user turn")
	assert.Contains(t, a.err.String(), "already has a reply")
}

func TestChatLoop_OpenAndUse(t *testing.T) {
	a := newTestApp(t, nil, "")
	require.NoError(t, a.Ask(context.Background(), "", "old topic", ""))
	a.Session.Wait()
	oldID := a.History.Snapshot().Conversations[0].ID

	r := &scriptReader{lines: []string{"/use gemini", "/open 1", "/status", "/q"}}
	require.NoError(t, a.ChatLoop(context.Background(), r, provider.FreeID))

	assert.Equal(t, oldID, a.History.Snapshot().ActiveID)
	assert.Contains(t, a.out.String(), "continuing old topic")
	p, _ := a.Settings.CurrentProvider()
	assert.Equal(t, provider.GeminiID, p.ID)
}

func TestChatLoop_Attach(t *testing.T) {
	a := newTestApp(t, nil, "")
	path := filepath.Join(t.TempDir(), "pixel.png")
	png := []byte("\x89PNG\r\n\x1a\n0000")
	require.NoError(t, os.WriteFile(path, png, 0600))

	r := &scriptReader{lines: []string{"/attach " + path, "what is this", "/attach"}}
	require.NoError(t, a.ChatLoop(context.Background(), r, ""))

	c, ok := a.History.Snapshot().Active()
	require.True(t, ok)
	assert.True(t, c.Messages[0].IsImage())
	assert.Contains(t, a.srv.lastBody.Load().(string), `"images"`)
	assert.Contains(t, a.err.String(), "/attach needs a file path")
}

// =============================================================================
// RUN
// =============================================================================

func TestRun_NoAppCommands(t *testing.T) {
	t.Setenv("KAI_HOME", t.TempDir())
	var out, errb bytes.Buffer

	assert.Equal(t, ExitSuccess, Run(context.Background(), []string{"version"}, &out, &errb))
	assert.Contains(t, out.String(), "kai version")

	out.Reset()
	assert.Equal(t, ExitSuccess, Run(context.Background(), []string{"help"}, &out, &errb))
	assert.Contains(t, out.String(), "Usage:")

	out.Reset()
	assert.Equal(t, ExitUsageError, Run(context.Background(), []string{"nope"}, &out, &errb))
	assert.Contains(t, errb.String(), "unknown command")
}

func TestRun_Config(t *testing.T) {
	t.Setenv("KAI_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "kai.toml")
	require.NoError(t, os.WriteFile(path, []byte("request_timeout = \"12s\"\n"), 0600))

	var out, errb bytes.Buffer
	code := Run(context.Background(), []string{"--config", path, "config", "show"}, &out, &errb)
	require.Equal(t, ExitSuccess, code, errb.String())
	assert.Contains(t, out.String(), `request_timeout = "12s"`)

	out.Reset()
	require.Equal(t, ExitSuccess, Run(context.Background(), []string{"-c", path, "config", "path"}, &out, &errb))
	assert.Equal(t, path+"\n", out.String())

	require.NoError(t, os.WriteFile(path, []byte("[settings]\nbackend = \"redis\"\n"), 0600))
	assert.Equal(t, ExitConfigError, Run(context.Background(), []string{"-c", path, "config"}, &out, &errb))
}

func TestRun_ProvidersWithMemoryBackend(t *testing.T) {
	t.Setenv("KAI_HOME", t.TempDir())
	t.Setenv("KAI_SETTINGS_BACKEND", "memory")
	t.Setenv("KAI_LOG_FILE", "off")

	var out, errb bytes.Buffer
	code := Run(context.Background(), []string{"providers"}, &out, &errb)
	require.Equal(t, ExitSuccess, code, errb.String())
	assert.Contains(t, out.String(), "* free")
}

// =============================================================================
// CONFIG RELOAD
// =============================================================================

func writeConfig(t *testing.T, path, dataDir, baseURL string) {
	t.Helper()
	body := fmt.Sprintf("data_dir = '%s'\n\n[log]\nlevel = \"info\"\nfile = \"off\"\n\n[settings]\nbackend = \"memory\"\n\n[providers.ollama]\nbase_url = '%s'\nrequests_per_minute = 0\n",
		dataDir, baseURL)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
}

func TestChatLoop_ConfigEditRetargetsNextRequest(t *testing.T) {
	t.Cleanup(config.ResetGlobalForTesting)

	first, second := &fakeOllama{}, &fakeOllama{}
	ts1 := httptest.NewServer(first)
	t.Cleanup(ts1.Close)
	ts2 := httptest.NewServer(second)
	t.Cleanup(ts2.Close)

	path := filepath.Join(t.TempDir(), "kai.toml")
	dataDir := t.TempDir()
	writeConfig(t, path, dataDir, ts1.URL)
	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)

	var out, errb bytes.Buffer
	app, err := Open(context.Background(), cfg, nil, AppOptions{Out: &out, Err: &errb, ConfigPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	require.NoError(t, app.Settings.SetCurrentProvider(provider.OllamaID))

	w, err := app.WatchConfig()
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, app.ChatLoop(context.Background(), &scriptReader{lines: []string{"hello"}}, ""))
	assert.Equal(t, int32(1), first.chats.Load())

	writeConfig(t, path, dataDir, ts2.URL)
	require.Eventually(t, func() bool { return app.reloaded.Load() != nil }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, app.ChatLoop(context.Background(), &scriptReader{lines: []string{"again"}}, ""))
	assert.Equal(t, int32(1), first.chats.Load())
	assert.Equal(t, int32(1), second.chats.Load())
	assert.Contains(t, out.String(), "config reloaded")

	p, ok := app.Registry.Lookup(provider.OllamaID)
	require.True(t, ok)
	assert.Equal(t, ts2.URL, p.BaseURL)
	assert.Equal(t, ts2.URL, config.Global().Providers[provider.OllamaID].BaseURL)
}

func TestApplyReloadedConfig(t *testing.T) {
	t.Cleanup(config.ResetGlobalForTesting)
	a := newTestApp(t, nil, "")
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	a.logLevel = &level

	a.onConfigChange(nil, fmt.Errorf("invalid config: bad backend"))
	assert.False(t, a.applyReloadedConfig())

	prev := a.LLM
	next := a.Config.Clone()
	next.Log.Level = "error"
	a.onConfigChange(next, nil)
	assert.True(t, a.applyReloadedConfig())
	assert.NotSame(t, prev, a.LLM)
	assert.Same(t, next, a.Config)
	assert.Equal(t, zap.ErrorLevel, level.Level())
	assert.False(t, a.applyReloadedConfig(), "a queued config applies once")

	// verbose pins the level
	a.verbose = true
	quiet := next.Clone()
	quiet.Log.Level = "warn"
	a.onConfigChange(quiet, nil)
	assert.True(t, a.applyReloadedConfig())
	assert.Equal(t, zap.ErrorLevel, level.Level())
}

func TestWatchConfig_NeedsPath(t *testing.T) {
	a := newTestApp(t, nil, "")
	_, err := a.WatchConfig()
	assert.ErrorIs(t, err, errNoConfigPath)
}
