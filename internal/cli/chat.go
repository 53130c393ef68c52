// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive REPL for kai.
//
// Ctrl+C while a reply is pending cancels that request; at the prompt it
// exits. Slash commands manage providers and saved conversations.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/jeranaias/kai/internal/chat"
	"github.com/jeranaias/kai/internal/config"
	"github.com/jeranaias/kai/internal/history"
	"github.com/jeranaias/kai/internal/model"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader supplies REPL input.
type LineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a liner-backed reader whose history lives in
// historyFile.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{line: line, historyFile: historyFile}
	if f, err := os.Open(historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// ReadInput reads one line. Ctrl+C and Ctrl+D end the session with io.EOF.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", io.EOF
		}
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with 0600 permissions and restores the terminal.
func (c *ChatCLI) Close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// historyFile returns the REPL input history path.
func historyFile(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "chat_history")
}

// =============================================================================
// REPL
// =============================================================================

// replState is per-session REPL state.
type replState struct {
	pending *chat.Attachment
}

// Chat runs the REPL on the terminal.
func (a *App) Chat(ctx context.Context, providerID string) error {
	reader := NewChatCLI(historyFile(a.Config))
	defer reader.Close()

	if a.ConfigPath != "" {
		w, err := a.WatchConfig()
		if err != nil {
			a.Log.Warn("config hot reload disabled", zap.Error(err))
		} else {
			defer w.Close()
		}
	}
	return a.ChatLoop(ctx, reader, providerID)
}

// ChatLoop reads input from r until EOF or /exit. Each session starts a new
// conversation bound to providerID, or the current provider.
func (a *App) ChatLoop(ctx context.Context, r LineReader, providerID string) error {
	p, err := a.resolveProvider(providerID)
	if err != nil {
		return err
	}
	a.History.Start(p.ID)

	m, _ := a.Settings.Model(p.ID)
	fmt.Fprintf(a.Out, "%s %s\n", TitleStyle.Render("kai"),
		DimStyle.Render(fmt.Sprintf("%s (%s), /help for commands", p.DisplayName, m)))

	st := &replState{}
	for {
		input, err := r.ReadInput(PromptStyle.Render("kai> "))
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(a.Out)
				return nil
			}
			return err
		}
		a.applyReloadedConfig()
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			more, err := a.handleSlash(ctx, st, input)
			if err != nil {
				a.printError(err)
			}
			if !more {
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}

		att := st.pending
		st.pending = nil
		a.exchange(ctx, func(ctx context.Context) (string, error) {
			return a.Session.Send(ctx, input, att)
		})
	}
}

// exchange runs one request with Ctrl+C bound to its cancellation and
// prints the reply or the error.
func (a *App) exchange(ctx context.Context, send func(context.Context) (string, error)) {
	rctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	reply, err := send(rctx)
	if err != nil {
		a.printError(err)
		return
	}
	fmt.Fprintln(a.Out)
	fmt.Fprint(a.Out, a.Renderer.Render(reply))
}

func (a *App) printError(err error) {
	if isInterrupt(err) {
		fmt.Fprintln(a.Err, WarningStyle.Render("[cancelled]"))
		return
	}
	fmt.Fprintf(a.Err, "%s %s\n", ErrorStyle.Render("[error]"), describe(err))
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const slashHelp = `/new                 start a new conversation
/retry               resend the last unanswered message
/use <provider>      switch provider and start a new conversation
/model <model>       set the model for the current provider
/models              list models of the current provider
/providers           list providers
/history             list saved conversations
/open <n|id>         continue a saved conversation
/attach <path>       attach a file to the next message
/status              show the current conversation
/export [md|json|html]
                     save the current conversation under the data dir
/exit                leave
`

// handleSlash runs a slash command. It returns false when the REPL should
// stop.
func (a *App) handleSlash(ctx context.Context, st *replState, input string) (bool, error) {
	fields := strings.Fields(input)
	cmd, rest := strings.ToLower(fields[0]), fields[1:]
	arg := strings.Join(rest, " ")

	switch cmd {
	case "/exit", "/quit", "/q":
		return false, nil

	case "/help", "/?":
		fmt.Fprint(a.Out, slashHelp)

	case "/new":
		p, err := a.Settings.CurrentProvider()
		if err != nil {
			return true, err
		}
		a.History.Start(p.ID)
		st.pending = nil
		fmt.Fprintln(a.Out, DimStyle.Render("new conversation with "+p.DisplayName))

	case "/retry":
		a.exchange(ctx, a.Session.Retry)

	case "/use":
		if arg == "" {
			return true, usageError("/use needs a provider id")
		}
		if err := a.Use(arg); err != nil {
			return true, err
		}
		p, _ := a.Settings.CurrentProvider()
		a.History.Start(p.ID)

	case "/model":
		if arg == "" {
			return true, usageError("/model needs a model id")
		}
		return true, a.SetModel(rest)

	case "/models":
		return true, a.Models(ctx, a.activeProviderID())

	case "/providers":
		return true, a.Providers()

	case "/history":
		return true, a.HistoryList()

	case "/open":
		c, err := a.findConversation(arg)
		if err != nil {
			return true, err
		}
		if err := a.History.Select(c.ID); err != nil {
			return true, err
		}
		fmt.Fprintln(a.Out, DimStyle.Render("continuing "+c.DisplayTitle()))
		if last, ok := c.LastTurn(); ok {
			fmt.Fprint(a.Out, formatTurn(last, a.Renderer))
		}

	case "/attach":
		if arg == "" {
			return true, usageError("/attach needs a file path")
		}
		att, err := readAttachment(arg)
		if err != nil {
			return true, err
		}
		st.pending = att
		fmt.Fprintln(a.Out, DimStyle.Render(fmt.Sprintf("attached %s (%s)", filepath.Base(arg), att.MimeType)))

	case "/status":
		a.printStatus(st)

	case "/export":
		id := a.History.Snapshot().ActiveID
		if id == "" {
			return true, history.ErrNoActiveConversation
		}
		return true, a.HistoryExport(id, arg, filepath.Join(a.Config.DataDir, "exports"))

	default:
		return true, usageError("unknown command %s, try /help", cmd)
	}
	return true, nil
}

// activeProviderID is the provider of the active conversation, falling back
// to the current provider.
func (a *App) activeProviderID() string {
	snap := a.History.Snapshot()
	if snap.ActiveID != "" {
		if id, err := a.History.ServiceID(snap.ActiveID); err == nil {
			return id
		}
	}
	p, _ := a.Settings.CurrentProvider()
	return p.ID
}

func (a *App) printStatus(st *replState) {
	id := a.activeProviderID()
	p := a.Registry.Resolve(id)
	m, _ := a.Settings.Model(p.ID)

	title, turns := model.DefaultTitle, 0
	if c, ok := a.History.Snapshot().Active(); ok {
		title, turns = c.DisplayTitle(), len(c.Messages)
	}
	fmt.Fprintln(a.Out, Separator(40))
	fmt.Fprintln(a.Out, Row("provider", 12, p.DisplayName))
	fmt.Fprintln(a.Out, Row("model", 12, m))
	fmt.Fprintln(a.Out, Row("conversation", 12, title))
	fmt.Fprintln(a.Out, Row("turns", 12, fmt.Sprint(turns)))
	if st.pending != nil {
		fmt.Fprintln(a.Out, Row("attachment", 12, st.pending.MimeType))
	}
	fmt.Fprintln(a.Out, Separator(40))
}
