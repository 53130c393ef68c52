// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/jeranaias/kai/internal/chat"
	"github.com/jeranaias/kai/internal/export"
	"github.com/jeranaias/kai/internal/history"
	"github.com/jeranaias/kai/internal/model"
	"github.com/jeranaias/kai/internal/util"
)

// maxAttachmentSize bounds files read for --file and /attach.
const maxAttachmentSize = 8 << 20

// =============================================================================
// PROVIDERS
// =============================================================================

// Providers prints the catalog with key and model state.
func (a *App) Providers() error {
	current, err := a.Settings.CurrentProvider()
	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, TitleStyle.Render("Providers"))
	fmt.Fprintf(a.Out, "  %s %s %s %s\n",
		LabelStyle.Render(util.PadRight("id", 12)),
		LabelStyle.Render(util.PadRight("name", 16)),
		LabelStyle.Render(util.PadRight("key", 10)),
		LabelStyle.Render("model"))

	for _, p := range a.Registry.All() {
		mark := " "
		if p.ID == current.ID {
			mark = SuccessStyle.Render("*")
		}
		keyState := DimStyle.Render(util.PadRight("-", 10))
		if p.RequiresAPIKey {
			_, found, err := a.Settings.APIKey(p.ID)
			if err != nil {
				return err
			}
			keyState = Check(found, 10)
		}
		m, err := a.Settings.Model(p.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "%s %s %s %s %s\n", mark,
			ValueStyle.Render(util.PadRight(p.ID, 12)),
			ValueStyle.Render(util.PadRight(p.DisplayName, 16)),
			keyState,
			ValueStyle.Render(m))
	}
	return nil
}

// Models lists the models a provider offers.
func (a *App) Models(ctx context.Context, id string) error {
	p, err := a.resolveProvider(id)
	if err != nil {
		return err
	}
	models, err := a.LLM.ListModels(ctx, p.ID)
	if err != nil {
		return err
	}
	selected, err := a.Settings.Model(p.ID)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, TitleStyle.Render(p.DisplayName+" models"))
	for _, m := range models {
		mark := " "
		if m.ID == selected {
			mark = SuccessStyle.Render("*")
		}
		line := mark + " " + ValueStyle.Render(m.ID)
		if name := m.DisplayName(); name != m.ID {
			line += "  " + DimStyle.Render(name)
		}
		fmt.Fprintln(a.Out, line)
	}
	if len(models) == 0 {
		fmt.Fprintln(a.Out, DimStyle.Render("  (none)"))
	}
	return nil
}

// Use switches the current provider.
func (a *App) Use(id string) error {
	p, err := a.resolveProvider(id)
	if err != nil {
		return err
	}
	if err := a.Settings.SetCurrentProvider(p.ID); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s now using %s\n", SuccessStyle.Render("ok"), p.DisplayName)
	if p.RequiresAPIKey {
		if _, found, _ := a.Settings.APIKey(p.ID); !found {
			fmt.Fprintln(a.Out, WarningStyle.Render("no API key stored, run: kai key set "+p.ID))
		}
	}
	return nil
}

// SetModel stores the model for a provider. With one word the current
// provider is used.
func (a *App) SetModel(words []string) error {
	var id, name string
	switch len(words) {
	case 1:
		name = words[0]
	case 2:
		id, name = words[0], words[1]
	default:
		return usageError("model needs [provider] <model>")
	}
	p, err := a.resolveProvider(id)
	if err != nil {
		return err
	}
	if err := a.Settings.SetModel(p.ID, name); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s %s will use %s\n", SuccessStyle.Render("ok"), p.DisplayName, name)
	return nil
}

// =============================================================================
// API KEYS
// =============================================================================

// KeySet stores an API key. An empty key is read from the terminal
// without echo.
func (a *App) KeySet(id, key string) error {
	p, err := a.resolveProvider(id)
	if err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		key, err = a.ReadSecret(fmt.Sprintf("%s API key: ", p.DisplayName))
		if err != nil {
			return err
		}
	}
	if err := a.Settings.SetAPIKey(p.ID, key); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s key stored for %s\n", SuccessStyle.Render("ok"), p.DisplayName)
	return nil
}

// KeyDelete removes an API key.
func (a *App) KeyDelete(id string) error {
	p, err := a.resolveProvider(id)
	if err != nil {
		return err
	}
	if err := a.Settings.DeleteAPIKey(p.ID); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s key removed for %s\n", SuccessStyle.Render("ok"), p.DisplayName)
	return nil
}

// readSecret reads a line from the terminal with echo disabled.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// =============================================================================
// ASK
// =============================================================================

// Ask sends one question in a new conversation and prints the reply.
func (a *App) Ask(ctx context.Context, providerID, question, file string) error {
	p, err := a.resolveProvider(providerID)
	if err != nil {
		return err
	}
	var att *chat.Attachment
	if file != "" {
		if att, err = readAttachment(file); err != nil {
			return err
		}
	}

	a.History.Start(p.ID)
	reply, err := a.Session.Send(ctx, question, att)
	if err != nil {
		return err
	}
	fmt.Fprint(a.Out, a.Renderer.Render(reply))
	return nil
}

// readAttachment loads path and guesses its MIME type from the extension,
// then from the content.
func readAttachment(path string) (*chat.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	if info.Size() > maxAttachmentSize {
		return nil, usageError("attachment %s is larger than %d MB", path, maxAttachmentSize>>20)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return &chat.Attachment{MimeType: mt, Data: data}, nil
}

// =============================================================================
// HISTORY
// =============================================================================

// HistoryList prints saved conversations, newest first.
func (a *App) HistoryList() error {
	st := a.History.Snapshot()
	if len(st.Conversations) == 0 {
		fmt.Fprintln(a.Out, DimStyle.Render("no saved conversations"))
		return nil
	}
	fmt.Fprintln(a.Out, TitleStyle.Render("Conversations"))
	for i, c := range st.Conversations {
		updated := time.UnixMilli(c.UpdatedAt).Local().Format("2006-01-02 15:04")
		fmt.Fprintf(a.Out, "%3d  %s  %s  %s  %s\n",
			i+1,
			DimStyle.Render(shortID(c.ID)),
			LabelStyle.Render(updated),
			ValueStyle.Render(util.PadRight(util.TruncateWidth(c.DisplayTitle(), model.TitleWidth), model.TitleWidth)),
			DimStyle.Render(fmt.Sprintf("%s, %d turns", c.ServiceID, len(c.Messages))))
	}
	return nil
}

// HistoryShow prints one conversation as a transcript.
func (a *App) HistoryShow(ref string) error {
	c, err := a.findConversation(ref)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out, TitleStyle.Render(c.DisplayTitle()))
	fmt.Fprintln(a.Out, DimStyle.Render(c.ID+"  "+c.ServiceID))
	for _, t := range c.Messages {
		fmt.Fprintln(a.Out)
		fmt.Fprint(a.Out, formatTurn(t, a.Renderer))
	}
	return nil
}

// HistoryExport renders a conversation in format. With outDir set the export
// is written to a new file there and its path printed; otherwise it goes to
// stdout.
func (a *App) HistoryExport(ref, format, outDir string) error {
	c, err := a.findConversation(ref)
	if err != nil {
		return err
	}

	opts := export.DefaultOptions()
	if !HasDarkBackground() {
		opts.Theme = "light"
	}
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return usageError("%v", err)
	}

	if outDir != "" {
		opts.OutputDir = outDir
		path, err := export.ExportToFile(c, exporter, opts)
		if err != nil {
			return err
		}
		a.Log.Info("conversation exported", zap.String("id", c.ID), zap.String("path", path))
		fmt.Fprintf(a.Out, "%s exported to %s\n", SuccessStyle.Render("ok"), path)
		return nil
	}

	data, err := exporter.Export(c)
	if err != nil {
		return err
	}
	a.Out.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		fmt.Fprintln(a.Out)
	}
	return nil
}

// HistoryDelete removes one conversation and saves the rest.
func (a *App) HistoryDelete(ctx context.Context, ref string) error {
	c, err := a.findConversation(ref)
	if err != nil {
		return err
	}
	if err := a.History.Delete(c.ID); err != nil {
		return err
	}
	if err := a.History.Persist(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s deleted %q\n", SuccessStyle.Render("ok"), c.DisplayTitle())
	return nil
}

// HistoryClear deletes every conversation and the history key after
// confirmation, unless yes is set.
func (a *App) HistoryClear(ctx context.Context, yes bool) error {
	if !yes {
		ok, err := a.confirm("Delete every saved conversation? This cannot be undone. [y/N] ")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(a.Out, DimStyle.Render("aborted"))
			return nil
		}
	}
	if err := a.History.DeleteAll(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s history cleared\n", SuccessStyle.Render("ok"))
	return nil
}

func (a *App) confirm(prompt string) (bool, error) {
	fmt.Fprint(a.Err, WarningStyle.Render(prompt))
	line, err := bufio.NewReader(a.In).ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// findConversation accepts a 1-based position from HistoryList or a unique
// id prefix.
func (a *App) findConversation(ref string) (model.Conversation, error) {
	st := a.History.Snapshot()
	ref = strings.TrimSpace(ref)

	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(st.Conversations) && len(ref) < 4 {
		return st.Conversations[n-1], nil
	}

	var matches []model.Conversation
	for _, c := range st.Conversations {
		if c.ID == ref {
			return c, nil
		}
		if ref != "" && strings.HasPrefix(c.ID, ref) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return model.Conversation{}, fmt.Errorf("%w: %s", history.ErrConversationNotFound, ref)
	}
	return model.Conversation{}, usageError("%q matches %d conversations, use more of the id", ref, len(matches))
}

// =============================================================================
// TRANSCRIPT FORMATTING
// =============================================================================

func formatTurn(t model.Turn, r *Renderer) string {
	label := UserStyle.Render(t.Role.DisplayName())
	body := t.Content
	if t.Role == model.RoleAssistant {
		label = AssistantStyle.Render(t.Role.DisplayName())
		body = strings.TrimRight(r.Render(t.Content), "\n")
	}
	var sb strings.Builder
	sb.WriteString(label + "\n")
	if t.HasAttachment() {
		sb.WriteString(DimStyle.Render("[attachment: "+t.MimeType+"]") + "\n")
	}
	sb.WriteString(body + "\n")
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// isInterrupt reports errors that end a command quietly.
func isInterrupt(err error) bool {
	return errors.Is(err, context.Canceled)
}
