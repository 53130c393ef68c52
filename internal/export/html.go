// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jeranaias/kai/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a single HTML page with embedded CSS.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

var (
	codeBlockRegex  = regexp.MustCompile("```([a-zA-Z0-9_+-]*)\n([\\s\\S]*?)```")
	inlineCodeRegex = regexp.MustCompile("`([^`\n]+)`")
)

// Export converts a conversation to HTML. Image attachments are inlined as
// data URIs; other attachments are listed by type.
func (e *HTMLExporter) Export(conv model.Conversation) ([]byte, error) {
	if err := checkConversation(conv); err != nil {
		return nil, err
	}

	title := html.EscapeString(conv.DisplayTitle())
	theme := "dark"
	if e.options.Theme == "light" {
		theme = "light"
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", title)
	sb.WriteString("    <meta name=\"generator\" content=\"kai\">\n")
	fmt.Fprintf(&sb, "    <meta name=\"date\" content=\"%s\">\n", millis(conv.CreatedAt).Format(time.RFC3339))
	sb.WriteString(htmlCSS)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n", theme)
	sb.WriteString("    <div class=\"container\">\n")

	if e.options.IncludeMetadata {
		sb.WriteString("        <header class=\"header\">\n")
		fmt.Fprintf(&sb, "            <h1>%s</h1>\n", title)
		sb.WriteString("            <div class=\"metadata\">\n")
		fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Provider:</strong> %s</span>\n", html.EscapeString(conv.ServiceID))
		fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Created:</strong> %s</span>\n", formatTimestamp(millis(conv.CreatedAt)))
		fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Messages:</strong> %d</span>\n", len(conv.Messages))
		sb.WriteString("            </div>\n        </header>\n")
	}

	sb.WriteString("        <main class=\"conversation\">\n")
	for _, t := range conv.Messages {
		sb.WriteString(e.renderTurn(t))
	}
	sb.WriteString("        </main>\n")

	sb.WriteString("        <footer class=\"footer\">\n")
	fmt.Fprintf(&sb, "            <p>Exported from <strong>kai</strong> on %s</p>\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("        </footer>\n    </div>\n</body>\n</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

func (e *HTMLExporter) renderTurn(t model.Turn) string {
	var sb strings.Builder

	roleClass := "unknown"
	if t.Role.Valid() {
		roleClass = string(t.Role)
	}
	fmt.Fprintf(&sb, "            <div class=\"message %s-message\">\n", roleClass)
	fmt.Fprintf(&sb, "                <div class=\"message-header\"><span class=\"role-label\">%s</span></div>\n",
		html.EscapeString(roleLabel(t.Role)))
	sb.WriteString("                <div class=\"message-content\">\n")

	if t.HasAttachment() {
		sb.WriteString(renderAttachment(t))
	}
	sb.WriteString(formatContent(t.Content))

	sb.WriteString("\n                </div>\n            </div>\n")
	return sb.String()
}

// renderAttachment inlines images whose data decodes cleanly.
func renderAttachment(t model.Turn) string {
	mime := html.EscapeString(t.MimeType)
	if t.IsImage() {
		if _, err := t.Attachment(); err == nil {
			return fmt.Sprintf("<img class=\"attachment\" alt=\"%s\" src=\"data:%s;base64,%s\">\n", mime, mime, t.Data)
		}
	}
	return fmt.Sprintf("<p class=\"attachment\">[attachment: %s]</p>\n", mime)
}

// formatContent escapes content and turns fenced and inline code into markup.
func formatContent(content string) string {
	content = html.EscapeString(strings.TrimSpace(content))
	if content == "" {
		return ""
	}

	content = codeBlockRegex.ReplaceAllStringFunc(content, func(match string) string {
		parts := codeBlockRegex.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}
		lang := html.EscapeString(parts[1])
		label := ""
		if lang != "" {
			label = fmt.Sprintf("<div class=\"code-lang\">%s</div>", lang)
		}
		// newlines inside <pre> are kept by the paragraph pass below
		code := strings.ReplaceAll(strings.TrimRight(parts[2], "\n"), "\n", "\x00")
		return fmt.Sprintf("<div class=\"code-block\">%s<pre><code class=\"language-%s\">%s</code></pre></div>", label, lang, code)
	})
	content = inlineCodeRegex.ReplaceAllString(content, "<code class=\"inline-code\">$1</code>")

	var out []string
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if strings.HasPrefix(para, "<div class=\"code-block\">") {
			out = append(out, para)
			continue
		}
		out = append(out, "<p>"+strings.ReplaceAll(para, "\n", "<br>\n")+"</p>")
	}
	return strings.ReplaceAll(strings.Join(out, "\n"), "\x00", "\n")
}

const htmlCSS = `    <style>
        :root { --bg: #1e1e2e; --fg: #cdd6f4; --muted: #7f849c; --user: #313244; --assistant: #181825; --accent: #89b4fa; --code: #11111b; }
        .light-theme { --bg: #eff1f5; --fg: #4c4f69; --muted: #8c8fa1; --user: #dce0e8; --assistant: #e6e9ef; --accent: #1e66f5; --code: #ccd0da; }
        body { margin: 0; background: var(--bg); color: var(--fg); font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; line-height: 1.6; }
        .container { max-width: 860px; margin: 0 auto; padding: 2rem 1rem; }
        .header h1 { margin: 0 0 .5rem; font-size: 1.6rem; }
        .metadata { display: flex; flex-wrap: wrap; gap: 1rem; color: var(--muted); font-size: .9rem; }
        .message { border-radius: 8px; padding: 1rem 1.25rem; margin: 1rem 0; }
        .user-message { background: var(--user); }
        .assistant-message { background: var(--assistant); border-left: 3px solid var(--accent); }
        .role-label { font-weight: 600; color: var(--accent); }
        .code-block { margin: .75rem 0; }
        .code-lang { font-size: .75rem; color: var(--muted); text-transform: uppercase; }
        pre { background: var(--code); padding: .75rem; border-radius: 6px; overflow-x: auto; }
        .inline-code { background: var(--code); padding: 0 .25rem; border-radius: 3px; }
        img.attachment { max-width: 100%; border-radius: 6px; }
        p.attachment { color: var(--muted); font-style: italic; }
        .footer { margin-top: 2rem; color: var(--muted); font-size: .8rem; text-align: center; }
    </style>
`
