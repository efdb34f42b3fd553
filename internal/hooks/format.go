package hooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agent-command/relayd/internal/callback"
	"github.com/agent-command/relayd/internal/telegram"
)

// Outgoing is one chat message produced for a hook event.
type Outgoing struct {
	Text   string
	Markup *telegram.InlineKeyboardMarkup
}

type notificationStyle struct {
	emoji string
	label string
}

var notificationStyles = map[string]notificationStyle{
	"permission_prompt":  {"🔐", "Permission needed"},
	"idle_prompt":        {"💤", "Idle / waiting for input"},
	"elicitation_dialog": {"❓", "Question for you"},
	"auth_success":       {"🔑", "Auth success"},
	"compact":            {"📦", "Compacting context"},
	"context_compaction": {"📦", "Compacting context"},
	"compacting":         {"📦", "Compacting context"},
}

// Format renders a hook event for session. No messages means the event is
// suppressed. Pending-marker gating and transcript lookup happen before this.
func Format(in Input, session string) []Outgoing {
	switch in.HookEventName {
	case EventPermissionRequest:
		if in.ToolName == toolAskUserQuestion {
			return formatQuestions(in, session)
		}
		return []Outgoing{formatPermission(in, session)}
	case EventPostToolUse:
		if in.ToolName == toolAskUserQuestion {
			return nil
		}
		return []Outgoing{formatAllowed(in)}
	case EventPostToolUseFailure:
		return []Outgoing{formatFailed(in)}
	case EventNotification:
		return []Outgoing{formatNotification(in)}
	case EventStop:
		return []Outgoing{formatStop(in)}
	}
	return []Outgoing{{Text: "🔔 <b>" + esc(in.HookEventName) + "</b>"}}
}

func esc(s string) string { return telegram.Escape(s) }

// clip limits s to n display cells.
func clip(s string, n int) string { return telegram.Truncate(s, n) }

func formatQuestions(in Input, session string) []Outgoing {
	questions := in.tool().Questions
	if len(questions) == 0 {
		return []Outgoing{{Text: "❓ Question (no details)"}}
	}

	out := make([]Outgoing, 0, len(questions))
	for i, q := range questions {
		var b strings.Builder
		b.WriteString("❓ <b>Question for you</b>")
		if len(questions) > 1 {
			fmt.Fprintf(&b, " (%d/%d)", i+1, len(questions))
		}
		if q.Header != "" {
			b.WriteString("\n<i>" + esc(q.Header) + "</i>")
		}
		b.WriteString("\n\n<b>" + esc(q.Question) + "</b>")
		if q.MultiSelect {
			b.WriteString("\n<i>(multiple selections allowed)</i>")
		}

		n := len(q.Options)
		var kb keyboard
		rows := make([][]telegram.InlineKeyboardButton, 0, n+1)
		for j, opt := range q.Options {
			if opt.Description != "" {
				b.WriteString("\n  • <b>" + esc(opt.Label) + "</b>: <i>" + esc(opt.Description) + "</i>")
			} else {
				b.WriteString("\n  • <b>" + esc(opt.Label) + "</b>")
			}
			rows = append(rows, []telegram.InlineKeyboardButton{
				kb.button(opt.Label, callback.Option(session, j, n)),
			})
		}
		rows = append(rows, []telegram.InlineKeyboardButton{
			kb.button("✏️ Other", callback.Option(session, n, n)),
			kb.button("💬 Chat about it", callback.Option(session, n+1, n)),
		})
		b.WriteString("\n\n<i>Or type a custom answer below</i>")

		out = append(out, kb.message(b.String(), rows))
	}
	return out
}

func formatPermission(in Input, session string) Outgoing {
	tool := in.ToolName
	if tool == "" {
		tool = "unknown"
	}
	t := in.tool()

	lines := []string{"🔐 <b>Permission: " + esc(tool) + "</b>"}
	switch tool {
	case "Bash":
		if t.Description != "" {
			lines = append(lines, "<i>"+esc(t.Description)+"</i>")
		}
		if t.Command != "" {
			lines = append(lines, "<code>"+esc(clip(t.Command, 300))+"</code>")
		}
	case "Write", "Edit", "Read":
		if t.FilePath != "" {
			lines = append(lines, "File: <code>"+esc(t.FilePath)+"</code>")
		}
	case "WebFetch":
		if t.URL != "" {
			lines = append(lines, "URL: <code>"+esc(t.URL)+"</code>")
		}
	default:
		if details := indentJSON(in.ToolInput); details != "" {
			lines = append(lines, "<code>"+esc(clip(details, 300))+"</code>")
		}
	}

	var kb keyboard
	return kb.message(strings.Join(lines, "\n"), [][]telegram.InlineKeyboardButton{
		{
			kb.button("✅ Yes", callback.Permission(session, "yes")),
			kb.button("🔓 Always allow", callback.Permission(session, "always")),
		},
		{
			kb.button("❌ No", callback.Permission(session, "no")),
		},
	})
}

// msgNoButtons replaces a keyboard whose payloads would be rejected.
const msgNoButtons = "\n\n⚠️ <i>Session name too long for buttons. Answer in the terminal or /tel_rename the session.</i>"

// keyboard collects buttons and remembers whether any payload was refused.
type keyboard struct {
	tooLong bool
}

func (k *keyboard) button(label string, data callback.Data) telegram.InlineKeyboardButton {
	payload, err := data.Encode()
	if err != nil {
		k.tooLong = true
	}
	return telegram.Button(label, payload)
}

// message attaches rows, or drops them and says why. A message carrying an
// over-long payload is rejected whole.
func (k *keyboard) message(text string, rows [][]telegram.InlineKeyboardButton) Outgoing {
	if k.tooLong {
		return Outgoing{Text: text + msgNoButtons}
	}
	return Outgoing{Text: text, Markup: telegram.Keyboard(rows...)}
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func formatAllowed(in Input) Outgoing {
	text := "✅ <b>Allowed</b>: " + esc(in.ToolName)
	t := in.tool()
	switch in.ToolName {
	case "Bash":
		if t.Description != "" {
			text += "\n<i>" + esc(t.Description) + "</i>"
		} else if t.Command != "" {
			text += "\n<code>" + esc(clip(t.Command, 100)) + "</code>"
		}
	case "Write", "Edit":
		if t.FilePath != "" {
			text += "\n<code>" + esc(t.FilePath) + "</code>"
		}
	}
	return Outgoing{Text: text}
}

func formatFailed(in Input) Outgoing {
	text := "❌ <b>Denied/Failed</b>: " + esc(in.ToolName)
	if in.Error != "" {
		text += "\n<i>" + esc(clip(in.Error, 200)) + "</i>"
	}
	return Outgoing{Text: text}
}

func formatNotification(in Input) Outgoing {
	style, ok := notificationStyles[in.NotificationType]
	if !ok {
		style = notificationStyle{emoji: "🔔", label: in.NotificationType}
		if style.label == "" {
			style.label = "Notification"
		}
	}
	text := style.emoji + " <b>" + esc(style.label) + "</b>"
	if in.Title != "" && in.Title != style.label {
		text += "\n<b>" + esc(in.Title) + "</b>"
	}
	if in.Message != "" {
		text += "\n<i>" + esc(clip(in.Message, 300)) + "</i>"
	}
	return Outgoing{Text: text}
}

func formatStop(in Input) Outgoing {
	header := "🛑 <b>Stopped</b>"
	if in.StopHookActive {
		header += " (may need input)"
	}
	if in.LastAssistantMessage == "" {
		return Outgoing{Text: header}
	}
	budget := telegram.MaxMessageLen - utf8.RuneCountInString(header) - len("\n<i></i>")
	return Outgoing{Text: header + "\n<i>" + fitEscaped(in.LastAssistantMessage, budget) + "</i>"}
}

// fitEscaped truncates s so that its escaped form is at most max runes.
func fitEscaped(s string, max int) string {
	width := max
	for width > 0 {
		out := esc(clip(s, width))
		n := utf8.RuneCountInString(out)
		if n <= max {
			return out
		}
		width -= n - max
	}
	return ""
}
