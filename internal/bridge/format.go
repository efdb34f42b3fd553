package bridge

import (
	"fmt"
	"strings"

	"github.com/agent-command/relayd/internal/telegram"
)

const (
	msgNoSession      = "⚠️ No session linked to this thread."
	msgSendFailed     = "❌ Failed to send. Is the terminal session alive?"
	msgCallbackFailed = "❌ Failed to send."
	msgRenameUsage    = "⚠️ Usage: <code>/tel_rename new_name</code>"
)

func bold(s string) string { return "<b>" + telegram.Escape(s) + "</b>" }
func code(s string) string { return "<code>" + telegram.Escape(s) + "</code>" }

func ackText(text string) string {
	return "✅ " + code(telegram.Truncate(text, 200))
}

func selectedText(label string) string {
	return "✅ Selected: " + code(telegram.Truncate(label, 100))
}

func inactiveText(name string) string {
	return fmt.Sprintf("⚠️ Session %s is not active. Use /tel_start to start it.", bold(name))
}

func noTerminalText(name string) string {
	return fmt.Sprintf("⚠️ Session %s has no terminal.", bold(name))
}

func deadTerminalText(name string) string {
	return fmt.Sprintf("⚠️ Terminal for %s is not running. Use /tel_start to start it.", bold(name))
}

func errorText(what string, err error) string {
	return fmt.Sprintf("⚠️ %s: %s", what, code(err.Error()))
}

func helpText(slash []string) string {
	var b strings.Builder
	b.WriteString("<b>relayd</b>\n\n")
	b.WriteString("Each session has its own thread. Type in the thread to send to its terminal.\n\n")
	b.WriteString("<b>Bridge commands:</b>\n")
	b.WriteString("/tel_sessions - List terminal sessions\n")
	b.WriteString("/tel_rename &lt;name&gt; - Rename session and thread\n")
	b.WriteString("/tel_start - Start or resume the agent\n")
	b.WriteString("/tel_end - Stop the terminal session\n")
	b.WriteString("/tel_help - Show this help\n")
	if len(slash) > 0 {
		b.WriteString("\n<b>Forwarded agent commands:</b>\n")
		for i, c := range slash {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString("/" + strings.TrimPrefix(c, "/"))
		}
		b.WriteString("\n")
	}
	return b.String()
}
