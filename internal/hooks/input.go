// Package hooks handles the agent's hook events: it turns them into chat
// notifications and keeps the session registry in step with agent sessions.
package hooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Hook event names.
const (
	EventSessionStart       = "SessionStart"
	EventSessionEnd         = "SessionEnd"
	EventPermissionRequest  = "PermissionRequest"
	EventPostToolUse        = "PostToolUse"
	EventPostToolUseFailure = "PostToolUseFailure"
	EventNotification       = "Notification"
	EventStop               = "Stop"
)

// toolAskUserQuestion is the agent's multiple-choice question tool.
const toolAskUserQuestion = "AskUserQuestion"

// Input is the JSON document the agent writes to a hook's stdin.
type Input struct {
	HookEventName        string          `json:"hook_event_name"`
	SessionID            string          `json:"session_id"`
	Cwd                  string          `json:"cwd"`
	TranscriptPath       string          `json:"transcript_path"`
	ToolName             string          `json:"tool_name"`
	ToolInput            json.RawMessage `json:"tool_input"`
	Error                string          `json:"error"`
	NotificationType     string          `json:"notification_type"`
	Message              string          `json:"message"`
	Title                string          `json:"title"`
	StopHookActive       bool            `json:"stop_hook_active"`
	LastAssistantMessage string          `json:"last_assistant_message"`
}

type toolInput struct {
	Command     string     `json:"command"`
	Description string     `json:"description"`
	FilePath    string     `json:"file_path"`
	URL         string     `json:"url"`
	Questions   []question `json:"questions"`
}

type question struct {
	Question    string   `json:"question"`
	Header      string   `json:"header"`
	Options     []option `json:"options"`
	MultiSelect bool     `json:"multiSelect"`
}

type option struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// ReadInput decodes hook input. Empty input is a zero Input.
func ReadInput(r io.Reader) (Input, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Input{}, fmt.Errorf("failed to read hook input: %w", err)
	}
	var in Input
	if len(bytes.TrimSpace(data)) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return Input{}, fmt.Errorf("failed to parse hook input: %w", err)
	}
	return in, nil
}

func (in Input) tool() toolInput {
	var t toolInput
	if len(in.ToolInput) > 0 {
		_ = json.Unmarshal(in.ToolInput, &t)
	}
	return t
}
