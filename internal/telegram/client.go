// Package telegram is a small Bot API client covering what the bridge uses:
// long polling, forum topics, inline keyboards, reactions and chat actions.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/agent-command/relayd/internal/config"
)

// MaxMessageLen is where outgoing text is split.
const MaxMessageLen = 4000

// generalTopicID is the forum's General topic, which rejects an explicit
// message_thread_id.
const generalTopicID = 1

// APIError is a request the Bot API refused.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type Client struct {
	baseURL string
	chatID  int64
	http    *http.Client
	log     *logrus.Entry
}

// NewClient builds a client bound to the configured group chat. The HTTP
// timeout leaves headroom over the long-poll timeout.
func NewClient(cfg *config.TelegramConfig, log *logrus.Entry) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.BotToken,
		chatID:  cfg.GroupChatID,
		http:    &http.Client{Timeout: cfg.PollTimeout() + 10*time.Second},
		log:     log,
	}
}

func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("telegram %s: bad response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		return apiErr
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: bad result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) target(threadID int64) map[string]any {
	params := map[string]any{"chat_id": c.chatID}
	if threadID > generalTopicID {
		params["message_thread_id"] = threadID
	}
	return params
}

// GetUpdates long-polls for updates at or after offset. Zero offset means
// "whatever is pending".
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := map[string]any{
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	}
	if offset != 0 {
		params["offset"] = offset
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage posts HTML text to a thread, splitting long text. The keyboard
// goes on the last part. It returns the id of the last message sent.
func (c *Client) SendMessage(ctx context.Context, threadID int64, text string, markup *InlineKeyboardMarkup) (int, error) {
	parts := SplitMessage(text, MaxMessageLen)
	var lastID int
	for i, part := range parts {
		params := c.target(threadID)
		params["text"] = part
		params["parse_mode"] = "HTML"
		if markup != nil && i == len(parts)-1 {
			params["reply_markup"] = markup
		}

		var msg Message
		err := c.call(ctx, "sendMessage", params, &msg)
		if isParseError(err) {
			c.log.WithError(err).Debug("Resending without HTML")
			delete(params, "parse_mode")
			err = c.call(ctx, "sendMessage", params, &msg)
		}
		if err != nil {
			return lastID, err
		}
		lastID = msg.MessageID
	}
	return lastID, nil
}

// EditMessageReplyMarkup replaces a message's keyboard; nil removes it.
func (c *Client) EditMessageReplyMarkup(ctx context.Context, messageID int, markup *InlineKeyboardMarkup) error {
	if markup == nil {
		markup = &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{}}
	}
	params := map[string]any{
		"chat_id":      c.chatID,
		"message_id":   messageID,
		"reply_markup": markup,
	}
	return ignoreNotModified(c.call(ctx, "editMessageReplyMarkup", params, nil))
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

func (c *Client) SetReaction(ctx context.Context, messageID int, emoji string) error {
	params := map[string]any{
		"chat_id":    c.chatID,
		"message_id": messageID,
		"reaction":   []map[string]string{{"type": "emoji", "emoji": emoji}},
	}
	return c.call(ctx, "setMessageReaction", params, nil)
}

func (c *Client) SendChatAction(ctx context.Context, threadID int64, action string) error {
	params := c.target(threadID)
	params["action"] = action
	return c.call(ctx, "sendChatAction", params, nil)
}

func (c *Client) CreateThread(ctx context.Context, name string) (int64, error) {
	var topic struct {
		MessageThreadID int64 `json:"message_thread_id"`
	}
	params := map[string]any{"chat_id": c.chatID, "name": name}
	if err := c.call(ctx, "createForumTopic", params, &topic); err != nil {
		return 0, err
	}
	return topic.MessageThreadID, nil
}

func (c *Client) ReopenThread(ctx context.Context, threadID int64) error {
	params := map[string]any{"chat_id": c.chatID, "message_thread_id": threadID}
	return ignoreNotModified(c.call(ctx, "reopenForumTopic", params, nil))
}

func (c *Client) CloseThread(ctx context.Context, threadID int64) error {
	params := map[string]any{"chat_id": c.chatID, "message_thread_id": threadID}
	return ignoreNotModified(c.call(ctx, "closeForumTopic", params, nil))
}

func (c *Client) RenameThread(ctx context.Context, threadID int64, name string) error {
	params := map[string]any{"chat_id": c.chatID, "message_thread_id": threadID, "name": name}
	return ignoreNotModified(c.call(ctx, "editForumTopic", params, nil))
}

func isParseError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Description, "can't parse entities")
}

// ignoreNotModified treats "already in that state" refusals as success.
func ignoreNotModified(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if strings.Contains(apiErr.Description, "not modified") || strings.Contains(apiErr.Description, "TOPIC_NOT_MODIFIED") {
		return nil
	}
	return err
}

// SplitMessage breaks text into parts of at most maxLen runes, preferring
// line then word boundaries in the back half of each part.
func SplitMessage(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	var parts []string
	remaining := []rune(text)
	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			parts = append(parts, string(remaining))
			break
		}
		window := string(remaining[:maxLen])
		splitAt := maxLen
		if idx := strings.LastIndex(window, "\n"); idx > len(window)/2 {
			splitAt = utf8.RuneCountInString(window[:idx]) + 1
		} else if idx := strings.LastIndex(window, " "); idx > len(window)/2 {
			splitAt = utf8.RuneCountInString(window[:idx]) + 1
		}
		parts = append(parts, strings.TrimRight(string(remaining[:splitAt]), " \n"))
		remaining = remaining[splitAt:]
	}
	return parts
}
