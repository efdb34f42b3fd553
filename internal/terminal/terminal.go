// Package terminal drives terminal multiplexer sessions that host the agent.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

type Backend string

const (
	BackendTmux   Backend = "tmux"
	BackendZellij Backend = "zellij"
)

var ErrUnknownBackend = errors.New("unknown terminal backend")

// ParseBackend maps a stored backend name to a Backend, using fallback for
// records written before the field existed.
func ParseBackend(name string, fallback Backend) (Backend, error) {
	switch Backend(name) {
	case "":
		return fallback, nil
	case BackendTmux, BackendZellij:
		return Backend(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, name)
}

// Target addresses one multiplexer session.
type Target struct {
	Backend Backend
	Handle  string
}

func (t Target) String() string {
	return string(t.Backend) + ":" + t.Handle
}

type keyKind int

const (
	keyLiteral keyKind = iota
	keyEnter
	keyDown
)

// Key is one keystroke call: either literal text or a named key.
type Key struct {
	kind keyKind
	text string
}

var (
	Enter = Key{kind: keyEnter}
	Down  = Key{kind: keyDown}
)

func Literal(text string) Key {
	return Key{kind: keyLiteral, text: text}
}

// Digit is the literal key for a menu number.
func Digit(n int) Key {
	return Literal(strconv.Itoa(n))
}

func (k Key) String() string {
	switch k.kind {
	case keyEnter:
		return "Enter"
	case keyDown:
		return "Down"
	}
	return strconv.Quote(k.text)
}

// Multiplexer is the capability set every backend implements.
type Multiplexer interface {
	Exists(ctx context.Context, handle string) (bool, error)
	Send(ctx context.Context, handle string, key Key) error
	Create(ctx context.Context, handle, dir, command string) error
	Destroy(ctx context.Context, handle string) error
	List(ctx context.Context) ([]string, error)
}
