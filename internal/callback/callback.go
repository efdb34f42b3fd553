// Package callback encodes inline button payloads as
// session|action|value[|extra]. The hook notifier builds them and the daemon
// router parses them, so both sides go through this package.
package callback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Action string

const (
	ActionPerm  Action = "perm"
	ActionOpt   Action = "opt"
	ActionStart Action = "start"
	ActionText  Action = "text"
)

// Start sub-actions carried in Value.
const (
	StartResume = "resume"
	StartFresh  = "fresh"
	StartDelete = "delete"
)

// DefaultDefinedOptions is assumed for option payloads without a count, so
// every index is typed as a digit.
const DefaultDefinedOptions = 99

// MaxLen is the transport's limit on callback data.
const MaxLen = 64

// MaxSessionLen is the longest session name whose payloads all fit in
// MaxLen. The longest suffix is a resume: |start|resume| and an 8-character
// transcript id.
const MaxSessionLen = MaxLen - len("|start|resume|") - 8

var (
	ErrMalformed = errors.New("malformed callback data")
	ErrTooLong   = errors.New("callback data too long")
)

type Data struct {
	Session string
	Action  Action
	Value   string
	Extra   string
}

// String joins the fields. Implicit text payloads are only ever parsed, so
// every encoded payload names its action.
func (d Data) String() string {
	s := d.Session + "|" + string(d.Action) + "|" + d.Value
	if d.Extra != "" {
		s += "|" + d.Extra
	}
	return s
}

// Encode returns the payload, or ErrTooLong when the transport would
// reject it.
func (d Data) Encode() (string, error) {
	s := d.String()
	if len(s) > MaxLen {
		return "", fmt.Errorf("%w: %d bytes for %s", ErrTooLong, len(s), d.Session)
	}
	return s, nil
}

// Parse splits a payload. Two fields mean an implicit text action.
func Parse(s string) (Data, error) {
	parts := strings.SplitN(s, "|", 4)
	if len(parts) < 2 || parts[0] == "" {
		return Data{}, ErrMalformed
	}
	if len(parts) == 2 {
		return Data{Session: parts[0], Action: ActionText, Value: parts[1]}, nil
	}
	d := Data{Session: parts[0], Action: Action(parts[1]), Value: parts[2]}
	if len(parts) == 4 {
		d.Extra = parts[3]
	}
	return d, nil
}

func Permission(session, choice string) Data {
	return Data{Session: session, Action: ActionPerm, Value: choice}
}

// Option addresses 0-based option index of a menu with numDefined options.
func Option(session string, index, numDefined int) Data {
	return Data{
		Session: session,
		Action:  ActionOpt,
		Value:   strconv.Itoa(index),
		Extra:   strconv.Itoa(numDefined),
	}
}

func Start(session, op, arg string) Data {
	return Data{Session: session, Action: ActionStart, Value: op, Extra: arg}
}

// OptionIndex returns the option index and defined-option count.
func (d Data) OptionIndex() (index, numDefined int, err error) {
	index, err = strconv.Atoi(d.Value)
	if err != nil {
		return 0, 0, ErrMalformed
	}
	numDefined = DefaultDefinedOptions
	if d.Extra != "" {
		numDefined, err = strconv.Atoi(d.Extra)
		if err != nil {
			return 0, 0, ErrMalformed
		}
	}
	return index, numDefined, nil
}
