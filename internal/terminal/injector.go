package terminal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agent-command/relayd/internal/config"
	"github.com/agent-command/relayd/internal/metrics"
)

// permissionKeys is fixed by the agent's permission prompt layout.
var permissionKeys = map[string]int{
	"yes":    1,
	"always": 2,
	"no":     3,
}

// maxDigit is the highest option number reachable by a single key.
const maxDigit = 9

// Injector types into agent terminals. Every operation reports failure as
// false and logs it; nothing is returned to the caller as an error.
type Injector struct {
	muxes   map[Backend]Multiplexer
	timeout time.Duration
	settle  time.Duration
	sleep   func(time.Duration)
	log     *logrus.Entry
	metrics *metrics.Metrics
}

func NewInjector(muxes map[Backend]Multiplexer, cfg config.InjectionConfig, log *logrus.Entry, m *metrics.Metrics) *Injector {
	return &Injector{
		muxes:   muxes,
		timeout: cfg.Timeout(),
		settle:  cfg.Settle(),
		sleep:   time.Sleep,
		log:     log,
		metrics: m,
	}
}

// Mux returns the adapter for a backend.
func (i *Injector) Mux(b Backend) (Multiplexer, error) {
	mux, ok := i.muxes[b]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, b)
	}
	return mux, nil
}

// Backends lists the configured backends in a stable order.
func (i *Injector) Backends() []Backend {
	out := make([]Backend, 0, len(i.muxes))
	for b := range i.muxes {
		out = append(out, b)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Alive reports whether the target session exists.
func (i *Injector) Alive(ctx context.Context, t Target) bool {
	mux, err := i.Mux(t.Backend)
	if err != nil {
		return false
	}
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()
	ok, err := mux.Exists(ctx, t.Handle)
	if err != nil {
		i.log.WithError(err).WithField("terminal", t.String()).Warn("Failed to check terminal")
		return false
	}
	return ok
}

// InjectText types text and submits it.
func (i *Injector) InjectText(ctx context.Context, t Target, text string) bool {
	keys := []Key{Enter}
	if text != "" {
		keys = []Key{Literal(text), Enter}
	}
	return i.send(ctx, "text", t, keys)
}

// InjectSelection picks option index (0-based) of a numbered menu that
// defines numDefined options. Defined options are chosen by digit; the menu's
// trailing built-in entries are reached with arrow keys.
func (i *Injector) InjectSelection(ctx context.Context, t Target, index, numDefined int) bool {
	if index < 0 {
		i.fail("selection", t, fmt.Sprintf("index %d", index), fmt.Errorf("negative option index"))
		return false
	}
	if index < numDefined && index+1 <= maxDigit {
		return i.send(ctx, "selection", t, []Key{Digit(index + 1)})
	}
	keys := make([]Key, 0, index+1)
	for n := 0; n < index; n++ {
		keys = append(keys, Down)
	}
	keys = append(keys, Enter)
	return i.send(ctx, "selection", t, keys)
}

// InjectPermission answers a permission prompt with yes, always or no.
func (i *Injector) InjectPermission(ctx context.Context, t Target, choice string) bool {
	digit, ok := permissionKeys[choice]
	if !ok {
		i.fail("permission", t, choice, fmt.Errorf("unknown permission choice"))
		return false
	}
	return i.send(ctx, "permission", t, []Key{Digit(digit)})
}

func (i *Injector) send(ctx context.Context, protocol string, t Target, keys []Key) bool {
	mux, err := i.Mux(t.Backend)
	if err != nil {
		i.fail(protocol, t, describe(keys), err)
		return false
	}

	for n, key := range keys {
		if err := i.sendOne(ctx, mux, t.Handle, key); err != nil {
			i.fail(protocol, t, describe(keys), err)
			return false
		}
		if key.kind == keyDown && n < len(keys)-1 && i.settle > 0 {
			i.sleep(i.settle)
		}
	}

	i.metrics.Injection(protocol, true)
	i.log.WithFields(logrus.Fields{
		"terminal": t.String(),
		"protocol": protocol,
		"keys":     len(keys),
	}).Debug("Injected keys")
	return true
}

func (i *Injector) sendOne(ctx context.Context, mux Multiplexer, handle string, key Key) error {
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()
	return mux.Send(ctx, handle, key)
}

func (i *Injector) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, i.timeout)
}

func (i *Injector) fail(protocol string, t Target, payload string, err error) {
	i.metrics.Injection(protocol, false)
	i.log.WithError(err).WithFields(logrus.Fields{
		"terminal": t.String(),
		"protocol": protocol,
		"payload":  payload,
	}).Warn("Injection failed")
}

func describe(keys []Key) string {
	s := ""
	for n, k := range keys {
		if n > 0 {
			s += " "
		}
		s += k.String()
	}
	return s
}
