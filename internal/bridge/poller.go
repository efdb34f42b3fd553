package bridge

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"

	"github.com/agent-command/relayd/internal/metrics"
	"github.com/agent-command/relayd/internal/telegram"
)

// Dispatcher handles a single update.
type Dispatcher interface {
	Dispatch(ctx context.Context, u telegram.Update) error
}

// Poller long-polls the transport and dispatches updates one at a time.
type Poller struct {
	transport  Transport
	handler    Dispatcher
	timeout    time.Duration
	retryDelay time.Duration
	offset     int64
	log        *logrus.Entry
	metrics    *metrics.Metrics
}

func NewPoller(t Transport, h Dispatcher, timeout, retryDelay time.Duration, log *logrus.Entry, m *metrics.Metrics) *Poller {
	return &Poller{
		transport:  t,
		handler:    h,
		timeout:    timeout,
		retryDelay: retryDelay,
		log:        log,
		metrics:    m,
	}
}

// Offset is the next update id to fetch; 0 before the first update.
func (p *Poller) Offset() int64 { return p.offset }

// Run polls until ctx is cancelled. Transport errors are retried forever
// with the same offset.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("Polling for updates")
	for ctx.Err() == nil {
		updates, err := p.transport.GetUpdates(ctx, p.offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.metrics.PollError()
			p.log.WithError(err).WithField("offset", p.offset).Warn("Poll failed, retrying")
			if !sleep(ctx, p.retryDelay) {
				break
			}
			continue
		}
		for _, u := range updates {
			p.offset = u.UpdateID + 1
			p.dispatch(ctx, u)
		}
	}
	p.log.Info("Poller stopped")
	return nil
}

// dispatch isolates one update: a failure or panic is logged and counted.
func (p *Poller) dispatch(ctx context.Context, u telegram.Update) {
	log := p.log.WithField("update_id", u.UpdateID)

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = p.handler.Dispatch(ctx, u) })

	if rec := pc.Recovered(); rec != nil {
		p.metrics.DispatchPanic()
		log.WithError(rec.AsError()).Error("Update handler panicked")
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to handle update")
	}
}

// sleep waits for d, returning false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
