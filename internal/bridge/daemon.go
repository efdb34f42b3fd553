package bridge

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/agent-command/relayd/internal/metrics"
)

// Daemon runs the poller, the typing indicator and, when an address is
// set, the metrics endpoint, until ctx is cancelled.
type Daemon struct {
	Poller      *Poller
	Indicator   *Indicator
	Metrics     *metrics.Metrics
	MetricsAddr string
	Log         *logrus.Entry
}

func (d *Daemon) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	wg.Go(func() {
		if err := d.Poller.Run(ctx); err != nil {
			d.Log.WithError(err).Error("Poller exited")
		}
	})
	if d.Indicator != nil {
		wg.Go(func() {
			_ = d.Indicator.Run(ctx)
		})
	}
	if d.MetricsAddr != "" {
		wg.Go(func() {
			if err := metrics.Serve(ctx, d.MetricsAddr, d.Metrics, d.Log); err != nil {
				d.Log.WithError(err).Warn("Metrics server failed")
			}
		})
	}
	wg.Wait()
	return nil
}
