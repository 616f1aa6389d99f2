package thread

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	holonlog "github.com/holon-run/xavier/pkg/log"
)

// Sweeper runs expiry scans in the background, detached from the requests
// that trigger them. At most one scan runs at a time; triggers that arrive
// while a scan is in progress are dropped.
type Sweeper struct {
	store   *Store
	ttl     time.Duration
	running atomic.Bool
	wg      conc.WaitGroup

	// OnReport, if set, receives every completed report.
	OnReport func(SweepReport)
}

// NewSweeper creates a sweeper for store using ttl.
func NewSweeper(store *Store, ttl time.Duration) *Sweeper {
	return &Sweeper{store: store, ttl: ttl}
}

// Trigger starts a scan in the background and returns immediately. It
// reports whether a new scan was started.
func (s *Sweeper) Trigger() bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Go(func() {
		defer s.running.Store(false)
		s.sweep(context.Background())
	})
	return true
}

// Run sweeps every interval until ctx is done. A non-positive interval
// disables periodic sweeps and Run only waits for ctx.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Trigger()
		}
	}
}

// SweepNow runs one scan synchronously and returns its report.
func (s *Sweeper) SweepNow(ctx context.Context) SweepReport {
	return s.sweep(ctx)
}

// Wait blocks until background scans started by Trigger have finished.
func (s *Sweeper) Wait() {
	s.wg.Wait()
}

func (s *Sweeper) sweep(ctx context.Context) SweepReport {
	var report SweepReport
	recovered := panics.Try(func() {
		report = s.store.SweepExpired(ctx, s.ttl)
		for _, err := range report.Errors {
			holonlog.Warn("thread sweep error", "error", err)
		}
		if len(report.Reaped) > 0 || len(report.Busy) > 0 {
			holonlog.Debug("thread sweep finished", "scanned", report.Scanned, "reaped", len(report.Reaped), "busy", len(report.Busy))
		}
		if s.OnReport != nil {
			s.OnReport(report)
		}
	})
	if recovered != nil {
		holonlog.Error("thread sweep panicked", "error", recovered.AsError())
	}
	return report
}
