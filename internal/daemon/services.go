package daemon

import (
	"context"
	"time"

	"github.com/firestige/gb28181-nvr/internal/catalog"
	"github.com/firestige/gb28181-nvr/internal/dialog"
)

// registrarService adapts dialog.Registrar.Run to suture.Service so it
// can live in the signalling supervisor layer and restart on panic
// without taking keepalive-independent subsystems down with it.
type registrarService struct {
	r *dialog.Registrar
}

func (s registrarService) Serve(ctx context.Context) error {
	s.r.Run(ctx)
	return ctx.Err()
}

// subscriptionSweepService periodically expires stale catalog
// subscriptions (SUBSCRIBE/NOTIFY dialogs past their Expires), per
// spec §4.4's subscription lifecycle.
type subscriptionSweepService struct {
	d *dialog.Dispatcher
}

func (s subscriptionSweepService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.d.SweepExpired()
		}
	}
}

// scanService re-scans the stream directory on a fixed interval and
// pushes catalog changes to active subscribers, implementing the
// periodic half of spec §3's "catalog refresh" behavior (Scan itself
// covers the startup/on-demand half).
type scanService struct {
	store    *catalog.Store
	root     string
	interval time.Duration
	dispatch *dialog.Dispatcher
}

func (s scanService) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		s.interval = 5 * time.Minute
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			before := s.store.ScanStatus().LastScanAt
			s.store.Scan(ctx, s.root)
			s.waitForScanComplete(ctx, before)
		}
	}
}

// waitForScanComplete polls until the background scan kicked off by
// Scan finishes, then notifies subscribers — Scan itself returns
// immediately by design (spec §3).
func (s scanService) waitForScanComplete(ctx context.Context, before time.Time) {
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			status := s.store.ScanStatus()
			if !status.Scanning && status.LastScanAt.After(before) {
				if s.dispatch != nil {
					s.dispatch.NotifyChanged()
				}
				return
			}
		}
	}
}
