// Package supervisor wires the device's background processes —
// registration renewal, keepalive, catalog scanning, and per-session
// media watchdogs — into one suture supervision tree, grounded on
// tomtom215-cartographus's internal/supervisor/tree.go layering (a
// root supervisor with dedicated child supervisors per concern, so a
// crash in one layer doesn't take down the others).
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/firestige/gb28181-nvr/internal/log"
)

// TreeConfig configures the failure-handling knobs shared by every
// supervisor in the tree. Defaults match suture's own built-in
// defaults, same as the teacher's DefaultTreeConfig.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig returns production-ready defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree organizes the device's background work into three layers:
//   - signalling: registration renewal timer, keepalive ticker
//   - catalog: directory scan scheduler
//   - media: per-session watchdogs (added/removed as sessions come and go)
//
// A crash in a media session's watchdog never disturbs the
// signalling layer's ability to keep the device registered.
type Tree struct {
	root        *suture.Supervisor
	signalling  *suture.Supervisor
	catalogTier *suture.Supervisor
	media       *suture.Supervisor
	config      TreeConfig
}

// New builds the tree. Call Serve to start it and Stop to tear it
// down within the configured ShutdownTimeout.
func New(config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	rootSpec := suture.Spec{
		EventHook:        logEventHook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("gb28181-nvr", rootSpec)
	signalling := suture.New("signalling", childSpec)
	catalogTier := suture.New("catalog", childSpec)
	mediaTier := suture.New("media", childSpec)

	root.Add(signalling)
	root.Add(catalogTier)
	root.Add(mediaTier)

	return &Tree{root: root, signalling: signalling, catalogTier: catalogTier, media: mediaTier, config: config}
}

// logEventHook bridges suture's event stream into this repo's own
// structured logger rather than importing thejerf/sutureslog (not a
// dependency any example in the retrieval pack declares alongside
// suture/v4 in a way this module pulls in — see DESIGN.md).
func logEventHook(ev suture.Event) {
	l := log.GetLogger().WithField("supervisor_event", ev.Type().String())
	switch ev.Type() {
	case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
		l.Warn(ev.String())
	case suture.EventTypeBackoff, suture.EventTypeResume:
		l.Info(ev.String())
	default:
		l.Debug(ev.String())
	}
}

// AddSignalling adds a service (registration renewal, keepalive
// ticker) to the signalling layer.
func (t *Tree) AddSignalling(svc suture.Service) suture.ServiceToken {
	return t.signalling.Add(svc)
}

// AddCatalog adds a service (the scan scheduler) to the catalog layer.
func (t *Tree) AddCatalog(svc suture.Service) suture.ServiceToken {
	return t.catalogTier.Add(svc)
}

// AddMediaWatchdog adds a per-session watchdog to the media layer and
// returns a token so it can be removed when the session ends on its
// own (a normal BYE, not a crash).
func (t *Tree) AddMediaWatchdog(svc suture.Service) suture.ServiceToken {
	return t.media.Add(svc)
}

// RemoveMediaWatchdog detaches a previously added per-session
// watchdog, used when a session ends via an orderly BYE rather than a
// supervised failure.
func (t *Tree) RemoveMediaWatchdog(token suture.ServiceToken) error {
	return t.media.Remove(token)
}

// Serve runs the tree until ctx is cancelled or Stop is called.
// Intended to run on its own goroutine.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// Stop halts the tree, waiting up to ShutdownTimeout for every
// service to exit cleanly.
func (t *Tree) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		t.root.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.GetLogger().Warn("supervisor: shutdown deadline exceeded, returning anyway")
	}
}
