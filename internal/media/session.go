package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/firestige/gb28181-nvr/internal/log"
	"github.com/firestige/gb28181-nvr/internal/metrics"
	"github.com/firestige/gb28181-nvr/internal/supervisor"
)

// SessionState is the lifecycle state of a MediaSession, reported on
// daemon_status and driving the watchdog's restart decisions.
type SessionState string

const (
	SessionStarting SessionState = "starting"
	SessionPlaying  SessionState = "playing"
	SessionRestart  SessionState = "restarting"
	SessionStopped  SessionState = "stopped"
	SessionFailed   SessionState = "failed"
)

// restartBackoff is the per-session restart ladder (spec §4.6):
// {1,2,5,10,30}s, capped at maxRestarts consecutive attempts before
// the session is given up on.
var restartBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second}

const maxRestarts = 5

// stableResetWindow is how long a session must run without a failure
// before its restart counter resets to zero (spec §4.6).
const stableResetWindow = 60 * time.Second

// ChannelSource describes where a channel's media comes from, decided
// once by the catalog/config layer and handed to the session manager
// when an INVITE arrives.
type ChannelSource struct {
	ChannelID   string
	FilePath    string // set for file-backed channels
	RTSPURL     string // set for live RTSP channels
	LoopPlayback bool
}

// MediaSession binds one SIP dialog's negotiated SDP to a running
// Pipeline. One session exists per (channel, remote endpoint) pair;
// invariant enforced by SessionManager.
type MediaSession struct {
	SessionID     string
	ChannelID     string
	RemoteRTPIP   string
	RemoteRTPPort int
	SSRC          string
	PayloadType   uint8
	ClockRate     uint32

	mu           sync.Mutex
	state        SessionState
	startedAt    time.Time
	lastPlayedAt time.Time
	errorCount   int
	restartCount int
	giveUpNotify func(sessionID string)

	pipeline *Pipeline
	sink     *RTPSender
	source   ChannelSource

	manager   *SessionManager
	key       string
	closeOnce sync.Once
	stopped   bool
}

// State returns the session's current lifecycle state.
func (s *MediaSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionManager owns every active MediaSession, keyed by a composite
// of channel ID and remote endpoint, enforcing "at most one active
// session per (channel, remote) pair" (spec §4.5): a re-INVITE for the
// same pair orderly-stops the prior session before starting the new
// one.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*MediaSession
	tree     *supervisor.Tree
	tokens   map[string]suture.ServiceToken // key -> watchdog token
}

// NewSessionManager creates an empty manager whose per-session
// watchdogs run as suture.Service values under tree's media layer
// (spec §4.6), rather than as untracked goroutines.
func NewSessionManager(tree *supervisor.Tree) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*MediaSession),
		tree:     tree,
		tokens:   make(map[string]suture.ServiceToken),
	}
}

func sessionKey(channelID, remoteIP string, remotePort int) string {
	return fmt.Sprintf("%s|%s:%d", channelID, remoteIP, remotePort)
}

// StartSession creates (replacing any prior session for the same key)
// and starts a new MediaSession streaming source to offer's declared
// endpoint.
func (m *SessionManager) StartSession(sessionID string, source ChannelSource, offer *Offer) (*MediaSession, error) {
	key := sessionKey(source.ChannelID, offer.ConnIP, offer.VideoPort)

	m.mu.Lock()
	if prior, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		prior.Stop()
		m.mu.Lock()
	}

	sender, err := NewRTPSender(offer.ConnIP, offer.VideoPort, offer.PayloadType, offer.ClockRate, offer.SSRC)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	sess := &MediaSession{
		SessionID:     sessionID,
		ChannelID:     source.ChannelID,
		RemoteRTPIP:   offer.ConnIP,
		RemoteRTPPort: offer.VideoPort,
		SSRC:          offer.SSRC,
		PayloadType:   offer.PayloadType,
		ClockRate:     offer.ClockRate,
		state:         SessionStarting,
		startedAt:     time.Now(),
		sink:          sender,
		source:        source,
		manager:       m,
		key:           key,
	}

	if err := sess.start(); err != nil {
		m.mu.Unlock()
		sender.Close()
		return nil, err
	}

	m.sessions[key] = sess
	if m.tree != nil {
		m.tokens[key] = m.tree.AddMediaWatchdog(&mediaWatchdog{manager: m, key: key, sess: sess})
	}
	m.mu.Unlock()

	metrics.MediaSessionsActive.Inc()
	return sess, nil
}

// mediaWatchdog adapts a MediaSession's restart loop to suture.Service
// so it runs under the supervision tree's media layer (spec §4.6)
// instead of as an untracked bare goroutine.
type mediaWatchdog struct {
	manager *SessionManager
	key     string
	sess    *MediaSession
}

// Serve runs until ctx is cancelled, either by the supervision tree
// shutting down or by SessionManager detaching this watchdog on an
// orderly session stop/give-up.
func (w *mediaWatchdog) Serve(ctx context.Context) error {
	w.manager.watch(ctx, w.key, w.sess)
	return ctx.Err()
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// detachWatchdog removes key's watchdog from the supervision tree,
// cancelling its Serve context and waiting for it to return. Safe to
// call more than once for the same key (a no-op after the first).
func (m *SessionManager) detachWatchdog(key string) {
	m.mu.Lock()
	token, ok := m.tokens[key]
	if ok {
		delete(m.tokens, key)
	}
	m.mu.Unlock()
	if ok && m.tree != nil {
		_ = m.tree.RemoveMediaWatchdog(token)
	}
}

func newSourceFor(source ChannelSource) (Source, error) {
	switch {
	case source.RTSPURL != "":
		return NewRTSPSource(source.RTSPURL), nil
	case source.FilePath != "":
		return NewFileSource(source.FilePath, source.LoopPlayback), nil
	default:
		return nil, fmt.Errorf("media: channel %s has no source configured", source.ChannelID)
	}
}

func (s *MediaSession) start() error {
	src, err := newSourceFor(s.source)
	if err != nil {
		return err
	}

	s.pipeline = NewPipeline(PipelineConfig{
		SessionID: s.SessionID,
		ChannelID: s.ChannelID,
		Source:    src,
		Sink:      s.sink,
		ClockRate: s.ClockRate,
		OnTransition: func(t StageTransition) {
			if t.State == StageFailed {
				s.recordFailure(t.Err)
			}
		},
	})
	s.pipeline.Start()

	s.mu.Lock()
	s.state = SessionPlaying
	s.lastPlayedAt = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *MediaSession) recordFailure(err error) {
	s.mu.Lock()
	s.errorCount++
	s.state = SessionFailed
	s.mu.Unlock()
	log.GetLogger().WithError(err).WithField("session_id", s.SessionID).Warn("media: session pipeline failed")
}

// watch is the per-session restart watchdog, grounded on the backoff
// schedule used by dialog/registration.go's registrar, adapted to the
// session's own ladder. It runs as the body of a mediaWatchdog's
// suture.Service, so every sleep is cancellable via ctx rather than a
// bare time.Sleep (spec §5: "any timer wait" is a suspension point
// that must be cancellable).
func (m *SessionManager) watch(ctx context.Context, key string, s *MediaSession) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		stopped := s.stopped
		failed := s.state == SessionFailed
		restartCount := s.restartCount
		lastPlayedAt := s.lastPlayedAt
		s.mu.Unlock()

		if stopped {
			return
		}
		if !failed {
			if time.Since(lastPlayedAt) > stableResetWindow {
				s.mu.Lock()
				s.restartCount = 0
				s.mu.Unlock()
			}
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		if restartCount >= maxRestarts {
			log.GetLogger().WithField("session_id", s.SessionID).Error("media: session giving up after max restarts")
			s.mu.Lock()
			s.state = SessionStopped
			s.stopped = true
			notify := s.giveUpNotify
			s.mu.Unlock()
			s.closeMedia()
			metrics.MediaSessionsActive.Dec()
			if notify != nil {
				notify(s.SessionID)
			}
			m.remove(key, s)
			// Detach from another goroutine: RemoveMediaWatchdog blocks
			// waiting for this Serve call to return, so calling it from
			// here would deadlock.
			go m.detachWatchdog(key)
			<-ctx.Done()
			return
		}

		delay := restartBackoff[restartCount]
		if restartCount >= len(restartBackoff) {
			delay = restartBackoff[len(restartBackoff)-1]
		}
		if !sleepCtx(ctx, delay) {
			return
		}

		s.mu.Lock()
		s.state = SessionRestart
		s.restartCount++
		s.mu.Unlock()
		metrics.MediaSessionRestartsTotal.WithLabelValues(s.ChannelID).Inc()

		if s.pipeline != nil {
			s.pipeline.Stop()
		}
		if err := s.start(); err != nil {
			s.recordFailure(err)
			continue
		}
	}
}

func (m *SessionManager) remove(key string, s *MediaSession) {
	m.mu.Lock()
	if cur, ok := m.sessions[key]; ok && cur == s {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
}

// OnGiveUp registers a callback invoked when the session exhausts its
// restart budget, so the dialog layer can NOTIFY/BYE the peer.
func (s *MediaSession) OnGiveUp(fn func(sessionID string)) {
	s.mu.Lock()
	s.giveUpNotify = fn
	s.mu.Unlock()
}

// closeMedia stops the pipeline and closes the sink's UDP socket. Used
// by both an orderly Stop and the watchdog's give-up path so neither
// leaks the session's socket or source file handle; guarded by
// sync.Once so a give-up followed by an explicit Stop only closes
// once.
func (s *MediaSession) closeMedia() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		pipeline := s.pipeline
		sink := s.sink
		s.mu.Unlock()
		if pipeline != nil {
			pipeline.Stop()
		}
		if sink != nil {
			sink.Close()
		}
	})
}

// Stop orderly-stops the session's pipeline and sink and detaches its
// watchdog from the supervision tree, waiting for the watchdog's
// Serve call to return before returning itself.
func (s *MediaSession) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.state = SessionStopped
	s.mu.Unlock()

	s.closeMedia()
	if s.manager != nil {
		s.manager.detachWatchdog(s.key)
	}
	metrics.MediaSessionsActive.Dec()
}

// StopByChannel stops every session for channelID (used on BYE without
// a precise remote endpoint, or on channel teardown).
func (m *SessionManager) StopByChannel(channelID string) {
	m.mu.Lock()
	var matches []*MediaSession
	for k, s := range m.sessions {
		if s.ChannelID == channelID {
			matches = append(matches, s)
			delete(m.sessions, k)
		}
	}
	m.mu.Unlock()

	for _, s := range matches {
		s.Stop()
	}
}

// Count returns the number of currently tracked sessions, for
// daemon_status.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StopAll stops every session, used during graceful shutdown.
func (m *SessionManager) StopAll() {
	m.mu.Lock()
	all := make([]*MediaSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*MediaSession)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *MediaSession) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}
