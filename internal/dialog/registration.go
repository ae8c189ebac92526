package dialog

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/firestige/gb28181-nvr/internal/log"
	"github.com/firestige/gb28181-nvr/internal/manscdp"
	"github.com/firestige/gb28181-nvr/internal/metrics"
	"github.com/firestige/gb28181-nvr/internal/siptransport"
)

// RegState is the registration lifecycle state, mirrored 1:1 with the
// metrics.RegState* gauge values so the dialog engine never drifts
// from what's exported.
type RegState int

const (
	StateUnregistered RegState = RegState(metrics.RegStateUnregistered)
	StateChallenged    RegState = RegState(metrics.RegStateChallenged)
	StateRegistered    RegState = RegState(metrics.RegStateRegistered)
	StateExpiring      RegState = RegState(metrics.RegStateExpiring)
	StateFailed        RegState = RegState(metrics.RegStateFailed)
)

func (s RegState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateChallenged:
		return "challenged"
	case StateRegistered:
		return "registered"
	case StateExpiring:
		return "expiring"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// backoffSchedule is the Failed-state retry ladder from spec §4.4,
// holding at the last value once exhausted.
var backoffSchedule = []time.Duration{
	5 * time.Second, 10 * time.Second, 30 * time.Second,
	60 * time.Second, 120 * time.Second,
}

// RegistrarConfig carries the fixed parameters of a Registrar.
type RegistrarConfig struct {
	DeviceID          string
	Server            string // host:port of the platform SIP endpoint
	LocalIP           string
	LocalPort         int
	ContactIP         string
	Transport         string // "udp" or "tcp"
	Username          string
	Password          string
	Realm             string
	RegisterExpires   int
	KeepaliveInterval time.Duration
}

// Registrar owns the registration state machine and keepalive timer
// for a single device. All mutation happens on a dedicated goroutine
// driven by a command channel, so state transitions never race with
// inbound response delivery.
type Registrar struct {
	cfg   RegistrarConfig
	tr    *siptransport.Transport
	dest  net.Addr
	creds Credentials

	mu             sync.Mutex
	state          RegState
	grantedExpires int
	callID         string
	cseq           int
	failures       int
	keepaliveFails int
	lastChallenge  *Challenge
	registeredAt   time.Time

	events chan func()
	done   chan struct{}
}

// NewRegistrar builds a Registrar bound to an already-listening
// Transport and a resolved destination address.
func NewRegistrar(cfg RegistrarConfig, tr *siptransport.Transport, dest net.Addr) *Registrar {
	return &Registrar{
		cfg:    cfg,
		tr:     tr,
		dest:   dest,
		creds:  Credentials{Username: cfg.Username, Password: cfg.Password},
		state:  StateUnregistered,
		callID: siptransport.NewCallID(cfg.LocalIP),
		events: make(chan func(), 16),
		done:   make(chan struct{}),
	}
}

// State returns the current registration state.
func (r *Registrar) State() RegState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run starts the registrar's event loop and sends the initial
// REGISTER. It blocks until ctx is cancelled or Stop is called.
func (r *Registrar) Run(ctx context.Context) {
	r.post(func() { r.sendRegister(nil) })
	keepalive := time.NewTicker(r.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case fn := <-r.events:
			fn()
		case <-keepalive.C:
			r.post(r.sendKeepalive)
		}
	}
}

// Stop ends the event loop.
func (r *Registrar) Stop() { close(r.done) }

// post enqueues fn to run on the registrar's own goroutine.
func (r *Registrar) post(fn func()) {
	select {
	case r.events <- fn:
	case <-r.done:
	}
}

// HandleResponse feeds a REGISTER response into the state machine. It
// must be routed here by the dispatcher's Call-ID match.
func (r *Registrar) HandleResponse(msg *siptransport.Message) {
	r.post(func() { r.handleResponseLocked(msg) })
}

func (r *Registrar) nextCSeq() int {
	r.cseq++
	return r.cseq
}

// digestURI builds the REGISTER request-URI/digest-uri per spec §8
// Scenario A ("uri=\"sip:3402000000@server:5060\""): the platform's
// realm as the user part, not the bare device-id or a userless sip:
// server URI.
func (r *Registrar) digestURI() string {
	if r.cfg.Realm != "" {
		return fmt.Sprintf("sip:%s@%s", r.cfg.Realm, r.cfg.Server)
	}
	return fmt.Sprintf("sip:%s", r.cfg.Server)
}

func (r *Registrar) sendRegister(challenge *Challenge) {
	r.mu.Lock()
	expires := r.cfg.RegisterExpires
	if expires <= 0 {
		expires = 3600
	}
	cseq := r.nextCSeq()
	branch := siptransport.NewBranch()
	callID := r.callID
	r.mu.Unlock()

	reqURI := r.digestURI()
	b := siptransport.NewRequestBuilder("REGISTER", reqURI).
		AddHeader("Via", siptransport.BuildVia(r.cfg.Transport, r.cfg.LocalIP, r.cfg.LocalPort, branch)).
		AddHeader("From", siptransport.BuildFromTo("", r.cfg.DeviceID, r.cfg.Server, 5060, "")).
		AddHeader("To", siptransport.BuildFromTo("", r.cfg.DeviceID, r.cfg.Server, 5060, "")).
		AddHeader("Call-ID", callID).
		AddHeader("CSeq", fmt.Sprintf("%d REGISTER", cseq)).
		AddHeader("Contact", siptransport.BuildContact(r.cfg.DeviceID, r.cfg.ContactIP, r.cfg.LocalPort, r.cfg.Transport)).
		AddHeader("Max-Forwards", "70").
		AddHeader("Expires", fmt.Sprintf("%d", expires)).
		AddHeader("User-Agent", "gb28181-nvr")

	if challenge != nil {
		b.AddHeader("Authorization", BuildAuthorizationHeader(r.creds, *challenge, "REGISTER", reqURI))
	}

	data := b.Build()
	if err := r.tr.SendRequest(r.dest, branch, "REGISTER", data); err != nil {
		log.GetLogger().WithError(err).Error("dialog: failed to send REGISTER")
		r.onFailure()
		return
	}

	r.mu.Lock()
	if challenge != nil {
		r.state = StateChallenged
	}
	r.mu.Unlock()
}

func (r *Registrar) handleResponseLocked(msg *siptransport.Message) {
	switch {
	case msg.StatusCode == 401 || msg.StatusCode == 407:
		header := msg.Header("WWW-Authenticate")
		if header == "" {
			header = msg.Header("Proxy-Authenticate")
		}
		challenge, err := ParseChallenge(header)
		if err != nil {
			log.GetLogger().WithError(err).Warn("dialog: unparsable auth challenge")
			r.onFailure()
			return
		}
		r.mu.Lock()
		r.lastChallenge = &challenge
		r.mu.Unlock()
		r.sendRegister(&challenge)

	case msg.StatusCode == 200:
		expires := parseExpires(msg.Header("Expires"), r.cfg.RegisterExpires)
		r.mu.Lock()
		r.state = StateRegistered
		r.grantedExpires = expires
		r.failures = 0
		r.keepaliveFails = 0
		r.registeredAt = time.Now()
		r.mu.Unlock()
		metrics.RegistrationState.Set(float64(metrics.RegStateRegistered))
		log.GetLogger().WithField("expires", expires).Info("dialog: registration confirmed")
		r.scheduleRenewal(expires)

	case msg.StatusCode >= 300:
		log.GetLogger().WithField("status", msg.StatusCode).Warn("dialog: registration rejected")
		r.onFailure()
	}
}

// scheduleRenewal arms the proactive-renewal timer at 75% of the
// granted expiry, per spec §4.4.
func (r *Registrar) scheduleRenewal(expires int) {
	renewAt := time.Duration(float64(expires)*0.75) * time.Second
	time.AfterFunc(renewAt, func() {
		r.post(func() {
			r.mu.Lock()
			r.state = StateExpiring
			challenge := r.lastChallenge
			r.mu.Unlock()
			metrics.RegistrationState.Set(float64(metrics.RegStateExpiring))
			r.sendRegister(challenge)
		})
	})
}

func (r *Registrar) sendKeepalive() {
	r.mu.Lock()
	if r.state != StateRegistered && r.state != StateExpiring {
		r.mu.Unlock()
		return
	}
	cseq := r.nextCSeq()
	callID := r.callID
	r.mu.Unlock()

	branch := siptransport.NewBranch()
	body, err := manscdp.RenderKeepaliveNotify(fmt.Sprintf("%d", cseq), r.cfg.DeviceID)
	if err != nil {
		log.GetLogger().WithError(err).Error("dialog: failed to render keepalive body")
		return
	}
	reqURI := fmt.Sprintf("sip:%s", r.cfg.Server)
	data := siptransport.NewRequestBuilder("MESSAGE", reqURI).
		AddHeader("Via", siptransport.BuildVia(r.cfg.Transport, r.cfg.LocalIP, r.cfg.LocalPort, branch)).
		AddHeader("From", siptransport.BuildFromTo("", r.cfg.DeviceID, r.cfg.Server, 5060, "")).
		AddHeader("To", siptransport.BuildFromTo("", r.cfg.DeviceID, r.cfg.Server, 5060, "")).
		AddHeader("Call-ID", callID).
		AddHeader("CSeq", fmt.Sprintf("%d MESSAGE", cseq)).
		AddHeader("Content-Type", "Application/MANSCDP+xml").
		SetBody(body).
		Build()

	if err := r.tr.SendRequest(r.dest, branch, "MESSAGE", data); err != nil {
		r.onKeepaliveFailure()
		return
	}
}

// onKeepaliveFailure counts a keepalive MESSAGE whose send failed at
// the socket and forces a re-registration on the third one. The count
// is cleared by a REGISTER 200 or by that re-registration, not by a
// later successful send; a keepalive that goes unanswered is not
// counted.
func (r *Registrar) onKeepaliveFailure() {
	r.mu.Lock()
	r.keepaliveFails++
	fails := r.keepaliveFails
	r.mu.Unlock()
	metrics.KeepaliveFailuresTotal.Inc()
	if fails >= 3 {
		log.GetLogger().Warn("dialog: three keepalive failures, forcing re-registration")
		r.mu.Lock()
		r.keepaliveFails = 0
		challenge := r.lastChallenge
		r.mu.Unlock()
		r.sendRegister(challenge)
	}
}

func (r *Registrar) onFailure() {
	r.mu.Lock()
	r.failures++
	fails := r.failures
	r.mu.Unlock()

	if fails >= 3 {
		r.mu.Lock()
		r.state = StateFailed
		r.mu.Unlock()
		metrics.RegistrationState.Set(float64(metrics.RegStateFailed))
		idx := fails - 3
		if idx >= len(backoffSchedule) {
			idx = len(backoffSchedule) - 1
		}
		delay := backoffSchedule[idx]
		log.GetLogger().WithField("retry_in", delay).Error("dialog: registration failed, backing off")
		time.AfterFunc(delay, func() {
			r.post(func() { r.sendRegister(nil) })
		})
		return
	}
	r.post(func() { r.sendRegister(nil) })
}

// ConnectivitySnapshot is a point-in-time read of the registrar's
// health, supplementing spec §4.4 with the fields
// `original_source/monitor_wvp_connectivity.py` reports when polling
// a device's link to the platform.
type ConnectivitySnapshot struct {
	State          RegState
	RegisteredAt   time.Time
	GrantedExpires int
	KeepaliveFails int
	Stale          bool // registration age exceeds 3x the granted expiry
}

// Snapshot reports the registrar's current connectivity health for
// the supervision layer's alerting and the daemon_status RPC.
func (r *Registrar) Snapshot() ConnectivitySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	stale := false
	if r.state == StateRegistered || r.state == StateExpiring {
		if r.grantedExpires > 0 && !r.registeredAt.IsZero() {
			stale = time.Since(r.registeredAt) > 3*time.Duration(r.grantedExpires)*time.Second
		}
	}
	return ConnectivitySnapshot{
		State:          r.state,
		RegisteredAt:   r.registeredAt,
		GrantedExpires: r.grantedExpires,
		KeepaliveFails: r.keepaliveFails,
		Stale:          stale,
	}
}

func parseExpires(header string, fallback int) int {
	if header == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(header, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}
