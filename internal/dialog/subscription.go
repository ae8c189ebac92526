package dialog

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/firestige/gb28181-nvr/internal/log"
	"github.com/firestige/gb28181-nvr/internal/manscdp"
	"github.com/firestige/gb28181-nvr/internal/metrics"
	"github.com/firestige/gb28181-nvr/internal/siptransport"
)

// Subscription tracks one active catalog-push subscription (spec
// §4.4: "SUBSCRIBE with Event: Catalog -> ... NOTIFY ... terminate
// with Subscription-State: terminated when expired").
type Subscription struct {
	CallID    string
	Event     string
	Dest      net.Addr
	FromTag   string
	ToTag     string
	ExpiresAt time.Time
	cseq      int
}

// SubscriptionTable is the reader-writer-guarded collection of active
// subscriptions, following the same guard discipline as catalog.Store
// and dialog.Table.
type SubscriptionTable struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewSubscriptionTable builds an empty table.
func NewSubscriptionTable() *SubscriptionTable {
	return &SubscriptionTable{subs: make(map[string]*Subscription)}
}

func (t *SubscriptionTable) put(s *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[s.CallID] = s
}

func (t *SubscriptionTable) get(callID string) (*Subscription, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.subs[callID]
	return s, ok
}

func (t *SubscriptionTable) delete(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, callID)
}

// All returns every active subscription, for the expiry sweeper.
func (t *SubscriptionTable) All() []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Subscription, 0, len(t.subs))
	for _, s := range t.subs {
		out = append(out, s)
	}
	return out
}

// handleSubscribe accepts a SUBSCRIBE, opens or renews the
// subscription, and immediately pushes one NOTIFY with the current
// catalog snapshot.
func (d *Dispatcher) handleSubscribe(msg *siptransport.Message, from net.Addr) {
	event := msg.Header("Event")
	if !strings.HasPrefix(strings.ToLower(event), "catalog") {
		d.respond(msg, from, 489, "Bad Event", nil, "")
		metrics.SipRequestsTotal.WithLabelValues("SUBSCRIBE", "489").Inc()
		return
	}

	expires := parseExpires(msg.Header("Expires"), 3600)
	sub, existed := d.Subscribes.get(msg.CallID)
	if !existed {
		sub = &Subscription{
			CallID:  msg.CallID,
			Event:   event,
			Dest:    from,
			FromTag: siptransport.ExtractTag(msg.From),
			ToTag:   siptransport.NewTag(),
		}
	}
	sub.ExpiresAt = time.Now().Add(time.Duration(expires) * time.Second)
	d.Subscribes.put(sub)

	d.respond(msg, from, 200, "OK", nil, "")
	metrics.SipRequestsTotal.WithLabelValues("SUBSCRIBE", "200").Inc()

	d.sendCatalogNotify(sub, "active")
}

// sendCatalogNotify pushes the current catalog as a NOTIFY request on
// sub's dialog. state is the Subscription-State header value
// ("active" while the subscription lives, "terminated" once it ends).
func (d *Dispatcher) sendCatalogNotify(sub *Subscription, state string) {
	channels := d.Catalog.GetCatalog()
	items := make([]manscdp.CatalogItem, 0, len(channels))
	for _, ch := range channels {
		items = append(items, channelToItem(ch))
	}
	sub.cseq++
	body, err := manscdp.RenderCatalog(fmt.Sprintf("%d", sub.cseq), d.DeviceID, len(items), items)
	if err != nil {
		log.GetLogger().WithError(err).Error("dialog: render catalog notify")
		return
	}

	branch := siptransport.NewBranch()
	b := siptransport.NewRequestBuilder("NOTIFY", "sip:"+d.Registrar.cfg.Server).
		AddHeader("Via", siptransport.BuildVia(d.Transport, d.LocalIP, d.LocalPort, branch)).
		AddHeader("From", siptransport.BuildFromTo("", d.DeviceID, d.Registrar.cfg.Server, 5060, sub.ToTag)).
		AddHeader("To", siptransport.BuildFromTo("", d.DeviceID, d.Registrar.cfg.Server, 5060, sub.FromTag)).
		AddHeader("Call-ID", sub.CallID).
		AddHeader("CSeq", fmt.Sprintf("%d NOTIFY", sub.cseq)).
		AddHeader("Event", sub.Event).
		AddHeader("Subscription-State", state).
		AddHeader("Content-Type", "Application/MANSCDP+xml").
		SetBody(body)

	if err := d.Tr.SendRequest(sub.Dest, branch, "NOTIFY", b.Build()); err != nil {
		log.GetLogger().WithError(err).Error("dialog: send catalog notify failed")
	}
}

// SweepExpired terminates and removes every subscription past its
// expiry, sending a final NOTIFY with Subscription-State: terminated.
// Intended to run on a periodic ticker from the supervision layer.
func (d *Dispatcher) SweepExpired() {
	now := time.Now()
	for _, sub := range d.Subscribes.All() {
		if now.After(sub.ExpiresAt) {
			d.sendCatalogNotify(sub, "terminated")
			d.Subscribes.delete(sub.CallID)
		}
	}
}

// NotifyChanged pushes an unsolicited catalog NOTIFY to every active
// subscription, used after a directory rescan changes the catalog.
func (d *Dispatcher) NotifyChanged() {
	for _, sub := range d.Subscribes.All() {
		d.sendCatalogNotify(sub, "active")
	}
}
