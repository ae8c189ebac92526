package dialog

import (
	"sync"
	"time"

	"github.com/firestige/gb28181-nvr/internal/siptransport"
)

// Dialog tracks the state of one SIP dialog (a Call-ID plus its local
// and remote tags) outside of registration, e.g. an INVITE session or
// a catalog subscription.
type Dialog struct {
	CallID       string
	LocalTag     string
	RemoteTag    string
	LocalCSeq    int
	RemoteCSeq   int
	RouteSet     []string // reversed Record-Route, ready to use as Route
	RemoteTarget string   // Contact URI of the peer

	// Subscription-specific; zero value for a plain INVITE dialog.
	SubscriptionExpires time.Time
	SubscriptionEvent   string

	// MediaSessionID links this dialog to its media session by the
	// session's channel ID (the key SessionManager.StopByChannel takes),
	// set once INVITE handling starts one.
	MediaSessionID string

	CreatedAt time.Time
}

// Table is the reader-writer-guarded collection of active dialogs,
// keyed by Call-ID, following the same guard discipline as
// internal/catalog.Store.
type Table struct {
	mu      sync.RWMutex
	dialogs map[string]*Dialog
}

// NewTable builds an empty dialog table.
func NewTable() *Table {
	return &Table{dialogs: make(map[string]*Dialog)}
}

// Put inserts or replaces a dialog.
func (t *Table) Put(d *Dialog) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialogs[d.CallID] = d
}

// Get looks up a dialog by Call-ID.
func (t *Table) Get(callID string) (*Dialog, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.dialogs[callID]
	return d, ok
}

// Delete removes a dialog, e.g. after BYE or subscription expiry.
func (t *Table) Delete(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.dialogs, callID)
}

// All returns a snapshot of every active dialog.
func (t *Table) All() []*Dialog {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Dialog, 0, len(t.dialogs))
	for _, d := range t.dialogs {
		out = append(out, d)
	}
	return out
}

// NewFromRequest builds a Dialog seeded from an inbound request's
// headers, assigning a fresh local tag.
func NewFromRequest(msg *siptransport.Message) *Dialog {
	return &Dialog{
		CallID:    msg.CallID,
		LocalTag:  siptransport.NewTag(),
		RemoteTag: siptransport.ExtractTag(msg.From),
		CreatedAt: time.Now(),
	}
}
