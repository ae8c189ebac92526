package siptransport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/firestige/gb28181-nvr/internal/log"
	"github.com/firestige/gb28181-nvr/internal/metrics"
)

// Handler processes one inbound Message. Implementations run on the
// transport's read goroutine and must not block for long.
type Handler func(msg *Message, from net.Addr)

// Transport owns a single UDP listening socket plus the
// retransmission bookkeeping for requests it sends. Grounded on the
// gortsplib client's dedicated read-loop-goroutine-plus-write-mutex
// pattern (clientconn.go).
type Transport struct {
	network string // "udp" or "tcp"
	conn    net.PacketConn
	parser  *Parser

	writeMu sync.Mutex

	retransmitMu sync.Mutex
	pending      map[string]*pendingRequest

	handler Handler

	closeOnce sync.Once
	done      chan struct{}
}

type pendingRequest struct {
	method   string
	dest     net.Addr
	data     []byte
	attempts int
	timer    *time.Timer
	maxTries int
	interval time.Duration
}

// Non-INVITE retransmission schedule per RFC 3261 §17.1.2.2: T1=500ms,
// doubling each retry, capped at T2=4s, with a fixed attempt ceiling
// rather than the RFC's 64*T1 absolute deadline — simpler and
// sufficient for a device that never sends INVITE.
const (
	t1              = 500 * time.Millisecond
	t2              = 4 * time.Second
	maxRetransmits  = 5
	responseRetain  = 32 * time.Second
)

// Listen opens a packet socket on localAddr with net.ListenPacket and
// starts the read loop. Only UDP works: ListenPacket rejects "tcp", so
// Listen returns an error for it, and Framer is not wired to any
// listener.
func Listen(ctx context.Context, network, localAddr string, handler Handler) (*Transport, error) {
	conn, err := net.ListenPacket(network, localAddr)
	if err != nil {
		return nil, fmt.Errorf("siptransport: listen %s %s: %w", network, localAddr, err)
	}
	t := &Transport{
		network: network,
		conn:    conn,
		parser:  NewParser(),
		pending: make(map[string]*pendingRequest),
		handler: handler,
		done:    make(chan struct{}),
	}
	go t.readLoop(ctx)
	return t, nil
}

func (t *Transport) readLoop(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-t.done:
				return
			default:
				log.GetLogger().WithError(err).Warn("siptransport: read error")
				continue
			}
		}
		if n == 0 {
			continue
		}
		msg, err := t.parser.Parse(buf[:n])
		if err != nil {
			log.GetLogger().WithError(err).Debug("siptransport: dropping unparsable datagram")
			continue
		}
		if !msg.IsRequest {
			t.matchRetransmit(msg)
		}
		if t.handler != nil {
			t.handler(msg, addr)
		}
	}
}

// Send writes data to dest once, without retransmission bookkeeping —
// used for responses.
func (t *Transport) Send(dest net.Addr, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.conn.WriteTo(data, dest)
	return err
}

// SendRequest writes a request and arms RFC 3261 non-INVITE
// retransmission: transactionKey (the Via branch) identifies the
// transaction; the request is sent at most maxRetransmits times in all
// (the first send plus up to four resends), the interval doubling from
// T1 up to T2, then the transport gives up without reporting it to the
// caller (the caller's own higher-level timeout — e.g. registration
// retry — takes over).
func (t *Transport) SendRequest(dest net.Addr, transactionKey, method string, data []byte) error {
	if err := t.Send(dest, data); err != nil {
		return err
	}
	metrics.SipRequestsTotal.WithLabelValues(method, "sent").Inc()

	pr := &pendingRequest{
		method:   method,
		dest:     dest,
		data:     data,
		attempts: 1,
		maxTries: maxRetransmits,
		interval: t1,
	}
	t.retransmitMu.Lock()
	t.pending[transactionKey] = pr
	t.retransmitMu.Unlock()

	pr.timer = time.AfterFunc(pr.interval, func() { t.retransmitTick(transactionKey) })
	return nil
}

func (t *Transport) retransmitTick(key string) {
	t.retransmitMu.Lock()
	pr, ok := t.pending[key]
	if !ok {
		t.retransmitMu.Unlock()
		return
	}
	if pr.attempts >= pr.maxTries {
		delete(t.pending, key)
		t.retransmitMu.Unlock()
		log.GetLogger().WithField("method", pr.method).Warn("siptransport: giving up retransmission")
		return
	}
	pr.attempts++
	next := pr.interval * 2
	if next > t2 {
		next = t2
	}
	pr.interval = next
	t.retransmitMu.Unlock()

	metrics.SipRetransmitsTotal.WithLabelValues(pr.method).Inc()
	_ = t.Send(pr.dest, pr.data)
	pr.timer = time.AfterFunc(pr.interval, func() { t.retransmitTick(key) })
}

// CancelRetransmit stops retransmission for a transaction, called once
// a matching final response arrives.
func (t *Transport) CancelRetransmit(transactionKey string) {
	t.retransmitMu.Lock()
	defer t.retransmitMu.Unlock()
	if pr, ok := t.pending[transactionKey]; ok {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		delete(t.pending, transactionKey)
	}
}

// matchRetransmit cancels retransmission for any pending request whose
// branch matches the response's top Via branch.
func (t *Transport) matchRetransmit(msg *Message) {
	via := ParseVia(msg.TopVia)
	if via.Branch == "" {
		return
	}
	t.CancelRetransmit(via.Branch)
}

// Close stops the read loop and releases the socket.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

// LocalAddr returns the socket's bound local address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }
