// Package siptransport owns the wire edges of the SIP stack: framing
// over UDP/TCP, inbound message parsing via gosip, outbound message
// construction, and retransmission per RFC 3261 timers. Everything
// above this package (registration, MANSCDP routing, media handoff)
// talks in terms of the Message/Header types defined here, never in
// terms of raw bytes or gosip's own sip.Message.
package siptransport

import (
	"fmt"

	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"
)

// Parser decodes raw SIP datagrams/stream fragments into Message
// values, grounded on the teacher's skywalkingtracing sniffer which
// wraps gosip/sip/parser.PacketParser the same way.
type Parser struct {
	delegate *parser.PacketParser
}

// NewParser builds a Parser whose diagnostics flow through this
// repository's structured logger.
func NewParser() *Parser {
	return &Parser{delegate: parser.NewPacketParser(newGosipLogAdapter())}
}

// Parse decodes a single complete SIP message (request or response).
// Framing — finding where one message ends and the next begins in a
// TCP byte stream — is the caller's responsibility (see Framer).
func (p *Parser) Parse(data []byte) (*Message, error) {
	msg, err := p.delegate.ParseMessage(data)
	if err != nil {
		return nil, fmt.Errorf("siptransport: parse: %w", err)
	}
	return fromGosip(msg)
}

func fromGosip(msg sip.Message) (*Message, error) {
	out := &Message{
		Headers: make(map[string][]string),
		Body:    []byte(msg.Body()),
	}
	for _, h := range msg.Headers() {
		out.Headers[h.Name()] = append(out.Headers[h.Name()], h.Value())
	}
	if callID, ok := msg.CallID(); ok {
		out.CallID = callID.Value()
	}
	if cseq, ok := msg.CSeq(); ok {
		out.CSeq = cseq.Value()
	}
	if from, ok := msg.From(); ok {
		out.From = from.Value()
	}
	if to, ok := msg.To(); ok {
		out.To = to.Value()
	}
	if via, ok := msg.Via(); ok {
		out.TopVia = via.Value()
	}

	if req, ok := msg.(sip.Request); ok {
		out.IsRequest = true
		out.Method = string(req.Method())
		out.RequestURI = requestURIFromStartLine(req.StartLine())
		return out, nil
	}
	if resp, ok := msg.(sip.Response); ok {
		out.StatusCode = resp.StatusCode()
		out.ReasonPhrase = resp.Reason()
		return out, nil
	}
	return nil, fmt.Errorf("siptransport: unrecognised message type %T", msg)
}

// requestURIFromStartLine extracts the middle token of a SIP request
// line ("METHOD request-uri SIP/2.0"). gosip's sip.Request does not
// expose a dedicated accessor we've confirmed exists, so this derives
// it from StartLine(), which is used the same way by the teacher's
// sniffer (m.delegate.StartLine()).
func requestURIFromStartLine(line string) string {
	var method, uri, version string
	n, _ := fmt.Sscanf(line, "%s %s %s", &method, &uri, &version)
	if n < 2 {
		return ""
	}
	return uri
}
