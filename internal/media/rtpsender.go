package media

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"

	"github.com/pion/rtp"
)

// maxPayloadSize keeps each UDP datagram under a safe path MTU once the
// 12-byte RTP header is added (grounded on bluenviron-gortsplib's
// udpRTPListener write path, client.go, which never packetizes above a
// similar ceiling).
const maxPayloadSize = 1400

// RTPSender packetizes an H.264 access unit into RFC 6184 single-NAL /
// FU-A RTP packets and writes them to a fixed UDP destination, mirroring
// the rtp.Packet{Header:...}.Marshal() + net.UDPAddr pattern exercised
// throughout bluenviron-gortsplib/client_play_test.go.
type RTPSender struct {
	mu sync.Mutex

	conn *net.UDPConn
	dest *net.UDPAddr

	payloadType uint8
	ssrc        uint32
	clockRate   uint32

	seq       uint16
	lastError error
}

// NewRTPSender dials a UDP socket toward destIP:destPort. ssrcDecimal is
// the verbatim decimal string carried in the SDP `y=` line; GB28181
// requires the wire SSRC to equal it exactly.
func NewRTPSender(destIP string, destPort int, payloadType uint8, clockRate uint32, ssrcDecimal string) (*RTPSender, error) {
	dest := &net.UDPAddr{IP: net.ParseIP(destIP), Port: destPort}
	if dest.IP == nil {
		return nil, fmt.Errorf("media: invalid rtp destination ip %q", destIP)
	}
	conn, err := net.DialUDP("udp", nil, dest)
	if err != nil {
		return nil, fmt.Errorf("media: dial rtp destination: %w", err)
	}

	ssrc, err := parseSSRC(ssrcDecimal)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &RTPSender{
		conn:        conn,
		dest:        dest,
		payloadType: payloadType,
		ssrc:        ssrc,
		clockRate:   clockRate,
		seq:         uint16(rand.Intn(1 << 16)),
	}, nil
}

func parseSSRC(decimal string) (uint32, error) {
	if decimal == "" {
		return uint32(rand.Int31()), nil
	}
	n, err := strconv.ParseUint(decimal, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("media: invalid y= ssrc %q: %w", decimal, err)
	}
	return uint32(n), nil
}

// WriteAccessUnit packetizes and writes one H.264 access unit (a slice
// of complete NAL units, start-code-free) at the given RTP timestamp.
// NAL units under maxPayloadSize go out as single-NAL packets; larger
// ones are fragmented per RFC 6184 FU-A.
func (s *RTPSender) WriteAccessUnit(nalUnits [][]byte, timestamp uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, nal := range nalUnits {
		marker := i == len(nalUnits)-1
		if len(nal) <= maxPayloadSize {
			if err := s.writePacket(nal, timestamp, marker); err != nil {
				return err
			}
			continue
		}
		if err := s.writeFragmented(nal, timestamp, marker); err != nil {
			return err
		}
	}
	return nil
}

func (s *RTPSender) writePacket(payload []byte, timestamp uint32, marker bool) error {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    s.payloadType,
			SequenceNumber: s.seq,
			Timestamp:      timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.seq++

	buf, err := pkt.Marshal()
	if err != nil {
		s.lastError = err
		return fmt.Errorf("media: marshal rtp packet: %w", err)
	}
	if _, err := s.conn.Write(buf); err != nil {
		s.lastError = err
		return fmt.Errorf("media: write rtp packet: %w", err)
	}
	return nil
}

// writeFragmented splits nal into RFC 6184 FU-A fragments. nal[0] is
// the original NAL header byte (forbidden_zero_bit | nal_ref_idc |
// nal_unit_type); FU indicator reuses ref_idc and sets type=28, FU
// header carries start/end bits plus the original nal_unit_type.
func (s *RTPSender) writeFragmented(nal []byte, timestamp uint32, marker bool) error {
	if len(nal) < 1 {
		return nil
	}
	header := nal[0]
	nalType := header & 0x1f
	refIdc := header & 0x60
	payload := nal[1:]

	fuIndicator := refIdc | 28

	for offset := 0; offset < len(payload); offset += maxPayloadSize - 2 {
		end := offset + (maxPayloadSize - 2)
		last := end >= len(payload)
		if last {
			end = len(payload)
		}

		fuHeader := nalType
		if offset == 0 {
			fuHeader |= 0x80 // start bit
		}
		if last {
			fuHeader |= 0x40 // end bit
		}

		frag := make([]byte, 0, 2+(end-offset))
		frag = append(frag, fuIndicator, fuHeader)
		frag = append(frag, payload[offset:end]...)

		if err := s.writePacket(frag, timestamp, last && marker); err != nil {
			return err
		}
	}
	return nil
}

// LastError returns the most recent write error, if any, for the
// session watchdog to inspect without blocking on a channel.
func (s *RTPSender) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Close releases the underlying UDP socket.
func (s *RTPSender) Close() error {
	return s.conn.Close()
}
