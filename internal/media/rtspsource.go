package media

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pion/rtp"

	"github.com/firestige/gb28181-nvr/internal/log"
)

// RTSPSource pulls H.264 over RTP from an upstream camera via a
// minimal RTSP/1.0 client using the interleaved-TCP transport (RFC
// 2326 §10.12), so a single socket carries both the RTSP control
// channel and the RTP/RTCP data. The request sequence (DESCRIBE,
// SETUP, PLAY) and session bookkeeping mirror
// bluenviron-gortsplib's Client (client.go: Describe/Setup/Play), but
// this type talks to the wire directly instead of importing that
// package: the spec's media pipeline wants an RTP access-unit source,
// not gortsplib's full track/format negotiation surface.
type RTSPSource struct {
	rawURL string

	conn net.Conn
	br   *bufio.Reader
	cseq int

	session string
}

// NewRTSPSource prepares a source for rawURL (e.g.
// "rtsp://192.0.2.10:554/ch0"). The TCP connection is opened lazily on
// Run.
func NewRTSPSource(rawURL string) *RTSPSource {
	return &RTSPSource{rawURL: rawURL}
}

// Run connects, negotiates DESCRIBE/SETUP/PLAY, and streams access
// units assembled from the interleaved RTP channel until ctx is
// cancelled or the connection drops.
func (s *RTSPSource) Run(ctx context.Context, out chan<- [][]byte) error {
	u, err := url.Parse(s.rawURL)
	if err != nil {
		return fmt.Errorf("media: invalid rtsp url %q: %w", s.rawURL, err)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "554")
	}

	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("media: rtsp dial %s: %w", host, err)
	}
	s.conn = conn
	s.br = bufio.NewReader(conn)
	defer conn.Close()

	if _, err := s.request(ctx, "DESCRIBE", u.String(), nil); err != nil {
		return fmt.Errorf("media: rtsp describe: %w", err)
	}

	setupURL := u.String()
	resp, err := s.request(ctx, "SETUP", setupURL, map[string]string{
		"Transport": "RTP/AVP/TCP;unicast;interleaved=0-1",
	})
	if err != nil {
		return fmt.Errorf("media: rtsp setup: %w", err)
	}
	s.session = firstToken(resp["Session"])

	if _, err := s.request(ctx, "PLAY", u.String(), map[string]string{
		"Session": s.session,
		"Range":   "npt=0.000-",
	}); err != nil {
		return fmt.Errorf("media: rtsp play: %w", err)
	}

	log.GetLogger().WithField("url", s.rawURL).Info("media: rtsp source playing")
	return s.readInterleaved(ctx, out)
}

// readInterleaved reads '$' channel-framed RTP data, depacketizes
// RFC 6184 single-NAL and FU-A payloads into access units, and
// forwards completed access units downstream.
func (s *RTSPSource) readInterleaved(ctx context.Context, out chan<- [][]byte) error {
	var au [][]byte
	var fu []byte

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		marker, err := s.br.ReadByte()
		if err != nil {
			return fmt.Errorf("media: rtsp read: %w", err)
		}
		if marker != '$' {
			continue // resync on any non-interleaved-frame byte (e.g. stray keepalive text)
		}
		header := make([]byte, 3)
		if _, err := ioReadFull(s.br, header); err != nil {
			return fmt.Errorf("media: rtsp interleaved header: %w", err)
		}
		channel := header[0]
		size := int(header[1])<<8 | int(header[2])
		payload := make([]byte, size)
		if _, err := ioReadFull(s.br, payload); err != nil {
			return fmt.Errorf("media: rtsp interleaved payload: %w", err)
		}
		if channel != 0 {
			continue // RTCP (channel 1) is not forwarded to the pipeline
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(payload); err != nil {
			continue
		}

		nal, complete, fragStart := depacketizeH264(pkt.Payload, fu)
		if fragStart {
			fu = nal
			continue
		}
		if !complete {
			fu = nal
			continue
		}
		fu = nil
		if len(nal) == 0 {
			continue
		}
		au = append(au, nal)

		if pkt.Marker {
			select {
			case out <- au:
			case <-ctx.Done():
				return nil
			}
			au = nil
		}
	}
}

// depacketizeH264 handles RFC 6184 single-NAL-unit and FU-A modes.
// carry holds a FU-A reassembly buffer across calls; the returned nal
// is either a complete NAL unit (complete=true) or the updated carry
// buffer (complete=false, fragStart=false), or a fresh carry buffer
// just started (fragStart=true).
func depacketizeH264(payload []byte, carry []byte) (nal []byte, complete bool, fragStart bool) {
	if len(payload) < 1 {
		return carry, false, false
	}
	nalType := payload[0] & 0x1f

	switch {
	case nalType >= 1 && nalType <= 23:
		// Single NAL unit mode: payload is the NAL unit verbatim.
		return append([]byte{}, payload...), true, false

	case nalType == 28: // FU-A
		if len(payload) < 2 {
			return carry, false, false
		}
		fuHeader := payload[1]
		start := fuHeader&0x80 != 0
		end := fuHeader&0x40 != 0
		origType := fuHeader & 0x1f
		origHeader := (payload[0] & 0xe0) | origType

		if start {
			buf := append([]byte{origHeader}, payload[2:]...)
			if end {
				return buf, true, false
			}
			return buf, false, true
		}
		buf := append(carry, payload[2:]...)
		if end {
			return buf, true, false
		}
		return buf, false, false

	default:
		return carry, false, false
	}
}

// request writes an RTSP request and returns the parsed response
// headers. Non-2xx status codes are treated as errors.
func (s *RTSPSource) request(ctx context.Context, method, uri string, headers map[string]string) (map[string]string, error) {
	s.cseq++
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", method, uri)
	fmt.Fprintf(&b, "CSeq: %d\r\n", s.cseq)
	for k, v := range headers {
		if v == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(deadline)
	} else {
		_ = s.conn.SetDeadline(time.Now().Add(10 * time.Second))
	}

	if _, err := s.conn.Write([]byte(b.String())); err != nil {
		return nil, err
	}
	return s.readResponse()
}

func (s *RTSPSource) readResponse() (map[string]string, error) {
	statusLine, err := s.br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(statusLine)
	if len(fields) < 2 {
		return nil, fmt.Errorf("media: malformed rtsp status line %q", statusLine)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("media: malformed rtsp status code %q", statusLine)
	}

	headers := make(map[string]string)
	contentLength := 0
	for {
		line, err := s.br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		if idx := strings.Index(trimmed, ":"); idx >= 0 {
			name := strings.TrimSpace(trimmed[:idx])
			value := strings.TrimSpace(trimmed[idx+1:])
			headers[name] = value
			if strings.EqualFold(name, "Content-Length") {
				contentLength, _ = strconv.Atoi(value)
			}
		}
	}
	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := ioReadFull(s.br, body); err != nil {
			return nil, err
		}
		headers["__body"] = string(body)
	}
	if code < 200 || code >= 300 {
		return nil, fmt.Errorf("media: rtsp error response: %s", statusLine)
	}
	return headers, nil
}

// firstToken returns the portion of an RTSP Session header before its
// optional ";timeout=" parameter.
func firstToken(value string) string {
	if i := strings.IndexByte(value, ';'); i >= 0 {
		return value[:i]
	}
	return value
}

func ioReadFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close shuts down the RTSP connection if open.
func (s *RTSPSource) Close() error {
	if s.conn == nil {
		return nil
	}
	if s.session != "" {
		_, _ = s.request(context.Background(), "TEARDOWN", s.rawURL, map[string]string{"Session": s.session})
	}
	return s.conn.Close()
}
