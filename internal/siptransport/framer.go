package siptransport

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Framer extracts complete SIP messages from a TCP byte stream, where
// Content-Length is authoritative and the line ending between headers
// and body may be a bare LF even though this repository always emits
// CRLF (some GB28181 platforms are lax about it).
type Framer struct {
	r *bufio.Reader
}

// NewFramer wraps r for sequential ReadMessage calls.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReader(r)}
}

// ReadMessage reads one complete framed message (headers + body) and
// returns its raw bytes, ready for Parser.Parse.
func (f *Framer) ReadMessage() ([]byte, error) {
	var header bytes.Buffer
	contentLength := -1
	for {
		line, err := f.r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("siptransport: framer: reading headers: %w", err)
		}
		header.WriteString(line)
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break // blank line terminates headers
		}
		if idx := strings.Index(trimmed, ":"); idx >= 0 {
			name := strings.TrimSpace(trimmed[:idx])
			if strings.EqualFold(name, "Content-Length") || strings.EqualFold(name, "l") {
				if n, convErr := strconv.Atoi(strings.TrimSpace(trimmed[idx+1:])); convErr == nil {
					contentLength = n
				}
			}
		}
	}
	if contentLength < 0 {
		return header.Bytes(), nil
	}
	body := make([]byte, contentLength)
	if contentLength > 0 {
		if _, err := io.ReadFull(f.r, body); err != nil {
			return nil, fmt.Errorf("siptransport: framer: reading body: %w", err)
		}
	}
	out := append([]byte{}, header.Bytes()...)
	out = append(out, body...)
	return out, nil
}
