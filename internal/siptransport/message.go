package siptransport

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Message is this repository's wire-agnostic representation of a SIP
// request or response, used on both the inbound (parsed via gosip)
// and outbound (hand-built, see Builder) paths.
type Message struct {
	IsRequest bool

	// Request fields.
	Method     string
	RequestURI string

	// Response fields.
	StatusCode   int
	ReasonPhrase string

	Headers map[string][]string
	Body    []byte

	// Convenience accessors populated from Headers for the handful of
	// headers every layer above this one needs.
	CallID string
	CSeq   string
	From   string
	To     string
	TopVia string
}

// Header returns the first value of name, or "" if absent. Header
// lookups are case-insensitive per RFC 3261 but this repository's own
// builders always emit canonical casing, so an exact match is tried
// first before falling back to a case-insensitive scan.
func (m *Message) Header(name string) string {
	if vs, ok := m.Headers[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	for k, vs := range m.Headers {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

// Builder constructs outbound SIP requests/responses as CRLF-framed
// text with an authoritative Content-Length, hand-rolled rather than
// built via gosip (whose outbound builder API surface this module
// cannot verify without running the toolchain; see DESIGN.md).
type Builder struct {
	startLine string
	headers   []headerLine
	body      []byte
}

type headerLine struct {
	name  string
	value string
}

// NewRequestBuilder starts a request with "METHOD request-uri SIP/2.0".
func NewRequestBuilder(method, requestURI string) *Builder {
	return &Builder{startLine: fmt.Sprintf("%s %s SIP/2.0", method, requestURI)}
}

// NewResponseBuilder starts a response with "SIP/2.0 status reason".
func NewResponseBuilder(status int, reason string) *Builder {
	return &Builder{startLine: fmt.Sprintf("SIP/2.0 %d %s", status, reason)}
}

// AddHeader appends a header line, preserving insertion order (SIP
// header order is semantically significant for Via/Route).
func (b *Builder) AddHeader(name, value string) *Builder {
	b.headers = append(b.headers, headerLine{name: name, value: value})
	return b
}

// SetBody attaches a message body; Content-Length is computed at Build
// time and must not be set explicitly via AddHeader.
func (b *Builder) SetBody(body []byte) *Builder {
	b.body = body
	return b
}

// Build renders the framed message: CRLF line endings, a blank line
// terminating headers, and an authoritative Content-Length.
func (b *Builder) Build() []byte {
	var sb strings.Builder
	sb.WriteString(b.startLine)
	sb.WriteString("\r\n")
	for _, h := range b.headers {
		sb.WriteString(h.name)
		sb.WriteString(": ")
		sb.WriteString(h.value)
		sb.WriteString("\r\n")
	}
	sb.WriteString("Content-Length: ")
	sb.WriteString(strconv.Itoa(len(b.body)))
	sb.WriteString("\r\n\r\n")
	out := []byte(sb.String())
	out = append(out, b.body...)
	return out
}

// SortedHeaderNames is a test/debug helper returning the distinct
// header names in a Message in alphabetical order.
func SortedHeaderNames(m *Message) []string {
	names := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
