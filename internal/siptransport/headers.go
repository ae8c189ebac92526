package siptransport

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const magicCookie = "z9hG4bK"

// NewBranch generates an RFC 3261 §8.1.1.7-compliant branch parameter:
// the magic cookie followed by a globally unique token, grounded on
// the pack's UUID-for-correlation-id convention (tomtom215-cartographus).
func NewBranch() string {
	return magicCookie + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewTag generates a From/To tag.
func NewTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// NewCallID generates a Call-ID of the form "<uuid>@host".
func NewCallID(host string) string {
	return fmt.Sprintf("%s@%s", uuid.NewString(), host)
}

// ViaParams is a parsed Via header's transport, sent-by host:port and
// branch, enough for transaction matching and response routing.
type ViaParams struct {
	Transport string
	Host      string
	Port      int
	Branch    string
	Raw       string
}

// ParseVia extracts the branch and sent-by host:port from a Via header
// value of the form "SIP/2.0/UDP host:port;branch=...;rport".
func ParseVia(value string) ViaParams {
	v := ViaParams{Raw: value}
	parts := strings.SplitN(value, " ", 2)
	if len(parts) == 2 {
		proto := strings.Split(parts[0], "/")
		if len(proto) == 3 {
			v.Transport = proto[2]
		}
	}
	rest := value
	if len(parts) == 2 {
		rest = parts[1]
	}
	segments := strings.Split(rest, ";")
	if len(segments) > 0 {
		hostport := strings.TrimSpace(segments[0])
		if idx := strings.LastIndex(hostport, ":"); idx >= 0 {
			v.Host = hostport[:idx]
			fmt.Sscanf(hostport[idx+1:], "%d", &v.Port)
		} else {
			v.Host = hostport
		}
	}
	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		if strings.HasPrefix(seg, "branch=") {
			v.Branch = strings.TrimPrefix(seg, "branch=")
		}
	}
	return v
}

// BuildVia renders a Via header value for an outbound request sent
// from localIP:localPort over transport, with the given branch.
func BuildVia(transport, localIP string, localPort int, branch string) string {
	return fmt.Sprintf("SIP/2.0/%s %s:%d;branch=%s;rport", strings.ToUpper(transport), localIP, localPort, branch)
}

// BuildContact renders a Contact header value for this device.
func BuildContact(deviceID, localIP string, localPort int, transport string) string {
	scheme := "sip"
	transportParam := ""
	if strings.EqualFold(transport, "tcp") {
		transportParam = ";transport=tcp"
	}
	return fmt.Sprintf("<%s:%s@%s:%d%s>", scheme, deviceID, localIP, localPort, transportParam)
}

// BuildFromTo renders a From/To header value with an optional tag.
func BuildFromTo(displayName, deviceID, host string, port int, tag string) string {
	uri := fmt.Sprintf("sip:%s@%s:%d", deviceID, host, port)
	hdr := fmt.Sprintf("<%s>", uri)
	if displayName != "" {
		hdr = fmt.Sprintf("%q <%s>", displayName, uri)
	}
	if tag != "" {
		hdr += ";tag=" + tag
	}
	return hdr
}

// ExtractTag returns the tag=... parameter from a From/To header value,
// or "" if absent.
func ExtractTag(headerValue string) string {
	for _, seg := range strings.Split(headerValue, ";") {
		seg = strings.TrimSpace(seg)
		if strings.HasPrefix(seg, "tag=") {
			return strings.TrimPrefix(seg, "tag=")
		}
	}
	return ""
}

// ParseRecordRoute splits a (possibly comma-joined) Record-Route header
// into individual route URIs, preserving order. The dialog engine
// replays these, in reverse, as the Route set on subsequent requests
// per RFC 3261 §12.1.1.
func ParseRecordRoute(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// ReverseRouteSet returns route entries in reverse order, as required
// when turning a UAS's Record-Route into a UAC's Route set.
func ReverseRouteSet(routes []string) []string {
	out := make([]string, len(routes))
	for i, r := range routes {
		out[len(routes)-1-i] = r
	}
	return out
}
