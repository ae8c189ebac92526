package siptransport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBranchHasMagicCookieAndIsUnique(t *testing.T) {
	a, b := NewBranch(), NewBranch()
	require.Contains(t, a, magicCookie)
	require.NotEqual(t, a, b)
}

func TestParseVia(t *testing.T) {
	v := ParseVia("SIP/2.0/UDP 192.168.1.2:5060;branch=z9hG4bKabc123;rport")
	require.Equal(t, "UDP", v.Transport)
	require.Equal(t, "192.168.1.2", v.Host)
	require.Equal(t, 5060, v.Port)
	require.Equal(t, "z9hG4bKabc123", v.Branch)
}

func TestBuildViaRoundTrips(t *testing.T) {
	via := BuildVia("udp", "10.0.0.1", 5060, "z9hG4bKxyz")
	parsed := ParseVia(via)
	require.Equal(t, "UDP", parsed.Transport)
	require.Equal(t, "10.0.0.1", parsed.Host)
	require.Equal(t, 5060, parsed.Port)
	require.Equal(t, "z9hG4bKxyz", parsed.Branch)
}

func TestExtractTag(t *testing.T) {
	require.Equal(t, "abc123", ExtractTag(`<sip:1@2>;tag=abc123`))
	require.Equal(t, "", ExtractTag(`<sip:1@2>`))
}

func TestParseAndReverseRouteSet(t *testing.T) {
	routes := ParseRecordRoute("<sip:a@1.1.1.1:5060;lr>, <sip:b@2.2.2.2:5060;lr>")
	require.Equal(t, []string{"<sip:a@1.1.1.1:5060;lr>", "<sip:b@2.2.2.2:5060;lr>"}, routes)
	require.Equal(t, []string{"<sip:b@2.2.2.2:5060;lr>", "<sip:a@1.1.1.1:5060;lr>"}, ReverseRouteSet(routes))
}

func TestBuildContactWithTransportParam(t *testing.T) {
	require.Equal(t, "<sip:34020000001320000001@10.0.0.1:5060>", BuildContact("34020000001320000001", "10.0.0.1", 5060, "udp"))
	require.Equal(t, "<sip:34020000001320000001@10.0.0.1:5060;transport=tcp>", BuildContact("34020000001320000001", "10.0.0.1", 5060, "tcp"))
}
