package siptransport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFramerReadsBodyByContentLength(t *testing.T) {
	raw := "MESSAGE sip:1@2 SIP/2.0\r\nCall-ID: abc\r\nContent-Length: 5\r\n\r\nhello" +
		"REGISTER sip:1@2 SIP/2.0\r\nCall-ID: def\r\nContent-Length: 0\r\n\r\n"

	f := NewFramer(strings.NewReader(raw))

	first, err := f.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "MESSAGE sip:1@2 SIP/2.0\r\nCall-ID: abc\r\nContent-Length: 5\r\n\r\nhello", string(first))

	second, err := f.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "REGISTER sip:1@2 SIP/2.0\r\nCall-ID: def\r\nContent-Length: 0\r\n\r\n", string(second))
}

func TestFramerAcceptsCompactContentLength(t *testing.T) {
	raw := "REGISTER sip:1@2 SIP/2.0\r\nl: 2\r\n\r\nhi"
	f := NewFramer(strings.NewReader(raw))
	msg, err := f.ReadMessage()
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(msg), "hi"))
}
