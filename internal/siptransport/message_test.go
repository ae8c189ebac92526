package siptransport

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderFramesContentLengthCorrectly(t *testing.T) {
	body := []byte(`<?xml version="1.0"?><Query/>`)
	msg := NewRequestBuilder("MESSAGE", "sip:34020000002000000001@192.168.1.1:5060").
		AddHeader("Via", BuildVia("UDP", "192.168.1.2", 5060, "z9hG4bKabc")).
		AddHeader("From", BuildFromTo("", "34020000001320000001", "192.168.1.2", 5060, "tag1")).
		AddHeader("To", BuildFromTo("", "34020000002000000001", "192.168.1.1", 5060, "")).
		AddHeader("Call-ID", "abc123@192.168.1.2").
		AddHeader("CSeq", "1 MESSAGE").
		AddHeader("Content-Type", "Application/MANSCDP+xml").
		SetBody(body).
		Build()

	raw := string(msg)
	require.True(t, strings.HasPrefix(raw, "MESSAGE sip:34020000002000000001@192.168.1.1:5060 SIP/2.0\r\n"))
	require.Contains(t, raw, "Content-Length: "+strconv.Itoa(len(body)))
	require.True(t, strings.HasSuffix(raw, string(body)))
	require.Contains(t, raw, "\r\n\r\n")
}

func TestResponseBuilder(t *testing.T) {
	msg := NewResponseBuilder(200, "OK").AddHeader("Call-ID", "abc").Build()
	require.True(t, strings.HasPrefix(string(msg), "SIP/2.0 200 OK\r\n"))
}
