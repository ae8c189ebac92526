package siptransport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenAndSendRequestDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *Message, 1)
	server, err := Listen(ctx, "udp", "127.0.0.1:0", func(msg *Message, from net.Addr) {
		received <- msg
	})
	require.NoError(t, err)
	defer server.Close()

	client, err := Listen(ctx, "udp", "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer client.Close()

	body := []byte{}
	req := NewRequestBuilder("REGISTER", "sip:34020000002000000001@127.0.0.1:5060").
		AddHeader("Via", BuildVia("UDP", "127.0.0.1", 1, "z9hG4bKtest")).
		AddHeader("Call-ID", "abc@127.0.0.1").
		AddHeader("CSeq", "1 REGISTER").
		SetBody(body).
		Build()

	require.NoError(t, client.SendRequest(server.LocalAddr(), "z9hG4bKtest", "REGISTER", req))

	select {
	case msg := <-received:
		require.True(t, msg.IsRequest)
		require.Equal(t, "REGISTER", msg.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	client.CancelRetransmit("z9hG4bKtest")
	client.retransmitMu.Lock()
	_, stillPending := client.pending["z9hG4bKtest"]
	client.retransmitMu.Unlock()
	require.False(t, stillPending)
}
