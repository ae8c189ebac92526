package dialog

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/firestige/gb28181-nvr/internal/catalog"
	"github.com/firestige/gb28181-nvr/internal/media"
	"github.com/firestige/gb28181-nvr/internal/siptransport"
)

func TestDispatcherRespondsOptionsWith200(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := &Dispatcher{
		DeviceID:  "81000000465001000001",
		LocalIP:   "127.0.0.1",
		Transport: "UDP",
		Dialogs:   NewTable(),
		Catalog:   catalog.NewStore(catalog.Channel{ChannelID: "81000000465001000001"}, 20),
		Sessions:  media.NewSessionManager(nil),
	}

	server, err := siptransport.Listen(ctx, "udp", "127.0.0.1:0", dispatcher.Handle)
	require.NoError(t, err)
	defer server.Close()
	dispatcher.Tr = server

	received := make(chan *siptransport.Message, 1)
	client, err := siptransport.Listen(ctx, "udp", "127.0.0.1:0", func(msg *siptransport.Message, from net.Addr) {
		received <- msg
	})
	require.NoError(t, err)
	defer client.Close()

	req := siptransport.NewRequestBuilder("OPTIONS", "sip:81000000465001000001@127.0.0.1").
		AddHeader("Via", siptransport.BuildVia("UDP", "127.0.0.1", 1, "z9hG4bKopt")).
		AddHeader("From", `<sip:platform@127.0.0.1>;tag=ptag`).
		AddHeader("To", "<sip:81000000465001000001@127.0.0.1>").
		AddHeader("Call-ID", "options-call@127.0.0.1").
		AddHeader("CSeq", "1 OPTIONS").
		Build()

	require.NoError(t, client.SendRequest(server.LocalAddr(), "z9hG4bKopt", "OPTIONS", req))

	select {
	case msg := <-received:
		require.False(t, msg.IsRequest)
		require.Equal(t, 200, msg.StatusCode)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OPTIONS response")
	}
}

func TestDispatcherShutdownSkipsDialogsWithoutMediaSession(t *testing.T) {
	dispatcher := &Dispatcher{
		DeviceID: "81000000465001000001",
		Dialogs:  NewTable(),
		Sessions: media.NewSessionManager(nil),
	}
	dispatcher.Dialogs.Put(&Dialog{CallID: "sub-only", CreatedAt: time.Now()})

	require.NotPanics(t, func() { dispatcher.Shutdown() })
	_, ok := dispatcher.Dialogs.Get("sub-only")
	require.True(t, ok, "Shutdown must not touch dialogs with no media session")
}
