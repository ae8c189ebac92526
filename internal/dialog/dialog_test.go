package dialog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/firestige/gb28181-nvr/internal/siptransport"
)

func TestTablePutGetDeleteAll(t *testing.T) {
	table := NewTable()
	d := &Dialog{CallID: "call-1", CreatedAt: time.Now()}
	table.Put(d)

	got, ok := table.Get("call-1")
	require.True(t, ok)
	require.Equal(t, d, got)

	require.Len(t, table.All(), 1)

	table.Delete("call-1")
	_, ok = table.Get("call-1")
	require.False(t, ok)
	require.Empty(t, table.All())
}

func TestNewFromRequestSeedsTagsFromRequest(t *testing.T) {
	msg := &siptransport.Message{
		CallID: "call-2",
		From:   `<sip:platform@host>;tag=remote-tag`,
	}
	d := NewFromRequest(msg)
	require.Equal(t, "call-2", d.CallID)
	require.Equal(t, "remote-tag", d.RemoteTag)
	require.NotEmpty(t, d.LocalTag)
}
