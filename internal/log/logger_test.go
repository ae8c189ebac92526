package log

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLogrusAdapterDefaults(t *testing.T) {
	l, err := newLogrusAdapter(Config{Level: "debug"})
	require.NoError(t, err)
	require.True(t, l.IsDebugEnabled())

	withField := l.WithField("call_id", "abc123")
	require.NotNil(t, withField)
	withField.Info("registration accepted")
}

func TestNewLogrusAdapterInvalidLevelDefaultsToInfo(t *testing.T) {
	l, err := newLogrusAdapter(Config{Level: "not-a-level"})
	require.NoError(t, err)
	require.False(t, l.IsDebugEnabled())
}
