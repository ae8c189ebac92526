package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func deviceMeta() Channel {
	return Channel{ChannelID: "34020000001320000001", Name: "nvr-device"}
}

func TestScanBuildsCatalogAndEnforcesCap(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 25; i++ {
		name := filepath.Join(dir, "cam"+itoa3(i+1)+".mp4")
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	s := NewStore(deviceMeta(), 20)
	s.Scan(context.Background(), dir)

	require.Eventually(t, func() bool {
		return s.ScanStatus().ScanComplete
	}, 2*time.Second, 10*time.Millisecond)

	catalog := s.GetCatalog()
	require.Len(t, catalog, 21) // device + 20 capped channels
	require.True(t, catalog[0].Parental)
	require.Equal(t, deviceMeta().ChannelID, catalog[0].ChannelID)
	for _, ch := range catalog[1:] {
		require.False(t, ch.Parental)
		require.Equal(t, deviceMeta().ChannelID, ch.ParentID)
	}
}

func TestScanEmptyDirectoryIsValid(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(deviceMeta(), 20)
	s.Scan(context.Background(), dir)

	require.Eventually(t, func() bool {
		return s.ScanStatus().ScanComplete
	}, 2*time.Second, 10*time.Millisecond)

	require.Len(t, s.GetCatalog(), 1) // device entry only
}

func TestQueryRecordingsIntersection(t *testing.T) {
	s := NewStore(deviceMeta(), 20)
	mk := func(startStr, endStr, name string) Recording {
		start, _ := ParseGB28181Time(startStr)
		end, _ := ParseGB28181Time(endStr)
		return Recording{ChannelID: "chan1", StartTime: start, EndTime: end, Name: name}
	}
	recs := []Recording{
		mk("20250515T080000Z", "20250515T090000Z", "morning"),
		mk("20250515T130000Z", "20250515T140000Z", "afternoon"),
		mk("20250516T100000Z", "20250516T110000Z", "next-day"),
	}
	s.ReplaceRecordings("chan1", recs)

	start, _ := ParseGB28181Time("20250515T120000Z")
	end, _ := ParseGB28181Time("20250515T235959Z")
	got := s.QueryRecordings("chan1", &start, &end)

	require.Len(t, got, 1)
	require.Equal(t, "afternoon", got[0].Name)
}

func TestQueryRecordingsOpenEndedBounds(t *testing.T) {
	s := NewStore(deviceMeta(), 20)
	start1, _ := ParseGB28181Time("20250515T080000Z")
	end1, _ := ParseGB28181Time("20250515T090000Z")
	s.ReplaceRecordings("chan1", []Recording{{ChannelID: "chan1", StartTime: start1, EndTime: end1, Name: "a"}})

	got := s.QueryRecordings("chan1", nil, nil)
	require.Len(t, got, 1)
}
