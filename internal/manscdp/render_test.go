package manscdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRenderCatalogElementOrderAndNames guards against the historical
// regression where a naive struct tag (`xml:"n"`) shortened <Name> and
// <Result> to single-letter elements that commercial platforms reject.
func TestRenderCatalogElementOrderAndNames(t *testing.T) {
	body, err := RenderCatalog("100", "34020000002000000001", 1, []CatalogItem{{
		DeviceID: "34020000001320000001",
		Name:     "Camera 1",
		Status:   "ON",
	}})
	require.NoError(t, err)
	xml := string(body)

	require.Contains(t, xml, "<Name>Camera 1</Name>")
	require.Contains(t, xml, "<Result>OK</Result>")
	require.NotContains(t, xml, "<n>")
	require.NotContains(t, xml, "<r>OK</r>")

	// CmdType, SN, DeviceID, Result must precede the payload, in order.
	cmdIdx := strings.Index(xml, "<CmdType>")
	snIdx := strings.Index(xml, "<SN>")
	devIdx := strings.Index(xml, "<DeviceID>")
	resultIdx := strings.Index(xml, "<Result>")
	listIdx := strings.Index(xml, "<DeviceList")
	require.True(t, cmdIdx < snIdx && snIdx < devIdx && devIdx < resultIdx && resultIdx < listIdx)
}

func TestRenderCatalogEmptyStillValid(t *testing.T) {
	body, err := RenderCatalog("1", "34020000002000000001", 0, nil)
	require.NoError(t, err)
	require.Contains(t, string(body), "<SumNum>0</SumNum>")
	require.Contains(t, string(body), `<DeviceList Num="0">`)
}

func TestSplitCatalogRespectsBudget(t *testing.T) {
	items := make([]CatalogItem, 50)
	for i := range items {
		items[i] = CatalogItem{DeviceID: "34020000001320000001", Name: "camera-with-a-long-name", Status: "ON"}
	}
	fragments, err := SplitCatalog("1", "34020000002000000001", items, 512)
	require.NoError(t, err)
	require.True(t, len(fragments) > 1)
	for _, f := range fragments {
		require.LessOrEqual(t, len(f), 512+256) // one item may tip a fragment over budget by itself; never wildly so
		require.Contains(t, string(f), "<SumNum>50</SumNum>")
	}
}

func TestRenderRecordInfoFieldNames(t *testing.T) {
	body, err := RenderRecordInfo("2", "34020000001320000001", 1, []RecordItem{{
		DeviceID:  "34020000001320000001",
		Name:      "afternoon",
		StartTime: "20250515T130000Z",
		EndTime:   "20250515T140000Z",
		Type:      "time",
		FileSize:  1024,
	}})
	require.NoError(t, err)
	xml := string(body)
	require.Contains(t, xml, "<Name>afternoon</Name>")
	require.Contains(t, xml, "<Result>OK</Result>")
	require.NotContains(t, xml, "<n>")
}

func TestRenderOK(t *testing.T) {
	body, err := RenderOK(CmdKeepalive, "3", "34020000001320000001")
	require.NoError(t, err)
	require.Contains(t, string(body), "<CmdType>Keepalive</CmdType>")
	require.Contains(t, string(body), "<Result>OK</Result>")
}
