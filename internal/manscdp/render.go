package manscdp

import (
	"encoding/xml"
	"fmt"
)

// CatalogItem is one rendered <Item> in a Catalog DeviceList. Field
// order matches the struct declaration, which is also encoding/xml's
// marshalling order — this is what pins the GB28181-mandated element
// order, notably `Name` (never a shortened tag; see render_test.go's
// regression guard for the historical `<n>` bug).
type CatalogItem struct {
	DeviceID     string `xml:"DeviceID"`
	Name         string `xml:"Name"`
	Manufacturer string `xml:"Manufacturer"`
	Model        string `xml:"Model"`
	Owner        string `xml:"Owner"`
	CivilCode    string `xml:"CivilCode"`
	Block        string `xml:"Block"`
	Address      string `xml:"Address"`
	Parental     int    `xml:"Parental"`
	ParentID     string `xml:"ParentID,omitempty"`
	SafetyWay    int    `xml:"SafetyWay"`
	RegisterWay  int    `xml:"RegisterWay"`
	Secrecy      int    `xml:"Secrecy"`
	Status       string `xml:"Status"`
}

type deviceList struct {
	Num   int           `xml:"Num,attr"`
	Items []CatalogItem `xml:"Item"`
}

type catalogResponse struct {
	XMLName    xml.Name   `xml:"Response"`
	CmdType    string     `xml:"CmdType"`
	SN         string     `xml:"SN"`
	DeviceID   string     `xml:"DeviceID"`
	Result     string     `xml:"Result"`
	SumNum     int        `xml:"SumNum"`
	DeviceList deviceList `xml:"DeviceList"`
}

const xmlHeader = `<?xml version="1.0" encoding="GB2312"?>` + "\n"

// RenderCatalog renders a full (unpaginated) Catalog response/notify
// body. SumNum always equals the total catalog size even when the
// caller later splits delivery across multiple messages (see
// SplitCatalog) — each fragment still reports the true SumNum and its
// own Num/len(Item), per spec §4.2.
func RenderCatalog(sn, deviceID string, sumNum int, items []CatalogItem) ([]byte, error) {
	resp := catalogResponse{
		CmdType:  string(CmdCatalog),
		SN:       sn,
		DeviceID: deviceID,
		Result:   "OK",
		SumNum:   sumNum,
		DeviceList: deviceList{
			Num:   len(items),
			Items: items,
		},
	}
	return marshal(resp)
}

// SplitCatalog breaks items into self-consistent Catalog fragments,
// adding items to a fragment while its encoded size stays within
// budgetBytes (UDP-safety, spec §4.2/§4.3); an item that alone exceeds
// the budget forms a fragment of its own. Each fragment carries the full SumNum
// and its own Num/item count; clients reassemble by SN.
func SplitCatalog(sn, deviceID string, allItems []CatalogItem, budgetBytes int) ([][]byte, error) {
	if budgetBytes <= 0 {
		budgetBytes = 1400
	}
	sumNum := len(allItems)

	// Binary-search-free incremental batching: grow a batch until the
	// rendered fragment would exceed budget, then flush.
	var fragments [][]byte
	batch := make([]CatalogItem, 0, len(allItems))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		body, err := RenderCatalog(sn, deviceID, sumNum, batch)
		if err != nil {
			return err
		}
		fragments = append(fragments, body)
		batch = batch[:0]
		return nil
	}

	for _, item := range allItems {
		trial := append(batch, item)
		body, err := RenderCatalog(sn, deviceID, sumNum, trial)
		if err != nil {
			return nil, err
		}
		if len(body) > budgetBytes && len(batch) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
			trial = append(batch, item)
		}
		batch = trial
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(fragments) == 0 {
		// Empty catalog is still a valid single fragment with SumNum=0.
		body, err := RenderCatalog(sn, deviceID, 0, nil)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, body)
	}
	return fragments, nil
}

// RecordItem is one rendered <Item> in a RecordInfo RecordList.
type RecordItem struct {
	DeviceID  string `xml:"DeviceID"`
	Name      string `xml:"Name"`
	FilePath  string `xml:"FilePath"`
	StartTime string `xml:"StartTime"`
	EndTime   string `xml:"EndTime"`
	Secrecy   int    `xml:"Secrecy"`
	Type      string `xml:"Type"`
	FileSize  int64  `xml:"FileSize"`
}

type recordList struct {
	Num   int          `xml:"Num,attr"`
	Items []RecordItem `xml:"Item"`
}

type recordInfoResponse struct {
	XMLName    xml.Name   `xml:"Response"`
	CmdType    string     `xml:"CmdType"`
	SN         string     `xml:"SN"`
	DeviceID   string     `xml:"DeviceID"`
	Result     string     `xml:"Result"`
	SumNum     int        `xml:"SumNum"`
	RecordList recordList `xml:"RecordList"`
}

// RenderRecordInfo renders a RecordInfo response/notify fragment.
func RenderRecordInfo(sn, deviceID string, sumNum int, items []RecordItem) ([]byte, error) {
	resp := recordInfoResponse{
		CmdType:  string(CmdRecordInfo),
		SN:       sn,
		DeviceID: deviceID,
		Result:   "OK",
		SumNum:   sumNum,
		RecordList: recordList{
			Num:   len(items),
			Items: items,
		},
	}
	return marshal(resp)
}

// SplitRecordInfo paginates a RecordInfo result set the same way
// SplitCatalog does, so large histories don't blow the UDP budget.
func SplitRecordInfo(sn, deviceID string, allItems []RecordItem, budgetBytes int) ([][]byte, error) {
	if budgetBytes <= 0 {
		budgetBytes = 1400
	}
	sumNum := len(allItems)

	var fragments [][]byte
	batch := make([]RecordItem, 0, len(allItems))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		body, err := RenderRecordInfo(sn, deviceID, sumNum, batch)
		if err != nil {
			return err
		}
		fragments = append(fragments, body)
		batch = batch[:0]
		return nil
	}
	for _, item := range allItems {
		trial := append(batch, item)
		body, err := RenderRecordInfo(sn, deviceID, sumNum, trial)
		if err != nil {
			return nil, err
		}
		if len(body) > budgetBytes && len(batch) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
			trial = append(batch, item)
		}
		batch = trial
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(fragments) == 0 {
		body, err := RenderRecordInfo(sn, deviceID, 0, nil)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, body)
	}
	return fragments, nil
}

// simpleResponse covers DeviceInfo/DeviceStatus/Control/Keepalive:
// small, synchronous, Result-only or single-field bodies.
type simpleResponse struct {
	XMLName  xml.Name `xml:"Response"`
	CmdType  string   `xml:"CmdType"`
	SN       string   `xml:"SN"`
	DeviceID string   `xml:"DeviceID"`
	Result   string   `xml:"Result"`
	Name     string   `xml:"Name,omitempty"`
	Status   string   `xml:"Status,omitempty"`
}

// RenderDeviceInfo renders a DeviceInfo response.
func RenderDeviceInfo(sn, deviceID, name string) ([]byte, error) {
	return marshal(simpleResponse{CmdType: string(CmdDeviceInfo), SN: sn, DeviceID: deviceID, Result: "OK", Name: name})
}

// RenderDeviceStatus renders a DeviceStatus response.
func RenderDeviceStatus(sn, deviceID, status string) ([]byte, error) {
	return marshal(simpleResponse{CmdType: string(CmdDeviceStatus), SN: sn, DeviceID: deviceID, Result: "OK", Status: status})
}

// RenderOK renders the bare <Response> with just Result=OK for any
// CmdType; the dispatcher uses it to acknowledge Control.
func RenderOK(cmd CmdType, sn, deviceID string) ([]byte, error) {
	return marshal(simpleResponse{CmdType: string(cmd), SN: sn, DeviceID: deviceID, Result: "OK"})
}

type notifyKeepalive struct {
	XMLName  xml.Name `xml:"Notify"`
	CmdType  string   `xml:"CmdType"`
	SN       string   `xml:"SN"`
	DeviceID string   `xml:"DeviceID"`
	Status   string   `xml:"Status"`
}

// RenderKeepaliveNotify renders the outbound Keepalive <Notify> this
// device sends periodically to the platform (spec §4.4).
func RenderKeepaliveNotify(sn, deviceID string) ([]byte, error) {
	return marshal(notifyKeepalive{CmdType: string(CmdKeepalive), SN: sn, DeviceID: deviceID, Status: "OK"})
}

func marshal(v interface{}) ([]byte, error) {
	body, err := xml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("manscdp: render: %w", err)
	}
	out := make([]byte, 0, len(xmlHeader)+len(body))
	out = append(out, xmlHeader...)
	out = append(out, body...)
	return out, nil
}
