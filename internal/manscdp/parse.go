package manscdp

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

// rawQuery mirrors the wire element names of an inbound <Query> or
// <Notify> body. encoding/xml matches element names case-sensitively,
// exactly as the render contract requires on the way out.
type rawQuery struct {
	XMLName   xml.Name `xml:"Query"`
	CmdType   string   `xml:"CmdType"`
	SN        string   `xml:"SN"`
	DeviceID  string   `xml:"DeviceID"`
	StartTime string   `xml:"StartTime"`
	EndTime   string   `xml:"EndTime"`
}

// Parse decodes an inbound MANSCDP body. It tolerates both GB2312 and
// UTF-8 declared encodings (GB28181 field contents are ASCII-only, so
// the raw bytes are identical either way), trims whitespace around
// element text, and ignores unknown elements. A missing SN fails with
// a *ParseError.
func Parse(body []byte) (Query, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = passthroughCharsetReader

	var raw rawQuery
	// Try <Query> first, then <Notify> — both carry the same fields in
	// this system's usage (keepalive pushes and subscription renewals
	// arrive as Notify on some platforms).
	if err := dec.Decode(&raw); err != nil {
		dec2 := xml.NewDecoder(bytes.NewReader(body))
		dec2.CharsetReader = passthroughCharsetReader
		var notify struct {
			XMLName   xml.Name `xml:"Notify"`
			CmdType   string   `xml:"CmdType"`
			SN        string   `xml:"SN"`
			DeviceID  string   `xml:"DeviceID"`
			StartTime string   `xml:"StartTime"`
			EndTime   string   `xml:"EndTime"`
		}
		if err2 := dec2.Decode(&notify); err2 != nil {
			return Query{}, badRequest("malformed MANSCDP xml", err)
		}
		raw = rawQuery{
			CmdType: notify.CmdType, SN: notify.SN, DeviceID: notify.DeviceID,
			StartTime: notify.StartTime, EndTime: notify.EndTime,
		}
	}

	sn := strings.TrimSpace(raw.SN)
	if sn == "" {
		return Query{}, badRequest("missing SN", nil)
	}

	return Query{
		CmdType:   CmdType(strings.TrimSpace(raw.CmdType)),
		SN:        sn,
		DeviceID:  strings.TrimSpace(raw.DeviceID),
		StartTime: strings.TrimSpace(raw.StartTime),
		EndTime:   strings.TrimSpace(raw.EndTime),
	}, nil
}

// passthroughCharsetReader accepts GB2312 (and any other declared
// charset) as raw bytes: every field this system parses or renders is
// ASCII, so no transcoding is needed.
func passthroughCharsetReader(_ string, input io.Reader) (io.Reader, error) {
	return input, nil
}
