// Package manscdp implements the GB28181 MANSCDP XML codec: parsing
// inbound Query/Notify payloads carried in SIP MESSAGE bodies, and
// rendering Response/Notify payloads byte-identical to what commercial
// platforms accept (exact element order, mandatory <Result>OK</Result>).
package manscdp

import "fmt"

// CmdType enumerates the recognised MANSCDP command types.
type CmdType string

const (
	CmdCatalog      CmdType = "Catalog"
	CmdDeviceInfo   CmdType = "DeviceInfo"
	CmdDeviceStatus CmdType = "DeviceStatus"
	CmdRecordInfo   CmdType = "RecordInfo"
	CmdKeepalive    CmdType = "Keepalive"
	CmdControl      CmdType = "Control"
)

// Query is the parsed form of an inbound <Query> (or <Notify>) body.
type Query struct {
	CmdType   CmdType
	SN        string
	DeviceID  string
	StartTime string // RecordInfo only, GB28181 compact UTC form
	EndTime   string // RecordInfo only
}

// ParseError wraps a parse failure with the GB28181-facing reason
// category used to pick the SIP status code (spec §7: Protocol errors
// -> 400 Bad Request).
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("manscdp: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("manscdp: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

func badRequest(reason string, err error) error {
	return &ParseError{Reason: reason, Err: err}
}
