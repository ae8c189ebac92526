// Package catalog maintains the GB28181 channel catalog and the
// time-indexed historical recording index, scanned incrementally from
// a media root directory and/or configured RTSP sources.
package catalog

// Status is the GB28181 channel/device online status.
type Status string

const (
	StatusOn  Status = "ON"
	StatusOff Status = "OFF"
)

// Channel is a single media endpoint (or the device entry itself, when
// Parental is true) exposed in the GB28181 catalog.
type Channel struct {
	ChannelID    string
	Name         string
	MediaHandle  string // file path or rtsp:// URL
	Status       Status
	Manufacturer string
	Model        string
	Owner        string
	CivilCode    string
	Block        string
	Address      string
	Parental     bool
	ParentID     string
	SafetyWay    int
	RegisterWay  int
	Secrecy      int
}
