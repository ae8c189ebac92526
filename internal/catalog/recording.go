package catalog

import "time"

// RecordingType distinguishes how a clip was produced, mirroring the
// GB28181 RecordInfo `Type` field (time/alarm/manual/all).
type RecordingType string

const (
	RecordingTypeTime   RecordingType = "time"
	RecordingTypeManual RecordingType = "manual"
)

// Recording is one historical clip built from filesystem metadata at
// scan time. Times are UTC; Start/End render to the compact GB28181
// `YYYYMMDDThhmmssZ` form via FormatGB28181Time.
type Recording struct {
	ChannelID string
	StartTime time.Time
	EndTime   time.Time
	Name      string
	Path      string
	FileSize  int64
	Type      RecordingType
}

// gb28181TimeLayout is the compact UTC timestamp GB28181 payloads use.
const gb28181TimeLayout = "20060102T150405Z"

// FormatGB28181Time renders t in the compact GB28181 form.
func FormatGB28181Time(t time.Time) string {
	return t.UTC().Format(gb28181TimeLayout)
}

// ParseGB28181Time parses the compact GB28181 form.
func ParseGB28181Time(s string) (time.Time, error) {
	return time.ParseInLocation(gb28181TimeLayout, s, time.UTC)
}

// Intersects reports whether the recording's [start,end] window
// intersects [start,end], with nil bounds meaning open-ended. Bounds
// are inclusive on both sides.
func (r Recording) Intersects(start, end *time.Time) bool {
	if end != nil && r.StartTime.After(*end) {
		return false
	}
	if start != nil && r.EndTime.Before(*start) {
		return false
	}
	return true
}
