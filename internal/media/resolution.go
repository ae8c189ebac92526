package media

// Resolution is a width/height pair from the GB28181 "format" field's
// fixed resolution table (spec §4.5).
type Resolution struct {
	Width  int
	Height int
}

// resolutionPresets maps the GB28181 "codec:res" suffix to its pixel
// dimensions. Only the four mandated presets exist; anything else
// falls back to DefaultResolution.
var resolutionPresets = map[string]Resolution{
	"1": {Width: 176, Height: 144},
	"2": {Width: 352, Height: 288},
	"3": {Width: 704, Height: 576},
	"4": {Width: 720, Height: 576},
}

// DefaultResolution is used when the offer carries no `f=` line or an
// unrecognised resolution code.
var DefaultResolution = resolutionPresets["2"]

// ResolutionForCode looks up a GB28181 resolution code (the digit
// after the colon of a "codec:res" pair, e.g. "1" in "1:1"),
// falling back to DefaultResolution.
func ResolutionForCode(code string) Resolution {
	if r, ok := resolutionPresets[code]; ok {
		return r
	}
	return DefaultResolution
}
