package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

// annexBStartCode4 is the 4-byte Annex B NAL start code;
// annexBStartCode3, the 3-byte variant, is also accepted.
var annexBStartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
var annexBStartCode3 = []byte{0x00, 0x00, 0x01}

// FileSource reads an Annex-B H.264 elementary stream from disk and
// replays it as a sequence of access units, looping when it reaches
// EOF, mirroring the looping playback `file_scanner`-adjacent clips
// exhibit in the original implementation (spec's decoder/encoder
// boundary means the transcode to H.264 has already happened upstream
// of this source; this stage only re-plays the elementary stream).
type FileSource struct {
	path string
	loop bool

	f *os.File
}

// NewFileSource returns a source for path without opening it. Run
// opens the file at the start of each pass, so a misconfigured channel
// doesn't fail until it's actually scheduled.
func NewFileSource(path string, loop bool) *FileSource {
	return &FileSource{path: path, loop: loop}
}

// Run streams access units from the file until ctx is cancelled, or,
// for non-looping sources, until EOF.
func (s *FileSource) Run(ctx context.Context, out chan<- [][]byte) error {
	for {
		if err := s.playOnce(ctx, out); err != nil {
			return err
		}
		if !s.loop {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (s *FileSource) playOnce(ctx context.Context, out chan<- [][]byte) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("media: open file source %s: %w", s.path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 256*1024)
	units, readErr := readAnnexBUnits(r)
	if readErr != nil && readErr != io.EOF {
		return fmt.Errorf("media: read file source %s: %w", s.path, readErr)
	}

	// Group NAL units into access units split on each VCL NAL
	// boundary so the pipeline paces one access unit at a time.
	var au [][]byte
	for _, nal := range units {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		au = append(au, nal)
		if isVCLNal(nal) {
			select {
			case out <- au:
			case <-ctx.Done():
				return nil
			}
			au = nil
		}
	}
	if len(au) > 0 {
		select {
		case out <- au:
		case <-ctx.Done():
		}
	}
	return nil
}

// isVCLNal reports whether nal's header byte marks a coded slice (the
// natural access-unit boundary for a baseline/main-profile stream
// without redundant slices).
func isVCLNal(nal []byte) bool {
	if len(nal) == 0 {
		return false
	}
	nalType := nal[0] & 0x1f
	return nalType >= 1 && nalType <= 5
}

// readAnnexBUnits splits a full Annex-B buffer into start-code-free NAL
// units.
func readAnnexBUnits(r io.Reader) ([][]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var units [][]byte
	pos := 0
	for pos < len(data) {
		start, scLen := nextStartCode(data[pos:])
		if start < 0 {
			break
		}
		pos += start + scLen

		next, _ := nextStartCode(data[pos:])
		if next < 0 {
			if len(data[pos:]) > 0 {
				units = append(units, data[pos:])
			}
			break
		}
		if next > 0 {
			units = append(units, data[pos:pos+next])
		}
		pos += next
	}
	return units, nil
}

func nextStartCode(data []byte) (offset, length int) {
	i := bytes.Index(data, annexBStartCode3)
	if i < 0 {
		return -1, 0
	}
	if i > 0 && data[i-1] == 0x00 {
		return i - 1, 4
	}
	return i, 3
}

// Close releases any resources held by the source.
func (s *FileSource) Close() error {
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}
