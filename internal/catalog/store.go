package catalog

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/firestige/gb28181-nvr/internal/log"
	"github.com/firestige/gb28181-nvr/internal/metrics"
)

// videoExtensions is the fixed set of recognised clip suffixes, taken
// from the original file scanner: mp4/avi/mkv/mov/wmv/flv/webm/m4v/3gp/ts/mts.
var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mkv": true, ".mov": true, ".wmv": true,
	".flv": true, ".webm": true, ".m4v": true, ".3gp": true, ".ts": true, ".mts": true,
}

// Summary is a diagnostic breakdown of the current catalog, not part
// of the wire protocol — recorded on scan completion and returned by
// Store.Summary.
type Summary struct {
	TotalFiles int
	ByDir      map[string]int
}

// ScanState reports the background scan's progress, per spec §3.
type ScanState struct {
	Root          string
	FilesCached   int
	Scanning      bool
	ScanComplete  bool
	LastScanAt    time.Time
}

// Store owns the channel catalog and recording index. It is an
// explicit value injected into whatever needs it (XML response
// builders, the dialog engine) rather than a package-level global —
// see DESIGN.md's note on the teacher's module-level catalog list.
type Store struct {
	mu sync.RWMutex

	deviceID   string
	deviceMeta Channel // Parental=1 entry, built once at construction

	channels   []Channel          // insertion order, device entry excluded
	recordings map[string][]Recording // channel_id -> sorted-by-start recordings

	maxItems int

	scanning     bool
	scanComplete bool
	lastScanAt   time.Time
	lastSummary  Summary
}

// NewStore builds a Store for deviceID, whose catalog response's first
// Item is always the device itself (Parental=1, DeviceID=deviceID).
func NewStore(deviceMeta Channel, maxItems int) *Store {
	deviceMeta.Parental = true
	if maxItems <= 0 {
		maxItems = 20
	}
	return &Store{
		deviceID:   deviceMeta.ChannelID,
		deviceMeta: deviceMeta,
		recordings: make(map[string][]Recording),
		maxItems:   maxItems,
	}
}

// AddStaticChannel registers a channel that does not come from a
// directory scan (e.g. a configured RTSP source). Safe to call before
// or after a scan; channels are merged, not replaced, by static adds.
func (s *Store) AddStaticChannel(ch Channel) {
	ch.Parental = false
	ch.ParentID = s.deviceID
	if ch.Status == "" {
		ch.Status = StatusOn
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.channels {
		if existing.ChannelID == ch.ChannelID {
			s.channels[i] = ch
			return
		}
	}
	s.channels = append(s.channels, ch)
}

// Scan walks root in the background and returns immediately; callers
// observe the previous catalog until the scan completes, at which
// point the new file-backed channel list replaces it atomically.
// Static (RTSP) channels added via AddStaticChannel are preserved.
func (s *Store) Scan(ctx context.Context, root string) {
	s.mu.Lock()
	s.scanning = true
	s.mu.Unlock()

	go s.runScan(ctx, root)
}

func (s *Store) runScan(ctx context.Context, root string) {
	started := time.Now()
	var found []Channel
	byDir := make(map[string]int)
	total := 0

	if root != "" {
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.GetLogger().WithError(err).Warnf("catalog scan: skipping unreadable path %s", path)
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if d.IsDir() {
				return nil
			}
			total++
			ext := strings.ToLower(filepath.Ext(path))
			if !videoExtensions[ext] {
				return nil
			}
			idx := len(found) + 1
			found = append(found, Channel{
				ChannelID:   s.fileChannelID(idx),
				Name:        strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
				MediaHandle: path,
				Status:      StatusOn,
			})
			byDir[filepath.Dir(path)]++
			return nil
		})
		if walkErr != nil && walkErr != context.Canceled {
			log.GetLogger().WithError(walkErr).Error("catalog scan failed")
		}
	}

	truncated := false
	s.mu.Lock()
	// Preserve static (RTSP) channels already registered; file-backed
	// entries are what gets replaced on rescan.
	var static []Channel
	for _, ch := range s.channels {
		if !strings.HasPrefix(ch.MediaHandle, "/") && !strings.Contains(ch.MediaHandle, "://") {
			continue
		}
		if strings.Contains(ch.MediaHandle, "rtsp://") {
			static = append(static, ch)
		}
	}
	merged := append(static, found...)
	if len(merged) > s.maxItems {
		truncated = true
		merged = merged[:s.maxItems]
	}
	for i := range merged {
		merged[i].ParentID = s.deviceID
		merged[i].Parental = false
	}
	s.channels = merged
	s.scanning = false
	s.scanComplete = true
	s.lastScanAt = time.Now()
	s.lastSummary = Summary{TotalFiles: total, ByDir: byDir}
	s.mu.Unlock()

	metrics.CatalogChannels.Set(float64(len(merged)))
	metrics.ScanDurationSeconds.Observe(time.Since(started).Seconds())

	logEntry := log.GetLogger().WithField("channels", len(merged)).WithField("root", root)
	if truncated {
		logEntry.Warnf("catalog scan truncated to max_items=%d", s.maxItems)
	}
	logEntry.Info("catalog scan complete")
}

func (s *Store) fileChannelID(index int) string {
	// Conventional suffix: device_id with the low 3 digits replaced by
	// a sequence number, per spec §3.
	base := s.deviceID
	if len(base) < 3 {
		return base
	}
	return base[:len(base)-3] + itoa3(index)
}

func itoa3(n int) string {
	if n < 0 {
		n = 0
	}
	digits := [3]byte{}
	for i := 2; i >= 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[:])
}

// GetCatalog returns a stable-ordered snapshot: the device entry first,
// then channels in scan/insertion order.
func (s *Store) GetCatalog() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Channel, 0, len(s.channels)+1)
	out = append(out, s.deviceMeta)
	out = append(out, s.channels...)
	return out
}

// ScanStatus reports the current background scan state.
func (s *Store) ScanStatus() ScanState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ScanState{
		FilesCached:  len(s.channels),
		Scanning:     s.scanning,
		ScanComplete: s.scanComplete,
		LastScanAt:   s.lastScanAt,
	}
}

// Summary returns the diagnostic per-directory breakdown of the last scan.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSummary
}

// ReplaceRecordings atomically replaces the recording index for a
// channel, sorted ascending by start time then name.
func (s *Store) ReplaceRecordings(channelID string, recs []Recording) {
	sorted := append([]Recording(nil), recs...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].StartTime.Equal(sorted[j].StartTime) {
			return sorted[i].StartTime.Before(sorted[j].StartTime)
		}
		return sorted[i].Name < sorted[j].Name
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings[channelID] = sorted
}

// QueryRecordings returns recordings for channelID whose window
// intersects [start,end] (nil bound = open-ended), in ascending
// start-time order with name as tiebreak. The recordings slice is
// sorted by StartTime, so a binary search over the upper bound first
// narrows the candidate range before the EndTime filter runs.
func (s *Store) QueryRecordings(channelID string, start, end *time.Time) []Recording {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.recordings[channelID]

	upper := len(all)
	if end != nil {
		upper = sort.Search(len(all), func(i int) bool {
			return all[i].StartTime.After(*end)
		})
	}

	out := make([]Recording, 0, upper)
	for _, r := range all[:upper] {
		if r.Intersects(start, end) {
			out = append(out, r)
		}
	}
	return out
}
