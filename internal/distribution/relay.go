// Package distribution fans the selected simulcast output out to viewers
// and serves the REST API that exposes stream state.
package distribution

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/simulcast/internal/media"
)

// Viewer receives output frames from a Relay. SendFrame is called from the
// stream's executor and must not block.
type Viewer interface {
	ID() string
	SendFrame(outputID uint32, frame media.MediaFrame)
	Stats() ViewerStats
}

// ViewerStats holds per-viewer delivery metrics.
type ViewerStats struct {
	ID            string `json:"id"`
	RemoteAddr    string `json:"remoteAddr,omitempty"`
	FramesSent    int64  `json:"framesSent"`
	FramesDropped int64  `json:"framesDropped"`
	BytesSent     int64  `json:"bytesSent"`
	ConnectedAt   int64  `json:"connectedAt"`
}

// RelayStats describes the output seen by a Relay.
type RelayStats struct {
	Frames        int64  `json:"frames"`
	IntraFrames   int64  `json:"intraFrames"`
	GOPLength     int    `json:"gopLength"`
	LastTimestamp uint64 `json:"lastTimestamp"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Codec         string `json:"codec,omitempty"`
}

// maxGOPCache bounds the replay cache when a source sends very long GOPs.
const maxGOPCache = 600

// Relay is the fan-out hub for one stream's selected output. It is
// registered as a sink on the stream's selector, caches the current GOP so
// that late-joining viewers can start decoding at once, and delivers every
// frame to all connected viewers.
type Relay struct {
	log *slog.Logger

	mu      sync.RWMutex
	viewers map[string]Viewer

	gopMu    sync.RWMutex
	gopCache []cachedFrame
	last     RelayStats

	frames atomic.Int64
	intra  atomic.Int64
}

type cachedFrame struct {
	outputID uint32
	frame    media.MediaFrame
}

// NewRelay creates a Relay with no viewers. If log is nil, slog.Default()
// is used.
func NewRelay(log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		log:     log.With("component", "relay"),
		viewers: make(map[string]Viewer),
	}
}

// OnFrame delivers one output frame to every viewer and updates the GOP
// cache. A GOP starts at an intra video frame.
func (r *Relay) OnFrame(outputID uint32, frame media.MediaFrame) {
	r.frames.Add(1)

	r.gopMu.Lock()
	if v, ok := frame.(*media.VideoFrame); ok {
		if v.Intra {
			r.intra.Add(1)
			r.gopCache = r.gopCache[:0]
		}
		r.last.Width, r.last.Height, r.last.Codec = v.Width, v.Height, v.Codec
	}
	if len(r.gopCache) < maxGOPCache {
		r.gopCache = append(r.gopCache, cachedFrame{outputID: outputID, frame: frame})
	}
	r.last.LastTimestamp = frame.Timestamp()
	r.gopMu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.viewers {
		v.SendFrame(outputID, frame)
	}
}

// AddViewer replays the cached GOP to the viewer, then registers it for
// live frame delivery. Replay and registration happen under the GOP lock
// so OnFrame cannot slip a live frame in between.
func (r *Relay) AddViewer(v Viewer) {
	r.gopMu.RLock()
	for _, c := range r.gopCache {
		v.SendFrame(c.outputID, c.frame)
	}
	r.mu.Lock()
	r.viewers[v.ID()] = v
	r.mu.Unlock()
	r.gopMu.RUnlock()

	r.log.Info("viewer added", "viewer", v.ID(), "viewers", r.ViewerCount())
}

// RemoveViewer unregisters a viewer by ID.
func (r *Relay) RemoveViewer(id string) {
	r.mu.Lock()
	delete(r.viewers, id)
	r.mu.Unlock()

	r.log.Info("viewer removed", "viewer", id, "viewers", r.ViewerCount())
}

// ViewerCount returns the number of currently connected viewers.
func (r *Relay) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers)
}

// ViewerStatsAll returns delivery metrics for every connected viewer.
func (r *Relay) ViewerStatsAll() []ViewerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]ViewerStats, 0, len(r.viewers))
	for _, v := range r.viewers {
		stats = append(stats, v.Stats())
	}
	return stats
}

// Stats returns a snapshot of the relayed output.
func (r *Relay) Stats() RelayStats {
	r.gopMu.RLock()
	s := r.last
	s.GOPLength = len(r.gopCache)
	r.gopMu.RUnlock()
	s.Frames = r.frames.Load()
	s.IntraFrames = r.intra.Load()
	return s
}
