package simulcast

import (
	"log/slog"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"

	"github.com/zsiec/simulcast/internal/media"
)

// DefaultWaitWindow bounds how long a selection round waits, measured on
// frame capture times, for every layer to report a key frame before the
// winner is chosen from whatever has arrived.
const DefaultWaitWindow = 300 * time.Millisecond

// NoLayer is the forwarded layer before the first selection.
const NoLayer uint32 = math.MaxUint32

// Config holds the per-stream selector settings.
type Config struct {
	// OutputID is passed to every sink instead of the source layer id.
	OutputID uint32
	// NumLayers is the number of simulcast layers expected to take part in
	// each selection round. Zero means every round waits for the window.
	NumLayers int
	// WaitWindow defaults to DefaultWaitWindow.
	WaitWindow time.Duration
}

// Stats is a point-in-time snapshot of selector counters.
type Stats struct {
	FramesIn          int64  `json:"framesIn"`
	Ignored           int64  `json:"ignored"`
	Forwarded         int64  `json:"forwarded"`
	DroppedIdle       int64  `json:"droppedIdle"`
	DroppedOutOfOrder int64  `json:"droppedOutOfOrder"`
	Rounds            int64  `json:"rounds"`
	Switches          int64  `json:"switches"`
	ForwardedLayer    uint32 `json:"forwardedLayer"`
	NumLayers         int    `json:"numLayers"`
}

type pendingFrame struct {
	layer uint32
	frame *media.VideoFrame
}

// Selector chooses which simulcast layer to relay. Every field below the
// counters is owned by the executor: it is read and written only from tasks
// running there, or from OnFrame, which must itself run there.
type Selector struct {
	log      *slog.Logger
	exec     Executor
	outputID uint32
	windowMs uint64

	framesIn          atomic.Int64
	ignored           atomic.Int64
	forwardedCount    atomic.Int64
	droppedIdle       atomic.Int64
	droppedOutOfOrder atomic.Int64
	rounds            atomic.Int64
	switches          atomic.Int64
	forwardedLayer    atomic.Uint32
	layerCount        atomic.Int64

	numLayers int
	sinks     []FrameSink

	forwarded  uint32
	candidates map[uint32]*media.VideoFrame
	pending    deque.Deque[pendingFrame]
	roundStart uint64

	firstTimestamp  uint64
	offsetTimestamp uint64
	lastTimestamp   uint64
	lastOutputTime  uint64
}

// New creates a Selector whose state lives on exec. If log is nil,
// slog.Default() is used.
func New(exec Executor, cfg Config, log *slog.Logger) *Selector {
	if log == nil {
		log = slog.Default()
	}
	window := cfg.WaitWindow
	if window <= 0 {
		window = DefaultWaitWindow
	}
	s := &Selector{
		log:        log.With("component", "simulcast-selector", "output", cfg.OutputID),
		exec:       exec,
		outputID:   cfg.OutputID,
		windowMs:   uint64(window.Milliseconds()),
		numLayers:  cfg.NumLayers,
		forwarded:  NoLayer,
		candidates: make(map[uint32]*media.VideoFrame),
	}
	s.forwardedLayer.Store(NoLayer)
	s.layerCount.Store(int64(cfg.NumLayers))
	return s
}

// AddSink registers sink for output frames. Registering the same sink twice
// has no effect.
func (s *Selector) AddSink(sink FrameSink) {
	s.log.Debug("add sink", "sink", sink)
	s.exec.Sync(func(time.Time) {
		if !slices.Contains(s.sinks, sink) {
			s.sinks = append(s.sinks, sink)
		}
	})
}

// RemoveSink unregisters sink.
func (s *Selector) RemoveSink(sink FrameSink) {
	s.log.Debug("remove sink", "sink", sink)
	s.exec.Sync(func(time.Time) {
		s.sinks = slices.DeleteFunc(s.sinks, func(x FrameSink) bool { return x == sink })
	})
}

// SetNumLayers changes the number of layers a selection round waits for.
func (s *Selector) SetNumLayers(n int) {
	s.exec.Sync(func(time.Time) {
		s.numLayers = n
		s.layerCount.Store(int64(n))
		s.log.Debug("layer count changed", "layers", n)
	})
}

// Stop resolves any selection round in progress with the frames buffered so
// far, then detaches every sink. Calling it again is harmless.
func (s *Selector) Stop() {
	s.exec.Sync(func(time.Time) { s.Close() })
}

// Close is the synchronous form of Stop. It must run on the executor, or
// after the executor has stopped for good.
func (s *Selector) Close() {
	s.selectLayer()
	s.sinks = nil
}

// Stats returns a snapshot of the selector counters. Safe to call from any
// goroutine.
func (s *Selector) Stats() Stats {
	return Stats{
		FramesIn:          s.framesIn.Load(),
		Ignored:           s.ignored.Load(),
		Forwarded:         s.forwardedCount.Load(),
		DroppedIdle:       s.droppedIdle.Load(),
		DroppedOutOfOrder: s.droppedOutOfOrder.Load(),
		Rounds:            s.rounds.Load(),
		Switches:          s.switches.Load(),
		ForwardedLayer:    s.forwardedLayer.Load(),
		NumLayers:         int(s.layerCount.Load()),
	}
}

// OnFrame ingests one frame from layer. It must be called from a task
// running on the selector's executor. Non-video frames are ignored; the
// frame is cloned, so the caller keeps ownership of frame.
func (s *Selector) OnFrame(layer uint32, frame media.MediaFrame) {
	if frame.Kind() != media.Video {
		s.ignored.Add(1)
		return
	}
	video, ok := frame.Clone().(*media.VideoFrame)
	if !ok {
		s.ignored.Add(1)
		return
	}
	s.framesIn.Add(1)
	t := video.Time()

	if video.Intra {
		if !s.selecting() {
			s.roundStart = t
			s.rounds.Add(1)
			s.log.Debug("selection round started", "layer", layer, "time", t)
		}
		if _, dup := s.candidates[layer]; dup {
			// A second key frame from a layer is kept: it is replayed if
			// that layer wins.
			s.pending.PushBack(pendingFrame{layer: layer, frame: video})
		} else {
			s.candidates[layer] = video
		}
		if len(s.candidates) == s.numLayers || s.expired(t) {
			s.selectLayer()
		}
		return
	}

	if s.selecting() {
		s.pending.PushBack(pendingFrame{layer: layer, frame: video})
		if s.expired(t) {
			s.selectLayer()
		}
		return
	}

	if layer == s.forwarded {
		s.forward(video)
		return
	}
	s.droppedIdle.Add(1)
}

// selecting reports whether a selection round is in progress.
func (s *Selector) selecting() bool {
	return len(s.candidates) > 0
}

func (s *Selector) expired(t uint64) bool {
	return t > s.roundStart+s.windowMs
}

func (s *Selector) selectLayer() {
	// A lone key frame on the forwarded layer itself goes through the
	// comparator below so it is forwarded ahead of its deltas.
	if _, own := s.candidates[s.forwarded]; len(s.candidates) == 1 && !own && s.forwardedLayerAlive() {
		s.endRound()
		s.pending.Clear()
		return
	}

	var (
		winner      *media.VideoFrame
		winnerLayer uint32
		bestArea    int
		bestSize    int
	)
	layers := make([]uint32, 0, len(s.candidates))
	for layer := range s.candidates {
		layers = append(layers, layer)
	}
	slices.Sort(layers)

	for _, layer := range layers {
		c := s.candidates[layer]
		s.log.Debug("candidate", "layer", layer, "size", c.Len(),
			"width", c.Width, "height", c.Height, "ts", c.Timestamp())
		// Both the picture area and the encoded size have to grow for a
		// candidate to replace the current best.
		if c.Area() > bestArea && c.Len() > bestSize {
			winner, winnerLayer = c, layer
			bestArea, bestSize = c.Area(), c.Len()
		}
	}
	if winner == nil {
		return
	}

	if winnerLayer != s.forwarded {
		s.switchTo(winnerLayer, winner)
	}

	s.forward(winner)
	s.endRound()

	// Pending frames are replayed in arrival order. Deltas the winner sent
	// before its key frame therefore follow it with older timestamps.
	for i := 0; i < s.pending.Len(); i++ {
		if p := s.pending.At(i); p.layer == s.forwarded {
			s.forward(p.frame)
		}
	}
	s.pending.Clear()
}

// forwardedLayerAlive forwards the buffered frames of the current layer and
// reports whether there were any. A lone key frame on another layer while the
// current one keeps producing frames is not a reason to switch.
func (s *Selector) forwardedLayerAlive() bool {
	alive := false
	for i := 0; i < s.pending.Len(); i++ {
		if p := s.pending.At(i); p.layer == s.forwarded {
			alive = true
			s.forward(p.frame)
		}
	}
	return alive
}

func (s *Selector) endRound() {
	clear(s.candidates)
	s.roundStart = 0
}

// switchTo moves the output onto layer, folding the time elapsed since the
// last forwarded frame into the timestamp offset.
func (s *Selector) switchTo(layer uint32, winner *media.VideoFrame) {
	prev := s.forwarded

	var delta uint64
	if prevIntra, ok := s.candidates[prev]; ok && prevIntra.Timestamp() > s.lastTimestamp {
		delta = prevIntra.Timestamp() - s.lastTimestamp
	} else if prev != NoLayer && winner.Time() > s.lastOutputTime {
		delta = (winner.Time() - s.lastOutputTime) * uint64(winner.ClockRate()) / 1000
	}

	s.offsetTimestamp += (s.lastTimestamp - s.firstTimestamp) + delta
	s.firstTimestamp = winner.Timestamp()
	s.forwarded = layer
	s.forwardedLayer.Store(layer)
	s.switches.Add(1)

	s.log.Info("switching layer", "prev", prev, "layer", layer,
		"offset", s.offsetTimestamp, "delta", delta,
		"width", winner.Width, "height", winner.Height)
}

func (s *Selector) forward(frame *media.VideoFrame) {
	ts := frame.Timestamp()
	if ts < s.firstTimestamp {
		s.droppedOutOfOrder.Add(1)
		s.log.Warn("discarding out of order frame", "ts", ts, "first", s.firstTimestamp)
		return
	}

	frame.SetTimestamp(ts - s.firstTimestamp + s.offsetTimestamp)
	frame.SetSSRC(s.outputID)
	for _, sink := range s.sinks {
		sink.OnFrame(s.outputID, frame)
	}
	s.forwardedCount.Add(1)

	s.lastTimestamp = ts
	s.lastOutputTime = frame.Time()
}
