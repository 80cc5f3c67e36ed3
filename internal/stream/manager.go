// Package stream tracks the lifecycle of active simulcast streams. Each
// stream owns a serialized executor, the layer selector that runs on it, and
// the relay that fans the selected output out to viewers.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/simulcast/internal/distribution"
	"github.com/zsiec/simulcast/internal/executor"
	"github.com/zsiec/simulcast/internal/pipeline"
	"github.com/zsiec/simulcast/internal/simulcast"
)

// ErrStreamNotFound is returned when an operation names a key with no
// active stream.
var ErrStreamNotFound = errors.New("stream: not found")

// Config holds the settings applied to every new stream.
type Config struct {
	// NumLayers is the initial number of layers each selection round
	// waits for.
	NumLayers    int
	WaitWindow   time.Duration
	ViewerBuffer int
}

// Stream is one live simulcast stream.
type Stream struct {
	Key       string
	OutputID  uint32
	StartedAt time.Time

	Loop     *executor.Loop
	Selector *simulcast.Selector
	Relay    *distribution.Relay

	cancel context.CancelFunc
	refs   int // guarded by Manager.mu

	mu        sync.Mutex
	pipelines map[uint32]*pipeline.Pipeline
}

// AttachPipeline records the pipeline feeding layer for diagnostics.
func (s *Stream) AttachPipeline(layer uint32, p *pipeline.Pipeline) {
	s.mu.Lock()
	s.pipelines[layer] = p
	s.mu.Unlock()
}

// DetachPipeline forgets the pipeline of layer.
func (s *Stream) DetachPipeline(layer uint32) {
	s.mu.Lock()
	delete(s.pipelines, layer)
	s.mu.Unlock()
}

// PipelineStats returns the debug counters of every attached pipeline,
// ordered by layer.
func (s *Stream) PipelineStats() []pipeline.DebugStats {
	s.mu.Lock()
	out := make([]pipeline.DebugStats, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, p.Debug())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Layer < out[j].Layer })
	return out
}

// Done is closed once the stream's executor has drained and stopped.
func (s *Stream) Done() <-chan struct{} { return s.Loop.Done() }

// Manager manages the lifecycle of active streams.
type Manager struct {
	log *slog.Logger
	cfg Config

	mu      sync.RWMutex
	streams map[string]*Stream

	nextOutputID atomic.Uint32
}

// NewManager creates a new stream manager. If log is nil, slog.Default() is used.
func NewManager(cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.WaitWindow <= 0 {
		cfg.WaitWindow = simulcast.DefaultWaitWindow
	}
	if cfg.ViewerBuffer <= 0 {
		cfg.ViewerBuffer = distribution.DefaultViewerBuffer
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		cfg:     cfg,
		streams: make(map[string]*Stream),
	}
}

// Acquire returns the stream for key, creating and starting it if needed,
// and takes a reference on it. The second result reports whether the stream
// was created. Every Acquire must be paired with a Release.
func (m *Manager) Acquire(key string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.streams[key]; ok {
		s.refs++
		return s, false
	}

	log := m.log.With("stream", key)
	outputID := m.nextOutputID.Add(1)
	loop := executor.New(log)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := loop.Run(ctx); err != nil {
			log.Error("executor stopped", "error", err)
		}
	}()

	sel := simulcast.New(loop, simulcast.Config{
		OutputID:   outputID,
		NumLayers:  m.cfg.NumLayers,
		WaitWindow: m.cfg.WaitWindow,
	}, log)
	relay := distribution.NewRelay(log)
	sel.AddSink(relay)

	s := &Stream{
		Key:       key,
		OutputID:  outputID,
		StartedAt: time.Now(),
		Loop:      loop,
		Selector:  sel,
		Relay:     relay,
		cancel:    cancel,
		refs:      1,
		pipelines: make(map[uint32]*pipeline.Pipeline),
	}
	m.streams[key] = s
	m.log.Info("stream created", "key", key, "output", outputID)
	return s, true
}

// Get returns the stream for key, or false if none is active.
func (m *Manager) Get(key string) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[key]
	return s, ok
}

// SetLayerCount changes how many layers the stream's selection rounds wait
// for.
func (m *Manager) SetLayerCount(key string, n int) error {
	s, ok := m.Get(key)
	if !ok {
		return ErrStreamNotFound
	}
	s.Selector.SetNumLayers(n)
	return nil
}

// Release drops a reference taken by Acquire and stops the stream when the
// last reference is gone.
func (m *Manager) Release(s *Stream) {
	m.mu.Lock()
	s.refs--
	if s.refs > 0 || m.streams[s.Key] != s {
		m.mu.Unlock()
		return
	}
	delete(m.streams, s.Key)
	m.mu.Unlock()

	m.stop(s)
}

// Remove stops and removes a stream regardless of outstanding references.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.streams[key]
	if ok {
		delete(m.streams, key)
	}
	m.mu.Unlock()

	if ok {
		m.stop(s)
	}
}

// stop resolves any selection round in progress, flushing it to the relay,
// then lets the executor drain and exit.
func (m *Manager) stop(s *Stream) {
	s.Selector.Stop()
	s.cancel()
	<-s.Loop.Done()
	m.log.Info("stream removed", "key", s.Key, "uptime", time.Since(s.StartedAt).Round(time.Millisecond))
}

// List returns all active streams ordered by key.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.RUnlock()
	sort.Slice(streams, func(i, j int) bool { return streams[i].Key < streams[j].Key })
	return streams
}

// Close removes every stream.
func (m *Manager) Close() {
	for _, s := range m.List() {
		m.Remove(s.Key)
	}
}
