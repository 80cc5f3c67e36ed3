// Package ingest tracks active simulcast layer publications. Each published
// layer couples an RTP packet queue with metadata and lifecycle signaling,
// and new layers are dispatched to the onLayer callback for pipeline setup.
package ingest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

// ErrLayerExists is returned by Register when the (key, layer) pair is
// already being published.
var ErrLayerExists = errors.New("ingest: layer already published")

// packetQueueSize bounds the per-layer packet queue between the transport
// reader and the pipeline.
const packetQueueSize = 512

// LayerStats captures connection-level metrics for one published layer,
// exposed via the debug API.
type LayerStats struct {
	Key           string `json:"key"`
	Layer         uint32 `json:"layer"`
	Codec         string `json:"codec"`
	BytesReceived int64  `json:"bytesReceived"`
	Packets       int64  `json:"packets"`
	Dropped       int64  `json:"dropped"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Layer is one active publication of a simulcast layer. Packets pushed by
// the transport are read by the pipeline from Packets until Done closes.
type Layer struct {
	Key       string
	Index     uint32
	Codec     string
	StartedAt time.Time

	packets chan *rtp.Packet
	done    chan struct{}

	bytesReceived atomic.Int64
	packetCount   atomic.Int64
	dropped       atomic.Int64
	remoteAddr    atomic.Value
}

// Packets returns the queue of received packets.
func (l *Layer) Packets() <-chan *rtp.Packet { return l.packets }

// Done is closed when the layer is unregistered.
func (l *Layer) Done() <-chan struct{} { return l.done }

// Push queues pkt for the pipeline, blocking while the queue is full. It
// returns false once the layer has been unregistered.
func (l *Layer) Push(pkt *rtp.Packet, size int) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	l.bytesReceived.Add(int64(size))
	l.packetCount.Add(1)
	select {
	case l.packets <- pkt:
		return true
	case <-l.done:
		return false
	}
}

// RecordDrop counts a datagram that could not be parsed as RTP.
func (l *Layer) RecordDrop() { l.dropped.Add(1) }

// SetRemoteAddr stores the publisher's address for diagnostics.
func (l *Layer) SetRemoteAddr(addr string) { l.remoteAddr.Store(addr) }

// Stats returns a snapshot of the layer's connection metrics.
func (l *Layer) Stats() LayerStats {
	addr, _ := l.remoteAddr.Load().(string)
	return LayerStats{
		Key:           l.Key,
		Layer:         l.Index,
		Codec:         l.Codec,
		BytesReceived: l.bytesReceived.Load(),
		Packets:       l.packetCount.Load(),
		Dropped:       l.dropped.Load(),
		ConnectedAt:   l.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(l.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

type layerID struct {
	key   string
	index uint32
}

// Registry tracks active layers by stream key and layer index. It is the
// rendezvous point between the SRT transport and the selection pipeline.
type Registry struct {
	mu     sync.RWMutex
	layers map[layerID]*Layer

	onLayer func(l *Layer)
}

// NewRegistry creates a Registry. The onLayer callback is invoked
// asynchronously whenever a new layer is registered.
func NewRegistry(onLayer func(l *Layer)) *Registry {
	return &Registry{
		layers:  make(map[layerID]*Layer),
		onLayer: onLayer,
	}
}

// Register starts a publication of layer index of stream key.
func (r *Registry) Register(key string, index uint32, codec string) (*Layer, error) {
	id := layerID{key: key, index: index}
	l := &Layer{
		Key:       key,
		Index:     index,
		Codec:     codec,
		StartedAt: time.Now(),
		packets:   make(chan *rtp.Packet, packetQueueSize),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if _, exists := r.layers[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s/%d", ErrLayerExists, key, index)
	}
	r.layers[id] = l
	r.mu.Unlock()

	if r.onLayer != nil {
		go r.onLayer(l)
	}
	return l, nil
}

// Unregister removes a layer and closes its Done channel.
func (r *Registry) Unregister(key string, index uint32) {
	id := layerID{key: key, index: index}
	r.mu.Lock()
	l, ok := r.layers[id]
	if ok {
		delete(r.layers, id)
	}
	r.mu.Unlock()

	if ok {
		close(l.done)
	}
}

// Get returns the active layer, or false if it is not published.
func (r *Registry) Get(key string, index uint32) (*Layer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.layers[layerID{key: key, index: index}]
	return l, ok
}

// Layers returns how many layers of key are currently published.
func (r *Registry) Layers(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for id := range r.layers {
		if id.key == key {
			n++
		}
	}
	return n
}

// Stats returns the metrics of every layer of key, ordered by layer index.
func (r *Registry) Stats(key string) []LayerStats {
	r.mu.RLock()
	var out []LayerStats
	for id, l := range r.layers {
		if id.key == key {
			out = append(out, l.Stats())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Layer < out[j].Layer })
	return out
}
