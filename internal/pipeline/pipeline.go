// Package pipeline bridges one published simulcast layer to its stream's
// selector: it reassembles the layer's RTP packets into frames and submits
// each frame to the selector on the stream's executor, while collecting
// telemetry for the debug API.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/zsiec/simulcast/internal/media"
	"github.com/zsiec/simulcast/internal/rtpframe"
	"github.com/zsiec/simulcast/internal/simulcast"
)

// Source is the subset of ingest.Layer the pipeline reads from.
type Source interface {
	Packets() <-chan *rtp.Packet
	Done() <-chan struct{}
}

// FrameHandler is the subset of simulcast.Selector the pipeline feeds.
// OnFrame is only ever invoked from a task on the executor.
type FrameHandler interface {
	OnFrame(layer uint32, frame media.MediaFrame)
}

// DebugStats holds the per-layer forwarding counters for the
// /api/streams/{key}/debug endpoint.
type DebugStats struct {
	Layer         uint32 `json:"layer"`
	Codec         string `json:"codec"`
	Packets       int64  `json:"packets"`
	Frames        int64  `json:"frames"`
	IntraFrames   int64  `json:"intraFrames"`
	Incomplete    int64  `json:"incomplete"`
	LastTimestamp int64  `json:"lastTimestamp"`
	Width         int64  `json:"width"`
	Height        int64  `json:"height"`
}

// Pipeline feeds one layer's frames into a selector.
type Pipeline struct {
	log      *slog.Logger
	layer    uint32
	codec    string
	src      Source
	asm      *rtpframe.Assembler
	exec     simulcast.Executor
	selector FrameHandler

	packets    atomic.Int64
	frames     atomic.Int64
	intra      atomic.Int64
	incomplete atomic.Int64
	lastTS     atomic.Int64
	width      atomic.Int64
	height     atomic.Int64
}

// New creates a Pipeline for layer. Frames are handed to selector through
// tasks submitted to exec. If log is nil, slog.Default() is used.
func New(layer uint32, codec string, src Source, exec simulcast.Executor, selector FrameHandler, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	asm, err := rtpframe.New(layer, codec, nil, log)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		log:      log.With("component", "pipeline", "layer", layer),
		layer:    layer,
		codec:    codec,
		src:      src,
		asm:      asm,
		exec:     exec,
		selector: selector,
	}, nil
}

// Debug returns a snapshot of the forwarding counters.
func (p *Pipeline) Debug() DebugStats {
	return DebugStats{
		Layer:         p.layer,
		Codec:         p.codec,
		Packets:       p.packets.Load(),
		Frames:        p.frames.Load(),
		IntraFrames:   p.intra.Load(),
		Incomplete:    p.incomplete.Load(),
		LastTimestamp: p.lastTS.Load(),
		Width:         p.width.Load(),
		Height:        p.height.Load(),
	}
}

// Run reads packets until the context is cancelled or the source ends.
// Packets still queued when the source ends are processed before Run
// returns.
func (p *Pipeline) Run(ctx context.Context) error {
	packets := p.src.Packets()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.src.Done():
			p.drain(packets)
			p.log.Info("layer ended", "frames", p.frames.Load(), "incomplete", p.incomplete.Load())
			return nil
		case pkt := <-packets:
			p.handlePacket(pkt)
		}
	}
}

func (p *Pipeline) drain(packets <-chan *rtp.Packet) {
	for {
		select {
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			p.handlePacket(pkt)
		default:
			return
		}
	}
}

func (p *Pipeline) handlePacket(pkt *rtp.Packet) {
	p.packets.Add(1)
	frame, err := p.asm.Push(pkt)
	if err != nil {
		if errors.Is(err, rtpframe.ErrIncompleteFrame) {
			p.incomplete.Add(1)
			p.log.Debug("dropped incomplete frame", "seq", pkt.SequenceNumber, "ts", pkt.Timestamp)
			return
		}
		p.log.Warn("assemble failed", "error", err)
		return
	}
	if frame == nil {
		return
	}

	p.frames.Add(1)
	if frame.Intra {
		p.intra.Add(1)
	}
	p.lastTS.Store(int64(frame.Timestamp()))
	p.width.Store(int64(frame.Width))
	p.height.Store(int64(frame.Height))

	layer, sel := p.layer, p.selector
	p.exec.Sync(func(time.Time) { sel.OnFrame(layer, frame) })
}
