package srt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/simulcast/internal/ingest"
)

// PullRequest describes a remote SRT source publishing one layer.
type PullRequest struct {
	Address   string `json:"address"`
	StreamKey string `json:"streamKey"`
	Layer     uint32 `json:"layer"`
	Codec     string `json:"codec,omitempty"`
	StreamID  string `json:"streamId,omitempty"`
}

func (r PullRequest) id() string { return fmt.Sprintf("%s/%d", r.StreamKey, r.Layer) }

type activePull struct {
	req    PullRequest
	cancel context.CancelFunc
}

// Caller manages SRT pull connections, dialing remote SRT sources and
// feeding their packets into the ingest registry as layers.
type Caller struct {
	log          *slog.Logger
	registry     *ingest.Registry
	defaultCodec string
	dialTimeout  time.Duration

	mu    sync.Mutex
	pulls map[string]*activePull
}

// NewCaller creates a Caller that registers pulled layers with registry.
// If log is nil, slog.Default() is used.
func NewCaller(registry *ingest.Registry, defaultCodec string, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:          log.With("component", "srt-caller"),
		registry:     registry,
		defaultCodec: defaultCodec,
		dialTimeout:  10 * time.Second,
		pulls:        make(map[string]*activePull),
	}
}

// Pull dials the remote SRT listener synchronously (with a timeout),
// returning an error if the connection fails. On success, streaming
// continues in a background goroutine.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if req.Address == "" {
		return fmt.Errorf("address is required")
	}
	if req.StreamKey == "" {
		return fmt.Errorf("streamKey is required")
	}
	if req.Codec == "" {
		req.Codec = c.defaultCodec
	}

	c.mu.Lock()
	if _, exists := c.pulls[req.id()]; exists {
		c.mu.Unlock()
		return fmt.Errorf("pull already active for %s", req.id())
	}
	c.mu.Unlock()

	c.log.Info("dialing", "address", req.Address, "stream_key", req.StreamKey, "layer", req.Layer)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = req.StreamID
	if cfg.StreamID == "" {
		cfg.StreamID = StreamID{Key: req.StreamKey, Layer: req.Layer, Codec: req.Codec}.String()
	}

	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(c.dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("SRT dial failed: %w", res.err)
		}
		return c.startStreaming(ctx, req, res.conn)
	case <-timer.C:
		go closeLate(ch)
		return fmt.Errorf("SRT dial timed out after %s", c.dialTimeout)
	case <-ctx.Done():
		go closeLate(ch)
		return ctx.Err()
	}
}

type dialResult struct {
	conn *srtgo.Conn
	err  error
}

// closeLate closes a connection whose dial finished after the caller gave up.
func closeLate(ch <-chan dialResult) {
	if res := <-ch; res.conn != nil {
		res.conn.Close()
	}
}

func (c *Caller) startStreaming(ctx context.Context, req PullRequest, conn *srtgo.Conn) error {
	layer, err := c.registry.Register(req.StreamKey, req.Layer, req.Codec)
	if err != nil {
		conn.Close()
		return err
	}
	layer.SetRemoteAddr(req.Address)

	pullCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if _, exists := c.pulls[req.id()]; exists {
		c.mu.Unlock()
		cancel()
		conn.Close()
		c.registry.Unregister(req.StreamKey, req.Layer)
		return fmt.Errorf("pull already active for %s", req.id())
	}
	c.pulls[req.id()] = &activePull{req: req, cancel: cancel}
	c.mu.Unlock()

	c.log.Info("connected", "address", req.Address, "stream_key", req.StreamKey, "layer", req.Layer)

	go func() {
		<-pullCtx.Done()
		conn.Close()
	}()

	go func() {
		defer func() {
			cancel()
			stats := layer.Stats()
			c.registry.Unregister(req.StreamKey, req.Layer)
			c.mu.Lock()
			delete(c.pulls, req.id())
			c.mu.Unlock()
			c.log.Info("pull ended", "stream_key", req.StreamKey, "layer", req.Layer,
				"bytes", stats.BytesReceived, "packets", stats.Packets,
				"uptime_ms", stats.UptimeMs)
		}()
		readPackets(pullCtx, conn, layer, c.log)
	}()

	return nil
}

// Stop cancels the pull of one layer.
func (c *Caller) Stop(streamKey string, layer uint32) error {
	id := PullRequest{StreamKey: streamKey, Layer: layer}.id()
	c.mu.Lock()
	ap, ok := c.pulls[id]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("no active pull for %s", id)
	}

	ap.cancel()
	return nil
}

// ActivePulls returns the requests of all running pulls.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PullRequest, 0, len(c.pulls))
	for _, ap := range c.pulls {
		out = append(out, ap.req)
	}
	return out
}
