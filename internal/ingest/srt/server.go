package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pion/rtp"
	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/simulcast/internal/ingest"
)

// srtReadBufferSize fits one RTP packet per SRT message with headroom
// above the 1456-byte live-mode payload limit.
const srtReadBufferSize = 2048

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// Player serves a playback connection for key, writing the selected output
// to w until ctx is cancelled or the viewer goes away.
type Player interface {
	Play(ctx context.Context, key string, w io.WriteCloser, remoteAddr string) error
}

// Server accepts incoming SRT connections. Publishers are registered with
// the ingest registry; viewers are handed to the Player.
type Server struct {
	log          *slog.Logger
	addr         string
	defaultCodec string
	registry     *ingest.Registry
	player       Player
}

// NewServer creates an SRT server that listens on addr. Publications that
// do not name a codec use defaultCodec. A nil player rejects playback. If
// log is nil, slog.Default() is used.
func NewServer(addr, defaultCodec string, registry *ingest.Registry, player Player, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:          log.With("component", "srt-server"),
		addr:         addr,
		defaultCodec: defaultCodec,
		registry:     registry,
		player:       player,
	}
}

// Start begins accepting SRT connections. It blocks until the context is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		id, err := ParseStreamID(req.StreamID)
		if err != nil {
			s.log.Warn("rejecting connection", "stream_id", req.StreamID, "error", err)
			return srtgo.RejPeer
		}
		if id.Mode == ModePlay && s.player == nil {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		id, err := ParseStreamID(conn.StreamID())
		if err != nil {
			conn.Close()
			continue
		}
		s.log.Info(id.Mode.String(), "stream_key", id.Key, "stream_id", id.String(), "remote", conn.RemoteAddr())

		if id.Mode == ModePlay {
			go s.handlePlay(ctx, conn, id.Key)
			continue
		}
		if id.Codec == "" {
			id.Codec = s.defaultCodec
		}
		go s.handlePublish(ctx, conn, id)
	}
}

func (s *Server) handlePublish(ctx context.Context, conn *srtgo.Conn, id StreamID) {
	defer conn.Close()

	layer, err := s.registry.Register(id.Key, id.Layer, id.Codec)
	if err != nil {
		s.log.Warn("publish refused", "stream_key", id.Key, "layer", id.Layer, "error", err)
		return
	}
	layer.SetRemoteAddr(conn.RemoteAddr().String())

	readPackets(ctx, conn, layer, s.log)

	stats := layer.Stats()
	s.registry.Unregister(id.Key, id.Layer)
	s.log.Info("connection closed", "stream_key", id.Key, "layer", id.Layer,
		"bytes", stats.BytesReceived, "packets", stats.Packets,
		"dropped", stats.Dropped, "uptime_ms", stats.UptimeMs)
}

func (s *Server) handlePlay(ctx context.Context, conn *srtgo.Conn, key string) {
	remote := conn.RemoteAddr().String()
	if err := s.player.Play(ctx, key, conn, remote); err != nil {
		s.log.Info("playback ended", "stream_key", key, "remote", remote, "error", err)
	}
}

// readPackets moves RTP packets from r into layer until r fails, the layer
// is unregistered, or ctx is cancelled.
func readPackets(ctx context.Context, r io.Reader, layer *ingest.Layer, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	buf := make([]byte, srtReadBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := r.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read error", "stream_key", layer.Key, "layer", layer.Index, "error", err)
			}
			return
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(append([]byte(nil), buf[:n]...)); err != nil {
			layer.RecordDrop()
			log.Debug("dropping non-RTP message", "stream_key", layer.Key, "layer", layer.Index, "size", n, "error", err)
			continue
		}
		if !layer.Push(pkt, n) {
			return
		}
	}
}
