package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/simulcast/internal/certs"
	"github.com/zsiec/simulcast/internal/config"
	"github.com/zsiec/simulcast/internal/distribution"
	"github.com/zsiec/simulcast/internal/ingest"
	srtingest "github.com/zsiec/simulcast/internal/ingest/srt"
	"github.com/zsiec/simulcast/internal/pipeline"
	"github.com/zsiec/simulcast/internal/simulcast"
	"github.com/zsiec/simulcast/internal/stream"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"), nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	a := &app{
		cfg: cfg,
		mgr: stream.NewManager(stream.Config{
			NumLayers:    cfg.ExpectedLayers,
			WaitWindow:   cfg.WaitWindow,
			ViewerBuffer: cfg.ViewerBuffer,
		}, nil),
	}
	defer a.mgr.Close()

	slog.Info("simulcastd starting",
		"version", version,
		"srt", cfg.SRTAddr,
		"api", cfg.APIAddr,
		"codec", cfg.Codec,
		"expected_layers", cfg.ExpectedLayers,
		"wait_window", cfg.WaitWindow,
	)

	g, ctx := errgroup.WithContext(ctx)

	// Create registry and SRT caller after errgroup so closures capture the
	// errgroup-derived context, ensuring layers shut down when any component fails.
	a.registry = ingest.NewRegistry(func(l *ingest.Layer) {
		a.handleNewLayer(ctx, l)
	})
	a.srtCaller = srtingest.NewCaller(a.registry, cfg.Codec, nil)

	apiSrv := &http.Server{Addr: cfg.APIAddr}
	var certHash string
	if cfg.APITLS {
		cert, err := certs.Generate(certs.DefaultValidity)
		if err != nil {
			slog.Error("failed to generate cert", "error", err)
			os.Exit(1)
		}
		certHash = cert.FingerprintBase64()
		apiSrv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert.TLSCert}}
		slog.Info("certificate generated",
			"fingerprint", certHash,
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
	}

	api := distribution.NewServer(distribution.ServerConfig{
		StreamLister: a.listStreams,
		DebugLookup:  a.debugStream,
		CertHash:     certHash,
		SRTPull: func(req distribution.SRTPullInfo) error {
			return a.srtCaller.Pull(ctx, srtingest.PullRequest{
				Address:   req.Address,
				StreamKey: req.StreamKey,
				Layer:     req.Layer,
				Codec:     req.Codec,
				StreamID:  req.StreamID,
			})
		},
		SRTStop: a.srtCaller.Stop,
		SRTList: a.listSRTPulls,
	}, nil)
	apiSrv.Handler = api.APIHandler()

	srtSrv := srtingest.NewServer(cfg.SRTAddr, cfg.Codec, a.registry, a.mgr, nil)

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	g.Go(func() error {
		slog.Info("API server listening", "addr", cfg.APIAddr, "tls", cfg.APITLS)
		var err error
		if cfg.APITLS {
			err = apiSrv.ListenAndServeTLS("", "")
		} else {
			err = apiSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type app struct {
	cfg       config.Config
	mgr       *stream.Manager
	registry  *ingest.Registry
	srtCaller *srtingest.Caller
}

func (a *app) listSRTPulls() []distribution.SRTPullInfo {
	pulls := a.srtCaller.ActivePulls()
	out := make([]distribution.SRTPullInfo, len(pulls))
	for i, p := range pulls {
		out[i] = distribution.SRTPullInfo{
			Address:   p.Address,
			StreamKey: p.StreamKey,
			Layer:     p.Layer,
			Codec:     p.Codec,
			StreamID:  p.StreamID,
		}
	}
	return out
}

func (a *app) listStreams() []distribution.StreamInfo {
	streams := a.mgr.List()
	infos := make([]distribution.StreamInfo, len(streams))
	for i, s := range streams {
		rs := s.Relay.Stats()
		info := distribution.StreamInfo{
			Key:      s.Key,
			Layers:   a.registry.Layers(s.Key),
			Viewers:  s.Relay.ViewerCount(),
			Codec:    rs.Codec,
			Width:    rs.Width,
			Height:   rs.Height,
			UptimeMs: time.Since(s.StartedAt).Milliseconds(),
		}
		if fl := s.Selector.Stats().ForwardedLayer; fl != simulcast.NoLayer {
			layer := int(fl)
			info.ForwardedLayer = &layer
		}
		info.Description = describeStream(info)
		infos[i] = info
	}
	return infos
}

func (a *app) debugStream(key string) (*distribution.DebugSnapshot, bool) {
	s, ok := a.mgr.Get(key)
	if !ok {
		return nil, false
	}
	return &distribution.DebugSnapshot{
		Ingest:    a.registry.Stats(key),
		Pipelines: s.PipelineStats(),
		Selector:  s.Selector.Stats(),
		Executor: distribution.ExecutorStats{
			Executed:  s.Loop.Executed(),
			Discarded: s.Loop.Discarded(),
		},
		Relay:   s.Relay.Stats(),
		Viewers: s.Relay.ViewerStatsAll(),
	}, true
}

func (a *app) handleNewLayer(ctx context.Context, l *ingest.Layer) {
	log := slog.With("stream", l.Key, "layer", l.Index)
	log.Info("new layer from ingest", "codec", l.Codec)

	s, created := a.mgr.Acquire(l.Key)
	if created {
		log.Info("stream started", "output", s.OutputID)
	}
	defer a.mgr.Release(s)

	p, err := pipeline.New(l.Index, l.Codec, l, s.Loop, s.Selector, log)
	if err != nil {
		log.Warn("rejecting layer", "error", err)
		a.registry.Unregister(l.Key, l.Index)
		return
	}
	s.AttachPipeline(l.Index, p)
	defer s.DetachPipeline(l.Index)

	a.updateLayerCount(l.Key)
	defer a.updateLayerCount(l.Key)

	if err := p.Run(ctx); err != nil {
		log.Error("pipeline error", "error", err)
	}
	log.Info("layer ended")
}

// updateLayerCount keeps the selector's expected layer count in step with
// the published layers when no fixed count is configured.
func (a *app) updateLayerCount(key string) {
	if a.cfg.ExpectedLayers > 0 {
		return
	}
	if n := a.registry.Layers(key); n > 0 {
		a.mgr.SetLayerCount(key, n)
	}
}
