package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/zsiec/simulcast/internal/distribution"
)

// Play attaches a viewer writing to w to the stream's relay and blocks until
// ctx is cancelled, the stream ends, or the viewer fails. w is closed on
// return.
func (m *Manager) Play(ctx context.Context, key string, w io.WriteCloser, remoteAddr string) error {
	s, ok := m.Get(key)
	if !ok {
		w.Close()
		return fmt.Errorf("play %q: %w", key, ErrStreamNotFound)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	v := distribution.NewWriterViewer(w, remoteAddr, m.cfg.ViewerBuffer, m.log.With("stream", key))
	s.Relay.AddViewer(v)
	defer s.Relay.RemoveViewer(v.ID())

	return v.Run(ctx)
}
