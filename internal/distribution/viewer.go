package distribution

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/simulcast/internal/media"
)

// DefaultViewerBuffer is the number of frames a WriterViewer queues before
// it starts dropping.
const DefaultViewerBuffer = 120

// maxWriteChunk caps each Write so a record never exceeds one SRT live-mode
// payload (7 MPEG-TS packets' worth, 188 * 7).
const maxWriteChunk = 1316

type outFrame struct {
	outputID uint32
	frame    media.MediaFrame
}

// WriterViewer is a Viewer that serialises frames as records onto a byte
// stream such as an SRT playback connection. SendFrame never blocks: when
// the queue is full the new frame is dropped.
type WriterViewer struct {
	id          string
	log         *slog.Logger
	w           io.WriteCloser
	remoteAddr  string
	connectedAt time.Time

	frames    chan outFrame
	done      chan struct{}
	closeOnce sync.Once

	sent    atomic.Int64
	dropped atomic.Int64
	bytes   atomic.Int64
}

// NewWriterViewer creates a viewer writing to w. A bufSize of zero or less
// uses DefaultViewerBuffer. If log is nil, slog.Default() is used.
func NewWriterViewer(w io.WriteCloser, remoteAddr string, bufSize int, log *slog.Logger) *WriterViewer {
	if log == nil {
		log = slog.Default()
	}
	if bufSize <= 0 {
		bufSize = DefaultViewerBuffer
	}
	id := uuid.NewString()
	return &WriterViewer{
		id:          id,
		log:         log.With("component", "viewer", "viewer", id, "remote", remoteAddr),
		w:           w,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		frames:      make(chan outFrame, bufSize),
		done:        make(chan struct{}),
	}
}

// ID returns the viewer's unique id.
func (v *WriterViewer) ID() string { return v.id }

// SendFrame queues frame for writing, dropping it if the queue is full.
func (v *WriterViewer) SendFrame(outputID uint32, frame media.MediaFrame) {
	select {
	case <-v.done:
		return
	default:
	}
	select {
	case v.frames <- outFrame{outputID: outputID, frame: frame}:
	default:
		v.dropped.Add(1)
	}
}

// Stats returns the viewer's delivery metrics.
func (v *WriterViewer) Stats() ViewerStats {
	return ViewerStats{
		ID:            v.id,
		RemoteAddr:    v.remoteAddr,
		FramesSent:    v.sent.Load(),
		FramesDropped: v.dropped.Load(),
		BytesSent:     v.bytes.Load(),
		ConnectedAt:   v.connectedAt.UnixMilli(),
	}
}

// Run writes queued frames until ctx is cancelled, Close is called, or a
// write fails. The underlying writer is closed on return.
func (v *WriterViewer) Run(ctx context.Context) error {
	defer v.Close()

	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-v.done:
			return ErrViewerClosed
		case f := <-v.frames:
			buf = AppendRecord(buf[:0], f.outputID, f.frame)
			if err := v.write(buf); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
			v.sent.Add(1)
		}
	}
}

func (v *WriterViewer) write(b []byte) error {
	for len(b) > 0 {
		n := min(len(b), maxWriteChunk)
		written, err := v.w.Write(b[:n])
		v.bytes.Add(int64(written))
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Close stops the viewer and closes the underlying writer. It is safe to
// call more than once.
func (v *WriterViewer) Close() {
	v.closeOnce.Do(func() {
		close(v.done)
		if err := v.w.Close(); err != nil {
			v.log.Debug("close writer", "error", err)
		}
	})
}
