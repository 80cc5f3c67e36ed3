package distribution

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quic-go/quic-go/quicvarint"
)

// bufferCloser collects writes and records their sizes.
type bufferCloser struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writes []int
	closed bool
	fail   error
}

func (b *bufferCloser) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return 0, b.fail
	}
	b.writes = append(b.writes, len(p))
	return b.buf.Write(p)
}

func (b *bufferCloser) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *bufferCloser) snapshot() ([]byte, []int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...), append([]int(nil), b.writes...), b.closed
}

func TestWriterViewerWritesRecords(t *testing.T) {
	t.Parallel()

	out := &bufferCloser{}
	v := NewWriterViewer(out, "10.0.0.1:9000", 8, nil)
	if v.ID() == "" {
		t.Fatal("empty viewer id")
	}

	big := testFrame(3000, false)
	big.SetMedia(make([]byte, 4000))
	v.SendFrame(5, testFrame(0, true))
	v.SendFrame(5, big)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for v.Stats().FramesSent < 2 {
		select {
		case <-deadline:
			t.Fatalf("FramesSent: got %d, want 2", v.Stats().FramesSent)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, writes, closed := out.snapshot()
	if !closed {
		t.Error("writer not closed after Run")
	}
	for i, n := range writes {
		if n > maxWriteChunk {
			t.Errorf("write %d: %d bytes exceeds %d", i, n, maxWriteChunk)
		}
	}

	r := quicvarint.NewReader(bytes.NewReader(data))
	first, err := ReadRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	if first.OutputID != 5 || !first.Intra {
		t.Errorf("first record: got id %d intra %v", first.OutputID, first.Intra)
	}
	second, err := ReadRecord(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Payload) != 4000 {
		t.Errorf("second payload: got %d bytes, want 4000", len(second.Payload))
	}
	if got := v.Stats().BytesSent; got != int64(len(data)) {
		t.Errorf("BytesSent: got %d, want %d", got, len(data))
	}
}

func TestWriterViewerDropsWhenFull(t *testing.T) {
	t.Parallel()

	v := NewWriterViewer(&bufferCloser{}, "", 2, nil)
	for i := 0; i < 5; i++ {
		v.SendFrame(0, testFrame(uint64(i), false))
	}
	s := v.Stats()
	if s.FramesDropped != 3 {
		t.Errorf("FramesDropped: got %d, want 3", s.FramesDropped)
	}
}

func TestWriterViewerWriteError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	v := NewWriterViewer(&bufferCloser{fail: boom}, "", 0, nil)
	v.SendFrame(0, testFrame(0, true))
	if err := v.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
}

func TestWriterViewerClose(t *testing.T) {
	t.Parallel()

	out := &bufferCloser{}
	v := NewWriterViewer(out, "", 0, nil)
	v.Close()
	v.Close()

	if err := v.Run(context.Background()); !errors.Is(err, ErrViewerClosed) {
		t.Fatalf("got %v, want ErrViewerClosed", err)
	}
	v.SendFrame(0, testFrame(0, true))
	if s := v.Stats(); s.FramesDropped != 0 {
		t.Errorf("FramesDropped after close: got %d, want 0", s.FramesDropped)
	}
}
