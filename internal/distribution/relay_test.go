package distribution

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zsiec/simulcast/internal/media"
)

// mockViewer implements the Viewer interface for testing.
type mockViewer struct {
	id     string
	mu     sync.Mutex
	frames []media.MediaFrame
	ids    []uint32
	sent   atomic.Int64
}

func newMockViewer(id string) *mockViewer {
	return &mockViewer{id: id}
}

func (m *mockViewer) ID() string { return m.id }

func (m *mockViewer) SendFrame(outputID uint32, frame media.MediaFrame) {
	m.mu.Lock()
	m.frames = append(m.frames, frame)
	m.ids = append(m.ids, outputID)
	m.mu.Unlock()
	m.sent.Add(1)
}

func (m *mockViewer) Stats() ViewerStats {
	return ViewerStats{ID: m.id, FramesSent: m.sent.Load()}
}

func (m *mockViewer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func (m *mockViewer) timestamps() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.frames))
	for i, f := range m.frames {
		out[i] = f.Timestamp()
	}
	return out
}

func testFrame(ts uint64, intra bool) *media.VideoFrame {
	f := media.NewVideoFrame("vp8", 8)
	f.SetTimestamp(ts)
	f.SetClockRate(90000)
	f.Intra = intra
	f.Width, f.Height = 1280, 720
	f.SetMedia([]byte{0x01, 0x02, 0x03})
	return f
}

func TestRelayAddRemoveViewer(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	v := newMockViewer("v1")

	r.AddViewer(v)
	if r.ViewerCount() != 1 {
		t.Errorf("ViewerCount: got %d, want 1", r.ViewerCount())
	}

	r.RemoveViewer("v1")
	if r.ViewerCount() != 0 {
		t.Errorf("ViewerCount: got %d, want 0", r.ViewerCount())
	}
}

func TestRelayFanOut(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	v1 := newMockViewer("v1")
	v2 := newMockViewer("v2")
	r.AddViewer(v1)
	r.AddViewer(v2)

	r.OnFrame(7, testFrame(0, true))

	if v1.count() != 1 {
		t.Errorf("v1 frame count: got %d, want 1", v1.count())
	}
	if v2.count() != 1 {
		t.Errorf("v2 frame count: got %d, want 1", v2.count())
	}
	if v1.ids[0] != 7 {
		t.Errorf("output id: got %d, want 7", v1.ids[0])
	}
}

func TestRelayGOPReplay(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	r.OnFrame(0, testFrame(0, false)) // before any key frame
	r.OnFrame(0, testFrame(3000, true))
	r.OnFrame(0, testFrame(6000, false))
	r.OnFrame(0, testFrame(9000, true))
	r.OnFrame(0, testFrame(12000, false))

	late := newMockViewer("late")
	r.AddViewer(late)

	got := late.timestamps()
	want := []uint64{9000, 12000}
	if len(got) != len(want) {
		t.Fatalf("replayed %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("replay[%d]: got %d, want %d", i, got[i], want[i])
		}
	}

	r.OnFrame(0, testFrame(15000, false))
	if late.count() != 3 {
		t.Errorf("after live frame: got %d, want 3", late.count())
	}
}

func TestRelayStats(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	r.OnFrame(0, testFrame(0, true))
	r.OnFrame(0, testFrame(3000, false))

	s := r.Stats()
	if s.Frames != 2 || s.IntraFrames != 1 {
		t.Errorf("frames: got %d/%d intra, want 2/1", s.Frames, s.IntraFrames)
	}
	if s.GOPLength != 2 {
		t.Errorf("GOPLength: got %d, want 2", s.GOPLength)
	}
	if s.LastTimestamp != 3000 {
		t.Errorf("LastTimestamp: got %d, want 3000", s.LastTimestamp)
	}
	if s.Width != 1280 || s.Codec != "vp8" {
		t.Errorf("got %d %q, want 1280 vp8", s.Width, s.Codec)
	}
}

func TestRelayViewerStatsAll(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	r.AddViewer(newMockViewer("a"))
	r.AddViewer(newMockViewer("b"))
	r.OnFrame(0, testFrame(0, true))

	stats := r.ViewerStatsAll()
	if len(stats) != 2 {
		t.Fatalf("got %d stats, want 2", len(stats))
	}
	for _, s := range stats {
		if s.FramesSent != 1 {
			t.Errorf("%s FramesSent: got %d, want 1", s.ID, s.FramesSent)
		}
	}
}

func TestRelayConcurrentViewers(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			v := newMockViewer(string(rune('a' + n)))
			r.AddViewer(v)
			r.RemoveViewer(v.ID())
		}(i)
	}
	for i := 0; i < 50; i++ {
		r.OnFrame(0, testFrame(uint64(i)*3000, i%10 == 0))
	}
	wg.Wait()
	if r.ViewerCount() != 0 {
		t.Errorf("ViewerCount: got %d, want 0", r.ViewerCount())
	}
}
