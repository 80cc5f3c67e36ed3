package ingest

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	l, err := r.Register("cam", 1, "vp8")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if l.Key != "cam" || l.Index != 1 || l.Codec != "vp8" {
		t.Fatalf("got %s/%d/%s, want cam/1/vp8", l.Key, l.Index, l.Codec)
	}

	got, ok := r.Get("cam", 1)
	if !ok {
		t.Fatal("Get returned false for registered layer")
	}
	if got != l {
		t.Fatal("Get returned different layer pointer")
	}
	if _, ok := r.Get("cam", 0); ok {
		t.Fatal("Get returned true for unpublished layer")
	}
}

func TestRegistryDuplicateLayer(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	if _, err := r.Register("cam", 0, "vp8"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register("cam", 0, "vp8"); !errors.Is(err, ErrLayerExists) {
		t.Fatalf("got %v, want ErrLayerExists", err)
	}
	if _, err := r.Register("other", 0, "vp8"); err != nil {
		t.Fatalf("same layer on another key: %v", err)
	}
}

func TestRegistryLayersCount(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	for i := uint32(0); i < 3; i++ {
		r.Register("cam", i, "vp8")
	}
	r.Register("other", 0, "vp8")

	if n := r.Layers("cam"); n != 3 {
		t.Fatalf("got %d layers, want 3", n)
	}
	r.Unregister("cam", 1)
	if n := r.Layers("cam"); n != 2 {
		t.Fatalf("got %d layers, want 2", n)
	}

	stats := r.Stats("cam")
	if len(stats) != 2 || stats[0].Layer != 0 || stats[1].Layer != 2 {
		t.Fatalf("unexpected stats order: %+v", stats)
	}
}

func TestRegistryUnregisterMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	// Should not panic.
	r.Unregister("nonexistent", 0)
}

func TestUnregisterClosesDone(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	l, _ := r.Register("cam", 0, "vp8")
	r.Unregister("cam", 0)

	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed after Unregister")
	}
	if l.Push(&rtp.Packet{}, 12) {
		t.Fatal("Push succeeded after Unregister")
	}
}

func TestLayerPushAndStats(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	l, _ := r.Register("cam", 2, "h264")
	l.SetRemoteAddr("192.168.1.1:5000")

	if !l.Push(&rtp.Packet{Header: rtp.Header{SequenceNumber: 7}}, 100) {
		t.Fatal("Push failed")
	}
	l.Push(&rtp.Packet{Header: rtp.Header{SequenceNumber: 8}}, 200)
	l.RecordDrop()

	pkt := <-l.Packets()
	if pkt.SequenceNumber != 7 {
		t.Fatalf("got seq %d, want 7", pkt.SequenceNumber)
	}

	stats := l.Stats()
	if stats.BytesReceived != 300 {
		t.Fatalf("BytesReceived = %d, want 300", stats.BytesReceived)
	}
	if stats.Packets != 2 {
		t.Fatalf("Packets = %d, want 2", stats.Packets)
	}
	if stats.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", stats.Dropped)
	}
	if stats.RemoteAddr != "192.168.1.1:5000" {
		t.Fatalf("RemoteAddr = %q, want %q", stats.RemoteAddr, "192.168.1.1:5000")
	}
	if stats.ConnectedAt == 0 {
		t.Fatal("ConnectedAt is zero")
	}
}

func TestPushUnblocksOnUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	l, _ := r.Register("cam", 0, "vp8")
	for i := 0; i < packetQueueSize; i++ {
		l.Push(&rtp.Packet{}, 1)
	}

	result := make(chan bool)
	go func() { result <- l.Push(&rtp.Packet{}, 1) }()

	r.Unregister("cam", 0)
	select {
	case ok := <-result:
		if ok {
			t.Fatal("blocked Push reported success")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Push still blocked after Unregister")
	}
}

func TestRegistryOnLayerCallback(t *testing.T) {
	t.Parallel()

	got := make(chan *Layer, 1)
	r := NewRegistry(func(l *Layer) { got <- l })

	want, _ := r.Register("cb", 4, "vp8")

	select {
	case l := <-got:
		if l != want {
			t.Fatal("callback received a different layer")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onLayer callback not called within timeout")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "stream-" + string(rune('A'+n%26))
			idx := uint32(n % 3)
			r.Register(key, idx, "vp8")
			r.Get(key, idx)
			r.Layers(key)
			r.Unregister(key, idx)
		}(i)
	}

	wg.Wait()
}
