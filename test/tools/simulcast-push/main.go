// simulcast-push publishes synthetic VP8 simulcast layers to a simulcastd
// SRT listener, one SRT connection per layer.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	srt "github.com/zsiec/srtgo"
)

const (
	rtpMTU       = 1200
	payloadType  = 96
	vp8ClockRate = 90000
)

// layerSpec describes one synthetic encoding.
type layerSpec struct {
	Index  uint32
	Width  int
	Height int
	// BytesPerFrame is the delta frame size; key frames are four times it.
	BytesPerFrame int
}

var ladder = []layerSpec{
	{Index: 0, Width: 320, Height: 180, BytesPerFrame: 600},
	{Index: 1, Width: 640, Height: 360, BytesPerFrame: 1800},
	{Index: 2, Width: 1280, Height: 720, BytesPerFrame: 5000},
}

func main() {
	addrFlag := flag.String("addr", "127.0.0.1:6000", "SRT server address")
	keyFlag := flag.String("key", "demo", "Stream key")
	layersFlag := flag.Int("layers", len(ladder), "Number of layers to publish (1-3)")
	fpsFlag := flag.Int("fps", 30, "Frames per second")
	gopFlag := flag.Int("gop", 60, "Frames between key frames")
	stopFlag := flag.Duration("stop-top-after", 0, "Stop the highest layer after this long (0 = never)")
	flag.Parse()

	if *layersFlag < 1 || *layersFlag > len(ladder) {
		fmt.Fprintf(os.Stderr, "layers must be between 1 and %d\n", len(ladder))
		os.Exit(1)
	}

	var wg sync.WaitGroup
	for i, spec := range ladder[:*layersFlag] {
		var stopAfter time.Duration
		if i == *layersFlag-1 {
			stopAfter = *stopFlag
		}
		wg.Add(1)
		go func(spec layerSpec, stopAfter time.Duration) {
			defer wg.Done()
			pushLayer(*addrFlag, *keyFlag, spec, *fpsFlag, *gopFlag, stopAfter)
		}(spec, stopAfter)
	}
	wg.Wait()
}

func pushLayer(addr, key string, spec layerSpec, fps, gop int, stopAfter time.Duration) {
	streamID := fmt.Sprintf("live/%s/%d/vp8", key, spec.Index)
	for {
		fmt.Printf("[%s] Connecting to SRT %s...\n", streamID, addr)

		cfg := srt.DefaultConfig()
		cfg.StreamID = streamID

		conn, err := srt.Dial(addr, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] SRT connect failed: %v, retrying...\n", streamID, err)
			time.Sleep(time.Second)
			continue
		}

		fmt.Printf("[%s] Connected, %dx%d\n", streamID, spec.Width, spec.Height)
		err = streamLoop(conn, spec, fps, gop, stopAfter)
		conn.Close()
		if err == nil {
			fmt.Printf("[%s] Stopped\n", streamID)
			return
		}
		fmt.Fprintf(os.Stderr, "[%s] Connection lost: %v, reconnecting...\n", streamID, err)
		time.Sleep(time.Second)
	}
}

func streamLoop(conn *srt.Conn, spec layerSpec, fps, gop int, stopAfter time.Duration) error {
	packetizer := rtp.NewPacketizer(rtpMTU, payloadType, rand.Uint32(), &codecs.VP8Payloader{},
		rtp.NewRandomSequencer(), vp8ClockRate)
	samples := uint32(vp8ClockRate / fps)
	interval := time.Second / time.Duration(fps)

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		if stopAfter > 0 && time.Since(start) >= stopAfter {
			return nil
		}
		frame := synthFrame(spec, n%gop == 0, n)
		for _, pkt := range packetizer.Packetize(frame, samples) {
			raw, err := pkt.Marshal()
			if err != nil {
				return err
			}
			if _, err := conn.Write(raw); err != nil {
				return err
			}
		}
		<-ticker.C
	}
}

// synthFrame builds a VP8 frame the receiver can classify: key frames carry
// the start code and picture size, delta frames only a frame tag.
func synthFrame(spec layerSpec, key bool, n int) []byte {
	size := spec.BytesPerFrame
	if key {
		size *= 4
	}
	frame := make([]byte, size)
	for i := range frame {
		frame[i] = byte(n + i)
	}

	// 3-byte frame tag: bit 0 is the inverse key frame flag, bit 4 show_frame.
	tag := uint32(size-3)<<5 | 1<<4
	if !key {
		tag |= 1
	}
	frame[0], frame[1], frame[2] = byte(tag), byte(tag>>8), byte(tag>>16)
	if key {
		frame[3], frame[4], frame[5] = 0x9d, 0x01, 0x2a
		frame[6], frame[7] = byte(spec.Width), byte(spec.Width>>8)&0x3f
		frame[8], frame[9] = byte(spec.Height), byte(spec.Height>>8)&0x3f
	}
	return frame
}
