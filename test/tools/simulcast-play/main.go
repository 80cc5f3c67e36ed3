// simulcast-play connects to a simulcastd play endpoint, decodes the output
// frame records and reports resolution switches and timestamp jumps.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/simulcast/internal/distribution"
	"github.com/zsiec/simulcast/internal/media"
)

func main() {
	addrFlag := flag.String("addr", "127.0.0.1:6000", "SRT server address")
	keyFlag := flag.String("key", "demo", "Stream key")
	durFlag := flag.Duration("duration", 0, "Stop after this long (0 = until the stream ends)")
	flag.Parse()

	cfg := srt.DefaultConfig()
	cfg.StreamID = "play/" + *keyFlag

	conn, err := srt.Dial(*addrFlag, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "SRT connect failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if *durFlag > 0 {
		time.AfterFunc(*durFlag, func() { conn.Close() })
	}

	var w watcher
	r := bufio.NewReaderSize(conn, 64*1024)
	for {
		rec, err := distribution.ReadRecord(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintf(os.Stderr, "read: %v\n", err)
			}
			break
		}
		for _, ev := range w.observe(rec) {
			fmt.Println(ev)
		}
	}
	fmt.Printf("%d frames, %d intra, %d switches, %d timestamp jumps\n",
		w.frames, w.intra, w.switches, w.jumps)
}

// watcher tracks consecutive video records of one output.
type watcher struct {
	frames   int
	intra    int
	switches int
	jumps    int

	started bool
	last    distribution.Record
}

// maxStep is the largest timestamp advance between consecutive frames that is
// not reported as a jump, in seconds.
const maxStep = 1

func (w *watcher) observe(rec distribution.Record) []string {
	if rec.Kind != media.Video {
		return nil
	}
	w.frames++
	if rec.Intra {
		w.intra++
	}

	var events []string
	if !w.started {
		w.started = true
		events = append(events, fmt.Sprintf("output %d: first frame %dx%d %s ts=%d",
			rec.OutputID, rec.Width, rec.Height, rec.Codec, rec.Timestamp))
		w.last = rec
		return events
	}

	if rec.Width != w.last.Width || rec.Height != w.last.Height {
		w.switches++
		events = append(events, fmt.Sprintf("switch %dx%d -> %dx%d at ts=%d intra=%v",
			w.last.Width, w.last.Height, rec.Width, rec.Height, rec.Timestamp, rec.Intra))
	}
	if rec.Timestamp <= w.last.Timestamp {
		w.jumps++
		events = append(events, fmt.Sprintf("timestamp went back: %d -> %d", w.last.Timestamp, rec.Timestamp))
	} else if rate := uint64(rec.ClockRate); rate > 0 && rec.Timestamp-w.last.Timestamp > maxStep*rate {
		w.jumps++
		events = append(events, fmt.Sprintf("timestamp jumped: %d -> %d", w.last.Timestamp, rec.Timestamp))
	}
	w.last = rec
	return events
}
