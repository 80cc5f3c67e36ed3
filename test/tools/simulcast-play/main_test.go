package main

import (
	"testing"

	"github.com/zsiec/simulcast/internal/distribution"
	"github.com/zsiec/simulcast/internal/media"
)

func video(ts uint64, w, h int, intra bool) distribution.Record {
	return distribution.Record{
		Kind:      media.Video,
		Timestamp: ts,
		ClockRate: 90000,
		Width:     w,
		Height:    h,
		Intra:     intra,
	}
}

func TestWatcherCountsSwitches(t *testing.T) {
	t.Parallel()

	var w watcher
	w.observe(video(1000, 640, 360, true))
	w.observe(video(4000, 640, 360, false))
	events := w.observe(video(7000, 1280, 720, true))

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %v", len(events), events)
	}
	if w.switches != 1 {
		t.Errorf("switches: got %d, want 1", w.switches)
	}
	if w.intra != 2 {
		t.Errorf("intra: got %d, want 2", w.intra)
	}
	if w.jumps != 0 {
		t.Errorf("jumps: got %d, want 0", w.jumps)
	}
}

func TestWatcherReportsJumps(t *testing.T) {
	t.Parallel()

	var w watcher
	w.observe(video(90000, 640, 360, true))
	w.observe(video(90000, 640, 360, false))
	w.observe(video(500000, 640, 360, false))

	if w.jumps != 2 {
		t.Errorf("jumps: got %d, want 2", w.jumps)
	}
	if w.frames != 3 {
		t.Errorf("frames: got %d, want 3", w.frames)
	}
}

func TestWatcherIgnoresNonVideo(t *testing.T) {
	t.Parallel()

	var w watcher
	if ev := w.observe(distribution.Record{Kind: media.Text}); ev != nil {
		t.Errorf("got events %v, want none", ev)
	}
	if w.frames != 0 {
		t.Errorf("frames: got %d, want 0", w.frames)
	}
}
