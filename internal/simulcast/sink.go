// Package simulcast implements the layer-selection engine that turns several
// simulcast encodings of one video source into a single timestamp-continuous
// output stream.
//
// A [Selector] buffers per-layer frames for a selection round that starts on
// the first key frame, picks a winning layer once every layer has reported a
// key frame (or a wait window expires), rewrites timestamps so the output
// timeline stays continuous across switches, and fans the winning frames out
// to registered [FrameSink]s.
//
// All Selector state is confined to one serialized [Executor]. Control
// operations are marshaled onto it; [Selector.OnFrame] must already be
// running on it.
package simulcast

import (
	"time"

	"github.com/zsiec/simulcast/internal/media"
)

// FrameSink receives the selected, timestamp-corrected output frames. The
// frame may be delivered to several sinks; a sink that wants to modify it
// must Clone it first.
type FrameSink interface {
	OnFrame(outputID uint32, frame media.MediaFrame)
}

// Executor runs tasks one at a time in submission order. executor.Loop
// implements it.
type Executor interface {
	Sync(fn func(now time.Time))
}
