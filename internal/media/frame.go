// Package media defines the frame types that flow through the relay, from
// RTP depacketization through layer selection to distribution. A frame owns
// its payload exclusively or shares it copy-on-write with the frame it was
// created from; every mutating accessor copies a shared payload first.
package media

import "math"

// Kind identifies the media carried by a frame.
type Kind int

// Frame kinds.
const (
	Unknown Kind = iota - 1
	Audio
	Video
	Text
)

func (k Kind) String() string {
	switch k {
	case Audio:
		return "Audio"
	case Video:
		return "Video"
	case Text:
		return "Text"
	default:
		return "Unknown"
	}
}

// NoTimestamp marks a frame whose presentation timestamp was never set or
// was cleared by Reset.
const NoTimestamp = math.MaxUint64

// DefaultClockRate is the timestamp clock rate of a freshly created frame,
// in ticks per second.
const DefaultClockRate = 1000

// MediaFrame is implemented by every frame variant. Sinks receiving a frame
// that want to modify it must Clone it first: the same frame value may be
// delivered to several sinks.
type MediaFrame interface {
	Kind() Kind
	Timestamp() uint64
	SetTimestamp(ts uint64)
	SSRC() uint32
	Duration() uint64
	ClockRate() uint32
	Time() uint64
	Len() int
	Data() []byte
	CodecConfig() []byte
	Packetization() []Packetization
	Clone() MediaFrame
}

// Frame holds the state common to all frame kinds. It is embedded by
// VideoFrame, AudioFrame and TextFrame.
type Frame struct {
	kind      Kind
	ts        uint64
	ssrc      uint32
	duration  uint64
	clockRate uint32
	time      uint64

	buffer *Buffer
	owned  bool

	config []byte
	hints  []Packetization
}

func newFrame(kind Kind, capacity int) Frame {
	return Frame{
		kind:      kind,
		ts:        NoTimestamp,
		clockRate: DefaultClockRate,
		buffer:    NewBuffer(capacity),
		owned:     true,
	}
}

func newSharedFrame(kind Kind, buf *Buffer) Frame {
	if buf == nil {
		buf = NewBuffer(0)
	}
	return Frame{
		kind:      kind,
		ts:        NoTimestamp,
		clockRate: DefaultClockRate,
		buffer:    buf,
	}
}

// Kind returns the media kind.
func (f *Frame) Kind() Kind { return f.kind }

// Timestamp returns the presentation timestamp in clock-rate ticks.
func (f *Frame) Timestamp() uint64 { return f.ts }

// SetTimestamp sets the presentation timestamp.
func (f *Frame) SetTimestamp(ts uint64) { f.ts = ts }

// SSRC returns the synchronization source identifier.
func (f *Frame) SSRC() uint32 { return f.ssrc }

// SetSSRC sets the synchronization source identifier.
func (f *Frame) SetSSRC(ssrc uint32) { f.ssrc = ssrc }

// Duration returns the frame duration in clock-rate ticks.
func (f *Frame) Duration() uint64 { return f.duration }

// SetDuration sets the frame duration.
func (f *Frame) SetDuration(d uint64) { f.duration = d }

// ClockRate returns the timestamp clock rate in ticks per second.
func (f *Frame) ClockRate() uint32 { return f.clockRate }

// SetClockRate sets the timestamp clock rate.
func (f *Frame) SetClockRate(rate uint32) { f.clockRate = rate }

// Time returns the capture time in milliseconds.
func (f *Frame) Time() uint64 { return f.time }

// SetTime sets the capture time in milliseconds.
func (f *Frame) SetTime(ms uint64) { f.time = ms }

// Len returns the payload length.
func (f *Frame) Len() int { return f.buffer.Len() }

// Cap returns the payload capacity.
func (f *Frame) Cap() int { return f.buffer.Cap() }

// Data returns a read-only view of the payload. The slice may be shared with
// other frames and must not be written to; use MutableData for that.
func (f *Frame) Data() []byte { return f.buffer.Bytes() }

// Owned reports whether the frame exclusively owns its payload buffer.
func (f *Frame) Owned() bool { return f.owned }

// MutableData returns the payload for in-place modification, copying it first
// if it is shared.
func (f *Frame) MutableData() []byte {
	f.acquire()
	return f.buffer.Bytes()
}

// SetLength truncates or zero-extends the payload.
func (f *Frame) SetLength(n int) {
	f.acquire()
	f.buffer.SetSize(n)
}

// Alloc ensures the payload can grow to n bytes without reallocating.
func (f *Frame) Alloc(n int) {
	f.acquire()
	f.buffer.Alloc(n)
}

// SetMedia replaces the payload with a copy of data.
func (f *Frame) SetMedia(data []byte) {
	f.acquire()
	f.buffer.SetData(data)
}

// AppendMedia appends data to the payload and returns the offset at which
// the appended bytes start.
func (f *Frame) AppendMedia(data []byte) int {
	pos := f.buffer.Len()
	f.acquire()
	f.buffer.Append(data)
	return pos
}

// ResetData drops the current payload and starts a new, exclusively owned
// one with the given capacity.
func (f *Frame) ResetData(capacity int) {
	f.buffer = NewBuffer(capacity)
	f.owned = true
}

// AllocateCodecConfig replaces the codec configuration with a zeroed blob of
// n bytes and returns it for the caller to fill.
func (f *Frame) AllocateCodecConfig(n int) []byte {
	f.config = make([]byte, n)
	return f.config
}

// SetCodecConfig replaces the codec configuration with a copy of data.
func (f *Frame) SetCodecConfig(data []byte) {
	copy(f.AllocateCodecConfig(len(data)), data)
}

// ClearCodecConfig removes the codec configuration.
func (f *Frame) ClearCodecConfig() { f.config = nil }

// HasCodecConfig reports whether a non-empty codec configuration is set.
func (f *Frame) HasCodecConfig() bool { return len(f.config) > 0 }

// CodecConfig returns the out-of-band codec configuration, if any.
func (f *Frame) CodecConfig() []byte { return f.config }

// AddPacketization records how a span of the payload maps onto one wire
// unit. The prefix is copied.
func (f *Frame) AddPacketization(pos, size int, prefix []byte) {
	f.hints = append(f.hints, newPacketization(pos, size, prefix))
}

// Packetization returns the recorded packetization hints in order.
func (f *Frame) Packetization() []Packetization { return f.hints }

// HasPacketization reports whether any packetization hints are recorded.
func (f *Frame) HasPacketization() bool { return len(f.hints) > 0 }

// ClearPacketization drops all packetization hints.
func (f *Frame) ClearPacketization() { f.hints = nil }

// Reset clears hints and payload and marks the timestamp unset.
func (f *Frame) Reset() {
	f.ClearPacketization()
	f.ResetData(0)
	f.ts = NoTimestamp
}

// acquire makes the payload exclusively owned, copying a shared buffer.
func (f *Frame) acquire() {
	if f.owned {
		return
	}
	f.buffer = NewBufferFrom(f.buffer.Bytes())
	f.owned = true
}

// clone returns a deep copy that exclusively owns its payload.
func (f *Frame) clone() Frame {
	c := *f
	c.buffer = NewBufferFrom(f.buffer.Bytes())
	c.owned = true
	if f.config != nil {
		c.config = append([]byte(nil), f.config...)
	}
	if f.hints != nil {
		c.hints = make([]Packetization, len(f.hints))
		for i, h := range f.hints {
			c.hints[i] = newPacketization(h.Pos, h.Size, h.Prefix)
		}
	}
	return c
}
