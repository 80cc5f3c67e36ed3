// Package rtpframe reassembles RTP packets of one simulcast layer into
// media.VideoFrame values ready for layer selection.
package rtpframe

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/zsiec/simulcast/internal/h264"
	"github.com/zsiec/simulcast/internal/media"
)

// ClockRate is the RTP video clock used for every assembled frame.
const ClockRate = 90000

// Codec names accepted by New.
const (
	CodecVP8  = "vp8"
	CodecH264 = "h264"
)

var (
	// ErrIncompleteFrame is returned when a frame is dropped because of a
	// sequence gap or a missing marker bit.
	ErrIncompleteFrame = errors.New("rtpframe: incomplete frame")
	// ErrUnsupportedCodec is returned for codecs without a depacketizer.
	ErrUnsupportedCodec = errors.New("rtpframe: unsupported codec")
)

const initialFrameCap = 16 * 1024

// Assembler collects the packets of one layer into frames. It is not safe
// for concurrent use; each layer's pipeline owns one.
type Assembler struct {
	layer uint32
	codec string
	now   func() time.Time
	log   *slog.Logger

	frame   *media.VideoFrame
	ts      uint32
	nextSeq uint16
	broken  bool

	vp8  codecs.VP8Packet
	h264 codecs.H264Packet
	sps  []byte
	pps  []byte

	// last known picture size, carried onto delta frames
	width  int
	height int
}

// New returns an Assembler for the given layer and codec. A nil now uses
// time.Now. If log is nil, slog.Default() is used.
func New(layer uint32, codec string, now func() time.Time, log *slog.Logger) (*Assembler, error) {
	if codec != CodecVP8 && codec != CodecH264 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, codec)
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{
		layer: layer,
		codec: codec,
		now:   now,
		log:   log.With("component", "rtpframe", "layer", layer, "codec", codec),
	}, nil
}

// Layer returns the layer index frames are assembled for.
func (a *Assembler) Layer() uint32 { return a.layer }

// Push adds one packet. It returns a frame when pkt carries the marker bit
// and every packet of the frame arrived in sequence. A frame abandoned by a
// timestamp change or completed with a gap yields ErrIncompleteFrame.
func (a *Assembler) Push(pkt *rtp.Packet) (*media.VideoFrame, error) {
	var dropped bool
	if a.frame != nil && pkt.Timestamp != a.ts {
		a.log.Debug("frame abandoned without marker", "ts", a.ts)
		a.frame = nil
		dropped = true
	}

	if a.frame == nil {
		a.begin(pkt)
	} else if pkt.SequenceNumber != a.nextSeq {
		a.broken = true
	}
	a.nextSeq = pkt.SequenceNumber + 1

	if !a.broken {
		if err := a.depacketize(pkt.Payload); err != nil {
			a.log.Debug("depacketize failed", "seq", pkt.SequenceNumber, "error", err)
			a.broken = true
		}
	}

	if !pkt.Marker {
		if dropped {
			return nil, ErrIncompleteFrame
		}
		return nil, nil
	}

	f, broken := a.frame, a.broken
	a.frame = nil
	if broken || f.Len() == 0 {
		return nil, ErrIncompleteFrame
	}
	if f.Width == 0 && f.Height == 0 {
		f.Width, f.Height = a.width, a.height
	}
	return f, nil
}

func (a *Assembler) begin(pkt *rtp.Packet) {
	f := media.NewVideoFrame(a.codec, initialFrameCap)
	f.SetTimestamp(uint64(pkt.Timestamp))
	f.SetClockRate(ClockRate)
	f.SetTime(uint64(a.now().UnixMilli()))
	f.SetSSRC(pkt.SSRC)
	a.frame = f
	a.ts = pkt.Timestamp
	a.broken = false
}

func (a *Assembler) depacketize(payload []byte) error {
	switch a.codec {
	case CodecVP8:
		return a.pushVP8(payload)
	default:
		return a.pushH264(payload)
	}
}

func (a *Assembler) pushVP8(payload []byte) error {
	data, err := a.vp8.Unmarshal(payload)
	if err != nil {
		return err
	}
	f := a.frame
	if a.vp8.S == 1 && a.vp8.PID == 0 && len(data) > 0 {
		// P bit of the VP8 payload header: 0 marks a key frame.
		if data[0]&0x01 == 0 {
			f.Intra = true
			if w, h, ok := vp8KeyFrameSize(data); ok {
				a.width, a.height = w, h
				f.Width, f.Height = w, h
			}
		}
	}
	pos := f.AppendMedia(data)
	f.AddPacketization(pos, len(data), nil)
	return nil
}

// vp8KeyFrameSize reads the dimensions following the key frame start code.
func vp8KeyFrameSize(data []byte) (int, int, bool) {
	if len(data) < 10 || data[3] != 0x9d || data[4] != 0x01 || data[5] != 0x2a {
		return 0, 0, false
	}
	w := int(data[6]) | int(data[7])<<8
	h := int(data[8]) | int(data[9])<<8
	return w & 0x3fff, h & 0x3fff, true
}

func (a *Assembler) pushH264(payload []byte) error {
	data, err := a.h264.Unmarshal(payload)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		// fragment of a larger NAL unit
		return nil
	}
	f := a.frame
	var paramsChanged bool
	for _, nal := range h264.ParseAnnexB(data) {
		switch {
		case h264.IsKeyframe(nal.Type):
			f.Intra = true
		case h264.IsSPS(nal.Type):
			info, err := h264.ParseSPS(nal.Data)
			if err != nil {
				a.log.Warn("invalid SPS", "error", err)
				continue
			}
			a.sps = append(a.sps[:0], nal.Data...)
			a.width, a.height = info.Width, info.Height
			f.Width, f.Height = info.Width, info.Height
			paramsChanged = true
		case h264.IsPPS(nal.Type):
			a.pps = append(a.pps[:0], nal.Data...)
			paramsChanged = true
		}
	}
	if paramsChanged || (f.Intra && !f.HasCodecConfig()) {
		if cfg := h264.BuildAVCDecoderConfig(a.sps, a.pps); cfg != nil {
			f.SetCodecConfig(cfg)
		}
	}
	pos := f.AppendMedia(data)
	f.AddPacketization(pos, len(data), nil)
	return nil
}
