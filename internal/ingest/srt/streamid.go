package srt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidStreamID is returned for stream ids that name neither a
// publication nor a playback.
var ErrInvalidStreamID = errors.New("srt: invalid stream id")

// Mode is what a connection wants to do with a stream.
type Mode int

// Connection modes selected by the stream id prefix.
const (
	ModePublish Mode = iota
	ModePlay
)

func (m Mode) String() string {
	if m == ModePlay {
		return "play"
	}
	return "publish"
}

// StreamID is a parsed SRT stream id. Publishers send
// "live/<key>/<layer>[/<codec>]" and viewers send "play/<key>".
type StreamID struct {
	Mode  Mode
	Key   string
	Layer uint32
	Codec string // empty means the server default
}

// String formats id back into its wire form.
func (id StreamID) String() string {
	if id.Mode == ModePlay {
		return "play/" + id.Key
	}
	s := fmt.Sprintf("live/%s/%d", id.Key, id.Layer)
	if id.Codec != "" {
		s += "/" + id.Codec
	}
	return s
}

// ParseStreamID parses the stream id sent during the SRT handshake.
func ParseStreamID(s string) (StreamID, error) {
	parts := strings.Split(strings.TrimPrefix(s, "/"), "/")
	switch parts[0] {
	case "play":
		if len(parts) != 2 || parts[1] == "" {
			return StreamID{}, fmt.Errorf("%w: %q", ErrInvalidStreamID, s)
		}
		return StreamID{Mode: ModePlay, Key: parts[1]}, nil
	case "live":
		if len(parts) < 3 || len(parts) > 4 || parts[1] == "" {
			return StreamID{}, fmt.Errorf("%w: %q", ErrInvalidStreamID, s)
		}
		layer, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return StreamID{}, fmt.Errorf("%w: layer %q", ErrInvalidStreamID, parts[2])
		}
		id := StreamID{Mode: ModePublish, Key: parts[1], Layer: uint32(layer)}
		if len(parts) == 4 {
			if parts[3] == "" {
				return StreamID{}, fmt.Errorf("%w: %q", ErrInvalidStreamID, s)
			}
			id.Codec = strings.ToLower(parts[3])
		}
		return id, nil
	default:
		return StreamID{}, fmt.Errorf("%w: %q", ErrInvalidStreamID, s)
	}
}
