package distribution

import (
	"errors"
	"io"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/simulcast/internal/media"
)

// Frame record flags.
const (
	FlagIntra       = 1 << 0
	FlagNoTimestamp = 1 << 1
)

// Size limits enforced when decoding a record.
const (
	maxCodecNameLen = 32
	maxConfigLen    = 64 * 1024
	maxPayloadLen   = 16 * 1024 * 1024
)

// Record is one decoded output frame as carried on a playback connection.
//
// Wire layout, every integer a QUIC variable-length integer:
//
//	output id | kind+1 | timestamp | capture ms | duration | clock rate |
//	flags | width | height | codec len | codec | config len | config |
//	payload len | payload
type Record struct {
	OutputID  uint32
	Kind      media.Kind
	Timestamp uint64
	Time      uint64
	Duration  uint64
	ClockRate uint32
	Intra     bool
	Width     int
	Height    int
	Codec     string
	Config    []byte
	Payload   []byte
}

// AppendRecord appends the wire form of frame, tagged with outputID, to b.
func AppendRecord(b []byte, outputID uint32, frame media.MediaFrame) []byte {
	var (
		flags         uint64
		width, height int
		codec         string
	)
	switch f := frame.(type) {
	case *media.VideoFrame:
		if f.Intra {
			flags |= FlagIntra
		}
		width, height, codec = f.Width, f.Height, f.Codec
	case *media.AudioFrame:
		codec = f.Codec
	}
	ts := frame.Timestamp()
	if ts > quicvarint.Max {
		flags |= FlagNoTimestamp
		ts = 0
	}

	b = quicvarint.Append(b, uint64(outputID))
	b = quicvarint.Append(b, uint64(frame.Kind()+1))
	b = quicvarint.Append(b, ts)
	b = quicvarint.Append(b, frame.Time())
	b = quicvarint.Append(b, min(frame.Duration(), quicvarint.Max))
	b = quicvarint.Append(b, uint64(frame.ClockRate()))
	b = quicvarint.Append(b, flags)
	b = quicvarint.Append(b, uint64(width))
	b = quicvarint.Append(b, uint64(height))
	b = appendBytes(b, []byte(codec))
	b = appendBytes(b, frame.CodecConfig())
	b = appendBytes(b, frame.Data())
	return b
}

func appendBytes(b, data []byte) []byte {
	b = quicvarint.Append(b, uint64(len(data)))
	return append(b, data...)
}

// ReadRecord decodes one record. It returns io.EOF only when r ends cleanly
// before the first byte of a record.
func ReadRecord(r quicvarint.Reader) (Record, error) {
	var rec Record

	outputID, err := quicvarint.Read(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return rec, io.EOF
		}
		return rec, &ParseError{Field: "output id", Err: err}
	}
	if outputID > 0xFFFFFFFF {
		return rec, &ParseError{Field: "output id", Err: ErrRecordTooLarge}
	}
	rec.OutputID = uint32(outputID)

	kind, err := readVarint(r, "kind")
	if err != nil {
		return rec, err
	}
	if kind > uint64(media.Text)+1 {
		return rec, &ParseError{Field: "kind", Err: ErrUnknownKind}
	}
	rec.Kind = media.Kind(int(kind) - 1)

	if rec.Timestamp, err = readVarint(r, "timestamp"); err != nil {
		return rec, err
	}
	if rec.Time, err = readVarint(r, "time"); err != nil {
		return rec, err
	}
	if rec.Duration, err = readVarint(r, "duration"); err != nil {
		return rec, err
	}
	clock, err := readVarint(r, "clock rate")
	if err != nil {
		return rec, err
	}
	rec.ClockRate = uint32(clock)

	flags, err := readVarint(r, "flags")
	if err != nil {
		return rec, err
	}
	rec.Intra = flags&FlagIntra != 0
	if flags&FlagNoTimestamp != 0 {
		rec.Timestamp = media.NoTimestamp
	}

	w, err := readVarint(r, "width")
	if err != nil {
		return rec, err
	}
	h, err := readVarint(r, "height")
	if err != nil {
		return rec, err
	}
	rec.Width, rec.Height = int(w), int(h)

	codec, err := readBytes(r, "codec", maxCodecNameLen)
	if err != nil {
		return rec, err
	}
	rec.Codec = string(codec)

	if rec.Config, err = readBytes(r, "config", maxConfigLen); err != nil {
		return rec, err
	}
	if rec.Payload, err = readBytes(r, "payload", maxPayloadLen); err != nil {
		return rec, err
	}
	return rec, nil
}

func readVarint(r quicvarint.Reader, field string) (uint64, error) {
	v, err := quicvarint.Read(r)
	if err != nil {
		return 0, &ParseError{Field: field, Err: unexpectedEOF(err)}
	}
	return v, nil
}

func readBytes(r quicvarint.Reader, field string, limit uint64) ([]byte, error) {
	n, err := readVarint(r, field+" length")
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, &ParseError{Field: field, Err: ErrRecordTooLarge}
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, &ParseError{Field: field, Err: unexpectedEOF(err)}
	}
	return buf, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
