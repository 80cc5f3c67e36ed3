package distribution

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/simulcast/internal/media"
)

func TestRecordVideoFrame(t *testing.T) {
	t.Parallel()

	f := media.NewVideoFrame("h264", 16)
	f.SetTimestamp(123456)
	f.SetTime(1700000000000)
	f.SetDuration(3000)
	f.SetClockRate(90000)
	f.Width, f.Height = 640, 360
	f.Intra = true
	f.SetCodecConfig([]byte{1, 0x64, 0, 0x1f})
	f.SetMedia([]byte{0, 0, 0, 1, 0x65, 0x88})

	b := AppendRecord(nil, 42, f)
	rec, err := ReadRecord(quicvarint.NewReader(bytes.NewReader(b)))
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if rec.OutputID != 42 {
		t.Errorf("OutputID: got %d, want 42", rec.OutputID)
	}
	if rec.Kind != media.Video {
		t.Errorf("Kind: got %v, want video", rec.Kind)
	}
	if rec.Timestamp != 123456 || rec.Time != 1700000000000 || rec.Duration != 3000 {
		t.Errorf("timing: got %d/%d/%d", rec.Timestamp, rec.Time, rec.Duration)
	}
	if rec.ClockRate != 90000 {
		t.Errorf("ClockRate: got %d, want 90000", rec.ClockRate)
	}
	if !rec.Intra || rec.Width != 640 || rec.Height != 360 || rec.Codec != "h264" {
		t.Errorf("video fields: got %+v", rec)
	}
	if !bytes.Equal(rec.Config, f.CodecConfig()) {
		t.Errorf("Config: got % x", rec.Config)
	}
	if !bytes.Equal(rec.Payload, f.Data()) {
		t.Errorf("Payload: got % x", rec.Payload)
	}
}

func TestRecordUnsetTimestamp(t *testing.T) {
	t.Parallel()

	f := media.NewTextFrame("hello")
	b := AppendRecord(nil, 1, f)
	rec, err := ReadRecord(quicvarint.NewReader(bytes.NewReader(b)))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Timestamp != media.NoTimestamp {
		t.Errorf("Timestamp: got %d, want NoTimestamp", rec.Timestamp)
	}
	if rec.Kind != media.Text || string(rec.Payload) != "hello" {
		t.Errorf("got kind %v payload %q", rec.Kind, rec.Payload)
	}
	if rec.Config != nil {
		t.Errorf("Config: got % x, want nil", rec.Config)
	}
}

func TestReadRecordStream(t *testing.T) {
	t.Parallel()

	var b []byte
	for i := 0; i < 3; i++ {
		b = AppendRecord(b, 9, testFrame(uint64(i)*3000, i == 0))
	}
	r := quicvarint.NewReader(bytes.NewReader(b))
	for i := 0; i < 3; i++ {
		rec, err := ReadRecord(r)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if rec.Timestamp != uint64(i)*3000 {
			t.Errorf("record %d: got ts %d, want %d", i, rec.Timestamp, i*3000)
		}
	}
	if _, err := ReadRecord(r); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestReadRecordTruncated(t *testing.T) {
	t.Parallel()

	b := AppendRecord(nil, 1, testFrame(3000, true))
	for _, n := range []int{1, 5, len(b) - 1} {
		_, err := ReadRecord(quicvarint.NewReader(bytes.NewReader(b[:n])))
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("cut at %d: got %v, want *ParseError", n, err)
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("cut at %d: got %v, want ErrUnexpectedEOF", n, err)
		}
	}
}

func TestReadRecordLimits(t *testing.T) {
	t.Parallel()

	var b []byte
	for _, v := range []uint64{1, 2, 0, 0, 0, 90000, 0, 0, 0} {
		b = quicvarint.Append(b, v)
	}
	b = quicvarint.Append(b, maxCodecNameLen+1)

	_, err := ReadRecord(quicvarint.NewReader(bytes.NewReader(b)))
	if !errors.Is(err, ErrRecordTooLarge) {
		t.Fatalf("got %v, want ErrRecordTooLarge", err)
	}
	var pe *ParseError
	if errors.As(err, &pe) && pe.Field != "codec" {
		t.Errorf("Field: got %q, want %q", pe.Field, "codec")
	}
}

func TestReadRecordUnknownKind(t *testing.T) {
	t.Parallel()

	b := quicvarint.Append(nil, 1)
	b = quicvarint.Append(b, 9)
	if _, err := ReadRecord(quicvarint.NewReader(bytes.NewReader(b))); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("got %v, want ErrUnknownKind", err)
	}
}
