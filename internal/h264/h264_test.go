package h264

import (
	"bytes"
	"errors"
	"testing"
)

var sps720p = []byte{
	0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50, 0x05, 0xbb, 0xff, 0x00,
	0x03, 0x00, 0x04, 0x6a, 0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
	0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
}

func TestParseSPS720p(t *testing.T) {
	t.Parallel()
	info, err := ParseSPS(sps720p)
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	if info.Width != 1280 || info.Height != 720 {
		t.Errorf("got %dx%d, want 1280x720", info.Width, info.Height)
	}
	if info.ProfileIDC != 100 {
		t.Errorf("profile: got %d, want 100", info.ProfileIDC)
	}
	if info.LevelIDC != 31 {
		t.Errorf("level: got %d, want 31", info.LevelIDC)
	}
	if got := info.CodecString(); got != "avc1.64001F" {
		t.Errorf("codec string: got %q, want %q", got, "avc1.64001F")
	}
}

func TestParseSPSTooShort(t *testing.T) {
	t.Parallel()
	for _, in := range [][]byte{nil, {}, {0x67, 0x64, 0x00}} {
		if _, err := ParseSPS(in); !errors.Is(err, ErrShortSPS) {
			t.Errorf("ParseSPS(%x): got %v, want ErrShortSPS", in, err)
		}
	}
}

func TestParseSPSTruncated(t *testing.T) {
	t.Parallel()
	if _, err := ParseSPS(sps720p[:8]); err == nil {
		t.Fatal("expected error for truncated SPS")
	}
}

func TestParseAnnexB(t *testing.T) {
	t.Parallel()
	var stream []byte
	stream = append(stream, 0, 0, 0, 1)
	stream = append(stream, sps720p...)
	stream = append(stream, 0, 0, 1, 0x68, 0xeb, 0xe3, 0xcb)
	stream = append(stream, 0, 0, 0, 1, 0x65, 0x88, 0x84)

	units := ParseAnnexB(stream)
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}
	wantTypes := []byte{NALTypeSPS, NALTypePPS, NALTypeIDR}
	for i, u := range units {
		if u.Type != wantTypes[i] {
			t.Errorf("unit %d: got type %d, want %d", i, u.Type, wantTypes[i])
		}
	}
	if !bytes.Equal(units[0].Data, sps720p) {
		t.Error("SPS payload mismatch")
	}
	if !IsSPS(units[0].Type) || !IsPPS(units[1].Type) || !IsKeyframe(units[2].Type) {
		t.Error("type helpers disagree with parsed types")
	}
}

func TestParseAnnexBNoStartCode(t *testing.T) {
	t.Parallel()
	if units := ParseAnnexB([]byte{0x65, 0x88, 0x84, 0x00}); len(units) != 0 {
		t.Errorf("got %d units, want 0", len(units))
	}
	if units := ParseAnnexB(nil); units != nil {
		t.Errorf("got %v, want nil", units)
	}
}

func TestBuildAVCDecoderConfig(t *testing.T) {
	t.Parallel()
	pps := []byte{0x68, 0xeb, 0xe3, 0xcb}
	cfg := BuildAVCDecoderConfig(sps720p, pps)
	if len(cfg) != 11+len(sps720p)+len(pps) {
		t.Fatalf("got length %d, want %d", len(cfg), 11+len(sps720p)+len(pps))
	}
	if cfg[0] != 1 || cfg[1] != 0x64 || cfg[3] != 0x1f {
		t.Errorf("header: got % x", cfg[:4])
	}
	if cfg[5] != 0xE1 {
		t.Errorf("numSPS byte: got %#x, want 0xe1", cfg[5])
	}
	if n := int(cfg[6])<<8 | int(cfg[7]); n != len(sps720p) {
		t.Errorf("sps length: got %d, want %d", n, len(sps720p))
	}
	if BuildAVCDecoderConfig(nil, pps) != nil {
		t.Error("expected nil without SPS")
	}
	if BuildAVCDecoderConfig(sps720p, nil) != nil {
		t.Error("expected nil without PPS")
	}
}

func TestRemoveEmulationPrevention(t *testing.T) {
	t.Parallel()
	got := removeEmulationPrevention([]byte{0x00, 0x00, 0x03, 0x01, 0x05})
	want := []byte{0x00, 0x00, 0x01, 0x05}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}
