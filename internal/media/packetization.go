package media

import "log/slog"

// Packetization describes how a span of a frame payload was carried on the
// wire: Size bytes starting at Pos, optionally preceded by Prefix bytes that
// are not part of the payload (for example an H.264 FU indicator).
type Packetization struct {
	Pos    int
	Size   int
	Prefix []byte
}

func newPacketization(pos, size int, prefix []byte) Packetization {
	p := Packetization{Pos: pos, Size: size}
	if len(prefix) > 0 {
		p.Prefix = append([]byte(nil), prefix...)
	}
	return p
}

// TotalLength returns the size of the wire unit including its prefix.
func (p Packetization) TotalLength() int {
	return p.Size + len(p.Prefix)
}

// LogValue implements slog.LogValuer.
func (p Packetization) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("pos", p.Pos),
		slog.Int("size", p.Size),
		slog.Int("prefixLen", len(p.Prefix)),
	)
}
