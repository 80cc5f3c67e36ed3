package media

// VideoFrame is one encoded picture. The selection engine relies on the
// intra flag, the dimensions, the capture time and the clock rate.
type VideoFrame struct {
	Frame
	Codec  string // "vp8" or "h264"
	Width  int
	Height int
	Intra  bool
}

// NewVideoFrame returns a video frame that owns a payload buffer of the given
// capacity.
func NewVideoFrame(codec string, capacity int) *VideoFrame {
	return &VideoFrame{Frame: newFrame(Video, capacity), Codec: codec}
}

// NewVideoFrameShared returns a video frame sharing buf copy-on-write.
func NewVideoFrameShared(codec string, buf *Buffer) *VideoFrame {
	return &VideoFrame{Frame: newSharedFrame(Video, buf), Codec: codec}
}

// Area returns the picture size in pixels.
func (v *VideoFrame) Area() int { return v.Width * v.Height }

// Clone returns an independent deep copy.
func (v *VideoFrame) Clone() MediaFrame {
	c := *v
	c.Frame = v.Frame.clone()
	return &c
}

// AudioFrame is one encoded audio packet.
type AudioFrame struct {
	Frame
	Codec      string
	SampleRate int
	Channels   int
}

// NewAudioFrame returns an audio frame that owns a payload buffer of the
// given capacity.
func NewAudioFrame(codec string, capacity int) *AudioFrame {
	return &AudioFrame{Frame: newFrame(Audio, capacity), Codec: codec}
}

// NewAudioFrameShared returns an audio frame sharing buf copy-on-write.
func NewAudioFrameShared(codec string, buf *Buffer) *AudioFrame {
	return &AudioFrame{Frame: newSharedFrame(Audio, buf), Codec: codec}
}

// Clone returns an independent deep copy.
func (a *AudioFrame) Clone() MediaFrame {
	c := *a
	c.Frame = a.Frame.clone()
	return &c
}

// TextFrame carries timed text such as subtitles or chat.
type TextFrame struct {
	Frame
}

// NewTextFrame returns a text frame holding a copy of text.
func NewTextFrame(text string) *TextFrame {
	t := &TextFrame{Frame: newFrame(Text, len(text))}
	t.SetText(text)
	return t
}

// SetText replaces the payload with text.
func (t *TextFrame) SetText(text string) { t.SetMedia([]byte(text)) }

// Text returns the payload as a string.
func (t *TextFrame) Text() string { return string(t.Data()) }

// Clone returns an independent deep copy.
func (t *TextFrame) Clone() MediaFrame {
	c := *t
	c.Frame = t.Frame.clone()
	return &c
}
