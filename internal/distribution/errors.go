package distribution

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordTooLarge is returned when a length field exceeds the limit.
	ErrRecordTooLarge = errors.New("distribution: record field too large")
	// ErrUnknownKind is returned for a media kind outside the known set.
	ErrUnknownKind = errors.New("distribution: unknown media kind")
	// ErrViewerClosed is returned by WriterViewer.Run after Close.
	ErrViewerClosed = errors.New("distribution: viewer closed")
)

// ParseError reports which field of a frame record failed to decode.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("distribution: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
