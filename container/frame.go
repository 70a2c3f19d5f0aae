package container

import (
	"bufio"
	"errors"
	"io"
)

// DefaultMaxFrameBytes bounds a single frame read from a stream.
const DefaultMaxFrameBytes = 8 << 20

// Limits bounds what a FrameReader accepts.
type Limits struct {
	MaxFrameBytes int
}

// DefaultLimits returns the limits used when none are given.
func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: DefaultMaxFrameBytes}
}

// FrameReader splits a byte stream into container frames. A frame ends with
// the terminator of its second top level section. Bytes of an incomplete
// frame are kept when the underlying reader fails, so a read that timed out
// can be retried without losing data.
//
// FrameReader is not safe for concurrent use.
type FrameReader struct {
	r      *bufio.Reader
	limits Limits

	buf      []byte
	depth    int
	escaped  bool
	closing  bool
	sections int
}

// NewFrameReader wraps r. A non-positive MaxFrameBytes selects the default.
func NewFrameReader(r io.Reader, limits Limits) *FrameReader {
	if limits.MaxFrameBytes <= 0 {
		limits.MaxFrameBytes = DefaultMaxFrameBytes
	}
	return &FrameReader{r: bufio.NewReader(r), limits: limits}
}

// Buffered reports how many bytes of an incomplete frame are held.
func (fr *FrameReader) Buffered() int { return len(fr.buf) }

// ReadFrame returns the raw bytes of the next complete frame. io.EOF means
// the stream ended cleanly between frames; io.ErrUnexpectedEOF means it ended
// inside one.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for {
		c, err := fr.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(fr.buf) == 0 {
					return nil, io.EOF
				}
				fr.reset()
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if len(fr.buf) == 0 && isSpace(c) {
			continue
		}
		fr.buf = append(fr.buf, c)
		if len(fr.buf) > fr.limits.MaxFrameBytes {
			fr.reset()
			return nil, ErrFrameTooLarge
		}

		if fr.escaped {
			fr.escaped = false
			continue
		}
		if fr.closing {
			if c != ';' {
				return nil, fr.fail("expected ';' after section")
			}
			fr.closing = false
			fr.sections++
			if fr.sections == 2 {
				frame := fr.buf
				fr.buf = nil
				fr.reset()
				return frame, nil
			}
			continue
		}

		switch c {
		case '\\':
			fr.escaped = true
		case '{', '[':
			fr.depth++
		case '}', ']':
			fr.depth--
			if fr.depth < 0 {
				return nil, fr.fail("unbalanced closing bracket")
			}
			if fr.depth == 0 {
				if c != '}' {
					return nil, fr.fail("entry outside of a section")
				}
				fr.closing = true
			}
		}
	}
}

// Read returns the next decoded container.
func (fr *FrameReader) Read() (*Container, error) {
	frame, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	return Decode(frame)
}

func (fr *FrameReader) fail(reason string) error {
	err := &FramingError{Offset: len(fr.buf) - 1, Reason: reason}
	fr.reset()
	return err
}

func (fr *FrameReader) reset() {
	fr.buf = fr.buf[:0]
	fr.depth = 0
	fr.escaped = false
	fr.closing = false
	fr.sections = 0
}
