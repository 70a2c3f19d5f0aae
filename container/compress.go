package container

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// CompressedField names the bytes field that carries a deflated data section.
const CompressedField = "@deflate"

// DefaultCompressBlockSize is the block size used when none is configured.
const DefaultCompressBlockSize = 1024

// Compression deflates data sections. The header stays plain text so
// compressed containers can still be routed without inflating them.
type Compression struct {
	// BlockSize is the smallest encoded data section worth deflating;
	// shorter ones are sent as is.
	BlockSize int
	// Level is a flate level. Zero selects flate.DefaultCompression.
	Level int
}

// DefaultCompression returns the default block size and level.
func DefaultCompression() Compression {
	return Compression{BlockSize: DefaultCompressBlockSize, Level: flate.DefaultCompression}
}

func (cfg Compression) blockSize() int {
	if cfg.BlockSize <= 0 {
		return DefaultCompressBlockSize
	}
	return cfg.BlockSize
}

// Compress returns a container with the same header whose data section is
// one CompressedField holding the deflated original. Small and already
// compressed containers are returned unchanged.
func (cfg Compression) Compress(c *Container) (*Container, error) {
	if c == nil || IsCompressed(c) {
		return c, nil
	}
	body := appendFields(nil, c.data)
	if len(body) < cfg.blockSize() {
		return c, nil
	}

	level := cfg.Level
	if level == 0 {
		level = flate.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("container: compress: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return nil, fmt.Errorf("container: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("container: compress: %w", err)
	}

	return &Container{
		header: c.header,
		data:   []Field{{Name: CompressedField, Value: Value{kind: KindBytes, raw: buf.Bytes()}}},
	}, nil
}

// IsCompressed reports whether c carries a deflated data section.
func IsCompressed(c *Container) bool {
	return c != nil &&
		len(c.data) == 1 &&
		c.data[0].Name == CompressedField &&
		c.data[0].Value.Kind() == KindBytes
}

// Decompress reverses Compress. Containers that are not compressed are
// returned unchanged. The inflated section is bounded by limits.MaxFrameBytes.
func Decompress(c *Container, limits Limits) (*Container, error) {
	if !IsCompressed(c) {
		return c, nil
	}
	limit := limits.MaxFrameBytes
	if limit <= 0 {
		limit = DefaultMaxFrameBytes
	}

	r := flate.NewReader(bytes.NewReader(c.data[0].Value.raw))
	defer r.Close()
	body, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, &FieldError{Field: CompressedField, Reason: "inflate: " + err.Error()}
	}
	if len(body) > limit {
		return nil, fmt.Errorf("%w: inflated data section exceeds %d bytes", ErrFrameTooLarge, limit)
	}

	section := make([]byte, 0, len(dataOpen)+len(body)+len(sectionEnd))
	section = append(section, dataOpen...)
	section = append(section, body...)
	section = append(section, sectionEnd...)
	d := &decoder{buf: section}
	data, err := d.data()
	if err != nil {
		return nil, err
	}
	if d.pos != len(section) {
		return nil, d.framing("trailing bytes after inflated data section")
	}
	return &Container{header: c.header, data: data}, nil
}
