package container

import (
	"bytes"
	"fmt"
	"strconv"
)

// Decode parses one serialized container. The input must hold exactly one
// frame, optionally surrounded by whitespace.
func Decode(b []byte) (*Container, error) {
	d := &decoder{buf: b}
	d.skipSpace()
	h, err := d.header()
	if err != nil {
		return nil, err
	}
	d.skipSpace()
	data, err := d.data()
	if err != nil {
		return nil, err
	}
	d.skipSpace()
	if d.pos != len(d.buf) {
		return nil, d.framing("trailing bytes after data section")
	}
	return &Container{header: h, data: data}, nil
}

// Parse decodes a container from its text form.
func Parse(text string) (*Container, error) {
	return Decode([]byte(text))
}

// DecodeField parses a single [name,tag,value] entry starting at cursor and
// returns the offset just past its closing bracket.
func DecodeField(b []byte, cursor int) (Field, int, error) {
	if cursor < 0 || cursor > len(b) {
		return Field{}, cursor, &FramingError{Offset: cursor, Reason: "cursor out of range"}
	}
	d := &decoder{buf: b, pos: cursor}
	f, err := d.field()
	if err != nil {
		return Field{}, d.pos, err
	}
	return f, d.pos, nil
}

type decoder struct {
	buf   []byte
	pos   int
	depth int
}

func (d *decoder) framing(format string, args ...any) error {
	return &FramingError{Offset: d.pos, Reason: fmt.Sprintf(format, args...)}
}

func (d *decoder) eof() bool { return d.pos >= len(d.buf) }

func (d *decoder) skipSpace() {
	for d.pos < len(d.buf) && isSpace(d.buf[d.pos]) {
		d.pos++
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

func (d *decoder) expect(lit string) error {
	rest := d.buf[d.pos:]
	if bytes.HasPrefix(rest, []byte(lit)) {
		d.pos += len(lit)
		return nil
	}
	if len(rest) < len(lit) && bytes.HasPrefix([]byte(lit), rest) {
		d.pos = len(d.buf)
		return d.framing("truncated, expected %q", lit)
	}
	return d.framing("expected %q", lit)
}

func (d *decoder) header() (Header, error) {
	var h Header
	if err := d.expect(headerOpen); err != nil {
		return h, err
	}
	var seen [headerCount]bool
	for {
		d.skipSpace()
		if d.eof() {
			return h, d.framing("truncated header section")
		}
		switch d.buf[d.pos] {
		case '}':
			return h, d.expect(sectionEnd)
		case '[':
		default:
			return h, d.framing("unexpected %q in header section", d.buf[d.pos])
		}

		start := d.pos
		d.pos++
		idText, err := d.token(',', "")
		if err != nil {
			return h, err
		}
		value, err := d.token(']', idText)
		if err != nil {
			return h, err
		}
		id, err := strconv.Atoi(idText)
		if err != nil || id < 1 || id > headerCount {
			return h, &FieldError{Field: idText, Offset: start, Reason: "unknown header id"}
		}
		if seen[id-1] {
			return h, &FieldError{Field: idText, Offset: start, Reason: "duplicate header id"}
		}
		seen[id-1] = true

		switch id {
		case idTargetID:
			h.TargetID = value
		case idTargetSubID:
			h.TargetSubID = value
		case idSourceID:
			h.SourceID = value
		case idSourceSubID:
			h.SourceSubID = value
		case idMessageType:
			h.MessageType = value
		case idVersion:
			v := Version(value)
			if err := v.Validate(); err != nil {
				return h, &FieldError{Field: idText, Offset: start, Reason: err.Error()}
			}
			h.Version = v
		}
		if err := d.entryEnd(); err != nil {
			return h, err
		}
	}
}

func (d *decoder) data() ([]Field, error) {
	if err := d.expect(dataOpen); err != nil {
		return nil, err
	}
	var fields []Field
	for {
		d.skipSpace()
		if d.eof() {
			return nil, d.framing("truncated data section")
		}
		switch d.buf[d.pos] {
		case '}':
			if err := d.expect(sectionEnd); err != nil {
				return nil, err
			}
			return fields, nil
		case '[':
		default:
			return nil, d.framing("unexpected %q in data section", d.buf[d.pos])
		}
		f, err := d.field()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		if err := d.entryEnd(); err != nil {
			return nil, err
		}
	}
}

func (d *decoder) entryEnd() error {
	if d.eof() {
		return d.framing("truncated after entry")
	}
	if d.buf[d.pos] != ';' {
		return d.framing("expected ';' after entry, got %q", d.buf[d.pos])
	}
	d.pos++
	return nil
}

func (d *decoder) field() (Field, error) {
	if d.eof() {
		return Field{}, d.framing("truncated, expected field")
	}
	if d.buf[d.pos] != '[' {
		return Field{}, d.framing("expected '[', got %q", d.buf[d.pos])
	}
	start := d.pos
	d.pos++
	name, err := d.token(',', "")
	if err != nil {
		return Field{}, err
	}
	tag, err := d.token(',', name)
	if err != nil {
		return Field{}, err
	}
	if len(tag) != 1 {
		return Field{}, &FieldError{Field: name, Offset: start, Reason: fmt.Sprintf("invalid tag %q", tag)}
	}
	kind, ok := ParseKind(tag[0])
	if !ok {
		return Field{}, &FieldError{Field: name, Offset: start, Reason: fmt.Sprintf("unknown tag %q", tag)}
	}

	if kind == KindContainer {
		v, err := d.containerValue(name, start)
		if err != nil {
			return Field{}, err
		}
		return Field{Name: name, Value: v}, nil
	}

	text, err := d.token(']', name)
	if err != nil {
		return Field{}, err
	}
	v, err := parseScalar(kind, text)
	if err != nil {
		return Field{}, &FieldError{Field: name, Offset: start, Reason: err.Error()}
	}
	return Field{Name: name, Value: v}, nil
}

// containerValue reads "<count>]" or "<count>{<fields>}]". The count is
// checked against the children actually read, never used to drive reading.
func (d *decoder) containerValue(name string, start int) (Value, error) {
	d.depth++
	defer func() { d.depth-- }()
	if d.depth > MaxDepth {
		return Value{}, &FieldError{Field: name, Offset: start, Reason: "nesting too deep"}
	}

	countStart := d.pos
	for d.pos < len(d.buf) && d.buf[d.pos] >= '0' && d.buf[d.pos] <= '9' {
		d.pos++
	}
	countText := string(d.buf[countStart:d.pos])
	if d.eof() {
		return Value{}, d.framing("truncated container value")
	}

	var children []Field
	switch d.buf[d.pos] {
	case ']':
		d.pos++
	case '{':
		d.pos++
		for {
			if d.eof() {
				return Value{}, d.framing("truncated nested fields")
			}
			if d.buf[d.pos] == '}' {
				d.pos++
				break
			}
			f, err := d.field()
			if err != nil {
				return Value{}, err
			}
			children = append(children, f)
			if err := d.entryEnd(); err != nil {
				return Value{}, err
			}
		}
		if d.eof() {
			return Value{}, d.framing("truncated after nested fields")
		}
		if d.buf[d.pos] != ']' {
			return Value{}, d.framing("expected ']' after nested fields, got %q", d.buf[d.pos])
		}
		d.pos++
	default:
		return Value{}, &FieldError{Field: name, Offset: start, Reason: fmt.Sprintf("invalid container count near %q", d.buf[d.pos])}
	}

	if countText != "" {
		n, err := strconv.Atoi(countText)
		if err != nil {
			return Value{}, &FieldError{Field: name, Offset: start, Reason: fmt.Sprintf("invalid container count %q", countText)}
		}
		if n != len(children) {
			return Value{}, &FieldError{Field: name, Offset: start, Reason: fmt.Sprintf("count %d does not match %d children", n, len(children))}
		}
	}
	return nested(children), nil
}

// token reads an escaped span up to stop and consumes the stop byte. Any
// other unescaped delimiter inside the span is a malformed field.
func (d *decoder) token(stop byte, field string) (string, error) {
	start := d.pos
	var out []byte
	escaped := false
	for d.pos < len(d.buf) {
		c := d.buf[d.pos]
		switch {
		case c == '\\':
			if d.pos+1 >= len(d.buf) {
				d.pos = len(d.buf)
				return "", d.framing("truncated escape")
			}
			if !escaped {
				out = append(out, d.buf[start:d.pos]...)
				escaped = true
			}
			out = append(out, d.buf[d.pos+1])
			d.pos += 2
			continue
		case c == stop:
			var s string
			if escaped {
				s = string(out)
			} else {
				s = string(d.buf[start:d.pos])
			}
			d.pos++
			return s, nil
		case isDelimiter(c):
			return "", &FieldError{Field: field, Offset: d.pos, Reason: fmt.Sprintf("unescaped %q", c)}
		}
		if escaped {
			out = append(out, c)
		}
		d.pos++
	}
	return "", d.framing("truncated entry")
}
