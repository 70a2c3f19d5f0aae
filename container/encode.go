package container

import "strconv"

const (
	headerOpen  = "@header={"
	dataOpen    = "@data={"
	sectionEnd  = "};"
	headerCount = 6
)

// MaxDepth is the deepest container nesting the codec writes or reads.
const MaxDepth = 64

// Header ids on the wire.
const (
	idTargetID = iota + 1
	idTargetSubID
	idSourceID
	idSourceSubID
	idMessageType
	idVersion
)

// Encode serializes c. A nil container encodes as an empty header and data
// section. The returned slice is never shared with c.
func Encode(c *Container) []byte {
	if c == nil {
		c = &Container{}
	}
	dst := make([]byte, 0, 128+32*len(c.data))
	dst = append(dst, headerOpen...)
	for id, v := range headerValues(c.header) {
		dst = append(dst, '[')
		dst = strconv.AppendInt(dst, int64(id+1), 10)
		dst = append(dst, ',')
		dst = appendEscaped(dst, v)
		dst = append(dst, "];"...)
	}
	dst = append(dst, sectionEnd...)
	dst = append(dst, dataOpen...)
	dst = appendFields(dst, c.data)
	return append(dst, sectionEnd...)
}

// appendFields writes the body of a data section.
func appendFields(dst []byte, fields []Field) []byte {
	for _, f := range fields {
		dst = appendField(dst, f)
		dst = append(dst, ';')
	}
	return dst
}

// EncodeField serializes a single [name,tag,value] entry.
func EncodeField(f Field) []byte {
	return appendField(nil, f)
}

func appendField(dst []byte, f Field) []byte {
	dst = append(dst, '[')
	dst = appendEscaped(dst, f.Name)
	dst = append(dst, ',', byte(f.Tag()), ',')
	dst = appendValue(dst, f.Value)
	return append(dst, ']')
}

func appendValue(dst []byte, v Value) []byte {
	switch v.Kind() {
	case KindContainer:
		dst = strconv.AppendInt(dst, int64(len(v.items)), 10)
		if len(v.items) == 0 {
			return dst
		}
		dst = append(dst, '{')
		for _, child := range v.items {
			dst = appendField(dst, child)
			dst = append(dst, ';')
		}
		return append(dst, '}')
	case KindString:
		return appendEscaped(dst, v.s)
	default:
		return appendScalar(dst, v)
	}
}

func headerValues(h Header) [headerCount]string {
	return [headerCount]string{
		idTargetID - 1:    h.TargetID,
		idTargetSubID - 1: h.TargetSubID,
		idSourceID - 1:    h.SourceID,
		idSourceSubID - 1: h.SourceSubID,
		idMessageType - 1: h.MessageType,
		idVersion - 1:     string(h.Version),
	}
}
