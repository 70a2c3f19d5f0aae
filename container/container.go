package container

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the header version token: empty or dotted numeric ("1.0.0.0").
type Version string

// DefaultVersion is stamped on containers built with New.
const DefaultVersion Version = "1.0.0.0"

// ParseVersion checks s and returns it as a Version.
func ParseVersion(s string) (Version, error) {
	v := Version(s)
	if err := v.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidVersion, err)
	}
	return v, nil
}

// Validate checks the token shape. An empty version is valid.
func (v Version) Validate() error {
	_, err := v.Segments()
	return err
}

// Segments returns the numeric parts of the version.
func (v Version) Segments() ([]int, error) {
	if v == "" {
		return nil, nil
	}
	parts := strings.Split(string(v), ".")
	if len(parts) > 4 {
		return nil, fmt.Errorf("version %q has more than 4 segments", string(v))
	}
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("version %q: invalid segment %q", string(v), p)
		}
		out[i] = n
	}
	return out, nil
}

// Header is the routing part of a container. Every field may be empty; an
// empty sub id means "no sub id".
type Header struct {
	TargetID    string
	TargetSubID string
	SourceID    string
	SourceSubID string
	MessageType string
	Version     Version
}

// Container is a header plus an ordered data section. Build one with New or
// FromHeader; the message type cannot be changed afterwards.
type Container struct {
	header Header
	data   []Field
}

// New builds a container. Identity arguments may be empty strings.
func New(sourceID, sourceSubID, targetID, targetSubID, messageType string, fields ...Field) *Container {
	return &Container{
		header: Header{
			TargetID:    targetID,
			TargetSubID: targetSubID,
			SourceID:    sourceID,
			SourceSubID: sourceSubID,
			MessageType: messageType,
			Version:     DefaultVersion,
		},
		data: cloneFields(fields),
	}
}

// FromHeader builds a container from an explicit header. The version must
// be empty or a dotted numeric token, see ParseVersion.
func FromHeader(h Header, fields ...Field) (*Container, error) {
	if err := h.Version.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVersion, err)
	}
	return &Container{header: h, data: cloneFields(fields)}, nil
}

// Header returns a copy of the routing header.
func (c *Container) Header() Header { return c.header }

// MessageType returns the opaque message kind.
func (c *Container) MessageType() string { return c.header.MessageType }

// SourceID returns the sender id.
func (c *Container) SourceID() string { return c.header.SourceID }

// SourceSubID returns the sender sub id.
func (c *Container) SourceSubID() string { return c.header.SourceSubID }

// TargetID returns the receiver id.
func (c *Container) TargetID() string { return c.header.TargetID }

// TargetSubID returns the receiver sub id.
func (c *Container) TargetSubID() string { return c.header.TargetSubID }

// Version returns the header version token.
func (c *Container) Version() Version { return c.header.Version }

// Add appends fields to the data section without any uniqueness check.
func (c *Container) Add(fields ...Field) *Container {
	for _, f := range fields {
		c.data = append(c.data, Field{Name: f.Name, Value: f.Value.clone()})
	}
	return c
}

// AddField appends a single named value.
func (c *Container) AddField(name string, v Value) *Container {
	return c.Add(Field{Name: name, Value: v})
}

// Data returns a copy of the data section.
func (c *Container) Data() []Field {
	return cloneFields(c.data)
}

// Len returns the number of top level data fields.
func (c *Container) Len() int { return len(c.data) }

// Field returns the first field with the given name.
func (c *Container) Field(name string) (Field, bool) {
	for _, f := range c.data {
		if f.Name == name {
			return Field{Name: f.Name, Value: f.Value.clone()}, true
		}
	}
	return Field{}, false
}

// LastField returns the last field with the given name, the value an
// application sees under last-wins semantics.
func (c *Container) LastField(name string) (Field, bool) {
	for i := len(c.data) - 1; i >= 0; i-- {
		if c.data[i].Name == name {
			return Field{Name: name, Value: c.data[i].Value.clone()}, true
		}
	}
	return Field{}, false
}

// Fields returns every field with the given name in order.
func (c *Container) Fields(name string) []Field {
	var out []Field
	for _, f := range c.data {
		if f.Name == name {
			out = append(out, Field{Name: f.Name, Value: f.Value.clone()})
		}
	}
	return out
}

// Remove deletes every field with the given name and returns how many were removed.
func (c *Container) Remove(name string) int {
	kept := c.data[:0]
	removed := 0
	for _, f := range c.data {
		if f.Name == name {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	for i := len(kept); i < len(c.data); i++ {
		c.data[i] = Field{}
	}
	c.data = nilIfEmpty(kept)
	return removed
}

// Copy returns a deep copy. With withData false only the header is copied.
func (c *Container) Copy(withData bool) *Container {
	out := &Container{header: c.header}
	if withData {
		out.data = cloneFields(c.data)
	}
	return out
}

// SwapHeader exchanges source and target identities, turning a received
// container into its reply.
func (c *Container) SwapHeader() {
	h := &c.header
	h.SourceID, h.TargetID = h.TargetID, h.SourceID
	h.SourceSubID, h.TargetSubID = h.TargetSubID, h.SourceSubID
}

// Serialize returns the wire text of the container.
func (c *Container) Serialize() string {
	return string(Encode(c))
}

func (c *Container) String() string {
	return c.Serialize()
}

// Equal reports whether two containers have identical headers and data.
func (c *Container) Equal(o *Container) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.header == o.header && fieldsEqual(c.data, o.data)
}
