package container

import (
	"encoding/json"
	"encoding/xml"
)

type exportHeader struct {
	TargetID    string `json:"target_id" xml:"target_id"`
	TargetSubID string `json:"target_sub_id" xml:"target_sub_id"`
	SourceID    string `json:"source_id" xml:"source_id"`
	SourceSubID string `json:"source_sub_id" xml:"source_sub_id"`
	MessageType string `json:"message_type" xml:"message_type"`
	Version     string `json:"version" xml:"version"`
}

type exportField struct {
	XMLName  xml.Name      `json:"-" xml:"field"`
	Name     string        `json:"name" xml:"name,attr"`
	Type     string        `json:"type" xml:"type,attr"`
	Value    any           `json:"value" xml:"-"`
	Text     string        `json:"-" xml:",chardata"`
	Children []exportField `json:"-" xml:"field"`
}

type exportContainer struct {
	XMLName xml.Name      `json:"-" xml:"container"`
	Header  exportHeader  `json:"header" xml:"header"`
	Data    []exportField `json:"data" xml:"data>field"`
}

// ToJSON renders the header and data tree as JSON. It is a read-only view;
// the wire format is Encode.
func (c *Container) ToJSON() ([]byte, error) {
	return json.Marshal(c.export())
}

// ToXML renders the header and data tree as XML.
func (c *Container) ToXML() ([]byte, error) {
	return xml.Marshal(c.export())
}

func (c *Container) export() exportContainer {
	h := c.header
	return exportContainer{
		Header: exportHeader{
			TargetID:    h.TargetID,
			TargetSubID: h.TargetSubID,
			SourceID:    h.SourceID,
			SourceSubID: h.SourceSubID,
			MessageType: h.MessageType,
			Version:     string(h.Version),
		},
		Data: exportFields(c.data),
	}
}

func exportFields(fields []Field) []exportField {
	out := make([]exportField, 0, len(fields))
	for _, f := range fields {
		out = append(out, exportOne(f))
	}
	return out
}

func exportOne(f Field) exportField {
	v := f.Value
	ef := exportField{Name: f.Name, Type: v.Kind().String()}
	switch k := v.Kind(); {
	case k == KindNull:
		ef.Value = nil
	case k == KindBool:
		ef.Value = v.b
		ef.Text = v.String()
	case k.signed():
		ef.Value = v.i
		ef.Text = v.String()
	case k.unsigned():
		ef.Value = v.u
		ef.Text = v.String()
	case k == KindFloat || k == KindDouble:
		ef.Value = v.f
		ef.Text = v.String()
	case k == KindBytes:
		// encoding/json renders []byte as base64, same as the wire text.
		ef.Value = v.raw
		ef.Text = v.String()
	case k == KindString:
		ef.Value = v.s
		ef.Text = v.s
	case k == KindContainer:
		ef.Children = exportFields(v.items)
		ef.Value = ef.Children
	}
	return ef
}
