package container

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainer(t *testing.T) {
	t.Run("New stamps default version", func(t *testing.T) {
		c := New("src", "1", "dst", "2", "echo_test")

		assert.Equal(t, DefaultVersion, c.Version())
		assert.Equal(t, "src", c.SourceID())
		assert.Equal(t, "1", c.SourceSubID())
		assert.Equal(t, "dst", c.TargetID())
		assert.Equal(t, "2", c.TargetSubID())
		assert.Equal(t, "echo_test", c.MessageType())
	})

	t.Run("Add keeps duplicates in insertion order", func(t *testing.T) {
		c := New("a", "", "b", "", "t")
		c.AddField("k", IntValue(1)).AddField("other", BoolValue(true)).AddField("k", IntValue(2))

		fields := c.Fields("k")
		require.Len(t, fields, 2)
		first, _ := fields[0].Value.AsInt()
		second, _ := fields[1].Value.AsInt()
		assert.Equal(t, int64(1), first)
		assert.Equal(t, int64(2), second)
		assert.Equal(t, 3, c.Len())
	})

	t.Run("Field lookups report missing names", func(t *testing.T) {
		c := New("a", "", "b", "", "t")

		_, ok := c.Field("nope")
		assert.False(t, ok)
		_, ok = c.LastField("nope")
		assert.False(t, ok)
		assert.Empty(t, c.Fields("nope"))
	})

	t.Run("Remove drops every match", func(t *testing.T) {
		c := New("a", "", "b", "", "t",
			NewFieldString("k", "1"),
			NewFieldString("x", "keep"),
			NewFieldString("k", "2"),
		)

		assert.Equal(t, 2, c.Remove("k"))
		assert.Equal(t, 0, c.Remove("k"))
		require.Equal(t, 1, c.Len())
		assert.Equal(t, "x", c.Data()[0].Name)
	})

	t.Run("Copy is deep", func(t *testing.T) {
		c := New("a", "", "b", "", "t", NewFieldContainer("n", NewFieldString("k", "v")))

		full := c.Copy(true)
		headerOnly := c.Copy(false)
		c.AddField("extra", NullValue())
		c.SwapHeader()

		assert.Equal(t, 1, full.Len())
		assert.Equal(t, "a", full.SourceID())
		assert.Equal(t, 0, headerOnly.Len())
		assert.Equal(t, "t", headerOnly.MessageType())
	})

	t.Run("Data returns a copy", func(t *testing.T) {
		c := New("a", "", "b", "", "t", NewFieldString("k", "v"))

		data := c.Data()
		data[0].Name = "changed"

		_, ok := c.Field("k")
		assert.True(t, ok)
	})

	t.Run("SwapHeader exchanges source and target", func(t *testing.T) {
		c := New("client", "c1", "server", "s1", "echo_test")

		c.SwapHeader()

		h := c.Header()
		assert.Equal(t, "server", h.SourceID)
		assert.Equal(t, "s1", h.SourceSubID)
		assert.Equal(t, "client", h.TargetID)
		assert.Equal(t, "c1", h.TargetSubID)
		assert.Equal(t, "echo_test", h.MessageType)
	})

	t.Run("Equal", func(t *testing.T) {
		a := New("a", "", "b", "", "t", NewFieldDouble("d", 1))
		b := New("a", "", "b", "", "t", NewFieldDouble("d", 1))

		assert.True(t, a.Equal(b))
		b.AddField("x", NullValue())
		assert.False(t, a.Equal(b))
		assert.False(t, a.Equal(nil))
		var nilC *Container
		assert.True(t, nilC.Equal(nil))
	})
}

func TestValue(t *testing.T) {
	t.Run("zero value is null", func(t *testing.T) {
		var v Value

		assert.True(t, v.IsNull())
		assert.Equal(t, KindNull, v.Kind())
		assert.Equal(t, "", v.String())
	})

	t.Run("typed accessors reject other kinds", func(t *testing.T) {
		v := StringValue("x")

		_, err := v.AsInt()
		assert.ErrorIs(t, err, ErrKindMismatch)
		_, err = v.AsBool()
		assert.ErrorIs(t, err, ErrKindMismatch)
		_, err = v.Items()
		assert.ErrorIs(t, err, ErrKindMismatch)
		s, err := v.AsString()
		require.NoError(t, err)
		assert.Equal(t, "x", s)
	})

	t.Run("integers widen", func(t *testing.T) {
		n, err := ShortValue(-3).AsInt()
		require.NoError(t, err)
		assert.Equal(t, int64(-3), n)

		u, err := UShortValue(7).AsUint()
		require.NoError(t, err)
		assert.Equal(t, uint64(7), u)

		_, err = UIntValue(1).AsInt()
		assert.ErrorIs(t, err, ErrKindMismatch)
	})

	t.Run("bytes are copied in and out", func(t *testing.T) {
		src := []byte("abc")
		v := BytesValue(src)
		src[0] = 'z'

		out, err := v.AsBytes()
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), out)
		out[1] = 'z'
		again, _ := v.AsBytes()
		assert.Equal(t, []byte("abc"), again)
	})

	t.Run("kind names", func(t *testing.T) {
		assert.Equal(t, "string", KindString.String())
		assert.Equal(t, "container", KindContainer.String())
		assert.False(t, Kind('z').Valid())
		k, ok := ParseKind('b')
		assert.True(t, ok)
		assert.Equal(t, KindDouble, k)
	})

	t.Run("same text different kind is not equal", func(t *testing.T) {
		assert.False(t, IntValue(1).Equal(LongValue(1)))
		assert.True(t, LongValue(1).Equal(LongValue(1)))
	})
}

func TestVersion(t *testing.T) {
	valid := []Version{"", "1", "1.0", "1.0.0.0", "10.20.30.40"}
	for _, v := range valid {
		assert.NoError(t, v.Validate(), string(v))
	}
	invalid := []Version{"v1", "1..0", "1.0.0.0.0", "1.-1", "."}
	for _, v := range invalid {
		assert.Error(t, v.Validate(), string(v))
	}

	segs, err := DefaultVersion.Segments()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 0, 0}, segs)

	t.Run("ParseVersion", func(t *testing.T) {
		v, err := ParseVersion("3.2")
		require.NoError(t, err)
		assert.Equal(t, Version("3.2"), v)

		_, err = ParseVersion("v2")
		assert.ErrorIs(t, err, ErrInvalidVersion)
	})

	t.Run("FromHeader rejects versions the decoder would refuse", func(t *testing.T) {
		c, err := FromHeader(Header{MessageType: "x", Version: "v2"})

		assert.ErrorIs(t, err, ErrInvalidVersion)
		assert.Nil(t, c)
	})
}

func TestNestingDepth(t *testing.T) {
	t.Run("depth counts container levels", func(t *testing.T) {
		assert.Equal(t, 0, StringValue("x").Depth())
		assert.Equal(t, 1, ArrayValue(IntValue(1)).Depth())
		assert.Equal(t, 1, ContainerValue().Depth())
		assert.Equal(t, 3, nestedField(3).Value.Depth())
	})

	t.Run("decoded values keep their depth", func(t *testing.T) {
		c, err := Decode(Encode(New("s", "", "t", "", "deep", nestedField(5))))
		require.NoError(t, err)

		f, ok := c.Field("n")
		require.True(t, ok)
		assert.Equal(t, 5, f.Value.Depth())
	})

	t.Run("building past the limit panics", func(t *testing.T) {
		deepest := nestedField(MaxDepth)

		assert.NotPanics(t, func() { _ = NewFieldContainer("ok", NewFieldString("x", "y")) })
		assert.Panics(t, func() { _ = NewFieldContainer("n", deepest) })
		assert.Panics(t, func() { _ = ArrayValue(deepest.Value) })
	})
}

func TestExport(t *testing.T) {
	c := New("client", "", "server", "", "echo_test",
		NewFieldString("name", "value"),
		NewFieldInt("count", 3),
		NewFieldArray("targets", StringValue("a")),
	)

	t.Run("json", func(t *testing.T) {
		b, err := c.ToJSON()
		require.NoError(t, err)

		var doc struct {
			Header map[string]string `json:"header"`
			Data   []struct {
				Name  string          `json:"name"`
				Type  string          `json:"type"`
				Value json.RawMessage `json:"value"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(b, &doc))
		assert.Equal(t, "echo_test", doc.Header["message_type"])
		assert.Equal(t, "1.0.0.0", doc.Header["version"])
		require.Len(t, doc.Data, 3)
		assert.Equal(t, "string", doc.Data[0].Type)
		assert.JSONEq(t, `"value"`, string(doc.Data[0].Value))
		assert.JSONEq(t, `3`, string(doc.Data[1].Value))
		assert.Equal(t, "container", doc.Data[2].Type)
	})

	t.Run("xml", func(t *testing.T) {
		b, err := c.ToXML()
		require.NoError(t, err)

		out := string(b)
		assert.True(t, strings.HasPrefix(out, "<container><header>"))
		assert.Contains(t, out, "<message_type>echo_test</message_type>")
		assert.Contains(t, out, `<field name="name" type="string">value</field>`)
		assert.Contains(t, out, `<field name="count" type="int">3</field>`)
		assert.Contains(t, out, `<field name="" type="string">a</field>`)
	})
}
