package container

// Field is one named entry of a container's data section. Names are not
// unique; a container keeps every field in insertion order.
type Field struct {
	Name  string
	Value Value
}

// NewField creates a field holding v.
func NewField(name string, v Value) Field {
	return Field{Name: name, Value: v.clone()}
}

// Tag returns the wire tag of the field's value.
func (f Field) Tag() Kind {
	return f.Value.Kind()
}

// Equal reports whether two fields have the same name, tag and value.
func (f Field) Equal(o Field) bool {
	return f.Name == o.Name && f.Value.Equal(o.Value)
}

// NewFieldNull creates a null field.
func NewFieldNull(name string) Field { return Field{Name: name, Value: NullValue()} }

// NewFieldBool creates a bool field.
func NewFieldBool(name string, v bool) Field { return Field{Name: name, Value: BoolValue(v)} }

// NewFieldShort creates a short field.
func NewFieldShort(name string, v int16) Field { return Field{Name: name, Value: ShortValue(v)} }

// NewFieldUShort creates an unsigned short field.
func NewFieldUShort(name string, v uint16) Field { return Field{Name: name, Value: UShortValue(v)} }

// NewFieldInt creates an int field.
func NewFieldInt(name string, v int32) Field { return Field{Name: name, Value: IntValue(v)} }

// NewFieldUInt creates an unsigned int field.
func NewFieldUInt(name string, v uint32) Field { return Field{Name: name, Value: UIntValue(v)} }

// NewFieldLong creates a long field.
func NewFieldLong(name string, v int64) Field { return Field{Name: name, Value: LongValue(v)} }

// NewFieldULong creates an unsigned long field.
func NewFieldULong(name string, v uint64) Field { return Field{Name: name, Value: ULongValue(v)} }

// NewFieldLLong creates a long long field.
func NewFieldLLong(name string, v int64) Field { return Field{Name: name, Value: LLongValue(v)} }

// NewFieldULLong creates an unsigned long long field.
func NewFieldULLong(name string, v uint64) Field { return Field{Name: name, Value: ULLongValue(v)} }

// NewFieldFloat creates a float field.
func NewFieldFloat(name string, v float32) Field { return Field{Name: name, Value: FloatValue(v)} }

// NewFieldDouble creates a double field.
func NewFieldDouble(name string, v float64) Field { return Field{Name: name, Value: DoubleValue(v)} }

// NewFieldBytes creates a binary field. The slice is copied.
func NewFieldBytes(name string, v []byte) Field { return Field{Name: name, Value: BytesValue(v)} }

// NewFieldString creates a string field.
func NewFieldString(name string, v string) Field { return Field{Name: name, Value: StringValue(v)} }

// NewFieldContainer creates a nested field from named children.
func NewFieldContainer(name string, children ...Field) Field {
	return Field{Name: name, Value: ContainerValue(children...)}
}

// NewFieldArray creates a nested field whose children are unnamed.
func NewFieldArray(name string, values ...Value) Field {
	return Field{Name: name, Value: ArrayValue(values...)}
}

func cloneFields(in []Field) []Field {
	if len(in) == 0 {
		return nil
	}
	out := make([]Field, len(in))
	for i, f := range in {
		out[i] = Field{Name: f.Name, Value: f.Value.clone()}
	}
	return out
}

func fieldsEqual(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func nilIfEmpty(in []Field) []Field {
	if len(in) == 0 {
		return nil
	}
	return in
}
