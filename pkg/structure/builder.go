package structure

// Builder accumulates items without knowing upfront whether the result is a
// single value or a record.
//
// It holds a single bare value until a second item or any field is added,
// at which point it upgrades to a record with the held value first.
type Builder struct {
	record *RecordMap
	value  Value
}

// Add accumulates item.
func (b *Builder) Add(item Item) error {
	if b.record != nil {
		return b.record.Add(item)
	}

	switch it := item.(type) {
	case Field:
		b.upgrade()
		return b.record.Add(it)
	case Value:
		if b.value == nil {
			b.value = it
			return nil
		}
		b.upgrade()
		return b.record.Add(it)
	}
	return nil
}

func (b *Builder) upgrade() {
	b.record = NewRecordMap()
	if b.value != nil {
		b.record.addMutable(b.value)
		b.value = nil
	}
}

// Len is the number of items accumulated so far.
func (b *Builder) Len() int {
	switch {
	case b.record != nil:
		return b.record.Size()
	case b.value != nil:
		return 1
	default:
		return 0
	}
}

// Bind returns the record if one was built, else the single value, else `Absent`.
func (b *Builder) Bind() Value {
	switch {
	case b.record != nil:
		return b.record
	case b.value != nil:
		return b.value
	default:
		return absentValue
	}
}

// BindRecord always returns a record: the built one, or a new one wrapping
// the single value if any.
func (b *Builder) BindRecord() *RecordMap {
	switch {
	case b.record != nil:
		return b.record
	case b.value != nil:
		return NewRecordMap(b.value)
	default:
		return NewRecordMap()
	}
}
