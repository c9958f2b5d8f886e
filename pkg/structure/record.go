package structure

import (
	"slices"
)

const (
	flagImmutable uint8 = 1 << iota
	flagAliased
)

// Record is the behaviour shared by `*RecordMap` and `*RecordMapView`.
type Record interface {
	Value

	Size() int
	FieldCount() int
	ItemAt(i int) Item
	Items() []Item
	Tag() string

	Add(item Item) error
	Branch() *RecordMap
	Commit()
	IsMutable() bool

	ContainsKey(key Value) bool
	Get(key Value) Value
	Body() Value
	Headers(tag string) *RecordMap
}

var (
	_ Record = (*RecordMap)(nil)
	_ Record = (*RecordMapView)(nil)
)

// RecordMap is an ordered sequence of items, fields and bare values mixed.
//
// The backing slice may be shared with other handles obtained through
// `Branch`. A handle flagged aliased copies the slice before its first write.
type RecordMap struct {
	items      []Item
	fieldCount int
	flags      uint8

	// fields is a lazily built key index, reset on every mutation.
	fields map[string]Item
}

// NewRecordMap returns a mutable record holding items.
func NewRecordMap(items ...Item) *RecordMap {
	r := &RecordMap{items: make([]Item, 0, max(len(items), 4))}
	for _, item := range items {
		r.addMutable(item)
	}
	return r
}

func (r *RecordMap) Key() Value   { return absentValue }
func (r *RecordMap) Value() Value { return r }
func (*RecordMap) isItem()        {}
func (*RecordMap) isValue()       {}

func (r *RecordMap) Size() int       { return len(r.items) }
func (r *RecordMap) FieldCount() int { return r.fieldCount }
func (r *RecordMap) IsMutable() bool { return r.flags&flagImmutable == 0 }
func (r *RecordMap) IsAliased() bool { return r.flags&flagAliased != 0 }

func (r *RecordMap) ItemAt(i int) Item {
	if i < 0 || i >= len(r.items) {
		return absentValue
	}
	return r.items[i]
}

// Items returns a copy of the items.
func (r *RecordMap) Items() []Item {
	return slices.Clone(r.items)
}

// Tag is the key of the first item if it is an attribute.
func (r *RecordMap) Tag() string {
	return tagOf(r)
}

// Add appends an item, copying shared storage first if needed.
func (r *RecordMap) Add(item Item) error {
	if r.flags&flagImmutable != 0 {
		return ErrImmutable
	}
	if r.flags&flagAliased != 0 {
		r.addAliased(item)
	} else {
		r.addMutable(item)
	}
	return nil
}

// AddSlot is a shorthand for `Add(NewSlot(NewText(key), value))`.
func (r *RecordMap) AddSlot(key string, value Value) error {
	return r.Add(NewSlot(NewText(key), value))
}

func (r *RecordMap) addAliased(item Item) {
	n := len(r.items)
	items := make([]Item, n, expand(n+1))
	copy(items, r.items)
	r.items = append(items, item)
	r.flags &^= flagAliased
	r.didAdd(item)
}

func (r *RecordMap) addMutable(item Item) {
	r.items = append(r.items, item)
	r.didAdd(item)
}

func (r *RecordMap) didAdd(item Item) {
	if _, ok := item.(Field); ok {
		r.fieldCount++
	}
	r.fields = nil
}

// insertAt places item at index, shifting the tail. Used by views.
func (r *RecordMap) insertAt(index int, item Item) error {
	if r.flags&flagImmutable != 0 {
		return ErrImmutable
	}
	if index < 0 || index > len(r.items) {
		return ErrIndexOutOfRange
	}
	if r.flags&flagAliased != 0 {
		n := len(r.items)
		items := make([]Item, n, expand(n+1))
		copy(items, r.items)
		r.items = items
		r.flags &^= flagAliased
	}
	r.items = slices.Insert(r.items, index, item)
	r.didAdd(item)
	return nil
}

// Branch returns a second handle over the same storage. Both handles are
// flagged aliased so that whichever mutates first copies the storage.
//
// A committed record is never flagged since it will never write again.
func (r *RecordMap) Branch() *RecordMap {
	if r.flags&flagImmutable == 0 {
		r.flags |= flagAliased
	}
	return &RecordMap{
		items:      r.items[:len(r.items):len(r.items)],
		fieldCount: r.fieldCount,
		flags:      flagAliased,
	}
}

// Commit freezes the record and every record nested in it.
func (r *RecordMap) Commit() {
	if r.flags&flagImmutable != 0 {
		return
	}
	r.flags |= flagImmutable
	for _, item := range r.items {
		commitItem(item)
	}
	// Committed records are read concurrently, build the index now.
	if r.fieldCount > 0 {
		r.buildFields()
	}
}

func commitItem(item Item) {
	switch it := item.(type) {
	case Record:
		it.Commit()
	case Field:
		if rec, ok := it.Value().(Record); ok {
			rec.Commit()
		}
	}
}

func (r *RecordMap) buildFields() {
	fields := make(map[string]Item, r.fieldCount)
	for _, item := range r.items {
		if _, ok := item.(Field); ok {
			fields[keyOf(item.Key())] = item
		}
	}
	r.fields = fields
}

// ContainsKey reports whether a field with key exists.
func (r *RecordMap) ContainsKey(key Value) bool {
	if r.fieldCount == 0 {
		return false
	}
	if r.fields == nil {
		r.buildFields()
	}
	_, ok := r.fields[keyOf(key)]
	return ok
}

// Get returns the value of the last field with key, or `Absent`.
func (r *RecordMap) Get(key Value) Value {
	if r.fieldCount == 0 {
		return absentValue
	}
	if r.fields == nil {
		r.buildFields()
	}
	if field, ok := r.fields[keyOf(key)]; ok {
		return field.Value()
	}
	return absentValue
}

// Body drops the first item (the tag) and returns what is left.
//
// Nothing left is `Absent`. A single bare value is returned directly, a
// single field is wrapped in a record. Anything longer is a view over a
// branch of this record.
func (r *RecordMap) Body() Value {
	n := len(r.items)
	switch {
	case n <= 1:
		return absentValue
	case n == 2:
		if v, ok := r.items[1].(Value); ok {
			return v
		}
		return NewRecordMap(r.items[1])
	default:
		return &RecordMapView{record: r.Branch(), lower: 1, upper: n}
	}
}

// Headers returns the value of the leading attribute named tag as a record,
// or nil when the record is not tagged with it.
func (r *RecordMap) Headers(tag string) *RecordMap {
	return headersOf(r, tag)
}

func tagOf(r Record) string {
	if r.Size() == 0 {
		return ""
	}
	if attr, ok := r.ItemAt(0).(*Attr); ok {
		return attr.Name()
	}
	return ""
}

func headersOf(r Record, tag string) *RecordMap {
	if r.Size() == 0 {
		return nil
	}
	attr, ok := r.ItemAt(0).(*Attr)
	if !ok || attr.Name() != tag {
		return nil
	}
	switch h := attr.Value().(type) {
	case *RecordMap:
		return h
	case *RecordMapView:
		return h.Branch()
	default:
		return NewRecordMap(h)
	}
}

func expand(n int) int {
	return max(4, n+n/2)
}
