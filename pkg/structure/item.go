// Package structure implements the structural value model used as the
// in-memory representation of every WARP message.
//
// A tree is made of `Item`s. Leaves are `Value`s (`Extant`, `Absent`, `Bool`,
// `Num`, `Text`), fields are `Slot`s and `Attr`s, and composites are
// `RecordMap`s or windows onto them (`RecordMapView`).
//
// Records are copy-on-write: `RecordMap.Branch` hands out a second handle over
// the same storage, and the first mutation on either handle duplicates the
// storage before writing. A committed record can never be mutated again, which
// is what makes it safe to share a value with concurrent readers.
package structure

import (
	"fmt"
	"math"
	"reflect"
)

// Item is any node of a structural tree.
type Item interface {
	// Key of the item, `Absent` for bare values.
	Key() Value
	// Value of the item, the item itself for bare values.
	Value() Value

	isItem()
}

// Value is an Item which is not a field.
type Value interface {
	Item
	isValue()
}

// Field is either a `*Slot` or an `*Attr`.
type Field interface {
	Item
	isField()
}

type extant struct{ _ byte }

type absent struct{ _ byte }

var (
	extantValue = &extant{}
	absentValue = &absent{}
)

// Extant returns the singleton marking something present but valueless.
func Extant() Value { return extantValue }

// Absent returns the singleton marking the absence of a value.
func Absent() Value { return absentValue }

func (*extant) Key() Value     { return absentValue }
func (e *extant) Value() Value { return e }
func (*extant) isItem()        {}
func (*extant) isValue()       {}
func (*extant) String() string { return "Extant" }

func (*absent) Key() Value     { return absentValue }
func (a *absent) Value() Value { return a }
func (*absent) isItem()        {}
func (*absent) isValue()       {}
func (*absent) String() string { return "Absent" }

// IsDefined reports whether v carries something, i.e. is neither nil nor `Absent`.
func IsDefined(v Item) bool {
	return v != nil && v != Item(absentValue)
}

// Bool is a boolean leaf. Only two instances exist.
type Bool struct {
	v bool
}

var (
	trueValue  = &Bool{v: true}
	falseValue = &Bool{v: false}
)

// NewBool returns the interned `Bool` for b.
func NewBool(b bool) *Bool {
	if b {
		return trueValue
	}
	return falseValue
}

func (b *Bool) Bool() bool     { return b.v }
func (*Bool) Key() Value       { return absentValue }
func (b *Bool) Value() Value   { return b }
func (*Bool) isItem()          {}
func (*Bool) isValue()         {}
func (b *Bool) String() string { return fmt.Sprintf("Bool(%t)", b.v) }

// Num is a numeric leaf. Integers and floats are distinct at construction.
type Num struct {
	i     int64
	f     float64
	float bool
}

func NewInt(i int64) *Num {
	return &Num{i: i}
}

func NewFloat(f float64) *Num {
	return &Num{f: f, float: true}
}

// IsFloat reports whether the number was built as a float.
func (n *Num) IsFloat() bool { return n.float }

func (n *Num) Int() int64 {
	if n.float {
		return int64(n.f)
	}
	return n.i
}

func (n *Num) Float() float64 {
	if n.float {
		return n.f
	}
	return float64(n.i)
}

// IsNaN is always false for integers.
func (n *Num) IsNaN() bool { return n.float && math.IsNaN(n.f) }

func (*Num) Key() Value     { return absentValue }
func (n *Num) Value() Value { return n }
func (*Num) isItem()        {}
func (*Num) isValue()       {}

func (n *Num) String() string {
	if n.float {
		return fmt.Sprintf("Num(%g)", n.f)
	}
	return fmt.Sprintf("Num(%d)", n.i)
}

// Text is a string leaf.
type Text struct {
	s string
}

var emptyText = &Text{}

// NewText returns a `Text`; the empty string is interned.
func NewText(s string) *Text {
	if s == "" {
		return emptyText
	}
	return &Text{s: s}
}

func (t *Text) String() string { return t.s }
func (*Text) Key() Value       { return absentValue }
func (t *Text) Value() Value   { return t }
func (*Text) isItem()          {}
func (*Text) isValue()         {}

// Slot is a `key:value` field.
type Slot struct {
	key   Value
	value Value
}

// NewSlot builds a slot, a nil value stands for `Extant`.
func NewSlot(key, value Value) *Slot {
	if key == nil {
		key = absentValue
	}
	if value == nil {
		value = extantValue
	}
	return &Slot{key: key, value: value}
}

func (s *Slot) Key() Value   { return s.key }
func (s *Slot) Value() Value { return s.value }
func (*Slot) isItem()        {}
func (*Slot) isField()       {}

// Attr is an `@key(value)` field.
type Attr struct {
	key   *Text
	value Value
}

// NewAttr builds an attribute, a nil value stands for `Extant`.
func NewAttr(key string, value Value) *Attr {
	if value == nil {
		value = extantValue
	}
	return &Attr{key: NewText(key), value: value}
}

func (a *Attr) Key() Value   { return a.key }
func (a *Attr) Value() Value { return a.value }

// Name is the attribute key as a plain string.
func (a *Attr) Name() string { return a.key.s }
func (*Attr) isItem()        {}
func (*Attr) isField()       {}

// ValueOf converts a Go primitive to a `Value`.
//
// nil becomes `Extant`, bools `Bool`, integers and floats `Num` and strings
// `Text`. Values are returned as-is. Anything else is rejected with
// `ErrNotConvertible`.
func ValueOf(obj any) (Value, error) {
	switch v := obj.(type) {
	case nil:
		return extantValue, nil
	case Value:
		return v, nil
	case bool:
		return NewBool(v), nil
	case int:
		return NewInt(int64(v)), nil
	case int8:
		return NewInt(int64(v)), nil
	case int16:
		return NewInt(int64(v)), nil
	case int32:
		return NewInt(int64(v)), nil
	case int64:
		return NewInt(v), nil
	case uint:
		return NewInt(int64(v)), nil
	case uint8:
		return NewInt(int64(v)), nil
	case uint16:
		return NewInt(int64(v)), nil
	case uint32:
		return NewInt(int64(v)), nil
	case uint64:
		return NewInt(int64(v)), nil
	case float32:
		return NewFloat(float64(v)), nil
	case float64:
		return NewFloat(v), nil
	case string:
		return NewText(v), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotConvertible, obj)
	}
}

// ItemOf converts obj to an `Item`.
//
// Items are returned as-is, a mapping with exactly one entry becomes a
// `Slot`, everything else goes through `ValueOf`.
func ItemOf(obj any) (Item, error) {
	if item, ok := obj.(Item); ok {
		return item, nil
	}

	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Map && rv.Len() == 1 {
		iter := rv.MapRange()
		iter.Next()
		key, err := ValueOf(iter.Key().Interface())
		if err != nil {
			return nil, err
		}
		value, err := ValueOf(iter.Value().Interface())
		if err != nil {
			return nil, err
		}
		return NewSlot(key, value), nil
	}

	return ValueOf(obj)
}

// Concat builds a new record holding a followed by b.
//
// a is always one item. When b is a record its items are appended rather
// than the record itself, exactly one level: this is how an `@tag(headers)`
// attribute is joined with an envelope body.
func Concat(a, b Item) *RecordMap {
	record := NewRecordMap()
	record.addMutable(a)
	if rec, ok := b.(Record); ok {
		for i := 0; i < rec.Size(); i++ {
			record.addMutable(rec.ItemAt(i))
		}
		return record
	}
	record.addMutable(b)
	return record
}
