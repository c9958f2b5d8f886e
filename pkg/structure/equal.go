package structure

import (
	"math"
	"strconv"
	"strings"
)

// Equal reports structural equality of two items.
//
// `Extant` and `Absent` are only equal to themselves. Numbers compare by
// numeric value whatever their representation, NaN being equal to NaN. A view
// equals any record holding the same items.
func Equal(a, b Item) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case *extant, *absent:
		return a == b
	case *Bool:
		y, ok := b.(*Bool)
		return ok && x.v == y.v
	case *Num:
		y, ok := b.(*Num)
		if !ok {
			return false
		}
		if !x.float && !y.float {
			return x.i == y.i
		}
		if x.IsNaN() || y.IsNaN() {
			return x.IsNaN() && y.IsNaN()
		}
		return x.Float() == y.Float()
	case *Text:
		y, ok := b.(*Text)
		return ok && x.s == y.s
	case *Slot:
		y, ok := b.(*Slot)
		return ok && Equal(x.key, y.key) && Equal(x.value, y.value)
	case *Attr:
		y, ok := b.(*Attr)
		return ok && x.key.s == y.key.s && Equal(x.value, y.value)
	case Record:
		y, ok := b.(Record)
		if !ok || x.Size() != y.Size() {
			return false
		}
		for i := 0; i < x.Size(); i++ {
			if !Equal(x.ItemAt(i), y.ItemAt(i)) {
				return false
			}
		}
		return true
	}
	return false
}

// keyOf renders a canonical hash key so that `Equal` values share a key.
func keyOf(item Item) string {
	var sb strings.Builder
	writeKey(&sb, item)
	return sb.String()
}

func writeKey(sb *strings.Builder, item Item) {
	switch x := item.(type) {
	case nil, *absent:
		sb.WriteString("a")
	case *extant:
		sb.WriteString("x")
	case *Bool:
		if x.v {
			sb.WriteString("T")
		} else {
			sb.WriteString("F")
		}
	case *Num:
		sb.WriteString("n")
		f := x.Float()
		switch {
		case !x.float:
			sb.WriteString(strconv.FormatInt(x.i, 10))
		case math.IsNaN(f):
			sb.WriteString("NaN")
		case f == math.Trunc(f) && math.Abs(f) < 1<<63:
			sb.WriteString(strconv.FormatInt(int64(f), 10))
		default:
			sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		}
	case *Text:
		sb.WriteString(strconv.Quote(x.s))
	case *Slot:
		writeKey(sb, x.key)
		sb.WriteByte(':')
		writeKey(sb, x.value)
	case *Attr:
		sb.WriteByte('@')
		sb.WriteString(strconv.Quote(x.key.s))
		sb.WriteByte('(')
		writeKey(sb, x.value)
		sb.WriteByte(')')
	case Record:
		sb.WriteByte('{')
		for i := 0; i < x.Size(); i++ {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeKey(sb, x.ItemAt(i))
		}
		sb.WriteByte('}')
	}
}
