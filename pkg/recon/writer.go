package recon

import (
	"strconv"
	"strings"
	"sync"

	"github.com/raskyld/warp/pkg/structure"
)

var builderPool = sync.Pool{
	New: func() any {
		return new(strings.Builder)
	},
}

// Write encodes item as compact Recon.
//
// A top level record without a leading attribute is written as its
// comma-separated items, except a record holding one bare value which is
// braced so it reads back as a record.
func Write(item structure.Item) string {
	sb := builderPool.Get().(*strings.Builder)
	defer func() {
		sb.Reset()
		builderPool.Put(sb)
	}()

	switch it := item.(type) {
	case structure.Record:
		writeBlock(sb, it)
	case structure.Field:
		writeItem(sb, it)
	case structure.Value:
		writeValue(sb, it)
	}
	return sb.String()
}

// writeBlock writes v so that reading it back as the content of a block
// (top level or attribute parenthesis) binds to the same value.
func writeBlock(sb *strings.Builder, v structure.Value) {
	r, ok := v.(structure.Record)
	if !ok {
		writeValue(sb, v)
		return
	}

	n := r.Size()
	switch {
	case n == 0:
		sb.WriteString("{}")
	case n > 1 && allAttrs(r):
		writeItems(sb, r, 0)
	case isAttr(r.ItemAt(0)):
		writeRecord(sb, r)
	case n == 1 && !isField(r.ItemAt(0)):
		sb.WriteByte('{')
		writeItem(sb, r.ItemAt(0))
		sb.WriteByte('}')
	default:
		writeItems(sb, r, 0)
	}
}

// writeRecord writes a record in value position: leading attributes first,
// then a lone bare value directly or the remaining items in braces.
func writeRecord(sb *strings.Builder, r structure.Record) {
	n := r.Size()
	i := 0
	bare := false
	for ; i < n; i++ {
		attr, ok := r.ItemAt(i).(*structure.Attr)
		if !ok {
			break
		}
		bare = writeAttr(sb, attr)
	}

	if i == 0 {
		sb.WriteByte('{')
		writeItems(sb, r, 0)
		sb.WriteByte('}')
		return
	}

	switch rest := n - i; {
	case rest == 0:
	case rest == 1 && isScalar(r.ItemAt(i)):
		v := r.ItemAt(i).(structure.Value)
		if bare && leadsWithWord(v) {
			sb.WriteByte(' ')
		}
		writeValue(sb, v)
	default:
		sb.WriteByte('{')
		writeItems(sb, r, i)
		sb.WriteByte('}')
	}
}

func writeItems(sb *strings.Builder, r structure.Record, from int) {
	for i := from; i < r.Size(); i++ {
		if i > from {
			sb.WriteByte(',')
		}
		writeItem(sb, r.ItemAt(i))
	}
}

func writeItem(sb *strings.Builder, item structure.Item) {
	switch it := item.(type) {
	case *structure.Attr:
		writeAttr(sb, it)
	case *structure.Slot:
		writeValue(sb, it.Key())
		sb.WriteByte(':')
		writeValue(sb, it.Value())
	case structure.Record:
		// a record of attributes only would be merged into its parent.
		if it.Size() > 0 && allAttrs(it) {
			sb.WriteByte('{')
			writeItems(sb, it, 0)
			sb.WriteByte('}')
			return
		}
		writeRecord(sb, it)
	case structure.Value:
		writeValue(sb, it)
	}
}

// writeAttr reports whether the attribute was written without parenthesis.
func writeAttr(sb *strings.Builder, attr *structure.Attr) bool {
	sb.WriteByte('@')
	sb.WriteString(attr.Name())
	if attr.Value() == structure.Extant() {
		return true
	}
	sb.WriteByte('(')
	writeBlock(sb, attr.Value())
	sb.WriteByte(')')
	return false
}

func writeValue(sb *strings.Builder, v structure.Value) {
	switch val := v.(type) {
	case structure.Record:
		writeRecord(sb, val)
	case *structure.Text:
		writeText(sb, val.String())
	case *structure.Num:
		writeNum(sb, val)
	case *structure.Bool:
		sb.WriteString(strconv.FormatBool(val.Bool()))
	}
}

func writeText(sb *strings.Builder, s string) {
	if IsIdent(s) && s != "true" && s != "false" {
		sb.WriteString(s)
		return
	}
	sb.WriteByte('"')
	sb.WriteString(s)
	sb.WriteByte('"')
}

// writeNum keeps a decimal point on floats so they read back as floats.
func writeNum(sb *strings.Builder, n *structure.Num) {
	if !n.IsFloat() {
		sb.WriteString(strconv.FormatInt(n.Int(), 10))
		return
	}
	s := strconv.FormatFloat(n.Float(), 'f', -1, 64)
	sb.WriteString(s)
	if !strings.ContainsAny(s, ".NI") {
		sb.WriteString(".0")
	}
}

func isAttr(item structure.Item) bool {
	_, ok := item.(*structure.Attr)
	return ok
}

func isField(item structure.Item) bool {
	_, ok := item.(structure.Field)
	return ok
}

func isScalar(item structure.Item) bool {
	switch item.(type) {
	case *structure.Text, *structure.Num, *structure.Bool:
		return true
	}
	return false
}

func allAttrs(r structure.Record) bool {
	for i := 0; i < r.Size(); i++ {
		if !isAttr(r.ItemAt(i)) {
			return false
		}
	}
	return true
}

// leadsWithWord reports whether the written form of v starts with a
// character that would extend a preceding bare attribute name.
func leadsWithWord(v structure.Value) bool {
	switch val := v.(type) {
	case *structure.Num, *structure.Bool:
		return true
	case *structure.Text:
		s := val.String()
		return IsIdent(s) && s != "true" && s != "false"
	}
	return false
}
