package structure

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Registry maps class names, as found in record tags, to Go struct types.
//
// It is safe for concurrent use.
type Registry struct {
	lk      sync.RWMutex
	classes map[string]reflect.Type
	names   map[reflect.Type]string
}

func NewRegistry() *Registry {
	return &Registry{
		classes: make(map[string]reflect.Type),
		names:   make(map[reflect.Type]string),
	}
}

// Register proto's struct type under its Go type name.
func (r *Registry) Register(proto any) error {
	t, err := classType(proto)
	if err != nil {
		return err
	}
	r.put(t.Name(), t)
	return nil
}

// RegisterAs registers proto's struct type under name.
func (r *Registry) RegisterAs(name string, proto any) error {
	t, err := classType(proto)
	if err != nil {
		return err
	}
	r.put(name, t)
	return nil
}

func (r *Registry) put(name string, t reflect.Type) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if old, ok := r.classes[name]; ok {
		delete(r.names, old)
	}
	r.classes[name] = t
	r.names[t] = name
}

// Deregister removes name, unknown names are ignored.
func (r *Registry) Deregister(name string) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if t, ok := r.classes[name]; ok {
		delete(r.classes, name)
		delete(r.names, t)
	}
}

func (r *Registry) Lookup(name string) (reflect.Type, bool) {
	r.lk.RLock()
	defer r.lk.RUnlock()
	t, ok := r.classes[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the registered class names in lexical order.
func (r *Registry) Names() []string {
	r.lk.RLock()
	names := lo.Keys(r.classes)
	r.lk.RUnlock()
	slices.Sort(names)
	return names
}

// Merge copies every class of other into r, overriding same names.
func (r *Registry) Merge(other *Registry) {
	if other == nil || other == r {
		return
	}
	other.lk.RLock()
	classes := make(map[string]reflect.Type, len(other.classes))
	for name, t := range other.classes {
		classes[name] = t
	}
	other.lk.RUnlock()

	for name, t := range classes {
		r.put(name, t)
	}
}

func (r *Registry) className(t reflect.Type) string {
	r.lk.RLock()
	defer r.lk.RUnlock()
	if name, ok := r.names[t]; ok {
		return name
	}
	return t.Name()
}

func classType(proto any) (reflect.Type, error) {
	t := reflect.TypeOf(proto)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct || t.Name() == "" {
		return nil, fmt.Errorf("%w: %T", ErrNotAClass, proto)
	}
	return t, nil
}

// Object stands in for a record whose class is not registered, when
// conversion is not strict.
type Object struct {
	Class  string
	Fields map[string]any
}

// Pair is a field of a record decoded as a list. Keys may be composite so
// they are not used as map keys.
type Pair struct {
	Key   any
	Value any
}

var (
	valueType = reflect.TypeFor[Value]()
	pairType  = reflect.TypeFor[Pair]()
)

// Converter maps Go values to structural records and back.
//
// A struct becomes `@ClassName{field:value,...}`. Field names can be
// overridden with a `recon:"name"` struct tag, `recon:"-"` skips a field.
type Converter struct {
	Registry *Registry
	Strict   bool
}

// ToValue converts obj to a `Value`.
func (c Converter) ToValue(obj any) (Value, error) {
	switch o := obj.(type) {
	case nil:
		return extantValue, nil
	case Value:
		return o, nil
	case *Object:
		return c.objectValue(o)
	}
	return c.reflectValue(reflect.ValueOf(obj))
}

func (c Converter) objectValue(o *Object) (Value, error) {
	record := NewRecordMap(NewAttr(o.Class, nil))
	keys := lo.Keys(o.Fields)
	slices.Sort(keys)
	for _, key := range keys {
		v, err := c.ToValue(o.Fields[key])
		if err != nil {
			return nil, err
		}
		record.addMutable(NewSlot(NewText(key), v))
	}
	return record, nil
}

func (c Converter) reflectValue(rv reflect.Value) (Value, error) {
	if !rv.IsValid() {
		return extantValue, nil
	}
	if rv.CanInterface() {
		switch o := rv.Interface().(type) {
		case Value:
			if rv.Kind() == reflect.Pointer && rv.IsNil() {
				return extantValue, nil
			}
			return o, nil
		case *Object:
			if o == nil {
				return extantValue, nil
			}
			return c.objectValue(o)
		}
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return extantValue, nil
		}
		return c.reflectValue(rv.Elem())
	case reflect.Bool:
		return NewBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return NewInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return NewInt(int64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return NewFloat(rv.Float()), nil
	case reflect.String:
		return NewText(rv.String()), nil
	case reflect.Struct:
		return c.structValue(rv)
	case reflect.Map:
		return c.mapValue(rv)
	case reflect.Slice, reflect.Array:
		record := NewRecordMap()
		for i := 0; i < rv.Len(); i++ {
			item, err := c.elemItem(rv.Index(i))
			if err != nil {
				return nil, err
			}
			record.addMutable(item)
		}
		return record, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotConvertible, rv.Type())
}

// elemItem turns a `Pair` element back into a slot.
func (c Converter) elemItem(rv reflect.Value) (Item, error) {
	for rv.Kind() == reflect.Interface && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Type() != pairType {
		return c.reflectValue(rv)
	}
	pair := rv.Interface().(Pair)
	k, err := c.ToValue(pair.Key)
	if err != nil {
		return nil, err
	}
	v, err := c.ToValue(pair.Value)
	if err != nil {
		return nil, err
	}
	return NewSlot(k, v), nil
}

func (c Converter) structValue(rv reflect.Value) (Value, error) {
	t := rv.Type()
	name := t.Name()
	if c.Registry != nil {
		name = c.Registry.className(t)
	}
	record := NewRecordMap(NewAttr(name, nil))
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key, ok := fieldKey(field)
		if !ok {
			continue
		}
		v, err := c.reflectValue(rv.Field(i))
		if err != nil {
			return nil, fmt.Errorf("%w: field %s.%s", err, name, field.Name)
		}
		record.addMutable(NewSlot(NewText(key), v))
	}
	return record, nil
}

func (c Converter) mapValue(rv reflect.Value) (Value, error) {
	type entry struct {
		key   Value
		value Value
		order string
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k, err := c.reflectValue(iter.Key())
		if err != nil {
			return nil, err
		}
		v, err := c.reflectValue(iter.Value())
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{key: k, value: v, order: keyOf(k)})
	}
	// Map iteration order is random, records are ordered.
	slices.SortFunc(entries, func(a, b entry) int {
		return strings.Compare(a.order, b.order)
	})

	record := NewRecordMap()
	for _, e := range entries {
		record.addMutable(NewSlot(e.key, e.value))
	}
	return record, nil
}

func fieldKey(field reflect.StructField) (string, bool) {
	if !field.IsExported() {
		return "", false
	}
	tag, hasTag := field.Tag.Lookup("recon")
	if hasTag {
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			return "", false
		}
		if name != "" {
			return name, true
		}
	}
	return field.Name, true
}

// FromValue converts v back to a Go value.
//
// Leaves map onto string, int64, float64, bool and nil. Tagged records are
// instantiated from the registry as pointers to the registered struct. An
// unknown class fails with `ErrUnknownClass` in strict mode and yields an
// `*Object` otherwise. Untagged records become `map[string]any` when they only
// hold text-keyed slots, `[]any` else.
func (c Converter) FromValue(v Value) (any, error) {
	switch x := v.(type) {
	case nil, *extant, *absent:
		return nil, nil
	case *Bool:
		return x.v, nil
	case *Num:
		if x.float {
			return x.f, nil
		}
		return x.i, nil
	case *Text:
		return x.s, nil
	case Record:
		return c.fromRecord(x)
	}
	return nil, fmt.Errorf("%w: %T", ErrNotConvertible, v)
}

func (c Converter) fromRecord(r Record) (any, error) {
	if tag := r.Tag(); tag != "" {
		var t reflect.Type
		var ok bool
		if c.Registry != nil {
			t, ok = c.Registry.Lookup(tag)
		}
		if ok {
			ptr := reflect.New(t)
			if err := c.populate(ptr.Elem(), r, 1); err != nil {
				return nil, err
			}
			return ptr.Interface(), nil
		}
		if c.Strict {
			return nil, fmt.Errorf("%w: %q is not registered", ErrUnknownClass, tag)
		}
		obj := &Object{Class: tag, Fields: make(map[string]any)}
		for i := 1; i < r.Size(); i++ {
			item := r.ItemAt(i)
			key, ok := item.Key().(*Text)
			if !ok {
				continue
			}
			fv, err := c.FromValue(item.Value())
			if err != nil {
				return nil, err
			}
			obj.Fields[key.s] = fv
		}
		return obj, nil
	}

	if r.Size() > 0 && r.FieldCount() == r.Size() && allTextKeys(r) {
		result := make(map[string]any, r.Size())
		for i := 0; i < r.Size(); i++ {
			item := r.ItemAt(i)
			fv, err := c.FromValue(item.Value())
			if err != nil {
				return nil, err
			}
			result[item.Key().(*Text).s] = fv
		}
		return result, nil
	}

	result := make([]any, 0, r.Size())
	for i := 0; i < r.Size(); i++ {
		item := r.ItemAt(i)
		if _, ok := item.(Field); ok {
			k, err := c.FromValue(item.Key())
			if err != nil {
				return nil, err
			}
			fv, err := c.FromValue(item.Value())
			if err != nil {
				return nil, err
			}
			result = append(result, Pair{Key: k, Value: fv})
			continue
		}
		fv, err := c.FromValue(item.(Value))
		if err != nil {
			return nil, err
		}
		result = append(result, fv)
	}
	return result, nil
}

func allTextKeys(r Record) bool {
	for i := 0; i < r.Size(); i++ {
		if _, ok := r.ItemAt(i).Key().(*Text); !ok {
			return false
		}
	}
	return true
}

// populate fills the struct dst from the slots of r starting at index from.
func (c Converter) populate(dst reflect.Value, r Record, from int) error {
	t := dst.Type()
	byKey := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if key, ok := fieldKey(t.Field(i)); ok {
			byKey[key] = i
		}
	}

	for i := from; i < r.Size(); i++ {
		slot, ok := r.ItemAt(i).(*Slot)
		if !ok {
			continue
		}
		key, ok := slot.key.(*Text)
		if !ok {
			continue
		}
		idx, ok := byKey[key.s]
		if !ok {
			continue
		}
		if err := c.assign(dst.Field(idx), slot.value); err != nil {
			return fmt.Errorf("%w: field %s.%s", err, t.Name(), t.Field(idx).Name)
		}
	}
	return nil
}

func (c Converter) assign(dst reflect.Value, v Value) error {
	if dst.Type() == valueType {
		dst.Set(reflect.ValueOf(v))
		return nil
	}
	if v == extantValue || v == absentValue {
		return nil
	}

	switch dst.Kind() {
	case reflect.Bool:
		b, ok := v.(*Bool)
		if !ok {
			return ErrFieldMismatch
		}
		dst.SetBool(b.v)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := v.(*Num)
		if !ok {
			return ErrFieldMismatch
		}
		dst.SetInt(n.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := v.(*Num)
		if !ok {
			return ErrFieldMismatch
		}
		dst.SetUint(uint64(n.Int()))
	case reflect.Float32, reflect.Float64:
		n, ok := v.(*Num)
		if !ok {
			return ErrFieldMismatch
		}
		dst.SetFloat(n.Float())
	case reflect.String:
		s, ok := v.(*Text)
		if !ok {
			return ErrFieldMismatch
		}
		dst.SetString(s.s)
	case reflect.Pointer:
		elem := reflect.New(dst.Type().Elem())
		if err := c.assign(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
	case reflect.Struct:
		r, ok := v.(Record)
		if !ok {
			return ErrFieldMismatch
		}
		from := 0
		if r.Tag() != "" {
			from = 1
		}
		return c.populate(dst, r, from)
	case reflect.Slice:
		r, ok := v.(Record)
		if !ok {
			return ErrFieldMismatch
		}
		slice := reflect.MakeSlice(dst.Type(), r.Size(), r.Size())
		for i := 0; i < r.Size(); i++ {
			if err := c.assign(slice.Index(i), r.ItemAt(i).Value()); err != nil {
				return err
			}
		}
		dst.Set(slice)
	case reflect.Map:
		r, ok := v.(Record)
		if !ok || dst.Type().Key().Kind() != reflect.String {
			return ErrFieldMismatch
		}
		m := reflect.MakeMapWithSize(dst.Type(), r.Size())
		for i := 0; i < r.Size(); i++ {
			slot, ok := r.ItemAt(i).(*Slot)
			if !ok {
				continue
			}
			key, ok := slot.key.(*Text)
			if !ok {
				continue
			}
			elem := reflect.New(dst.Type().Elem()).Elem()
			if err := c.assign(elem, slot.value); err != nil {
				return err
			}
			m.SetMapIndex(reflect.ValueOf(key.s).Convert(dst.Type().Key()), elem)
		}
		dst.Set(m)
	case reflect.Interface:
		converted, err := c.FromValue(v)
		if err != nil {
			return err
		}
		if converted == nil {
			return nil
		}
		cv := reflect.ValueOf(converted)
		if !cv.Type().AssignableTo(dst.Type()) {
			return ErrFieldMismatch
		}
		dst.Set(cv)
	default:
		return ErrFieldMismatch
	}
	return nil
}
