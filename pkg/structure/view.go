package structure

// RecordMapView is a window `[lower, upper)` onto a record's items.
//
// Adding through a view inserts right after the window into the underlying
// record, which copies its storage first if it is aliased.
type RecordMapView struct {
	record       *RecordMap
	lower, upper int
}

// NewRecordMapView returns a view over record, bounds are checked.
func NewRecordMapView(record *RecordMap, lower, upper int) (*RecordMapView, error) {
	if lower < 0 || upper > record.Size() || lower > upper {
		return nil, ErrIndexOutOfRange
	}
	return &RecordMapView{record: record, lower: lower, upper: upper}, nil
}

func (v *RecordMapView) Key() Value   { return absentValue }
func (v *RecordMapView) Value() Value { return v }
func (*RecordMapView) isItem()        {}
func (*RecordMapView) isValue()       {}

func (v *RecordMapView) Size() int       { return v.upper - v.lower }
func (v *RecordMapView) IsMutable() bool { return v.record.IsMutable() }

func (v *RecordMapView) FieldCount() int {
	count := 0
	for i := v.lower; i < v.upper; i++ {
		if _, ok := v.record.items[i].(Field); ok {
			count++
		}
	}
	return count
}

func (v *RecordMapView) ItemAt(i int) Item {
	if i < 0 || i >= v.Size() {
		return absentValue
	}
	return v.record.items[v.lower+i]
}

func (v *RecordMapView) Items() []Item {
	items := make([]Item, v.Size())
	copy(items, v.record.items[v.lower:v.upper])
	return items
}

func (v *RecordMapView) Tag() string {
	return tagOf(v)
}

// Add inserts item at the end of the window.
func (v *RecordMapView) Add(item Item) error {
	if v.upper > v.record.Size() {
		return ErrIndexOutOfRange
	}
	if err := v.record.insertAt(v.upper, item); err != nil {
		return err
	}
	v.upper++
	return nil
}

// Branch returns an independent record holding the items of the window.
// Storage is shared until one side writes.
func (v *RecordMapView) Branch() *RecordMap {
	if v.record.IsMutable() {
		v.record.flags |= flagAliased
	}
	items := v.record.items[v.lower:v.upper:v.upper]
	fieldCount := 0
	for _, item := range items {
		if _, ok := item.(Field); ok {
			fieldCount++
		}
	}
	return &RecordMap{
		items:      items,
		fieldCount: fieldCount,
		flags:      flagAliased,
	}
}

// Commit freezes the underlying record.
func (v *RecordMapView) Commit() {
	v.record.Commit()
}

func (v *RecordMapView) ContainsKey(key Value) bool {
	return v.find(key) != nil
}

func (v *RecordMapView) Get(key Value) Value {
	if field := v.find(key); field != nil {
		return field.Value()
	}
	return absentValue
}

// find scans backwards so that the last field with key wins.
func (v *RecordMapView) find(key Value) Item {
	want := keyOf(key)
	for i := v.upper - 1; i >= v.lower; i-- {
		item := v.record.items[i]
		if _, ok := item.(Field); ok && keyOf(item.Key()) == want {
			return item
		}
	}
	return nil
}

func (v *RecordMapView) Body() Value {
	return v.Branch().Body()
}

func (v *RecordMapView) Headers(tag string) *RecordMap {
	return headersOf(v, tag)
}
