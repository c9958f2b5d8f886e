package warp

import (
	"github.com/google/btree"
	"github.com/raskyld/warp/pkg/structure"
)

type downlinkKind uint8

const (
	kindValue downlinkKind = iota
	kindMap
	kindEvent
)

func (k downlinkKind) String() string {
	switch k {
	case kindValue:
		return "value"
	case kindMap:
		return "map"
	default:
		return "event"
	}
}

// mapEntry is keyed by the Recon rendering of its key so composite keys
// compare by their text.
type mapEntry struct {
	text     string
	key      any
	value    any
	rawValue structure.Value
}

func lessEntry(a, b mapEntry) bool {
	return a.text < b.text
}

// model is the state of one linked lane. It is guarded by its manager lock.
type model struct {
	kind downlinkKind

	linkedCh chan struct{}
	syncedCh chan struct{}
	doneCh   chan struct{}
	linked   bool
	synced   bool
	err      error

	// value lanes
	value    any
	rawValue structure.Value

	// map lanes
	entries *btree.BTreeG[mapEntry]
}

func newModel(kind downlinkKind) *model {
	m := &model{
		kind:     kind,
		linkedCh: make(chan struct{}),
		syncedCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
		rawValue: structure.Absent(),
	}
	if kind == kindMap {
		m.entries = btree.NewG(8, lessEntry)
	}
	return m
}

func (m *model) didLink() {
	if !m.linked {
		m.linked = true
		close(m.linkedCh)
	}
}

func (m *model) didSync() {
	m.didLink()
	if !m.synced {
		m.synced = true
		close(m.syncedCh)
	}
}

// fail releases everyone waiting on the gates, the first error wins.
func (m *model) fail(err error) {
	if m.err != nil {
		return
	}
	m.err = err
	close(m.doneCh)
}

// setValue returns the previous value.
func (m *model) setValue(value any, raw structure.Value) any {
	old := m.value
	m.value = value
	m.rawValue = raw
	return old
}

// put returns the previous value of the entry, nil if it is new.
func (m *model) put(entry mapEntry) any {
	old, ok := m.entries.ReplaceOrInsert(entry)
	if !ok {
		return nil
	}
	return old.value
}

func (m *model) remove(text string) (mapEntry, bool) {
	return m.entries.Delete(mapEntry{text: text})
}

func (m *model) get(text string) (mapEntry, bool) {
	return m.entries.Get(mapEntry{text: text})
}

// ascend visits map entries in key text order.
func (m *model) ascend(visit func(mapEntry) bool) {
	m.entries.Ascend(visit)
}
