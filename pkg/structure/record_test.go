package structure

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingletons(t *testing.T) {
	require.Same(t, Extant(), Extant())
	require.Same(t, Absent(), Absent())
	require.NotEqual(t, Item(Extant()), Item(Absent()))
	require.Same(t, NewBool(true), NewBool(true))
	require.Same(t, NewText(""), NewText(""))
	require.False(t, Equal(Extant(), Absent()))
}

func TestRecordMap_Branch(t *testing.T) {
	t.Run("branch does not see mutations of the original", func(t *testing.T) {
		original := NewRecordMap()
		require.NoError(t, original.Add(NewAttr("dog", NewText("bark"))))

		branch := original.Branch()
		require.True(t, original.IsAliased())
		require.True(t, branch.IsAliased())

		require.NoError(t, original.Add(NewAttr("cat", NewText("meow"))))
		require.Equal(t, 1, branch.Size())
		require.Equal(t, 2, original.Size())
		require.False(t, original.IsAliased(), "copy-on-write clears the flag")
	})

	t.Run("original does not see mutations of the branch", func(t *testing.T) {
		original := NewRecordMap(NewInt(1), NewInt(2))
		before := original.Items()

		branch := original.Branch()
		require.NoError(t, branch.Add(NewInt(3)))
		require.NoError(t, branch.AddSlot("k", NewText("v")))

		require.Equal(t, 2, original.Size())
		require.Equal(t, before, original.Items())
		require.Equal(t, 4, branch.Size())
		require.Equal(t, 1, branch.FieldCount())
		require.Equal(t, 0, original.FieldCount())
	})

	t.Run("both handles diverge independently", func(t *testing.T) {
		original := NewRecordMap(NewText("a"))
		branch := original.Branch()
		require.NoError(t, original.Add(NewText("b")))
		require.NoError(t, branch.Add(NewText("c")))

		require.True(t, Equal(original, NewRecordMap(NewText("a"), NewText("b"))))
		require.True(t, Equal(branch, NewRecordMap(NewText("a"), NewText("c"))))
	})
}

func TestRecordMap_Commit(t *testing.T) {
	inner := NewRecordMap(NewInt(1))
	record := NewRecordMap(NewSlot(NewText("inner"), inner))
	record.Commit()

	require.ErrorIs(t, record.Add(NewInt(2)), ErrImmutable)
	require.ErrorIs(t, inner.Add(NewInt(2)), ErrImmutable)
	require.False(t, record.IsMutable())

	branch := record.Branch()
	require.True(t, branch.IsMutable())
	require.NoError(t, branch.Add(NewInt(2)))
	require.Equal(t, 1, record.Size())
	require.Equal(t, 2, branch.Size())
}

func TestRecordMap_ContainsKey(t *testing.T) {
	record := NewRecordMap(NewInt(1))
	require.False(t, record.ContainsKey(NewText("a")))

	require.NoError(t, record.AddSlot("a", NewInt(1)))
	require.True(t, record.ContainsKey(NewText("a")))
	require.False(t, record.ContainsKey(NewText("b")))

	// the index is rebuilt after every mutation, last writer wins.
	require.NoError(t, record.AddSlot("a", NewInt(2)))
	require.NoError(t, record.Add(NewAttr("b", nil)))
	require.True(t, record.ContainsKey(NewText("b")))
	require.True(t, Equal(NewInt(2), record.Get(NewText("a"))))
	require.Same(t, Absent(), record.Get(NewText("missing")))

	// numeric keys compare by value.
	require.NoError(t, record.Add(NewSlot(NewInt(3), NewText("three"))))
	require.True(t, record.ContainsKey(NewFloat(3.0)))
}

func TestRecordMap_Body(t *testing.T) {
	t.Run("nothing after the tag is absent", func(t *testing.T) {
		require.Same(t, Absent(), NewRecordMap().Body())
		require.Same(t, Absent(), NewRecordMap(NewAttr("tag", nil)).Body())
	})

	t.Run("a single bare value is returned directly", func(t *testing.T) {
		body := NewRecordMap(NewAttr("tag", nil), NewInt(34)).Body()
		require.True(t, Equal(NewInt(34), body))
	})

	t.Run("a single field is wrapped", func(t *testing.T) {
		body := NewRecordMap(NewAttr("tag", nil), NewSlot(NewText("a"), NewInt(1))).Body()
		record, ok := body.(*RecordMap)
		require.True(t, ok)
		require.Equal(t, 1, record.Size())
		require.Equal(t, 1, record.FieldCount())
	})

	t.Run("longer bodies are independent views", func(t *testing.T) {
		original := NewRecordMap(
			NewAttr("tag", nil),
			NewAttr("Person", nil),
			NewSlot(NewText("name"), NewText("Bob")),
		)
		body := original.Body()
		view, ok := body.(*RecordMapView)
		require.True(t, ok)
		require.Equal(t, 2, view.Size())
		require.Equal(t, "Person", view.Tag())

		require.NoError(t, original.Add(NewInt(1)))
		require.Equal(t, 2, view.Size())

		require.NoError(t, view.Add(NewInt(2)))
		require.Equal(t, 3, view.Size())
		require.Equal(t, 4, original.Size())
		require.True(t, Equal(NewInt(1), original.ItemAt(3)))
	})
}

func TestRecordMap_Headers(t *testing.T) {
	headers := NewRecordMap(NewSlot(NewText("node"), NewText("n")))
	record := NewRecordMap(NewAttr("sync", headers), NewInt(1))
	require.Same(t, headers, record.Headers("sync"))
	require.Nil(t, record.Headers("link"))

	wrapped := NewRecordMap(NewAttr("event", NewText("x"))).Headers("event")
	require.NotNil(t, wrapped)
	require.Equal(t, 1, wrapped.Size())
	require.True(t, Equal(NewText("x"), wrapped.ItemAt(0)))

	require.Nil(t, NewRecordMap(NewInt(1)).Headers("sync"))
}

func TestRecordMapView_Bounds(t *testing.T) {
	record := NewRecordMap(NewInt(1), NewInt(2), NewInt(3))
	_, err := NewRecordMapView(record, 2, 4)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = NewRecordMapView(record, -1, 1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	view, err := NewRecordMapView(record, 1, 3)
	require.NoError(t, err)
	require.True(t, Equal(NewRecordMap(NewInt(2), NewInt(3)), view))

	branch := view.Branch()
	require.NoError(t, branch.Add(NewInt(4)))
	require.Equal(t, 3, record.Size())
	require.Equal(t, 2, view.Size())
}

func TestConcat(t *testing.T) {
	headers := NewRecordMap(NewSlot(NewText("node"), NewText("n")))
	tag := NewAttr("event", headers)

	t.Run("records are flattened one level", func(t *testing.T) {
		body := NewRecordMap(NewAttr("Person", nil), NewSlot(NewText("name"), NewText("Bob")))
		record := Concat(tag, body)
		require.Equal(t, 3, record.Size())
		require.Equal(t, "event", record.Tag())
		require.Equal(t, 3, record.FieldCount())
	})

	t.Run("nested records stay nested", func(t *testing.T) {
		nested := NewRecordMap(NewInt(1), NewInt(2))
		record := Concat(tag, NewRecordMap(nested))
		require.Equal(t, 2, record.Size())
		require.True(t, Equal(nested, record.ItemAt(1)))
	})

	t.Run("bare values are appended", func(t *testing.T) {
		record := Concat(tag, NewInt(34))
		require.Equal(t, 2, record.Size())
	})

	t.Run("absent is kept as an item", func(t *testing.T) {
		record := Concat(tag, Absent())
		require.Equal(t, 2, record.Size())
		require.Equal(t, Absent(), record.ItemAt(1))
	})

	t.Run("a record on the left is one item", func(t *testing.T) {
		left := NewRecordMap(NewInt(1), NewInt(2))
		record := Concat(left, NewInt(3))
		require.Equal(t, 2, record.Size())
		require.True(t, Equal(left, record.ItemAt(0)))

		record = Concat(left, NewRecordMap(NewInt(3), NewInt(4)))
		require.Equal(t, 3, record.Size())
	})
}

func TestBuilder(t *testing.T) {
	t.Run("empty binds to absent", func(t *testing.T) {
		var b Builder
		require.Same(t, Absent(), b.Bind())
	})

	t.Run("a single value is not wrapped", func(t *testing.T) {
		var b Builder
		require.NoError(t, b.Add(NewInt(7)))
		require.True(t, Equal(NewInt(7), b.Bind()))
	})

	t.Run("a field promotes to a record with the value first", func(t *testing.T) {
		var b Builder
		require.NoError(t, b.Add(NewText("first")))
		require.NoError(t, b.Add(NewSlot(NewText("k"), NewInt(1))))
		record, ok := b.Bind().(*RecordMap)
		require.True(t, ok)
		require.Equal(t, 2, record.Size())
		require.True(t, Equal(NewText("first"), record.ItemAt(0)))
	})

	t.Run("a lone field still yields a record", func(t *testing.T) {
		var b Builder
		require.NoError(t, b.Add(NewAttr("a", nil)))
		record, ok := b.Bind().(*RecordMap)
		require.True(t, ok)
		require.Equal(t, "a", record.Tag())
	})

	t.Run("a second value promotes too", func(t *testing.T) {
		var b Builder
		require.NoError(t, b.Add(NewInt(1)))
		require.NoError(t, b.Add(NewInt(2)))
		require.Equal(t, 2, b.Len())
	})
}

func TestEqual_Numbers(t *testing.T) {
	require.True(t, Equal(NewInt(3), NewFloat(3.0)))
	require.False(t, Equal(NewInt(3), NewFloat(3.5)))
	require.True(t, Equal(NewFloat(math.NaN()), NewFloat(math.NaN())))
	require.False(t, Equal(NewInt(3), NewText("3")))
}

func TestValueOf(t *testing.T) {
	v, err := ValueOf(nil)
	require.NoError(t, err)
	require.Same(t, Extant(), v)

	v, err = ValueOf(true)
	require.NoError(t, err)
	require.Same(t, NewBool(true), v)

	v, err = ValueOf(uint8(4))
	require.NoError(t, err)
	require.True(t, Equal(NewInt(4), v))

	v, err = ValueOf(1.5)
	require.NoError(t, err)
	require.True(t, v.(*Num).IsFloat())

	_, err = ValueOf(struct{}{})
	require.ErrorIs(t, err, ErrNotConvertible)

	item, err := ItemOf(map[string]int{"a": 1})
	require.NoError(t, err)
	slot, ok := item.(*Slot)
	require.True(t, ok)
	require.True(t, Equal(NewText("a"), slot.Key()))

	item, err = ItemOf("text")
	require.NoError(t, err)
	require.True(t, Equal(NewText("text"), item))
}
