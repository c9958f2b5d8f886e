package warp

import (
	"fmt"

	"github.com/raskyld/warp/pkg/structure"
)

const (
	MapUpdate = "update"
	MapRemove = "remove"
)

// MapAction is a decoded map lane body.
type MapAction struct {
	Kind  string
	Key   structure.Value
	Value structure.Value
}

// UpdateBody builds `@update(key:K)V`.
func UpdateBody(key, value structure.Value) structure.Value {
	return structure.Concat(mapHeader(MapUpdate, key), value)
}

// RemoveBody builds `@remove(key:K)`.
func RemoveBody(key structure.Value) structure.Value {
	return structure.NewRecordMap(mapHeader(MapRemove, key))
}

func mapHeader(kind string, key structure.Value) *structure.Attr {
	return structure.NewAttr(kind, structure.NewRecordMap(
		structure.NewSlot(structure.NewText("key"), key),
	))
}

// ParseMapBody decodes an update or remove body.
func ParseMapBody(body structure.Value) (MapAction, error) {
	record, ok := body.(structure.Record)
	if !ok {
		return MapAction{}, fmt.Errorf("%w: not a record", ErrMalformedMapBody)
	}

	kind := record.Tag()
	if kind != MapUpdate && kind != MapRemove {
		return MapAction{}, fmt.Errorf("%w: unexpected tag %q", ErrMalformedMapBody, kind)
	}

	headers := record.Headers(kind)
	key := structure.Absent()
	if headers != nil {
		key = headers.Get(structure.NewText("key"))
	}
	if !structure.IsDefined(key) {
		return MapAction{}, fmt.Errorf("%w: %s has no key", ErrMalformedMapBody, kind)
	}

	action := MapAction{Kind: kind, Key: key, Value: structure.Absent()}
	if kind == MapUpdate {
		action.Value = record.Body()
	}
	return action, nil
}
