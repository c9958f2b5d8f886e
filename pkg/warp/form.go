package warp

import (
	"fmt"
	"math"

	"github.com/raskyld/warp/pkg/recon"
	"github.com/raskyld/warp/pkg/structure"
)

// Form maps one envelope type to and from its structural value.
type Form struct {
	Tag           string
	LinkAddressed bool
}

var forms = map[string]*Form{
	TagCommand:  {Tag: TagCommand},
	TagEvent:    {Tag: TagEvent},
	TagSynced:   {Tag: TagSynced},
	TagLink:     {Tag: TagLink, LinkAddressed: true},
	TagSync:     {Tag: TagSync, LinkAddressed: true},
	TagLinked:   {Tag: TagLinked, LinkAddressed: true},
	TagUnlinked: {Tag: TagUnlinked, LinkAddressed: true},
}

// ResolveForm is the only place unknown envelope types are rejected.
func ResolveForm(tag string) (*Form, error) {
	form, ok := forms[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormTag, tag)
	}
	return form, nil
}

// Mold builds `@tag(node:N,lane:L[,prio:P][,rate:R])` followed by the body.
func (f *Form) Mold(e *Envelope) structure.Value {
	headers := structure.NewRecordMap(
		structure.NewSlot(structure.NewText("node"), structure.NewText(e.NodeURI)),
		structure.NewSlot(structure.NewText("lane"), structure.NewText(e.LaneURI)),
	)
	if f.LinkAddressed {
		if isSet(e.Prio) {
			_ = headers.AddSlot("prio", structure.NewFloat(e.Prio))
		}
		if isSet(e.Rate) {
			_ = headers.AddSlot("rate", structure.NewFloat(e.Rate))
		}
	}
	attr := structure.NewAttr(f.Tag, headers)
	if !structure.IsDefined(e.Body) {
		return structure.NewRecordMap(attr)
	}
	return structure.Concat(attr, e.Body)
}

// Cast reads an envelope back from v, headers may come in any order.
func (f *Form) Cast(v structure.Value) (*Envelope, error) {
	record, ok := v.(structure.Record)
	if !ok {
		return nil, fmt.Errorf("%w: %s envelope is not a record", ErrMissingHeader, f.Tag)
	}
	headers := record.Headers(f.Tag)
	if headers == nil {
		return nil, fmt.Errorf("%w: %s envelope has no headers", ErrMissingHeader, f.Tag)
	}

	env := &Envelope{Tag: f.Tag}
	var hasNode, hasLane bool
	for _, item := range headers.Items() {
		slot, ok := item.(*structure.Slot)
		if !ok {
			continue
		}
		key, ok := slot.Key().(*structure.Text)
		if !ok {
			continue
		}
		switch key.String() {
		case "node":
			env.NodeURI, hasNode = textOf(slot.Value()), true
		case "lane":
			env.LaneURI, hasLane = textOf(slot.Value()), true
		case "prio":
			env.Prio = floatOf(slot.Value())
		case "rate":
			env.Rate = floatOf(slot.Value())
		}
	}

	if !hasNode {
		return nil, fmt.Errorf("%w: %s envelope has no node", ErrMissingHeader, f.Tag)
	}
	if !hasLane {
		return nil, fmt.Errorf("%w: %s envelope has no lane", ErrMissingHeader, f.Tag)
	}
	if !f.LinkAddressed {
		env.Prio, env.Rate = 0, 0
	}

	env.Body = record.Body()
	return env, nil
}

func isSet(f float64) bool {
	return f != 0 && !math.IsNaN(f)
}

func textOf(v structure.Value) string {
	if t, ok := v.(*structure.Text); ok {
		return t.String()
	}
	return recon.Write(v)
}

func floatOf(v structure.Value) float64 {
	if n, ok := v.(*structure.Num); ok {
		return n.Float()
	}
	return 0
}
