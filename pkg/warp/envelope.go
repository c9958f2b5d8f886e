package warp

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/raskyld/warp/pkg/recon"
	"github.com/raskyld/warp/pkg/structure"
)

const (
	TagCommand  = "command"
	TagEvent    = "event"
	TagSynced   = "synced"
	TagLink     = "link"
	TagSync     = "sync"
	TagLinked   = "linked"
	TagUnlinked = "unlinked"
)

// Envelope is one WARP message.
//
// Prio and Rate are only meaningful for link-addressed envelopes, a zero or
// NaN value means the server default.
type Envelope struct {
	Tag     string
	NodeURI string
	LaneURI string
	Prio    float64
	Rate    float64
	Body    structure.Value
}

func NewCommand(node, lane string, body structure.Value) *Envelope {
	return newEnvelope(TagCommand, node, lane, body)
}

func NewEvent(node, lane string, body structure.Value) *Envelope {
	return newEnvelope(TagEvent, node, lane, body)
}

func NewSynced(node, lane string, body structure.Value) *Envelope {
	return newEnvelope(TagSynced, node, lane, body)
}

func NewLink(node, lane string, prio, rate float64, body structure.Value) *Envelope {
	return newLinkEnvelope(TagLink, node, lane, prio, rate, body)
}

func NewSync(node, lane string, prio, rate float64, body structure.Value) *Envelope {
	return newLinkEnvelope(TagSync, node, lane, prio, rate, body)
}

func NewLinked(node, lane string, prio, rate float64, body structure.Value) *Envelope {
	return newLinkEnvelope(TagLinked, node, lane, prio, rate, body)
}

func NewUnlinked(node, lane string, prio, rate float64, body structure.Value) *Envelope {
	return newLinkEnvelope(TagUnlinked, node, lane, prio, rate, body)
}

func newEnvelope(tag, node, lane string, body structure.Value) *Envelope {
	if body == nil {
		body = structure.Absent()
	}
	return &Envelope{Tag: tag, NodeURI: node, LaneURI: lane, Body: body}
}

func newLinkEnvelope(tag, node, lane string, prio, rate float64, body structure.Value) *Envelope {
	env := newEnvelope(tag, node, lane, body)
	env.Prio = prio
	env.Rate = rate
	return env
}

// Route is the `node/lane` key envelopes are dispatched on.
func (e *Envelope) Route() string {
	return e.NodeURI + "/" + e.LaneURI
}

// ToRecon renders the envelope in its canonical wire form.
func (e *Envelope) ToRecon() (string, error) {
	form, err := ResolveForm(e.Tag)
	if err != nil {
		return "", err
	}
	return recon.Write(form.Mold(e)), nil
}

func (e *Envelope) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("tag", e.Tag),
		slog.String("node", e.NodeURI),
		slog.String("lane", e.LaneURI),
	)
}

// ParseEnvelope decodes one wire frame.
func ParseEnvelope(text string) (*Envelope, error) {
	v, err := recon.Parse(text)
	if err != nil {
		return nil, err
	}

	record, ok := v.(structure.Record)
	if !ok || record.Tag() == "" {
		return nil, fmt.Errorf("%w: frame is not a tagged record", ErrInvalidFormTag)
	}

	form, err := ResolveForm(record.Tag())
	if err != nil {
		return nil, err
	}
	return form.Cast(record)
}

// Equal compares envelopes field by field, a NaN priority or rate being
// equal to zero.
func Equal(a, b *Envelope) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Tag == b.Tag &&
		a.NodeURI == b.NodeURI &&
		a.LaneURI == b.LaneURI &&
		orZero(a.Prio) == orZero(b.Prio) &&
		orZero(a.Rate) == orZero(b.Rate) &&
		structure.Equal(bodyOf(a), bodyOf(b))
}

func orZero(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return f
}

func bodyOf(e *Envelope) structure.Value {
	if e.Body == nil {
		return structure.Absent()
	}
	return e.Body
}
