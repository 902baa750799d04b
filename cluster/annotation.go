package cluster

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"web/clustermap/geo"
)

var ErrTypeMismatch = errors.New("record type mismatch")

// NoDistance marks a RecordRef that was not sorted by distance.
const NoDistance = -1.0

// RecordRef is an immutable snapshot of one persisted record. It carries
// everything the display layer needs so no store handle has to stay open
// once a fetch returns. The originating object is kept behind a type tag
// and recovered with As.
type RecordRef struct {
	ID         string         `json:"id"`
	Entity     string         `json:"entity"`
	Coordinate geo.Coordinate `json:"coordinate"`
	Title      string         `json:"title,omitempty"`
	Subtitle   string         `json:"subtitle,omitempty"`
	// Distance from the sort center in meters, NoDistance when unsorted.
	Distance float64 `json:"distance"`

	object  any
	typeTag string
}

func NewRecordRef(id, entity string, coord geo.Coordinate, title, subtitle string, object any) RecordRef {
	return RecordRef{
		ID:         id,
		Entity:     entity,
		Coordinate: coord,
		Title:      title,
		Subtitle:   subtitle,
		Distance:   NoDistance,
		object:     object,
		typeTag:    fmt.Sprintf("%T", object),
	}
}

// WithDistance returns a copy of r with Distance set.
func (r RecordRef) WithDistance(meters float64) RecordRef {
	r.Distance = meters
	return r
}

// TypeTag names the dynamic type of the originating object.
func (r RecordRef) TypeTag() string {
	return r.typeTag
}

// As recovers the object a RecordRef was built from.
func As[T any](r RecordRef) (T, error) {
	v, ok := r.object.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: record %s holds %s, not %T", ErrTypeMismatch, r.ID, r.typeTag, zero)
	}
	return v, nil
}

type Kind uint8

const (
	KindSingle Kind = iota
	KindCluster
)

func (k Kind) String() string {
	if k == KindCluster {
		return "cluster"
	}
	return "single"
}

// Annotation is a single record or a cluster of records placed on the map.
// Members are ordered by record ID.
type Annotation struct {
	Kind       Kind           `json:"kind"`
	Coordinate geo.Coordinate `json:"coordinate"`
	Title      string         `json:"title,omitempty"`
	Subtitle   string         `json:"subtitle,omitempty"`
	Members    []RecordRef    `json:"members"`
}

func NewSingle(r RecordRef) Annotation {
	return Annotation{
		Kind:       KindSingle,
		Coordinate: r.Coordinate,
		Title:      r.Title,
		Subtitle:   r.Subtitle,
		Members:    []RecordRef{r},
	}
}

// Singles wraps each record as its own annotation.
func Singles(records []RecordRef) []Annotation {
	out := make([]Annotation, len(records))
	for i, r := range records {
		out[i] = NewSingle(r)
	}
	return out
}

func (a Annotation) Count() int {
	return len(a.Members)
}

// Record returns the wrapped record of a single annotation.
func (a Annotation) Record() (RecordRef, bool) {
	if a.Kind != KindSingle || len(a.Members) != 1 {
		return RecordRef{}, false
	}
	return a.Members[0], true
}

// Key identifies an annotation for diffing: its coordinate plus the IDs of
// its members. Two annotations with equal keys are the same marker.
func (a Annotation) Key() string {
	var b strings.Builder
	b.WriteString(strconv.FormatFloat(a.Coordinate.Latitude, 'f', 9, 64))
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(a.Coordinate.Longitude, 'f', 9, 64))
	b.WriteByte('|')
	for i, m := range a.Members {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(m.Entity)
		b.WriteByte(':')
		b.WriteString(m.ID)
	}
	return b.String()
}

// Equal compares annotations by Key.
func (a Annotation) Equal(o Annotation) bool {
	return a.Key() == o.Key()
}
