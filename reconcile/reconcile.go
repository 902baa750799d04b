// Package reconcile computes the minimal add/remove patch between the
// displayed annotations and a new snapshot.
package reconcile

import (
	"math"

	"web/clustermap/cluster"
	"web/clustermap/fetch"
	"web/clustermap/geo"
)

const (
	// FitInflation grows each span of the fitted region.
	FitInflation = 1.3
	// MinFitSpan keeps a single record from zooming to street level.
	MinFitSpan = 0.005
)

type Patch struct {
	ToAdd    []cluster.Annotation
	ToRemove []cluster.Annotation
}

func (p Patch) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToRemove) == 0
}

// Diff returns next minus current as ToAdd and current minus next as
// ToRemove, comparing annotations by Key. Both keep their input order.
func Diff(current, next []cluster.Annotation) Patch {
	have := make(map[string]struct{}, len(current))
	for _, a := range current {
		have[a.Key()] = struct{}{}
	}
	want := make(map[string]struct{}, len(next))
	var p Patch
	for _, a := range next {
		k := a.Key()
		if _, dup := want[k]; dup {
			continue
		}
		want[k] = struct{}{}
		if _, ok := have[k]; !ok {
			p.ToAdd = append(p.ToAdd, a)
		}
	}
	for _, a := range current {
		if _, ok := want[a.Key()]; !ok {
			p.ToRemove = append(p.ToRemove, a)
		}
	}
	return p
}

// Apply patches displayed with p and returns the new displayed set.
func Apply(displayed []cluster.Annotation, p Patch) []cluster.Annotation {
	drop := make(map[string]struct{}, len(p.ToRemove))
	for _, a := range p.ToRemove {
		drop[a.Key()] = struct{}{}
	}
	out := make([]cluster.Annotation, 0, len(displayed)-len(p.ToRemove)+len(p.ToAdd))
	for _, a := range displayed {
		if _, ok := drop[a.Key()]; !ok {
			out = append(out, a)
		}
	}
	return append(out, p.ToAdd...)
}

// Outcome is either a patch or, on the first non-empty snapshot with
// zoom-to-fit armed, the bounds of the records. FitRegion turns the bounds
// into the region to move the viewport to.
type Outcome struct {
	Patch  Patch
	ZoomTo *geo.Region
}

// Reconciler is owned by the main loop and is not safe for concurrent use.
type Reconciler struct {
	zoomToFit bool
}

func New(zoomToFit bool) *Reconciler {
	return &Reconciler{zoomToFit: zoomToFit}
}

// Pending reports whether the next non-empty snapshot will zoom to fit.
func (r *Reconciler) Pending() bool {
	return r.zoomToFit
}

// Rearm makes the next non-empty snapshot zoom to fit again.
func (r *Reconciler) Rearm() {
	r.zoomToFit = true
}

func (r *Reconciler) Disarm() {
	r.zoomToFit = false
}

func (r *Reconciler) Reconcile(current []cluster.Annotation, snap fetch.Snapshot) Outcome {
	if r.zoomToFit && !snap.Empty() {
		r.zoomToFit = false
		bounds := BoundingRegion(snap.Records)
		return Outcome{ZoomTo: &bounds}
	}
	return Outcome{Patch: Diff(current, snap.Annotations)}
}

// BoundingRegion bounds records, raising each span to MinFitSpan.
func BoundingRegion(records []cluster.RecordRef) geo.Region {
	if len(records) == 0 {
		return geo.Region{}
	}
	coords := make([]geo.Coordinate, len(records))
	for i, r := range records {
		coords[i] = r.Coordinate
	}
	region := geo.RegionForMapRect(geo.BoundingMapRect(coords))
	region.Span.LatitudeDelta = math.Max(region.Span.LatitudeDelta, MinFitSpan)
	region.Span.LongitudeDelta = math.Max(region.Span.LongitudeDelta, MinFitSpan)
	return region
}

// FitRegion matches bounds to the view's aspect ratio, then inflates each
// span by FitInflation.
func FitRegion(bounds geo.Region, widthPx, heightPx float64) geo.Region {
	region := geo.RegionThatFits(bounds, widthPx, heightPx).Inflate(FitInflation)
	region.Span.LatitudeDelta = math.Min(region.Span.LatitudeDelta, 180)
	region.Span.LongitudeDelta = math.Min(region.Span.LongitudeDelta, 360)
	return region
}
