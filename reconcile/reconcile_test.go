package reconcile

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/clustermap/cluster"
	"web/clustermap/fetch"
	"web/clustermap/geo"
)

func ref(id string, lat, lon float64) cluster.RecordRef {
	return cluster.NewRecordRef(id, "Place", geo.Coordinate{Latitude: lat, Longitude: lon}, id, "", nil)
}

func single(id string, lat, lon float64) cluster.Annotation {
	return cluster.NewSingle(ref(id, lat, lon))
}

func group(lat, lon float64, ids ...string) cluster.Annotation {
	members := make([]cluster.RecordRef, len(ids))
	for i, id := range ids {
		members[i] = ref(id, lat, lon)
	}
	return cluster.Annotation{Kind: cluster.KindCluster, Coordinate: geo.Coordinate{Latitude: lat, Longitude: lon}, Members: members}
}

func keys(as []cluster.Annotation) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Key()
	}
	return out
}

func TestDiff(t *testing.T) {
	kept := group(1, 1, "a", "b")
	regrouped := group(1, 1, "a", "b", "c")
	moved := single("d", 2, 2)
	movedAgain := single("d", 2.5, 2)

	current := []cluster.Annotation{kept, moved, single("gone", 3, 3)}
	next := []cluster.Annotation{kept, regrouped, movedAgain}

	p := Diff(current, next)
	assert.Equal(t, keys([]cluster.Annotation{regrouped, movedAgain}), keys(p.ToAdd))
	assert.Equal(t, keys([]cluster.Annotation{moved, single("gone", 3, 3)}), keys(p.ToRemove))
}

func TestDiffIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		var set []cluster.Annotation
		for j := 0; j < rng.Intn(20); j++ {
			if rng.Intn(2) == 0 {
				set = append(set, single(fmt.Sprint(j), rng.Float64()*10, rng.Float64()*10))
			} else {
				set = append(set, group(rng.Float64(), rng.Float64(), fmt.Sprint(j), fmt.Sprint(j+100)))
			}
		}
		p := Diff(set, set)
		require.True(t, p.Empty(), "iteration %d", i)
	}
}

func TestDiffFromEmpty(t *testing.T) {
	next := []cluster.Annotation{single("a", 0, 0), single("a", 0, 0)}
	p := Diff(nil, next)
	assert.Len(t, p.ToAdd, 1, "duplicates in next are added once")
	assert.Empty(t, p.ToRemove)

	p = Diff(next[:1], nil)
	assert.Empty(t, p.ToAdd)
	assert.Len(t, p.ToRemove, 1)
}

func TestApply(t *testing.T) {
	current := []cluster.Annotation{single("a", 0, 0), single("b", 1, 1)}
	next := []cluster.Annotation{single("b", 1, 1), single("c", 2, 2)}
	displayed := Apply(current, Diff(current, next))
	assert.ElementsMatch(t, keys(next), keys(displayed))
	assert.True(t, Diff(displayed, next).Empty())
}

func snapshot(records ...cluster.RecordRef) fetch.Snapshot {
	return fetch.Snapshot{Records: records, Annotations: cluster.Singles(records)}
}

func TestZoomToFitOnFirstNonEmptySnapshot(t *testing.T) {
	r := New(true)
	assert.True(t, r.Pending())

	out := r.Reconcile(nil, snapshot())
	assert.Nil(t, out.ZoomTo, "empty snapshot does not consume the flag")
	assert.True(t, r.Pending())

	out = r.Reconcile(nil, snapshot(ref("a", 0, 0), ref("b", 10, 10)))
	require.NotNil(t, out.ZoomTo)
	assert.True(t, out.Patch.Empty(), "zoom replaces the patch")
	assert.False(t, r.Pending())

	out = r.Reconcile(nil, snapshot(ref("a", 0, 0)))
	assert.Nil(t, out.ZoomTo)
	assert.Len(t, out.Patch.ToAdd, 1)

	r.Rearm()
	out = r.Reconcile(nil, snapshot(ref("a", 0, 0)))
	assert.NotNil(t, out.ZoomTo)

	r = New(false)
	out = r.Reconcile(nil, snapshot(ref("a", 0, 0)))
	assert.Nil(t, out.ZoomTo)
	assert.Len(t, out.Patch.ToAdd, 1)
}

func TestBoundingRegion(t *testing.T) {
	region := BoundingRegion([]cluster.RecordRef{ref("a", 0, 0), ref("b", 10, 10)})
	assert.InDelta(t, 10, region.Span.LongitudeDelta, 1e-6)
	assert.InDelta(t, 10, region.Span.LatitudeDelta, 1e-6)
	assert.InDelta(t, 5, region.Center.Longitude, 1e-6)
	assert.InDelta(t, 5, region.Center.Latitude, 0.1)

	region = BoundingRegion([]cluster.RecordRef{ref("a", 48.85, 2.35)})
	assert.InDelta(t, MinFitSpan, region.Span.LatitudeDelta, 1e-9)
	assert.InDelta(t, MinFitSpan, region.Span.LongitudeDelta, 1e-9)
	assert.InDelta(t, 48.85, region.Center.Latitude, 1e-6)

	assert.Equal(t, geo.Region{}, BoundingRegion(nil))
}

func TestFitRegionFitsBeforeInflating(t *testing.T) {
	tests := []struct {
		name          string
		records       []cluster.RecordRef
		width, height float64
	}{
		{"equator square view", []cluster.RecordRef{ref("a", 0, 0), ref("b", 10, 10)}, 500, 500},
		{"wide view", []cluster.RecordRef{ref("a", 0, 0), ref("b", 10, 10)}, 1024, 768},
		{"near the pole", []cluster.RecordRef{ref("a", 70, 0), ref("b", 80, 5)}, 1024, 768},
		{"no view size", []cluster.RecordRef{ref("a", 48.85, 2.35)}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bounds := BoundingRegion(tt.records)
			want := geo.RegionThatFits(bounds, tt.width, tt.height)
			got := FitRegion(bounds, tt.width, tt.height)
			assert.InDelta(t, want.Span.LatitudeDelta*FitInflation, got.Span.LatitudeDelta, 1e-9)
			assert.InDelta(t, want.Span.LongitudeDelta*FitInflation, got.Span.LongitudeDelta, 1e-9)
			assert.InDelta(t, want.Center.Latitude, got.Center.Latitude, 1e-9)
			assert.InDelta(t, want.Center.Longitude, got.Center.Longitude, 1e-9)
		})
	}

	world := FitRegion(BoundingRegion([]cluster.RecordRef{ref("a", -80, -179), ref("b", 80, 179)}), 1024, 768)
	assert.LessOrEqual(t, world.Span.LatitudeDelta, 180.0)
	assert.LessOrEqual(t, world.Span.LongitudeDelta, 360.0)
}
