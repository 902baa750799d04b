package mapview

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/clustermap/cluster"
	"web/clustermap/geo"
	"web/clustermap/store/memory"
)

type recordingDelegate struct {
	BaseDelegate
	mu                sync.Mutex
	calls             []string
	onRegionDidChange func(*MapView)
	view              AnnotationView
	renderer          Renderer
}

func (d *recordingDelegate) record(name string) {
	d.mu.Lock()
	d.calls = append(d.calls, name)
	d.mu.Unlock()
}

func (d *recordingDelegate) events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *recordingDelegate) RegionWillChange(*MapView, bool) { d.record("RegionWillChange") }

func (d *recordingDelegate) RegionDidChange(m *MapView, _ bool) {
	d.record("RegionDidChange")
	if d.onRegionDidChange != nil {
		d.onRegionDidChange(m)
	}
}

func (d *recordingDelegate) WillStartLoadingMap(*MapView) { d.record("WillStartLoadingMap") }

func (d *recordingDelegate) DidFinishLoadingMap(*MapView) { d.record("DidFinishLoadingMap") }

func (d *recordingDelegate) DidFailLoadingMap(*MapView, error) { d.record("DidFailLoadingMap") }

func (d *recordingDelegate) WillStartRenderingMap(*MapView) { d.record("WillStartRenderingMap") }

func (d *recordingDelegate) DidFinishRenderingMap(*MapView, bool) {
	d.record("DidFinishRenderingMap")
}

func (d *recordingDelegate) ViewForAnnotation(*MapView, cluster.Annotation) AnnotationView {
	d.record("ViewForAnnotation")
	return d.view
}

func (d *recordingDelegate) DidAddAnnotationViews(*MapView, []AnnotationView) {
	d.record("DidAddAnnotationViews")
}

func (d *recordingDelegate) CalloutAccessoryTapped(*MapView, AnnotationView, string) {
	d.record("CalloutAccessoryTapped")
}

func (d *recordingDelegate) DidSelect(*MapView, AnnotationView) { d.record("DidSelect") }

func (d *recordingDelegate) DidDeselect(*MapView, AnnotationView) { d.record("DidDeselect") }

func (d *recordingDelegate) WillStartLocatingUser(*MapView) { d.record("WillStartLocatingUser") }

func (d *recordingDelegate) DidStopLocatingUser(*MapView) { d.record("DidStopLocatingUser") }

func (d *recordingDelegate) DidUpdateUserLocation(*MapView, geo.Coordinate) {
	d.record("DidUpdateUserLocation")
}

func (d *recordingDelegate) DidFailToLocateUser(*MapView, error) { d.record("DidFailToLocateUser") }

func (d *recordingDelegate) DragStateChanged(*MapView, AnnotationView, DragState, DragState) {
	d.record("DragStateChanged")
}

func (d *recordingDelegate) UserTrackingModeChanged(*MapView, TrackingMode, bool) {
	d.record("UserTrackingModeChanged")
}

func (d *recordingDelegate) RendererForOverlay(*MapView, Overlay) Renderer {
	d.record("RendererForOverlay")
	return d.renderer
}

func (d *recordingDelegate) DidAddRenderers(*MapView, []Renderer) { d.record("DidAddRenderers") }

type squareOverlay struct{}

func (squareOverlay) BoundingMapRect() geo.MapRect { return geo.NewMapRect(0, 0, 1, 1) }

type squareRenderer struct{}

func (squareRenderer) Overlay() Overlay { return squareOverlay{} }

func TestEveryEventIsForwarded(t *testing.T) {
	d := &recordingDelegate{}
	m := newView(t, memory.New(), nil, placeOptions(), WithDelegate(d))
	view := NewClusterAnnotationView(cluster.Annotation{}, true)
	boom := errors.New("boom")

	tests := []struct {
		event string
		fire  func()
	}{
		{"RegionWillChange", func() { m.RegionWillChange(false) }},
		{"WillStartLoadingMap", m.WillStartLoadingMap},
		{"DidFinishLoadingMap", m.DidFinishLoadingMap},
		{"DidFailLoadingMap", func() { m.DidFailLoadingMap(boom) }},
		{"WillStartRenderingMap", m.WillStartRenderingMap},
		{"DidFinishRenderingMap", func() { m.DidFinishRenderingMap(true) }},
		{"ViewForAnnotation", func() { m.ViewForAnnotation(cluster.Annotation{}) }},
		{"DidAddAnnotationViews", func() { m.DidAddAnnotationViews(nil) }},
		{"CalloutAccessoryTapped", func() { m.CalloutAccessoryTapped(view, "info") }},
		{"DidSelect", func() { m.DidSelect(view) }},
		{"DidDeselect", func() { m.DidDeselect(view) }},
		{"WillStartLocatingUser", m.WillStartLocatingUser},
		{"DidStopLocatingUser", m.DidStopLocatingUser},
		{"DidUpdateUserLocation", func() { m.DidUpdateUserLocation(geo.Coordinate{}) }},
		{"DidFailToLocateUser", func() { m.DidFailToLocateUser(boom) }},
		{"DragStateChanged", func() { m.DragStateChanged(view, DragEnding, DragDragging) }},
		{"UserTrackingModeChanged", func() { m.UserTrackingModeChanged(TrackingFollow, true) }},
		{"RendererForOverlay", func() { m.RendererForOverlay(squareOverlay{}) }},
		{"DidAddRenderers", func() { m.DidAddRenderers(nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			before := len(d.events())
			tt.fire()
			got := d.events()
			require.Len(t, got, before+1)
			assert.Equal(t, tt.event, got[before])
		})
	}
}

func TestRegionDidChangeRefreshesBeforeForwarding(t *testing.T) {
	opts := placeOptions()
	opts.ZoomOnFirstRefresh = false
	var genAtCallback uint64
	d := &recordingDelegate{}
	m := newView(t, memory.New(), nil, opts, WithDelegate(d))
	d.onRegionDidChange = func(m *MapView) { genAtCallback = m.coord.Generation() }

	m.RegionDidChange(false)
	assert.Equal(t, uint64(1), genAtCallback)
	settle(t, m)
}

func TestDefaultAnnotationView(t *testing.T) {
	opts := placeOptions()
	opts.CanShowCallout = false
	m := newView(t, memory.New(), nil, opts)

	a := cluster.Annotation{Kind: cluster.KindCluster, Members: make([]cluster.RecordRef, 3)}
	v, ok := m.ViewForAnnotation(a).(*ClusterAnnotationView)
	require.True(t, ok)
	assert.Equal(t, 3, v.Count)
	assert.False(t, v.CanShowCallout)
	assert.False(t, v.Animating)

	m.DidAddAnnotationViews([]AnnotationView{v})
	assert.True(t, v.Animating)

	opts.AnimateAnnotations = false
	require.NoError(t, m.SetOptions(opts))
	quiet := NewClusterAnnotationView(a, true)
	m.DidAddAnnotationViews([]AnnotationView{quiet})
	assert.False(t, quiet.Animating)
	settle(t, m)
}

func TestDelegateViewWins(t *testing.T) {
	custom := NewClusterAnnotationView(cluster.Annotation{}, true)
	d := &recordingDelegate{view: custom, renderer: squareRenderer{}}
	m := newView(t, memory.New(), nil, placeOptions(), WithDelegate(d))

	assert.Same(t, custom, m.ViewForAnnotation(cluster.Annotation{}))
	assert.Equal(t, squareRenderer{}, m.RendererForOverlay(squareOverlay{}))
}

func TestNoDelegateRendererIsNil(t *testing.T) {
	m := newView(t, memory.New(), nil, placeOptions())
	assert.Nil(t, m.RendererForOverlay(squareOverlay{}))
	assert.IsType(t, &ClusterAnnotationView{}, m.ViewForAnnotation(cluster.Annotation{}))
}
