package mapview

import (
	"web/clustermap/cluster"
	"web/clustermap/geo"
)

// AnnotationView is what the canvas draws for one annotation.
type AnnotationView interface {
	Annotation() cluster.Annotation
}

// Animatable views play an appear animation when added.
type Animatable interface {
	StartAddAnimation()
}

// ClusterAnnotationView is the view used when the delegate supplies none:
// a badge showing the member count.
type ClusterAnnotationView struct {
	annotation     cluster.Annotation
	Count          int
	CanShowCallout bool
	Animating      bool
}

func NewClusterAnnotationView(a cluster.Annotation, canShowCallout bool) *ClusterAnnotationView {
	return &ClusterAnnotationView{annotation: a, Count: a.Count(), CanShowCallout: canShowCallout}
}

func (v *ClusterAnnotationView) Annotation() cluster.Annotation { return v.annotation }

func (v *ClusterAnnotationView) StartAddAnimation() { v.Animating = true }

type DragState int

const (
	DragNone DragState = iota
	DragStarting
	DragDragging
	DragCanceling
	DragEnding
)

type TrackingMode int

const (
	TrackingNone TrackingMode = iota
	TrackingFollow
	TrackingFollowWithHeading
)

// Overlay is a shape drawn above the map.
type Overlay interface {
	BoundingMapRect() geo.MapRect
}

// Renderer draws one overlay.
type Renderer interface {
	Overlay() Overlay
}

// Delegate receives every map event. MapView handles the events it cares
// about first and then forwards all of them, unchanged, to its delegate.
type Delegate interface {
	RegionWillChange(m *MapView, animated bool)
	RegionDidChange(m *MapView, animated bool)

	WillStartLoadingMap(m *MapView)
	DidFinishLoadingMap(m *MapView)
	DidFailLoadingMap(m *MapView, err error)
	WillStartRenderingMap(m *MapView)
	DidFinishRenderingMap(m *MapView, fullyRendered bool)

	// ViewForAnnotation may return nil to get the default view.
	ViewForAnnotation(m *MapView, a cluster.Annotation) AnnotationView
	DidAddAnnotationViews(m *MapView, views []AnnotationView)
	CalloutAccessoryTapped(m *MapView, view AnnotationView, control string)
	DidSelect(m *MapView, view AnnotationView)
	DidDeselect(m *MapView, view AnnotationView)

	WillStartLocatingUser(m *MapView)
	DidStopLocatingUser(m *MapView)
	DidUpdateUserLocation(m *MapView, location geo.Coordinate)
	DidFailToLocateUser(m *MapView, err error)

	DragStateChanged(m *MapView, view AnnotationView, newState, oldState DragState)
	UserTrackingModeChanged(m *MapView, mode TrackingMode, animated bool)

	RendererForOverlay(m *MapView, overlay Overlay) Renderer
	DidAddRenderers(m *MapView, renderers []Renderer)
}

// BaseDelegate implements Delegate with no-ops. Embed it to handle a few
// events only.
type BaseDelegate struct{}

func (BaseDelegate) RegionWillChange(*MapView, bool) {}

func (BaseDelegate) RegionDidChange(*MapView, bool) {}

func (BaseDelegate) WillStartLoadingMap(*MapView) {}

func (BaseDelegate) DidFinishLoadingMap(*MapView) {}

func (BaseDelegate) DidFailLoadingMap(*MapView, error) {}

func (BaseDelegate) WillStartRenderingMap(*MapView) {}

func (BaseDelegate) DidFinishRenderingMap(*MapView, bool) {}

func (BaseDelegate) DidAddAnnotationViews(*MapView, []AnnotationView) {}

func (BaseDelegate) CalloutAccessoryTapped(*MapView, AnnotationView, string) {}

func (BaseDelegate) DidSelect(*MapView, AnnotationView) {}

func (BaseDelegate) DidDeselect(*MapView, AnnotationView) {}

func (BaseDelegate) WillStartLocatingUser(*MapView) {}

func (BaseDelegate) DidStopLocatingUser(*MapView) {}

func (BaseDelegate) DidUpdateUserLocation(*MapView, geo.Coordinate) {}

func (BaseDelegate) DidFailToLocateUser(*MapView, error) {}

func (BaseDelegate) DragStateChanged(*MapView, AnnotationView, DragState, DragState) {}

func (BaseDelegate) UserTrackingModeChanged(*MapView, TrackingMode, bool) {}

func (BaseDelegate) DidAddRenderers(*MapView, []Renderer) {}

func (BaseDelegate) ViewForAnnotation(*MapView, cluster.Annotation) AnnotationView { return nil }

func (BaseDelegate) RendererForOverlay(*MapView, Overlay) Renderer { return nil }
