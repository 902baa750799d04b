package mapview

import (
	"web/clustermap/cluster"
	"web/clustermap/geo"
	"web/clustermap/logger"
)

// The methods below are the map's event sink. The host calls them as
// events happen; MapView reacts where needed and then forwards each one
// to its delegate on the calling goroutine.

func (m *MapView) RegionWillChange(animated bool) {
	m.delegate.RegionWillChange(m, animated)
}

func (m *MapView) RegionDidChange(animated bool) {
	if m.Options().AutoRefresh {
		if _, err := m.RefreshMapView(); err != nil {
			logger.L().Debug("auto_refresh_skipped", "err", err)
		}
	}
	m.delegate.RegionDidChange(m, animated)
}

func (m *MapView) WillStartLoadingMap() { m.delegate.WillStartLoadingMap(m) }

func (m *MapView) DidFinishLoadingMap() { m.delegate.DidFinishLoadingMap(m) }

func (m *MapView) DidFailLoadingMap(err error) { m.delegate.DidFailLoadingMap(m, err) }

func (m *MapView) WillStartRenderingMap() { m.delegate.WillStartRenderingMap(m) }

func (m *MapView) DidFinishRenderingMap(fullyRendered bool) {
	m.delegate.DidFinishRenderingMap(m, fullyRendered)
}

// ViewForAnnotation asks the delegate for a view and falls back to a
// ClusterAnnotationView.
func (m *MapView) ViewForAnnotation(a cluster.Annotation) AnnotationView {
	if v := m.delegate.ViewForAnnotation(m, a); v != nil {
		return v
	}
	return NewClusterAnnotationView(a, m.Options().CanShowCallout)
}

func (m *MapView) DidAddAnnotationViews(views []AnnotationView) {
	if m.Options().AnimateAnnotations {
		for _, v := range views {
			if a, ok := v.(Animatable); ok {
				a.StartAddAnimation()
			}
		}
	}
	m.delegate.DidAddAnnotationViews(m, views)
}

func (m *MapView) CalloutAccessoryTapped(view AnnotationView, control string) {
	m.delegate.CalloutAccessoryTapped(m, view, control)
}

func (m *MapView) DidSelect(view AnnotationView) { m.delegate.DidSelect(m, view) }

func (m *MapView) DidDeselect(view AnnotationView) { m.delegate.DidDeselect(m, view) }

func (m *MapView) WillStartLocatingUser() { m.delegate.WillStartLocatingUser(m) }

func (m *MapView) DidStopLocatingUser() { m.delegate.DidStopLocatingUser(m) }

func (m *MapView) DidUpdateUserLocation(location geo.Coordinate) {
	m.delegate.DidUpdateUserLocation(m, location)
}

func (m *MapView) DidFailToLocateUser(err error) { m.delegate.DidFailToLocateUser(m, err) }

func (m *MapView) DragStateChanged(view AnnotationView, newState, oldState DragState) {
	m.delegate.DragStateChanged(m, view, newState, oldState)
}

func (m *MapView) UserTrackingModeChanged(mode TrackingMode, animated bool) {
	m.delegate.UserTrackingModeChanged(m, mode, animated)
}

// RendererForOverlay returns the delegate's renderer, nil without one.
func (m *MapView) RendererForOverlay(overlay Overlay) Renderer {
	return m.delegate.RendererForOverlay(m, overlay)
}

func (m *MapView) DidAddRenderers(renderers []Renderer) {
	m.delegate.DidAddRenderers(m, renderers)
}
