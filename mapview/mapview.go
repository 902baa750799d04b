// Package mapview is a headless map view: it fetches the records inside
// its viewport, clusters them and keeps a canvas in sync with the result.
//
// All viewport and display state is owned by the view's main loop. Fetches
// run on the coordinator's worker; only the newest one ever reaches the
// canvas.
package mapview

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"web/clustermap/cluster"
	"web/clustermap/fetch"
	"web/clustermap/geo"
	"web/clustermap/logger"
	"web/clustermap/mainloop"
	"web/clustermap/metrics"
	"web/clustermap/query"
	"web/clustermap/reconcile"
	"web/clustermap/runner"
	"web/clustermap/store"
)

var ErrClosed = errors.New("map view closed")

// WorldRegion shows the whole map.
var WorldRegion = geo.Region{Span: geo.Span{LatitudeDelta: 180, LongitudeDelta: 360}}

const (
	DefaultViewWidth  = 1024
	DefaultViewHeight = 768
)

// Canvas draws the displayed annotations. It is called on the main loop.
type Canvas interface {
	AddAnnotations(annotations []cluster.Annotation)
	RemoveAnnotations(annotations []cluster.Annotation)
}

type nopCanvas struct{}

func (nopCanvas) AddAnnotations([]cluster.Annotation)    {}
func (nopCanvas) RemoveAnnotations([]cluster.Annotation) {}

type Option func(*MapView)

// WithDelegate sets the delegate every event is forwarded to.
func WithDelegate(d Delegate) Option {
	return func(m *MapView) {
		if d != nil {
			m.delegate = d
		}
	}
}

func WithViewSize(width, height float64) Option {
	return func(m *MapView) {
		m.width, m.height = width, height
	}
}

// WithRegion sets the initial region. It defaults to WorldRegion.
func WithRegion(r geo.Region) Option {
	return func(m *MapView) { m.region = r }
}

func WithEngine(e *cluster.Engine) Option {
	return func(m *MapView) { m.engine = e }
}

type MapView struct {
	canvas   Canvas
	delegate Delegate
	engine   *cluster.Engine
	ctrl     *fetch.Controller
	loop     *mainloop.Loop
	coord    *runner.Coordinator

	// reconciler is touched on the loop only.
	reconciler *reconcile.Reconciler

	// mu guards the fields below. They are written on the loop, except
	// opts and the view size, and read from anywhere.
	mu        sync.RWMutex
	opts      Options
	region    geo.Region
	width     float64
	height    float64
	displayed []cluster.Annotation
	snapshot  fetch.Snapshot

	closed atomic.Bool
}

// New builds a view over st. It fails with query.ErrMissingRequiredField
// when opts lack the entity or a coordinate field.
func New(st store.RecordStore, canvas Canvas, opts Options, options ...Option) (*MapView, error) {
	if err := opts.Validate(); err != nil {
		logger.L().Error("mapview_invalid_options", "err", err)
		return nil, err
	}
	m := &MapView{
		canvas:   canvas,
		delegate: BaseDelegate{},
		opts:     opts,
		region:   WorldRegion,
		width:    DefaultViewWidth,
		height:   DefaultViewHeight,
	}
	for _, o := range options {
		o(m)
	}
	if m.canvas == nil {
		m.canvas = nopCanvas{}
	}
	m.ctrl = fetch.NewController(st, m.engine)
	m.reconciler = reconcile.New(opts.ZoomOnFirstRefresh)
	m.loop = mainloop.New()
	m.coord = runner.New(runner.FetchPlanner(m.ctrl, m.derive), m.loop, m.deliver)
	return m, nil
}

func (m *MapView) Options() Options {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts
}

// SetOptions replaces the options. Pointing the view at another entity or
// store re-arms zoom-to-fit when ZoomOnFirstRefresh is set, and auto-refresh
// fetches with the new options straight away.
func (m *MapView) SetOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		logger.L().Error("mapview_invalid_options", "err", err)
		return err
	}
	m.mu.Lock()
	old := m.opts
	m.opts = opts
	m.mu.Unlock()

	retarget := old.EntityName != opts.EntityName ||
		old.LatitudeField != opts.LatitudeField ||
		old.LongitudeField != opts.LongitudeField ||
		!sameStore(old.StoreConfiguration, opts.StoreConfiguration)
	if !m.loop.Post(func() {
		switch {
		case retarget && opts.ZoomOnFirstRefresh:
			m.reconciler.Rearm()
		case !opts.ZoomOnFirstRefresh:
			m.reconciler.Disarm()
		}
	}) {
		return ErrClosed
	}
	if opts.AutoRefresh {
		_, err := m.RefreshMapView()
		return err
	}
	return nil
}

func sameStore(a, b store.Configuration) bool {
	return a.FileURL == b.FileURL && a.InMemoryIdentifier == b.InMemoryIdentifier && a.SchemaVersion == b.SchemaVersion
}

func (m *MapView) Region() geo.Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.region
}

func (m *MapView) ViewSize() (width, height float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.width, m.height
}

func (m *MapView) SetViewSize(width, height float64) {
	m.mu.Lock()
	m.width, m.height = width, height
	m.mu.Unlock()
}

// VisibleMapRect is the map rect of the current region.
func (m *MapView) VisibleMapRect() geo.MapRect {
	return geo.MapRectForRegion(m.Region())
}

func (m *MapView) ZoomLevel() geo.ZoomLevel {
	v := m.viewport()
	return geo.ZoomLevelForZoomScale(v.ZoomScale)
}

// DisplayedAnnotations returns a copy of what the canvas currently shows.
func (m *MapView) DisplayedAnnotations() []cluster.Annotation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]cluster.Annotation(nil), m.displayed...)
}

// Snapshot returns the last snapshot delivered to the view.
func (m *MapView) Snapshot() fetch.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func (m *MapView) State() runner.State {
	return m.coord.State()
}

// Generation is the number of the latest scheduled refresh.
func (m *MapView) Generation() uint64 {
	return m.coord.Generation()
}

// SetRegion moves the viewport. The change is applied on the main loop,
// firing RegionWillChange and RegionDidChange; the latter refreshes when
// AutoRefresh is on.
func (m *MapView) SetRegion(region geo.Region, animated bool) error {
	if err := region.Validate(); err != nil {
		return err
	}
	if !m.loop.Post(func() { m.setRegion(region, animated) }) {
		return ErrClosed
	}
	return nil
}

func (m *MapView) setRegion(region geo.Region, animated bool) {
	m.RegionWillChange(animated)
	m.mu.Lock()
	m.region = region
	m.mu.Unlock()
	m.RegionDidChange(animated)
}

// RefreshMapView fetches the records in the current viewport and returns
// the refresh generation. The fetch runs in the background.
func (m *MapView) RefreshMapView() (uint64, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	return m.coord.Refresh(m.viewport())
}

// RecordsChanged refreshes when entity is the one shown and AutoRefresh is
// on. It reports whether a refresh was scheduled.
func (m *MapView) RecordsChanged(entity string) bool {
	opts := m.Options()
	if !opts.AutoRefresh || entity != opts.EntityName {
		return false
	}
	_, err := m.RefreshMapView()
	return err == nil
}

func (m *MapView) viewport() runner.Viewport {
	m.mu.RLock()
	region, width := m.region, m.width
	m.mu.RUnlock()
	visible := geo.MapRectForRegion(region)
	return runner.Viewport{
		Region:         region,
		VisibleMapRect: visible,
		ZoomScale:      geo.ZoomScale(visible, width),
	}
}

func (m *MapView) derive(v runner.Viewport) (query.FetchRequest, fetch.Params, error) {
	return m.Options().request(v.Region, v.VisibleMapRect, v.ZoomScale)
}

// deliver runs on the loop with the newest snapshot.
func (m *MapView) deliver(snap fetch.Snapshot) {
	if m.closed.Load() {
		return
	}
	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()

	out := m.reconciler.Reconcile(m.displayed, snap)
	if out.ZoomTo != nil {
		w, h := m.ViewSize()
		region := reconcile.FitRegion(*out.ZoomTo, w, h)
		logger.L().Debug("zoom_to_fit",
			"generation", snap.Generation,
			"records", len(snap.Records),
			"lat", region.Center.Latitude,
			"lon", region.Center.Longitude,
		)
		m.setRegion(region, true)
		return
	}
	m.apply(out.Patch)
}

// apply adds before it removes so the canvas never flashes empty.
func (m *MapView) apply(p reconcile.Patch) {
	if p.Empty() {
		return
	}
	metrics.PatchSize.WithLabelValues("add").Observe(float64(len(p.ToAdd)))
	metrics.PatchSize.WithLabelValues("remove").Observe(float64(len(p.ToRemove)))

	if len(p.ToAdd) > 0 {
		m.canvas.AddAnnotations(p.ToAdd)
		views := make([]AnnotationView, len(p.ToAdd))
		for i, a := range p.ToAdd {
			views[i] = m.ViewForAnnotation(a)
		}
		m.DidAddAnnotationViews(views)
	}
	if len(p.ToRemove) > 0 {
		m.canvas.RemoveAnnotations(p.ToRemove)
	}

	next := reconcile.Apply(m.displayed, p)
	m.mu.Lock()
	m.displayed = next
	m.mu.Unlock()
}

// Settle waits until every refresh scheduled so far, and any refresh those
// trigger in turn, has been delivered or dropped. It must not be called
// from the main loop or a delegate callback.
func (m *MapView) Settle(ctx context.Context) error {
	for {
		if !m.loop.Do(func() {}) {
			return ErrClosed
		}
		gen := m.coord.Generation()
		if err := m.coord.Wait(ctx, gen); err != nil {
			if errors.Is(err, runner.ErrClosed) {
				return ErrClosed
			}
			return err
		}
		if !m.loop.Do(func() {}) {
			return ErrClosed
		}
		if m.coord.Generation() == gen {
			return nil
		}
	}
}

// Close cancels the fetch in flight and stops the main loop.
func (m *MapView) Close() {
	if m.closed.Swap(true) {
		return
	}
	m.coord.Close()
	m.loop.Close()
}
