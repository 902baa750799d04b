// Package fetch runs a spatial query against a record store and turns the
// matches into an immutable snapshot of annotations.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"web/clustermap/cluster"
	"web/clustermap/geo"
	"web/clustermap/logger"
	"web/clustermap/metrics"
	"web/clustermap/query"
	"web/clustermap/store"
)

// SortDescriptor orders records by great-circle distance from Center.
type SortDescriptor struct {
	Center       geo.Coordinate `json:"center"`
	NearestFirst bool           `json:"nearestFirst"`
}

func (s SortDescriptor) Reverse() SortDescriptor {
	s.NearestFirst = !s.NearestFirst
	return s
}

type Params struct {
	Configuration  store.Configuration
	TitleField     string
	SubtitleField  string
	Clustering     bool
	VisibleMapRect geo.MapRect
	ZoomScale      float64
	MaxZoomLevel   geo.ZoomLevel
	// ClusterTitleFormat overrides the engine's title format when set.
	ClusterTitleFormat string
	// ResultsLimit caps the records kept; store.Unlimited keeps all.
	ResultsLimit int
	Sort         *SortDescriptor
}

// Snapshot is the result of one fetch. It holds no store handle.
type Snapshot struct {
	Generation  uint64
	Records     []cluster.RecordRef
	Annotations []cluster.Annotation
	Clustered   bool
	ZoomLevel   geo.ZoomLevel
	CreatedAt   time.Time
}

func (s Snapshot) Empty() bool {
	return len(s.Records) == 0
}

type Controller struct {
	store  store.RecordStore
	engine *cluster.Engine
	now    func() time.Time
}

func NewController(st store.RecordStore, engine *cluster.Engine) *Controller {
	if engine == nil {
		engine = cluster.NewEngine(cluster.DefaultOptions())
	}
	return &Controller{store: st, engine: engine, now: time.Now}
}

// Engine returns the cluster engine the controller groups records with.
func (c *Controller) Engine() *cluster.Engine {
	return c.engine
}

// Execute opens a session, runs req and closes the session before
// returning. A store that cannot be opened or queried yields an error
// matching store.ErrStoreUnavailable; no matches yield an empty snapshot.
func (c *Controller) Execute(ctx context.Context, req query.FetchRequest, p Params) (Snapshot, error) {
	sess, err := c.store.Open(ctx, p.Configuration)
	if err != nil {
		if ctx.Err() != nil {
			return Snapshot{}, ctx.Err()
		}
		if !errors.Is(err, store.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
		}
		return Snapshot{}, err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.L().Warn("store_session_close_error", "entity", req.Entity, "err", err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	matches, err := sess.Query(ctx, req, p.ResultsLimit)
	if err != nil {
		if ctx.Err() != nil {
			return Snapshot{}, ctx.Err()
		}
		if !errors.Is(err, store.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
		}
		return Snapshot{}, err
	}
	// The backend treats the limit as a hint; it is applied to readable
	// records only.
	fr := fieldReader{lat: req.LatitudeField, lon: req.LongitudeField, title: p.TitleField, subtitle: p.SubtitleField}
	refs := make([]cluster.RecordRef, 0, len(matches))
	for _, rec := range matches {
		ref, ok := fr.ref(req.Entity, rec)
		if !ok {
			logger.L().Debug("record_skipped", "entity", req.Entity, "id", rec.PrimaryKey(), "reason", "unreadable_coordinate")
			continue
		}
		refs = append(refs, ref)
	}
	refs = store.Truncate(refs, p.ResultsLimit)
	if p.Sort != nil {
		sortByDistance(refs, *p.Sort)
	}
	metrics.RecordsFetched.Observe(float64(len(refs)))

	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Records:   refs,
		Clustered: p.Clustering,
		ZoomLevel: geo.ZoomLevelForZoomScale(p.ZoomScale),
		CreatedAt: c.now(),
	}
	if p.Clustering {
		snap.Annotations = c.engineFor(p).Cluster(refs, p.VisibleMapRect, p.ZoomScale, p.MaxZoomLevel)
	} else {
		snap.Annotations = cluster.Singles(refs)
	}
	logger.L().Debug("fetch_done",
		"entity", req.Entity,
		"records", len(refs),
		"annotations", len(snap.Annotations),
		"clustered", snap.Clustered,
		"zoom", snap.ZoomLevel,
	)
	return snap, nil
}

func (c *Controller) engineFor(p Params) *cluster.Engine {
	if p.ClusterTitleFormat == "" || p.ClusterTitleFormat == c.engine.Options.TitleFormat {
		return c.engine
	}
	opts := c.engine.Options
	opts.TitleFormat = p.ClusterTitleFormat
	return cluster.NewEngine(opts)
}

// PerformFetch is Execute without clustering: every record becomes a
// single annotation.
func (c *Controller) PerformFetch(ctx context.Context, req query.FetchRequest, p Params) (Snapshot, error) {
	p.Clustering = false
	return c.Execute(ctx, req, p)
}

// fieldReader holds the field names read off every record of one fetch.
type fieldReader struct {
	lat, lon        string
	title, subtitle string
}

func (f fieldReader) ref(entity string, rec store.Record) (cluster.RecordRef, bool) {
	lat, ok := f.number(rec, f.lat)
	if !ok {
		return cluster.RecordRef{}, false
	}
	lon, ok := f.number(rec, f.lon)
	if !ok {
		return cluster.RecordRef{}, false
	}
	coord := geo.Coordinate{Latitude: lat, Longitude: lon}
	if !coord.Valid() {
		return cluster.RecordRef{}, false
	}
	return cluster.NewRecordRef(rec.PrimaryKey(), entity, coord, f.text(rec, f.title), f.text(rec, f.subtitle), rec), true
}

func (f fieldReader) number(rec store.Record, name string) (float64, bool) {
	v, ok := rec.Field(name)
	if !ok || v == nil {
		return 0, false
	}
	return query.Float(v)
}

func (f fieldReader) text(rec store.Record, name string) string {
	if name == "" {
		return ""
	}
	v, ok := rec.Field(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func sortByDistance(refs []cluster.RecordRef, sd SortDescriptor) {
	for i := range refs {
		refs[i] = refs[i].WithDistance(geo.Distance(sd.Center, refs[i].Coordinate))
	}
	sort.SliceStable(refs, func(i, j int) bool {
		if sd.NearestFirst {
			return refs[i].Distance < refs[j].Distance
		}
		return refs[i].Distance > refs[j].Distance
	})
}
