// Package server exposes map view sessions over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"web/clustermap/archive"
	"web/clustermap/cluster"
	"web/clustermap/export"
	"web/clustermap/geo"
	"web/clustermap/logger"
	"web/clustermap/mapview"
	"web/clustermap/metrics"
	"web/clustermap/notify"
	"web/clustermap/runner"
	"web/clustermap/session"
	"web/clustermap/store"
)

const (
	cookieName = "clustermap"
	viewKey    = "view"
)

// RecordWriter stores records for the entity the map shows.
type RecordWriter interface {
	PutRecords(ctx context.Context, entity string, recs ...store.MapRecord) error
	DeleteRecord(ctx context.Context, entity, id string) error
}

type Deps struct {
	Sessions       *session.Manager
	Snapshots      *archive.Local
	Uploader       *archive.Uploader
	Publisher      *notify.Publisher
	Records        RecordWriter
	Entity         string
	KeyField       string
	SessionSecret  string
	RefreshTimeout time.Duration
}

type Server struct {
	Deps
}

func New(d Deps) *Server {
	if d.RefreshTimeout <= 0 {
		d.RefreshTimeout = 10 * time.Second
	}
	if d.KeyField == "" {
		d.KeyField = "id"
	}
	return &Server{Deps: d}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.Access(logger.L()), cors)
	r.Use(sessions.Sessions(cookieName, cookie.NewStore([]byte(s.SessionSecret))))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.GET("/annotations", s.annotations)
	api.GET("/annotations/metadata", s.metadata)
	api.GET("/export.xlsx", s.exportWorkbook)
	api.POST("/records", s.putRecords)
	api.DELETE("/records/:id", s.deleteRecord)
	api.GET("/snapshots", s.listSnapshots)
	api.POST("/snapshots", s.saveSnapshot)
	api.GET("/snapshots/:id", s.loadSnapshot)
	return r
}

func cors(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type")

	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

// view returns the caller's map view, creating one and remembering its id
// in the session cookie on first use.
func (s *Server) view(c *gin.Context) (*mapview.MapView, bool) {
	sess := sessions.Default(c)
	prev, _ := sess.Get(viewKey).(string)
	id, view, err := s.Sessions.Get(prev)
	if err != nil {
		logger.L().Error("session_create_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create map view"})
		return nil, false
	}
	if id != prev {
		sess.Set(viewKey, id)
		if err := sess.Save(); err != nil {
			logger.L().Warn("session_save_failed", "error", err)
		}
	}
	return view, true
}

func parseBounds(c *gin.Context) (geo.Region, error) {
	var edges [4]float64
	for i, name := range []string{"north", "south", "east", "west"} {
		v, err := strconv.ParseFloat(c.Query(name), 64)
		if err != nil {
			return geo.Region{}, fmt.Errorf("invalid %s parameter", name)
		}
		edges[i] = v
	}
	return geo.RegionFromBounds(edges[0], edges[1], edges[2], edges[3]), nil
}

func parseSize(c *gin.Context) (float64, float64, bool) {
	w, errW := strconv.ParseFloat(c.Query("width"), 64)
	h, errH := strconv.ParseFloat(c.Query("height"), 64)
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// refresh moves the view to the requested bounds and waits for the result
// to be displayed. It writes the error response itself.
func (s *Server) refresh(c *gin.Context) (*mapview.MapView, bool) {
	region, err := parseBounds(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	view, ok := s.view(c)
	if !ok {
		return nil, false
	}
	if w, h, ok := parseSize(c); ok {
		view.SetViewSize(w, h)
	}
	if err := view.SetRegion(region, false); err != nil {
		s.viewError(c, err)
		return nil, false
	}
	if !view.Options().AutoRefresh {
		if _, err := view.RefreshMapView(); err != nil {
			s.viewError(c, err)
			return nil, false
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.RefreshTimeout)
	defer cancel()
	if err := view.Settle(ctx); err != nil {
		s.viewError(c, err)
		return nil, false
	}
	if view.State() == runner.StateFailed {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Record store unavailable"})
		return nil, false
	}
	c.Header("X-Map-Zoom-Level", strconv.Itoa(int(view.ZoomLevel())))
	return view, true
}

func (s *Server) viewError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, geo.ErrInvalidRegion):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Refresh timed out"})
	case errors.Is(err, mapview.ErrClosed), errors.Is(err, context.Canceled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.L().Error("refresh_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) annotations(c *gin.Context) {
	view, ok := s.refresh(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cluster.ToGeoJSON(view.DisplayedAnnotations()))
}

func (s *Server) metadata(c *gin.Context) {
	view, ok := s.refresh(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cluster.Summarize(view.DisplayedAnnotations()))
}

func (s *Server) exportWorkbook(c *gin.Context) {
	view, ok := s.refresh(c)
	if !ok {
		return
	}
	c.Header("Content-Disposition", `attachment; filename="annotations.xlsx"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := export.Write(c.Writer, view.Snapshot()); err != nil {
		logger.L().Error("export_failed", "error", err)
		c.Status(http.StatusInternalServerError)
	}
}

type recordBody struct {
	ID     string         `json:"id" binding:"required"`
	Values map[string]any `json:"values"`
}

// putRecords accepts a JSON array of records or an XLSX upload in the
// "file" form field.
func (s *Server) putRecords(c *gin.Context) {
	if s.Records == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Record store is read-only"})
		return
	}
	var recs []store.MapRecord
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()
		if recs, err = export.OpenRecords(f, s.KeyField); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		var body []recordBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		for _, b := range body {
			recs = append(recs, store.MapRecord{Key: b.ID, Values: b.Values})
		}
	}

	if err := s.Records.PutRecords(c.Request.Context(), s.Entity, recs...); err != nil {
		s.storeError(c, err)
		return
	}
	events := make([]notify.Event, len(recs))
	for i, r := range recs {
		events[i] = notify.Event{Entity: s.Entity, ID: r.Key, Op: notify.OpPut}
	}
	s.announce(c.Request.Context(), events)
	c.JSON(http.StatusOK, gin.H{"stored": len(recs)})
}

func (s *Server) deleteRecord(c *gin.Context) {
	if s.Records == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Record store is read-only"})
		return
	}
	id := c.Param("id")
	if err := s.Records.DeleteRecord(c.Request.Context(), s.Entity, id); err != nil {
		s.storeError(c, err)
		return
	}
	s.announce(c.Request.Context(), []notify.Event{{Entity: s.Entity, ID: id, Op: notify.OpDelete}})
	c.Status(http.StatusNoContent)
}

func (s *Server) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrReadOnly):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// announce tells every session about changed records, through Kafka when a
// publisher is configured.
func (s *Server) announce(ctx context.Context, events []notify.Event) {
	if len(events) == 0 {
		return
	}
	if s.Publisher != nil {
		err := s.Publisher.Publish(ctx, events...)
		if err == nil {
			return
		}
		logger.L().Warn("notify_publish_failed", "error", err, "events", len(events))
	}
	s.Sessions.Each(func(_ string, view *mapview.MapView) {
		view.RecordsChanged(s.Entity)
	})
}

func (s *Server) listSnapshots(c *gin.Context) {
	list, err := s.Snapshots.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []archive.Info{}
	}
	c.JSON(http.StatusOK, list)
}

// saveSnapshot archives what the caller's view displays right now.
func (s *Server) saveSnapshot(c *gin.Context) {
	view, ok := s.view(c)
	if !ok {
		return
	}
	info, err := s.Snapshots.Save(view.DisplayedAnnotations())
	if err != nil {
		logger.L().Error("snapshot_save_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"snapshot": info}
	if s.Uploader != nil {
		path, err := s.Snapshots.Path(info.ID)
		if err == nil {
			var key string
			if key, err = s.Uploader.Upload(c.Request.Context(), path); err == nil {
				resp["objectKey"] = key
			}
		}
		if err != nil {
			logger.L().Warn("snapshot_upload_failed", "id", info.ID, "error", err)
			resp["uploadError"] = err.Error()
		}
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) loadSnapshot(c *gin.Context) {
	annotations, err := s.Snapshots.Load(c.Param("id"))
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cluster.ToGeoJSON(annotations))
}
