// Package redisgeo serves records from a Redis GEO index. Each entity has a
// sorted set of record positions and one hash per record holding its fields.
package redisgeo

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"

	"web/clustermap/logger"
	"web/clustermap/query"
	"web/clustermap/store"
)

const (
	kmPerDegree = 111.32
	// GEO indexes reject latitudes past the Web-Mercator limit.
	maxGeoLatitude = 85.05112878
	minBoxKm       = 0.001
)

type Store struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, prefix: "clustermap"}
}

// WithPrefix returns a copy of s using prefix for its keys.
func (s *Store) WithPrefix(prefix string) *Store {
	c := *s
	c.prefix = prefix
	return &c
}

func (s *Store) geoKey(entity string) string {
	return s.prefix + ":" + entity + ":geo"
}

func (s *Store) hashKey(entity, id string) string {
	return s.prefix + ":" + entity + ":" + id
}

// Put indexes recs under entity using the named coordinate fields.
func (s *Store) Put(ctx context.Context, entity, latField, lonField string, recs ...store.MapRecord) error {
	pipe := s.rdb.TxPipeline()
	for _, rec := range recs {
		lat, latOK := numeric(rec, latField)
		lon, lonOK := numeric(rec, lonField)
		if !latOK || !lonOK {
			return fmt.Errorf("record %s: unreadable coordinate", rec.Key)
		}
		pipe.GeoAdd(ctx, s.geoKey(entity), &redis.GeoLocation{Name: rec.Key, Longitude: lon, Latitude: lat})
		pipe.HSet(ctx, s.hashKey(entity, rec.Key), flatten(rec.Values))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Delete drops a record from the index and its field hash.
func (s *Store) Delete(ctx context.Context, entity, id string) error {
	pipe := s.rdb.TxPipeline()
	removed := pipe.ZRem(ctx, s.geoKey(entity), id)
	pipe.Del(ctx, s.hashKey(entity, id))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if removed.Val() == 0 {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, entity, id)
	}
	return nil
}

func (s *Store) Open(ctx context.Context, cfg store.Configuration) (store.Session, error) {
	if s.rdb == nil {
		return nil, store.Unavailable("redis client not configured")
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, store.Unavailable("redis ping: %v", err)
	}
	return &session{store: s}, nil
}

type session struct {
	store  *Store
	closed bool
}

// Query searches each box by GEOSEARCH BYBOX, which overshoots the box at
// its corners, then applies the exact predicate. Natural order is distance
// from each box centre.
func (s *session) Query(ctx context.Context, req query.FetchRequest, limit int) ([]store.Record, error) {
	if s.closed {
		return nil, store.ErrSessionClosed
	}
	rdb := s.store.rdb

	var ids []string
	seen := make(map[string]struct{})
	for _, b := range req.Boxes {
		found, err := rdb.GeoSearch(ctx, s.store.geoKey(req.Entity), SearchQuery(b)).Result()
		if err != nil {
			return nil, wrap(ctx, err)
		}
		for _, id := range found {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.store.hashKey(req.Entity, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrap(ctx, err)
	}

	out := make([]store.Record, 0, len(ids))
	for i, cmd := range cmds {
		if limit >= 0 && len(out) >= limit {
			break
		}
		fields := cmd.Val()
		if len(fields) == 0 {
			logger.L().Debug("redis_record_missing", "entity", req.Entity, "id", ids[i])
			continue
		}
		rec := store.MapRecord{Key: ids[i], Values: make(map[string]any, len(fields))}
		for k, v := range fields {
			rec.Values[k] = v
		}
		if req.Predicate != nil && !req.Predicate.Match(rec) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

// SearchQuery converts a box to a GEOSEARCH BYBOX query centred on the box.
// The width is measured at the latitude nearest the equator so the search
// covers the whole box.
func SearchQuery(b query.Box) *redis.GeoSearchQuery {
	minLat := math.Max(b.MinLatitude, -maxGeoLatitude)
	maxLat := math.Min(b.MaxLatitude, maxGeoLatitude)
	centerLat := (minLat + maxLat) / 2
	centerLon := (b.MinLongitude + b.MaxLongitude) / 2

	widest := 0.0
	if minLat > 0 || maxLat < 0 {
		widest = math.Min(math.Abs(minLat), math.Abs(maxLat))
	}
	width := (b.MaxLongitude - b.MinLongitude) * kmPerDegree * math.Cos(widest*math.Pi/180)
	height := (maxLat - minLat) * kmPerDegree

	return &redis.GeoSearchQuery{
		Longitude: centerLon,
		Latitude:  centerLat,
		BoxWidth:  math.Max(width, minBoxKm),
		BoxHeight: math.Max(height, minBoxKm),
		BoxUnit:   "km",
		Sort:      "ASC",
	}
}

func numeric(rec store.MapRecord, field string) (float64, bool) {
	v, ok := rec.Values[field]
	if !ok {
		return 0, false
	}
	return query.Float(v)
}

func flatten(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		switch n := v.(type) {
		case float64:
			out[k] = strconv.FormatFloat(n, 'f', -1, 64)
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(n)
		}
	}
	return out
}

func wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return store.Unavailable("redis: %v", err)
}
