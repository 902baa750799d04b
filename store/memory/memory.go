// Package memory is an in-process record store indexed by an R-tree.
// Datasets are named by in-memory identifier or file URL.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tidwall/rtree"

	"web/clustermap/query"
	"web/clustermap/store"
)

type Store struct {
	mu       sync.Mutex
	datasets map[string]*Dataset
	open     atomic.Int64
}

func New() *Store {
	return &Store{datasets: make(map[string]*Dataset)}
}

type DatasetOptions struct {
	EncryptionKey []byte
	SchemaVersion uint64
	ReadOnly      bool
}

// Create registers an empty dataset under name, replacing any existing one.
func (s *Store) Create(name string, opts DatasetOptions) *Dataset {
	ds := newDataset(opts)
	s.mu.Lock()
	s.datasets[name] = ds
	s.mu.Unlock()
	return ds
}

// Dataset returns the dataset registered under name, creating a writable
// one when missing.
func (s *Store) Dataset(name string) *Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	if !ok {
		ds = newDataset(DatasetOptions{})
		s.datasets[name] = ds
	}
	return ds
}

// OpenSessions reports sessions opened and not yet closed.
func (s *Store) OpenSessions() int {
	return int(s.open.Load())
}

// Open resolves cfg to a dataset. An unknown in-memory identifier creates an
// empty dataset; an unknown file URL is loaded from disk.
func (s *Store) Open(ctx context.Context, cfg store.Configuration) (store.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := cfg.InMemoryIdentifier
	if name == "" {
		name = cfg.FileURL
	}
	if name == "" {
		return nil, store.Unavailable("no file URL or in-memory identifier configured")
	}

	s.mu.Lock()
	ds, ok := s.datasets[name]
	if !ok && cfg.InMemoryIdentifier != "" {
		ds = newDataset(DatasetOptions{EncryptionKey: cfg.EncryptionKey, SchemaVersion: cfg.SchemaVersion})
		s.datasets[name] = ds
		ok = true
	}
	s.mu.Unlock()

	if !ok {
		path, err := FilePath(cfg.FileURL)
		if err != nil {
			return nil, store.Unavailable("file URL %s: %v", cfg.FileURL, err)
		}
		if ds, err = s.Load(name, path, cfg.EncryptionKey); err != nil {
			if errors.Is(err, store.ErrStoreUnavailable) {
				return nil, err
			}
			return nil, store.Unavailable("no dataset at %s: %v", cfg.FileURL, err)
		}
	}

	if !bytes.Equal(ds.opts.EncryptionKey, cfg.EncryptionKey) {
		return nil, store.Unavailable("encryption key mismatch for %s", name)
	}
	if cfg.SchemaVersion < ds.opts.SchemaVersion {
		return nil, store.Unavailable("schema version %d is older than dataset %s version %d",
			cfg.SchemaVersion, name, ds.opts.SchemaVersion)
	}

	s.open.Add(1)
	return &Session{
		store:    s,
		ds:       ds,
		readOnly: cfg.ReadOnly || ds.opts.ReadOnly,
	}, nil
}

type row struct {
	seq uint64
	rec store.Record
}

type fieldPair [2]string

type table struct {
	seq     uint64
	rows    map[string]*row
	indexes map[fieldPair]*rtree.RTreeG[*row]
}

func (t *table) put(rec store.Record) {
	if r, ok := t.rows[rec.PrimaryKey()]; ok {
		r.rec = rec
	} else {
		t.seq++
		t.rows[rec.PrimaryKey()] = &row{seq: t.seq, rec: rec}
	}
	clear(t.indexes)
}

// index returns the R-tree over (lon, lat) for the field pair, building it
// on first use after a write. Rows without numeric coordinates are skipped.
func (t *table) index(latField, lonField string) *rtree.RTreeG[*row] {
	key := fieldPair{latField, lonField}
	if idx, ok := t.indexes[key]; ok {
		return idx
	}
	idx := &rtree.RTreeG[*row]{}
	for _, r := range t.rows {
		lat, ok := field(r.rec, latField)
		if !ok {
			continue
		}
		lon, ok := field(r.rec, lonField)
		if !ok {
			continue
		}
		p := [2]float64{lon, lat}
		idx.Insert(p, p, r)
	}
	t.indexes[key] = idx
	return idx
}

func field(rec store.Record, name string) (float64, bool) {
	v, ok := rec.Field(name)
	if !ok {
		return 0, false
	}
	return query.Float(v)
}

type Dataset struct {
	mu     sync.Mutex
	opts   DatasetOptions
	tables map[string]*table
}

func newDataset(opts DatasetOptions) *Dataset {
	return &Dataset{opts: opts, tables: make(map[string]*table)}
}

func (d *Dataset) table(entity string) *table {
	t, ok := d.tables[entity]
	if !ok {
		t = &table{rows: make(map[string]*row), indexes: make(map[fieldPair]*rtree.RTreeG[*row])}
		d.tables[entity] = t
	}
	return t
}

// Put inserts or replaces records. Replacing keeps the record's original
// position in the natural order.
func (d *Dataset) Put(entity string, recs ...store.Record) error {
	if d.opts.ReadOnly {
		return store.ErrReadOnly
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.table(entity)
	for _, rec := range recs {
		t.put(rec)
	}
	return nil
}

// Delete removes one record. A key the entity does not hold yields
// store.ErrNotFound.
func (d *Dataset) Delete(entity, key string) error {
	if d.opts.ReadOnly {
		return store.ErrReadOnly
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[entity]
	if !ok {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, entity, key)
	}
	if _, ok := t.rows[key]; !ok {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, entity, key)
	}
	delete(t.rows, key)
	clear(t.indexes)
	return nil
}

func (d *Dataset) Len(entity string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.tables[entity]; ok {
		return len(t.rows)
	}
	return 0
}

func (d *Dataset) query(ctx context.Context, req query.FetchRequest, limit int) ([]store.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tables[req.Entity]
	if !ok {
		return nil, nil
	}

	var hits []*row
	if len(req.Boxes) == 0 {
		hits = make([]*row, 0, len(t.rows))
		for _, r := range t.rows {
			hits = append(hits, r)
		}
	} else {
		idx := t.index(req.LatitudeField, req.LongitudeField)
		seen := make(map[*row]struct{})
		for _, b := range req.Boxes {
			idx.Search(
				[2]float64{b.MinLongitude, b.MinLatitude},
				[2]float64{b.MaxLongitude, b.MaxLatitude},
				func(_, _ [2]float64, r *row) bool {
					if _, dup := seen[r]; !dup {
						seen[r] = struct{}{}
						hits = append(hits, r)
					}
					return true
				},
			)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })

	out := make([]store.Record, 0, len(hits))
	for _, r := range hits {
		if limit >= 0 && len(out) >= limit {
			break
		}
		if req.Predicate != nil && !req.Predicate.Match(r.rec) {
			continue
		}
		out = append(out, r.rec)
	}
	return out, nil
}

type Session struct {
	store    *Store
	ds       *Dataset
	readOnly bool
	closed   atomic.Bool
}

func (s *Session) Query(ctx context.Context, req query.FetchRequest, limit int) ([]store.Record, error) {
	if s.closed.Load() {
		return nil, store.ErrSessionClosed
	}
	return s.ds.query(ctx, req, limit)
}

// Put writes through the session unless it was opened read-only.
func (s *Session) Put(entity string, recs ...store.Record) error {
	if s.closed.Load() {
		return store.ErrSessionClosed
	}
	if s.readOnly {
		return store.ErrReadOnly
	}
	return s.ds.Put(entity, recs...)
}

func (s *Session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.store.open.Add(-1)
	}
	return nil
}
