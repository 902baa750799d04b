package server

import (
	"context"

	"web/clustermap/store"
	"web/clustermap/store/memory"
	"web/clustermap/store/postgres"
	"web/clustermap/store/redisgeo"
)

// MemoryRecords writes into one in-memory dataset.
type MemoryRecords struct {
	Dataset *memory.Dataset
}

func (m MemoryRecords) PutRecords(_ context.Context, entity string, recs ...store.MapRecord) error {
	out := make([]store.Record, len(recs))
	for i, r := range recs {
		out[i] = r
	}
	return m.Dataset.Put(entity, out...)
}

func (m MemoryRecords) DeleteRecord(_ context.Context, entity, id string) error {
	return m.Dataset.Delete(entity, id)
}

// RedisRecords writes into the geo index keyed by the map's coordinate
// fields.
type RedisRecords struct {
	Store          *redisgeo.Store
	LatitudeField  string
	LongitudeField string
}

func (r RedisRecords) PutRecords(ctx context.Context, entity string, recs ...store.MapRecord) error {
	return r.Store.Put(ctx, entity, r.LatitudeField, r.LongitudeField, recs...)
}

func (r RedisRecords) DeleteRecord(ctx context.Context, entity, id string) error {
	return r.Store.Delete(ctx, entity, id)
}

// PostgresRecords upserts into the entity table.
type PostgresRecords struct {
	Store *postgres.Store
}

func (p PostgresRecords) PutRecords(ctx context.Context, entity string, recs ...store.MapRecord) error {
	return p.Store.Put(ctx, entity, recs...)
}

func (p PostgresRecords) DeleteRecord(ctx context.Context, entity, id string) error {
	return p.Store.Delete(ctx, entity, id)
}
