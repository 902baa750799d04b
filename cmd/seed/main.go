// Command seed fills the configured record store with generated records,
// or with the rows of an XLSX workbook.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"web/clustermap/cluster"
	"web/clustermap/config"
	"web/clustermap/export"
	"web/clustermap/geo"
	"web/clustermap/logger"
	"web/clustermap/notify"
	"web/clustermap/store"
	"web/clustermap/store/memory"
	"web/clustermap/store/postgres"
	"web/clustermap/store/redisgeo"
)

var (
	numRecords = flag.Int("records", 10000, "number of records to generate")
	seed       = flag.Int64("seed", 42, "random seed")
	north      = flag.Float64("north", 49, "north edge of the generated area")
	south      = flag.Float64("south", 25, "south edge of the generated area")
	east       = flag.Float64("east", -67, "east edge of the generated area")
	west       = flag.Float64("west", -125, "west edge of the generated area")
	xlsxPath   = flag.String("xlsx", "", "read records from this workbook instead of generating them")
	out        = flag.String("out", "", "memory backend: dataset file to write, defaults to STORE_FILE_URL")
	publish    = flag.Bool("publish", false, "announce the records on the Kafka topic")
)

// toMapRecords lays generated records out under the configured field names.
func toMapRecords(m config.Map, refs []cluster.RecordRef) []store.MapRecord {
	recs := make([]store.MapRecord, len(refs))
	for i, r := range refs {
		values := map[string]any{
			m.LatitudeField:  r.Coordinate.Latitude,
			m.LongitudeField: r.Coordinate.Longitude,
		}
		if m.TitleField != "" {
			values[m.TitleField] = r.Title
		}
		if m.SubtitleField != "" {
			values[m.SubtitleField] = r.Subtitle
		}
		recs[i] = store.MapRecord{Key: r.ID, Values: values}
	}
	return recs
}

func loadRecords(cfg config.Config) ([]store.MapRecord, error) {
	if *xlsxPath != "" {
		f, err := os.Open(*xlsxPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return export.OpenRecords(f, cfg.Store.PostgresKeyColumn)
	}
	region := geo.RegionFromBounds(*north, *south, *east, *west)
	if err := region.Validate(); err != nil {
		return nil, err
	}
	refs := cluster.GenerateTestRecords(*numRecords, cfg.Map.Entity, region, rand.New(rand.NewSource(*seed)))
	return toMapRecords(cfg.Map, refs), nil
}

func write(ctx context.Context, cfg config.Config, recs []store.MapRecord) error {
	entity := cfg.Map.Entity
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pg := postgres.New(cfg.Store.PostgresDSN, postgres.WithKeyColumn(cfg.Store.PostgresKeyColumn))
		var text []string
		for _, f := range []string{cfg.Map.TitleField, cfg.Map.SubtitleField} {
			if f != "" {
				text = append(text, f)
			}
		}
		if err := pg.EnsureSchema(ctx, cfg.Store.SchemaVersion, entity, cfg.Map.LatitudeField, cfg.Map.LongitudeField, text...); err != nil {
			return err
		}
		return pg.Put(ctx, entity, recs...)

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		defer rdb.Close()
		return redisgeo.New(rdb).Put(ctx, entity, cfg.Map.LatitudeField, cfg.Map.LongitudeField, recs...)

	default:
		target := *out
		if target == "" {
			target = cfg.Store.FileURL
		}
		if target == "" {
			return fmt.Errorf("memory backend needs -out or STORE_FILE_URL")
		}
		path, err := memory.FilePath(target)
		if err != nil {
			return err
		}
		st := memory.New()
		ds := st.Create(target, memory.DatasetOptions{
			EncryptionKey: []byte(cfg.Store.EncryptionKey),
			SchemaVersion: cfg.Store.SchemaVersion,
			ReadOnly:      cfg.Store.ReadOnly,
		})
		batch := make([]store.Record, len(recs))
		for i, r := range recs {
			batch[i] = r
		}
		if err := ds.Put(entity, batch...); err != nil {
			return err
		}
		return st.Save(target, path)
	}
}

func main() {
	flag.Parse()
	config.LoadEnv()
	logger.Setup()
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	recs, err := loadRecords(cfg)
	if err != nil {
		logger.L().Error("seed_records_failed", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	if err := write(ctx, cfg, recs); err != nil {
		logger.L().Error("seed_write_failed", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	logger.L().Info("seed_done",
		"backend", cfg.Store.Backend,
		"entity", cfg.Map.Entity,
		"records", len(recs),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if *publish && cfg.Kafka.Enabled() {
		p := notify.NewPublisher(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer p.Close()
		events := make([]notify.Event, len(recs))
		for i, r := range recs {
			events[i] = notify.Event{Entity: cfg.Map.Entity, ID: r.Key, Op: notify.OpPut}
		}
		if err := p.Publish(ctx, events...); err != nil {
			logger.L().Error("seed_publish_failed", "error", err)
			os.Exit(1)
		}
	}
}
