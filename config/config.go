// Package config reads service settings from a .env file and the process
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"web/clustermap/logger"
)

// LoadEnv loads the given .env files, or ./.env when none are named.
// Missing files are not an error.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logger.L().Debug("env_file_missing", "err", err)
	}
}

// MustGetEnv returns the value of key and panics when it is unset.
func MustGetEnv(key string) string {
	val, ok := os.LookupEnv(key)
	if !ok {
		panic(fmt.Sprintf("environment variable %s not set", key))
	}
	return val
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logger.L().Warn("config_bad_int", "key", key, "value", v)
	}
	return def
}

func getbool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		logger.L().Warn("config_bad_bool", "key", key, "value", v)
	}
	return def
}

func getduration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logger.L().Warn("config_bad_duration", "key", key, "value", v)
	}
	return def
}

type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

type Store struct {
	Backend            Backend
	FileURL            string
	InMemoryIdentifier string
	EncryptionKey      string
	ReadOnly           bool
	SchemaVersion      uint64
	PostgresDSN        string
	PostgresKeyColumn  string
	Redis              Redis
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Kafka struct {
	Brokers []string
	Topic   string
	GroupID string
}

func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 && k.Topic != "" }

type MinIO struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (m MinIO) Enabled() bool {
	return m.Endpoint != "" && m.AccessKey != "" && m.SecretKey != ""
}

// Map holds the map view options shared by every session.
type Map struct {
	Entity             string
	LatitudeField      string
	LongitudeField     string
	TitleField         string
	SubtitleField      string
	Clustering         bool
	MaxZoomLevel       int
	ResultsLimit       int
	ClusterTitleFormat string
	ZoomOnFirstRefresh bool
	ViewWidth          float64
	ViewHeight         float64
}

type Config struct {
	HTTPAddr       string
	SessionSecret  string
	MaxSessions    int
	SessionIdle    time.Duration
	RefreshTimeout time.Duration
	SnapshotDir    string
	Store          Store
	Kafka          Kafka
	MinIO          MinIO
	Map            Map
}

// Load builds the configuration from the environment, applying defaults.
func Load() Config {
	cfg := Config{
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		SessionSecret:  getenv("SESSION_SECRET", "clustermap-dev-secret"),
		MaxSessions:    getint("MAX_SESSIONS", 1000),
		SessionIdle:    getduration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		RefreshTimeout: getduration("REFRESH_TIMEOUT", 10*time.Second),
		SnapshotDir:    getenv("SNAPSHOT_DIR", "snapshots"),
		Store: Store{
			Backend:            Backend(strings.ToLower(getenv("STORE_BACKEND", string(BackendMemory)))),
			FileURL:            os.Getenv("STORE_FILE_URL"),
			InMemoryIdentifier: os.Getenv("STORE_IN_MEMORY_ID"),
			EncryptionKey:      os.Getenv("STORE_ENCRYPTION_KEY"),
			ReadOnly:           getbool("STORE_READ_ONLY", false),
			SchemaVersion:      uint64(getint("STORE_SCHEMA_VERSION", 0)),
			PostgresDSN:        BuildPostgresDSNFromEnv(),
			PostgresKeyColumn:  getenv("PG_KEY_COLUMN", "id"),
			Redis: Redis{
				Addr:     getenv("REDIS_HOST", "127.0.0.1") + ":" + getenv("REDIS_PORT", "6379"),
				Password: os.Getenv("REDIS_PASS"),
				DB:       getint("REDIS_DB", 0),
			},
		},
		Kafka: Kafka{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   os.Getenv("KAFKA_TOPIC"),
			GroupID: getenv("KAFKA_GROUP", "clustermap"),
		},
		MinIO: MinIO{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    getenv("MINIO_BUCKET", "clustermap-snapshots"),
			UseSSL:    getbool("MINIO_USE_SSL", false),
		},
		Map: Map{
			Entity:             getenv("MAP_ENTITY", "Place"),
			LatitudeField:      getenv("MAP_LATITUDE_FIELD", "latitude"),
			LongitudeField:     getenv("MAP_LONGITUDE_FIELD", "longitude"),
			TitleField:         getenv("MAP_TITLE_FIELD", "name"),
			SubtitleField:      os.Getenv("MAP_SUBTITLE_FIELD"),
			Clustering:         getbool("MAP_CLUSTERING", true),
			MaxZoomLevel:       getint("MAP_MAX_ZOOM_FOR_CLUSTERING", 20),
			ResultsLimit:       getint("MAP_RESULTS_LIMIT", -1),
			ClusterTitleFormat: getenv("MAP_CLUSTER_TITLE_FORMAT", "$OBJECTSCOUNT"),
			ZoomOnFirstRefresh: getbool("MAP_ZOOM_ON_FIRST_REFRESH", true),
			ViewWidth:          float64(getint("MAP_VIEW_WIDTH", 1024)),
			ViewHeight:         float64(getint("MAP_VIEW_HEIGHT", 768)),
		},
	}
	if cfg.Store.FileURL == "" && cfg.Store.InMemoryIdentifier == "" {
		cfg.Store.InMemoryIdentifier = "default"
	}
	return cfg
}

// BuildPostgresDSNFromEnv assembles a DSN from the PG_* variables.
func BuildPostgresDSNFromEnv() string {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		return dsn
	}
	dsn := "postgres://" + getenv("PG_USER", "postgres")
	if pass := os.Getenv("PG_PASSWORD"); pass != "" {
		dsn += ":" + pass
	}
	dsn += "@" + getenv("PG_HOST", "localhost") + ":" + getenv("PG_PORT", "5432") +
		"/" + getenv("PG_DB", "clustermap") + "?sslmode=" + getenv("PG_SSLMODE", "disable")
	return dsn
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
