// Package archive stores annotation snapshots as compressed files, locally
// and optionally in S3-compatible object storage.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"web/clustermap/cluster"
	"web/clustermap/logger"
)

const (
	Ext        = ".zst"
	timeLayout = "20060102-150405"
)

var (
	ErrBadName  = errors.New("not a snapshot file name")
	ErrNotFound = errors.New("snapshot not found")
)

// Info describes one archived snapshot.
type Info struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Annotations int       `json:"annotations"`
	Timestamp   time.Time `json:"timestamp"`
	FileSize    int64     `json:"fileSize"`
}

// NewID returns a short random snapshot id.
func NewID() string {
	return uuid.New().String()[:8]
}

// Filename is snapshot-{count}a-{timestamp}-{id}.zst.
func Filename(count int, at time.Time, id string) string {
	return fmt.Sprintf("snapshot-%da-%s-%s%s", count, at.UTC().Format(timeLayout), id, Ext)
}

// ParseFilename reads the count, time and id back out of a name built by
// Filename. Any directory part is ignored.
func ParseFilename(name string) (Info, error) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, Ext) {
		return Info{}, fmt.Errorf("%w: %s", ErrBadName, base)
	}
	parts := strings.Split(strings.TrimSuffix(base, Ext), "-")
	if len(parts) != 5 || parts[0] != "snapshot" || !strings.HasSuffix(parts[1], "a") || parts[4] == "" {
		return Info{}, fmt.Errorf("%w: %s", ErrBadName, base)
	}
	count, err := strconv.Atoi(strings.TrimSuffix(parts[1], "a"))
	if err != nil {
		return Info{}, fmt.Errorf("%w: count in %s", ErrBadName, base)
	}
	ts, err := time.Parse(timeLayout, parts[2]+"-"+parts[3])
	if err != nil {
		return Info{}, fmt.Errorf("%w: timestamp in %s", ErrBadName, base)
	}
	return Info{ID: parts[4], Name: base, Annotations: count, Timestamp: ts}, nil
}

// Local keeps snapshots in one directory.
type Local struct {
	Dir string
	now func() time.Time
}

func NewLocal(dir string) *Local {
	return &Local{Dir: dir, now: time.Now}
}

// Save writes annotations to a new file and returns its description.
func (l *Local) Save(annotations []cluster.Annotation) (Info, error) {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return Info{}, fmt.Errorf("create snapshot dir: %w", err)
	}
	name := Filename(len(annotations), l.now(), NewID())
	path := filepath.Join(l.Dir, name)

	start := time.Now()
	if err := cluster.SaveCompressed(path, annotations); err != nil {
		return Info{}, err
	}
	info, err := ParseFilename(name)
	if err != nil {
		return Info{}, err
	}
	if st, err := os.Stat(path); err == nil {
		info.FileSize = st.Size()
	}
	logger.L().Info("snapshot_saved",
		"path", path,
		"annotations", len(annotations),
		"bytes", info.FileSize,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return info, nil
}

// Path returns the file holding the snapshot with id.
func (l *Local) Path(id string) (string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if info, err := ParseFilename(e.Name()); err == nil && info.ID == id {
			return filepath.Join(l.Dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (l *Local) Load(id string) ([]cluster.Annotation, error) {
	path, err := l.Path(id)
	if err != nil {
		return nil, err
	}
	return cluster.LoadCompressed(path)
}

// List returns the snapshots in the directory, newest first. Files with
// other names are skipped.
func (l *Local) List() ([]Info, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := ParseFilename(e.Name())
		if err != nil {
			logger.L().Debug("snapshot_skipped", "name", e.Name())
			continue
		}
		if st, err := e.Info(); err == nil {
			info.FileSize = st.Size()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// FormatSize renders n bytes with a binary unit.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
