package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"

	"web/clustermap/store"
)

type fileRecord struct {
	Key    string         `json:"key"`
	Values map[string]any `json:"values"`
}

type fileDataset struct {
	SchemaVersion uint64                  `json:"schemaVersion"`
	ReadOnly      bool                    `json:"readOnly,omitempty"`
	KeyDigest     string                  `json:"keyDigest,omitempty"`
	Tables        map[string][]fileRecord `json:"tables"`
}

func keyDigest(key []byte) string {
	if len(key) == 0 {
		return ""
	}
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])
}

// FilePath resolves a file:// URL, or a bare path, to a filesystem path.
func FilePath(fileURL string) (string, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "":
		return fileURL, nil
	case "file":
		return u.Path, nil
	}
	return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
}

// Save writes the named dataset to filename as zstd-compressed JSON. Only
// store.MapRecord values can be persisted.
func (s *Store) Save(name, filename string) error {
	s.mu.Lock()
	ds, ok := s.datasets[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no dataset %q", name)
	}

	ds.mu.Lock()
	out := fileDataset{
		SchemaVersion: ds.opts.SchemaVersion,
		ReadOnly:      ds.opts.ReadOnly,
		KeyDigest:     keyDigest(ds.opts.EncryptionKey),
		Tables:        make(map[string][]fileRecord, len(ds.tables)),
	}
	for entity, t := range ds.tables {
		rows := make([]*row, 0, len(t.rows))
		for _, r := range t.rows {
			rows = append(rows, r)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
		recs := make([]fileRecord, len(rows))
		for i, r := range rows {
			mr, ok := r.rec.(store.MapRecord)
			if !ok {
				ds.mu.Unlock()
				return fmt.Errorf("record %s: cannot persist %T", r.rec.PrimaryKey(), r.rec)
			}
			recs[i] = fileRecord{Key: mr.Key, Values: mr.Values}
		}
		out.Tables[entity] = recs
	}
	ds.mu.Unlock()

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(enc).Encode(out); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

// Load reads a dataset written by Save and registers it under name. The
// encryption key must match the one the dataset was saved with.
func (s *Store) Load(name, filename string, key []byte) (*Dataset, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var in fileDataset
	if err := json.NewDecoder(dec).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}
	if in.KeyDigest != keyDigest(key) {
		return nil, store.Unavailable("encryption key mismatch for %s", filename)
	}

	ds := newDataset(DatasetOptions{EncryptionKey: key, SchemaVersion: in.SchemaVersion, ReadOnly: in.ReadOnly})
	for entity, recs := range in.Tables {
		t := ds.table(entity)
		for _, r := range recs {
			t.put(store.MapRecord{Key: r.Key, Values: r.Values})
		}
	}

	s.mu.Lock()
	s.datasets[name] = ds
	s.mu.Unlock()
	return ds, nil
}
