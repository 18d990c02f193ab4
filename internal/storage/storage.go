// Package storage provides persistent model storage for the lightmix engine.
// It uses BoltDB as the underlying storage engine to store versioned model
// snapshots alongside their training metadata.
//
// Keys are zero-padded version numbers per model name, so a cursor scan over
// a model's prefix yields versions in training order and the last key under
// the prefix is always the newest snapshot.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	modelsBucket = "models" // Bucket name for serialized model snapshots
	metaBucket   = "meta"   // Bucket name for per-version training metadata
)

// Meta describes a stored model version.
type Meta struct {
	Name      string    `json:"name"`
	Version   uint64    `json:"version"`
	TrainedAt time.Time `json:"trainedAt"`
	Rows      int       `json:"rows"`
	Accuracy  float64   `json:"accuracy"`
	Mixers    []string  `json:"mixers"`
}

// Store provides persistent, versioned storage for trained models using
// BoltDB. Every save creates a new version; old versions stay readable.
type Store struct {
	db *bbolt.DB
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
// Returns an error if the database cannot be opened or buckets cannot be created.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "lightmix-models.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(modelsBucket)); err != nil {
			return fmt.Errorf("create models bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(metaBucket)); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveModel stores a model snapshot under the next version number for the
// given name and records its metadata. Returns the assigned version.
func (s *Store) SaveModel(name string, blob []byte, meta Meta) (uint64, error) {
	if name == "" {
		return 0, fmt.Errorf("model name cannot be empty")
	}
	if len(blob) == 0 {
		return 0, fmt.Errorf("model blob cannot be empty")
	}

	var version uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		models := tx.Bucket([]byte(modelsBucket))
		metas := tx.Bucket([]byte(metaBucket))

		version = latestVersion(models, name) + 1

		meta.Name = name
		meta.Version = version
		if meta.TrainedAt.IsZero() {
			meta.TrainedAt = time.Now().UTC()
		}
		metaData, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}

		key := versionKey(name, version)
		if err := models.Put(key, blob); err != nil {
			return fmt.Errorf("put model: %w", err)
		}
		return metas.Put(key, metaData)
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// LoadLatest returns the newest snapshot for a model name.
func (s *Store) LoadLatest(name string) ([]byte, Meta, error) {
	var blob []byte
	var meta Meta

	err := s.db.View(func(tx *bbolt.Tx) error {
		models := tx.Bucket([]byte(modelsBucket))
		version := latestVersion(models, name)
		if version == 0 {
			return fmt.Errorf("no stored model named %q", name)
		}

		key := versionKey(name, version)
		blob = append([]byte(nil), models.Get(key)...)
		return loadMeta(tx, key, &meta)
	})
	if err != nil {
		return nil, Meta{}, err
	}
	return blob, meta, nil
}

// LoadVersion returns a specific snapshot of a model.
func (s *Store) LoadVersion(name string, version uint64) ([]byte, Meta, error) {
	var blob []byte
	var meta Meta

	err := s.db.View(func(tx *bbolt.Tx) error {
		models := tx.Bucket([]byte(modelsBucket))
		key := versionKey(name, version)

		data := models.Get(key)
		if data == nil {
			return fmt.Errorf("no stored model %q version %d", name, version)
		}
		blob = append([]byte(nil), data...)
		return loadMeta(tx, key, &meta)
	})
	if err != nil {
		return nil, Meta{}, err
	}
	return blob, meta, nil
}

// Versions returns the metadata of every stored version of a model,
// oldest first.
func (s *Store) Versions(name string) ([]Meta, error) {
	var out []Meta

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(metaBucket)).Cursor()
		prefix := namePrefix(name)

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var meta Meta
			if err := json.Unmarshal(v, &meta); err != nil {
				continue // Skip malformed records
			}
			out = append(out, meta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadMeta(tx *bbolt.Tx, key []byte, meta *Meta) error {
	data := tx.Bucket([]byte(metaBucket)).Get(key)
	if data == nil {
		return fmt.Errorf("missing metadata for key %q", key)
	}
	return json.Unmarshal(data, meta)
}

func latestVersion(models *bbolt.Bucket, name string) uint64 {
	c := models.Cursor()
	prefix := namePrefix(name)

	var latest uint64
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		var v uint64
		if _, err := fmt.Sscanf(string(k[len(prefix):]), "%020d", &v); err == nil && v > latest {
			latest = v
		}
	}
	return latest
}

func namePrefix(name string) []byte {
	return []byte(name + "_")
}

func versionKey(name string, version uint64) []byte {
	return []byte(fmt.Sprintf("%s_%020d", name, version))
}
