// Package index maintains a bbolt-backed tag→metadata store alongside the
// on-disk cache. The filesystem under machines/ remains the source of
// truth. In this module nothing writes entries into the index: the
// executor neither writes nor reads it, and internal/cleanup only deletes
// the keys of entries it removes.
package index

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var entriesBucket = []byte("entries")

// Metadata is the cached-entry summary the index stores per tag.
type Metadata struct {
	EntryDir  string    `json:"entryDir"`
	Deadline  time.Time `json:"deadline"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Index wraps a bbolt database dedicated to one cache root.
type Index struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the index database at path.
func Open(path string) (*Index, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database file.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Put records or overwrites key's metadata. Callers pass the entry's full
// directory path as key rather than its bare step tag — the same tag
// string recurs at every nesting level (e.g. "exec:true" under any
// number of different parents), so only the full path is unique across
// the whole cache tree.
func (ix *Index) Put(key string, meta Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return ix.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Put([]byte(key), data)
	})
}

// Get returns key's metadata, if present.
func (ix *Index) Get(key string) (Metadata, bool, error) {
	var meta Metadata
	var found bool
	err := ix.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(entriesBucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &meta)
	})
	return meta, found, err
}

// Delete removes key's metadata, if present. Deleting an absent key is a
// no-op, matching bbolt's own semantics.
func (ix *Index) Delete(key string) error {
	return ix.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete([]byte(key))
	})
}

// All returns every tracked entry's metadata, for cleanup's GC sweep.
func (ix *Index) All() (map[string]Metadata, error) {
	out := map[string]Metadata{}
	err := ix.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
			var meta Metadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			out[string(k)] = meta
			return nil
		})
	})
	return out, err
}
