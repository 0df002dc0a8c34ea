// SPDX-License-Identifier: AGPL-3.0-or-later

package configprovider

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/couchkit/internal/clustertopo"
)

// snapshotKey is the single badger key a SnapshotCache ever writes; only
// the latest ClusterConfig is worth persisting.
var snapshotKey = []byte("last_known_good_config")

// SnapshotCache persists the last-known-good ClusterConfig snapshot to a
// badger store: db.Update/txn.Set for writes, db.View/txn.Get for reads,
// errors.Is(badger.ErrKeyNotFound) for the not-found path, goccy/go-json
// as the marshal/unmarshal codec. So WebSocketProvider.Config() can
// answer synchronously before the first live push arrives, surviving a
// process restart.
type SnapshotCache struct {
	db *badger.DB
}

// OpenSnapshotCache opens (creating if absent) a badger store at dir.
func OpenSnapshotCache(dir string) (*SnapshotCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("configprovider: open snapshot cache: %w", err)
	}
	return &SnapshotCache{db: db}, nil
}

// Close releases the underlying badger store.
func (c *SnapshotCache) Close() error { return c.db.Close() }

// Store persists cfg as the new last-known-good snapshot.
func (c *SnapshotCache) Store(cfg *clustertopo.ClusterConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("configprovider: marshal snapshot: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, data)
	})
}

// Load returns the persisted snapshot, or (nil, false) if none has been
// stored yet.
func (c *SnapshotCache) Load() (*clustertopo.ClusterConfig, bool) {
	var cfg clustertopo.ClusterConfig
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err != nil {
			return fmt.Errorf("get snapshot: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cfg)
		})
	})
	if err != nil {
		return nil, false
	}
	return &cfg, true
}
