//go:build rocksdb

package timeline

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/linxGnu/grocksdb"
	"go.uber.org/zap"
)

// secondaryIndexColumnFamily holds one JSON-encoded ordered child list
// per (parent_key, collection_id) bucket key.
const secondaryIndexColumnFamily = "secondary_index"

// RocksSecondaryIndex is the on-disk SecondaryIndexStore for chains too
// large to hold their (parent, collection) child lists in memory,
// grounded directly on the donor store's column-family-plus-JSON-list
// pattern (internal/store/rocksdb.go's appendToIndex/getCIDsFromIndex).
// Unlike SecondaryIndex, which never fails, writes here can fail; since
// the SecondaryIndexStore interface carries no error return (this is a
// derived, rebuildable view, never the system of record), failures are
// logged and otherwise swallowed rather than propagated.
type RocksSecondaryIndex struct {
	mu        sync.Mutex
	db        *grocksdb.DB
	cf        *grocksdb.ColumnFamilyHandle
	readOpts  *grocksdb.ReadOptions
	writeOpts *grocksdb.WriteOptions
	log       *zap.Logger
}

// OpenRocksSecondaryIndex opens (creating if missing) a RocksDB
// database rooted at path to back one chain's secondary index.
func OpenRocksSecondaryIndex(path string, log *zap.Logger) (*RocksSecondaryIndex, error) {
	opts := grocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetCreateIfMissingColumnFamilies(true)

	cfNames := []string{"default", secondaryIndexColumnFamily}
	cfOpts := []*grocksdb.Options{grocksdb.NewDefaultOptions(), grocksdb.NewDefaultOptions()}

	db, cfHandles, err := grocksdb.OpenDbColumnFamilies(opts, path, cfNames, cfOpts)
	if err != nil {
		return nil, fmt.Errorf("timeline: open rocksdb secondary index: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &RocksSecondaryIndex{
		db:        db,
		cf:        cfHandles[1],
		readOpts:  grocksdb.NewDefaultReadOptions(),
		writeOpts: grocksdb.NewDefaultWriteOptions(),
		log:       log,
	}, nil
}

func secondaryBucketKey(parentKey, collectionID string) []byte {
	return []byte(parentKey + "\x00" + collectionID)
}

func (r *RocksSecondaryIndex) readChildren(key []byte) []string {
	value, err := r.db.GetCF(r.readOpts, r.cf, key)
	if err != nil {
		r.log.Error("rocks secondary index read failed", zap.Error(err))
		return nil
	}
	defer value.Free()
	if !value.Exists() {
		return nil
	}
	var children []string
	if err := json.Unmarshal(value.Data(), &children); err != nil {
		r.log.Error("rocks secondary index decode failed", zap.Error(err))
		return nil
	}
	return children
}

func (r *RocksSecondaryIndex) writeChildren(key []byte, children []string) {
	data, err := json.Marshal(children)
	if err != nil {
		r.log.Error("rocks secondary index encode failed", zap.Error(err))
		return
	}
	if err := r.db.PutCF(r.writeOpts, r.cf, key, data); err != nil {
		r.log.Error("rocks secondary index write failed", zap.Error(err))
	}
}

// Add registers childKey as a member of (parentKey, collectionID),
// ignoring duplicate adds.
func (r *RocksSecondaryIndex) Add(parentKey, collectionID, childKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := secondaryBucketKey(parentKey, collectionID)
	children := r.readChildren(key)
	for _, c := range children {
		if c == childKey {
			return
		}
	}
	r.writeChildren(key, append(children, childKey))
}

// Remove drops childKey from (parentKey, collectionID).
func (r *RocksSecondaryIndex) Remove(parentKey, collectionID, childKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := secondaryBucketKey(parentKey, collectionID)
	children := r.readChildren(key)
	out := children[:0]
	for _, c := range children {
		if c != childKey {
			out = append(out, c)
		}
	}
	r.writeChildren(key, out)
}

// Children returns the current members of (parentKey, collectionID) in
// insertion order.
func (r *RocksSecondaryIndex) Children(parentKey, collectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readChildren(secondaryBucketKey(parentKey, collectionID))
}

// Close releases the underlying RocksDB handles.
func (r *RocksSecondaryIndex) Close() {
	r.cf.Destroy()
	r.readOpts.Destroy()
	r.writeOpts.Destroy()
	r.db.Close()
}

var _ SecondaryIndexStore = (*RocksSecondaryIndex)(nil)
