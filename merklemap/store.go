package merklemap

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	storeKeyPrefixNode = 'n'
	storeKeyPrefixLeaf = 'l'
	storeKeyRoot       = 'r'
)

// Store persists map nodes and leaves in leveldb so a map can be reopened at
// its last committed root. An empty path opens an in-memory database, which
// is what tests and throwaway tooling use.
type Store struct {
	db *leveldb.DB
}

// OpenStore opens or creates the backing database at path.
func OpenStore(path string, compactOnOpen bool) (*Store, error) {
	logger := log.With().Str("module", "merklemap").Logger()

	var db *leveldb.DB
	var err error
	if path == "" {
		logger.Info().Msg("no store path provided, using in-memory database")
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		logger.Info().Str("path", path).Msg("opening map store")
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open map store: %w", err)
	}

	if compactOnOpen {
		logger.Info().Msg("compacting map store")
		if err := db.CompactRange(util.Range{}); err != nil {
			return nil, fmt.Errorf("failed to compact map store: %w", err)
		}
		logger.Info().Msg("map store compaction done")
	}

	return &Store{db: db}, nil
}

// Close releases the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nodeStoreKey(level int, index []byte) []byte {
	key := make([]byte, 0, 2+len(index))
	key = append(key, storeKeyPrefixNode, byte(level))
	return append(key, index...)
}

func leafStoreKey(key [32]byte) []byte {
	out := make([]byte, 0, 33)
	out = append(out, storeKeyPrefixLeaf)
	return append(out, key[:]...)
}

func (s *Store) getNode(level int, index []byte) ([32]byte, bool, error) {
	var out [32]byte
	data, err := s.db.Get(nodeStoreKey(level, index), nil)
	if err == leveldb.ErrNotFound {
		return out, false, nil
	}
	if err != nil {
		return out, false, fmt.Errorf("failed to read node: %w", err)
	}
	if len(data) != 32 {
		return out, false, fmt.Errorf("corrupt node entry: %d bytes", len(data))
	}
	copy(out[:], data)
	return out, true, nil
}

type nodeRecord struct {
	level int
	index []byte
	hash  [32]byte
}

// commit writes one leaf update and its recomputed path atomically.
func (s *Store) commit(nodes []nodeRecord, leafKey [32]byte, value uint8, root [32]byte) error {
	batch := new(leveldb.Batch)
	for _, n := range nodes {
		batch.Put(nodeStoreKey(n.level, n.index), n.hash[:])
	}
	batch.Put(leafStoreKey(leafKey), []byte{value})
	batch.Put([]byte{storeKeyRoot}, root[:])
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to commit map update: %w", err)
	}
	return nil
}

// loadRoot returns the last committed root, if any update was ever committed.
func (s *Store) loadRoot() ([32]byte, bool, error) {
	var out [32]byte
	data, err := s.db.Get([]byte{storeKeyRoot}, nil)
	if err == leveldb.ErrNotFound {
		return out, false, nil
	}
	if err != nil {
		return out, false, fmt.Errorf("failed to read root: %w", err)
	}
	if len(data) != 32 {
		return out, false, fmt.Errorf("corrupt root entry: %d bytes", len(data))
	}
	copy(out[:], data)
	return out, true, nil
}

// loadLeaves streams every stored leaf to fn.
func (s *Store) loadLeaves(fn func(key [32]byte, value uint8)) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte{storeKeyPrefixLeaf}), nil)
	defer iter.Release()
	for iter.Next() {
		rawKey := iter.Key()
		rawValue := iter.Value()
		if len(rawKey) != 33 || len(rawValue) != 1 {
			return fmt.Errorf("corrupt leaf entry: key %d bytes, value %d bytes", len(rawKey), len(rawValue))
		}
		var key [32]byte
		copy(key[:], rawKey[1:])
		fn(key, rawValue[0])
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to iterate leaves: %w", err)
	}
	return nil
}
