// Package keyvalstore wraps BadgerDB for all persistent record families of
// VeilDB. Subsystems build their own prefixed keys and use the underlying
// DB for multi-key transactions; the wrapper owns lifecycle, free-space
// admission and plain read/write helpers.
package keyvalstore

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

type StoreConfig struct {
	Paths            []string // only the first path is used at the moment
	MinimumFreeSpace int      // in GB
	Logger           *slog.Logger
}

type Store struct {
	config       StoreConfig
	log          *slog.Logger
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
}

func NewStore(config StoreConfig) (*Store, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if err := config.checkConfig(); err != nil {
		return nil, fmt.Errorf("error checking config for Store: %w", err)
	}

	opts := badger.DefaultOptions(config.Paths[0])
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100 // max size of each value log file, 100MB
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", config.Paths[0], err)
	}

	s := &Store{
		config:   config,
		log:      config.Logger,
		badgerDB: db,
	}

	if err := s.logDiskUsage(config.Paths); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// DB exposes the underlying BadgerDB for subsystems that need multi-key
// transactions (registry dedup, reveal compare-and-set, batch reveals).
func (s *Store) DB() *badger.DB {
	return s.badgerDB
}

// Stats returns the number of read and write operations served so far.
func (s *Store) Stats() (reads uint64, writes uint64) {
	return atomic.LoadUint64(&s.readCounter), atomic.LoadUint64(&s.writeCounter)
}

func (s *Store) Write(key []byte, content []byte) error {
	atomic.AddUint64(&s.writeCounter, 1)

	err := s.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, content)
	})
	if err != nil {
		return fmt.Errorf("error writing key %s: %w", hex.EncodeToString(key), err)
	}
	return nil
}

func (s *Store) Read(key []byte) ([]byte, error) {
	atomic.AddUint64(&s.readCounter, 1)
	var value []byte
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error reading key %s: %w", hex.EncodeToString(key), err)
	}
	return value, nil
}

func (s *Store) Has(key []byte) (bool, error) {
	atomic.AddUint64(&s.readCounter, 1)
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BatchCheckKeyExistence reports for each key whether it is present.
func (s *Store) BatchCheckKeyExistence(keys [][]byte) (map[string]bool, error) {
	existsMap := make(map[string]bool)

	err := s.badgerDB.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			atomic.AddUint64(&s.readCounter, 1)
			_, err := txn.Get(key)
			if err != nil {
				if err == badger.ErrKeyNotFound {
					existsMap[string(key)] = false
				} else {
					return err
				}
			} else {
				existsMap[string(key)] = true
			}
		}
		return nil
	})

	return existsMap, err
}

// GetItemsWithPrefix returns all key/value pairs under the given prefix.
func (s *Store) GetItemsWithPrefix(prefix []byte) ([][][]byte, error) {
	var keysAndValues [][][]byte
	atomic.AddUint64(&s.readCounter, 1)
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			keysAndValues = append(keysAndValues, [][]byte{k, v})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keysAndValues, nil
}

// CountWithPrefix counts keys under the given prefix without loading values.
func (s *Store) CountWithPrefix(prefix []byte) (int, error) {
	count := 0
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *Store) Close() error {
	if err := s.Clean(); err != nil {
		s.log.Warn("cleanup before close failed", "error", err)
	}
	reads, writes := s.Stats()
	s.log.Info("keyvalstore closing", "reads", reads, "writes", writes)
	return s.badgerDB.Close()
}

func (s *Store) Clean() error {
	err := s.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	// flatten the db
	err = s.badgerDB.Flatten(runtime.NumCPU())
	if err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}

	err = s.badgerDB.RunValueLogGC(0.1)
	if err != nil {
		if err != badger.ErrNoRewrite {
			return fmt.Errorf("error cleaning db: %w", err)
		}
	}

	return nil
}
