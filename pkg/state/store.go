package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.uber.org/zap"

	"github.com/dfsbench/dfsbench/pkg/logging"
)

var syncWrite = &opt.WriteOptions{Sync: true}

// Store is a durable key/value store of Records, one per participant.
//
// The storage layer is a leveldb database. All existing records are loaded
// when the store is opened, so a restarted process resumes the state of every
// participant it knew about. Every mutation is synced to disk before the call
// returns; a crash right after a successful call never loses the update, and
// a crash in the middle of a write never corrupts records that were already
// durable.
//
// Reads are served from memory.
type Store struct {
	sync.Mutex

	db      *leveldb.DB
	records map[string]Record
	log     *zap.SugaredLogger
}

// Open opens (or creates) the store persisted at path, which is a directory.
//
// A corrupted database is not fatal. Open first attempts to recover it; if
// recovery fails, the damaged directory is moved aside and the store starts
// from a clean slate. Both outcomes are logged.
func Open(path string) (*Store, error) {
	log := logging.S().With("state", path)

	db, err := leveldb.OpenFile(path, nil)
	if lerrors.IsCorrupted(err) {
		log.Warnw("state database is corrupted; attempting recovery", "error", err)
		db, err = leveldb.RecoverFile(path, nil)
		if err != nil {
			aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
			log.Warnw("state recovery failed; starting from a clean slate", "error", err, "moved_to", aside)
			if err := os.Rename(path, aside); err != nil {
				return nil, fmt.Errorf("failed to move corrupted state aside: %w", err)
			}
			db, err = leveldb.OpenFile(path, nil)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open state at %s: %w", path, err)
	}
	return load(db, log)
}

// OpenMem opens a store backed by memory only.
func OpenMem() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return load(db, logging.S().With("state", "mem"))
}

func load(db *leveldb.DB, log *zap.SugaredLogger) (*Store, error) {
	s := &Store{db: db, records: make(map[string]Record), log: log}

	iter := db.NewIterator(nil, nil)
	for iter.Next() {
		key := string(iter.Key())
		var r Record
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			// a partially written or foreign value: behave as if the key had
			// never been set.
			log.Warnw("ignoring undecodable state record", "key", key, "error", err)
			continue
		}
		s.records[key] = r
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	log.Debugw("state loaded", "records", len(s.records))
	return s, nil
}

// Get returns a copy of the record stored under key, or the empty record.
func (s *Store) Get(key string) Record {
	s.Lock()
	defer s.Unlock()

	return s.records[key].clone()
}

// Set applies the patch to the record stored under key and persists it.
func (s *Store) Set(key string, p Patch) (Record, error) {
	s.Lock()
	defer s.Unlock()

	r := s.records[key].clone()
	p.apply(&r)
	if err := s.put(key, r); err != nil {
		return Record{}, err
	}
	return r.clone(), nil
}

// Extend registers field on the record stored under key, with value def,
// unless the field is already present.
func (s *Store) Extend(key, field string, def interface{}) error {
	s.Lock()
	defer s.Unlock()

	r := s.records[key].clone()
	if _, ok := r.Extra[field]; ok {
		return nil
	}
	return s.setField(key, r, field, def)
}

// SetField sets an extension field on the record stored under key.
func (s *Store) SetField(key, field string, v interface{}) error {
	s.Lock()
	defer s.Unlock()

	return s.setField(key, s.records[key].clone(), field, v)
}

// Field decodes the extension field into out. It returns false if the field
// is not set.
func (s *Store) Field(key, field string, out interface{}) (bool, error) {
	s.Lock()
	v, ok := s.records[key].Extra[field]
	s.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(v, out); err != nil {
		return true, fmt.Errorf("failed to decode field %s of %s: %w", field, key, err)
	}
	return true, nil
}

// Has returns true if a record is stored under key.
func (s *Store) Has(key string) bool {
	s.Lock()
	defer s.Unlock()

	_, ok := s.records[key]
	return ok
}

// Keys returns the keys of all stored records, sorted.
func (s *Store) Keys() []string {
	s.Lock()
	defer s.Unlock()

	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Delete removes the record stored under key.
func (s *Store) Delete(key string) error {
	s.Lock()
	defer s.Unlock()

	if err := s.db.Delete([]byte(key), syncWrite); err != nil {
		return fmt.Errorf("failed to delete state of %s: %w", key, err)
	}
	delete(s.records, key)
	return nil
}

// Clear removes every record.
func (s *Store) Clear() error {
	s.Lock()
	defer s.Unlock()

	batch := new(leveldb.Batch)
	for k := range s.records {
		batch.Delete([]byte(k))
	}
	if err := s.db.Write(batch, syncWrite); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	s.records = make(map[string]Record)
	return nil
}

// Entry returns a view over the record stored under key.
func (s *Store) Entry(key string) *Entry {
	return &Entry{store: s, key: key}
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) setField(key string, r Record, field string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode field %s of %s: %w", field, key, err)
	}
	if r.Extra == nil {
		r.Extra = make(map[string]json.RawMessage, 1)
	}
	r.Extra[field] = b
	return s.put(key, r)
}

// unexported; the caller holds the lock.
func (s *Store) put(key string, r Record) error {
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode state of %s: %w", key, err)
	}
	if err := s.db.Put([]byte(key), val, syncWrite); err != nil {
		return fmt.Errorf("failed to persist state of %s: %w", key, err)
	}
	s.records[key] = r
	return nil
}
