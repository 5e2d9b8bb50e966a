// Package memory provides an in-process RecordStore backed by ordered B-trees.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/metadata"
	"github.com/tidwall/btree"
)

// Store keeps records in memory. Records are cloned on the way in and out.
type Store struct {
	mu sync.RWMutex

	// (storage_type, file_path) -> id, ordered so prefix queries can range over it
	paths   *btree.Map[string, string]
	records map[string]*metadata.Record
	closed  bool
}

func NewStore() *Store {
	return &Store{
		paths:   btree.NewMap[string, string](0),
		records: make(map[string]*metadata.Record),
	}
}

func (*Store) Name() string {
	return "memory"
}

func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = false
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (*Store) Generation() metadata.Generation {
	return metadata.Generation2
}

func (*Store) Migrate(ctx context.Context) error {
	return nil
}

func pathKey(storageType, p string) string {
	return storageType + "\x00" + data.Normalize(p)
}

func (s *Store) Insert(ctx context.Context, record *metadata.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return metadata.ErrStoreClosed
	}

	r := record.Clone()
	if r.ID == "" {
		r.ID = data.NewID()
		record.ID = r.ID
	}
	r.Normalize()
	record.RefCount = r.RefCount

	key := pathKey(r.StorageType, r.FilePath)
	if _, exists := s.paths.Get(key); exists {
		return metadata.ErrRecordExists
	}
	if _, exists := s.records[r.ID]; exists {
		return metadata.ErrRecordExists
	}

	s.paths.Set(key, r.ID)
	s.records[r.ID] = r
	return nil
}

func (s *Store) Get(ctx context.Context, p, storageType string) (*metadata.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, metadata.ErrStoreClosed
	}

	id, exists := s.paths.Get(pathKey(storageType, p))
	if !exists {
		return nil, metadata.ErrRecordNotFound
	}

	return s.records[id].Clone(), nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*metadata.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, metadata.ErrStoreClosed
	}

	r, exists := s.records[id]
	if !exists {
		return nil, metadata.ErrRecordNotFound
	}

	return r.Clone(), nil
}

func (s *Store) Update(ctx context.Context, record *metadata.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return metadata.ErrStoreClosed
	}

	current, exists := s.records[record.ID]
	if !exists {
		return metadata.ErrRecordNotFound
	}

	r := record.Clone()
	r.Normalize()
	record.RefCount = r.RefCount

	oldKey := pathKey(current.StorageType, current.FilePath)
	newKey := pathKey(r.StorageType, r.FilePath)
	if oldKey != newKey {
		if _, taken := s.paths.Get(newKey); taken {
			return metadata.ErrRecordExists
		}
		s.paths.Delete(oldKey)
		s.paths.Set(newKey, r.ID)
	}

	s.records[r.ID] = r
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return metadata.ErrStoreClosed
	}

	r, exists := s.records[id]
	if !exists {
		return metadata.ErrRecordNotFound
	}

	s.paths.Delete(pathKey(r.StorageType, r.FilePath))
	delete(s.records, id)
	return nil
}

func (s *Store) Query(ctx context.Context, query *metadata.RecordQuery) ([]*metadata.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, metadata.ErrStoreClosed
	}

	candidates := make([]*metadata.Record, 0)
	collect := func(key, id string) bool {
		candidates = append(candidates, s.records[id].Clone())
		return true
	}

	// A storage type plus prefix narrows the scan to one contiguous key range
	if query != nil && query.StorageType != "" && query.PathPrefix != "" {
		pivot := pathKey(query.StorageType, query.PathPrefix)
		prefix := data.Normalize(query.PathPrefix)
		s.paths.Ascend(pivot, func(key, id string) bool {
			if !strings.HasPrefix(key, pivot) {
				return false
			}
			// Skips siblings sharing the prefix text, e.g. "/a-b" for "/a"
			if data.HasPathPrefix(s.records[id].FilePath, prefix) {
				collect(key, id)
			}
			return true
		})
	} else {
		s.paths.Scan(collect)
	}

	return metadata.ApplyQuery(candidates, query), nil
}
