// Package consul provides a RecordStore on top of the HashiCorp Consul KV store.
package consul

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/metadata"
)

// KV is the subset of *api.KV used by the store.
type KV interface {
	Get(key string, q *api.QueryOptions) (*api.KVPair, *api.QueryMeta, error)
	List(prefix string, q *api.QueryOptions) (api.KVPairs, *api.QueryMeta, error)
	Put(p *api.KVPair, q *api.WriteOptions) (*api.WriteMeta, error)
	CAS(p *api.KVPair, q *api.WriteOptions) (bool, *api.WriteMeta, error)
	Delete(key string, w *api.WriteOptions) (*api.WriteMeta, error)
}

// Config contains the connection settings of the store.
type Config struct {
	// Address of the Consul server (default: "127.0.0.1:8500")
	Address string `mapstructure:"address"`

	// Token for Consul ACL authentication (optional)
	Token string `mapstructure:"token"`

	// Datacenter to use (optional)
	Datacenter string `mapstructure:"datacenter"`

	// Namespace for Consul Enterprise (optional)
	Namespace string `mapstructure:"namespace"`

	// Prefix for all keys (default: "vstore")
	Prefix string `mapstructure:"prefix"`
}

// Store keeps every record as one JSON value below <prefix>/records/<id> and
// an index entry <prefix>/paths/<storage_type>/<escaped path> pointing at the id.
//
// Consul KV has a 512KB limit per value, large extraction payloads do not fit.
type Store struct {
	mu     sync.Mutex
	kv     KV
	prefix string
}

// NewStore connects to the Consul agent described by config.
func NewStore(config *Config) (*Store, error) {
	if config == nil {
		config = &Config{}
	}

	clientConfig := api.DefaultConfig()
	if config.Address != "" {
		clientConfig.Address = config.Address
	}
	if config.Token != "" {
		clientConfig.Token = config.Token
	}
	if config.Datacenter != "" {
		clientConfig.Datacenter = config.Datacenter
	}
	if config.Namespace != "" {
		clientConfig.Namespace = config.Namespace
	}

	client, err := api.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	return NewStoreWithKV(client.KV(), config.Prefix), nil
}

// NewStoreWithKV creates a store on an existing KV client.
func NewStoreWithKV(kv KV, prefix string) *Store {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "vstore"
	}

	return &Store{
		kv:     kv,
		prefix: prefix,
	}
}

func (*Store) Name() string {
	return "consul"
}

func (s *Store) Open(ctx context.Context) error {
	// Verifies connectivity and ACLs
	_, _, err := s.kv.List(s.recordsPrefix(), queryOptions(ctx))
	return err
}

func (s *Store) Close(ctx context.Context) error {
	return nil
}

// Generation is always 2, records are schemaless JSON documents.
func (*Store) Generation() metadata.Generation {
	return metadata.Generation2
}

// Migrate has nothing to add for JSON documents, missing fields decode as zero values
// and are normalized on read.
func (*Store) Migrate(ctx context.Context) error {
	return nil
}

func queryOptions(ctx context.Context) *api.QueryOptions {
	return (&api.QueryOptions{}).WithContext(ctx)
}

func writeOptions(ctx context.Context) *api.WriteOptions {
	return (&api.WriteOptions{}).WithContext(ctx)
}

func (s *Store) recordsPrefix() string {
	return s.prefix + "/records/"
}

func (s *Store) recordKey(id string) string {
	return s.recordsPrefix() + id
}

func (s *Store) pathKey(storageType, p string) string {
	return fmt.Sprintf("%s/paths/%s/%s", s.prefix, url.PathEscape(storageType), url.PathEscape(data.Normalize(p)))
}

func (s *Store) Insert(ctx context.Context, record *metadata.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = data.NewID()
	}
	record.Normalize()

	// ModifyIndex 0 only succeeds when the key does not exist yet
	ok, _, err := s.kv.CAS(&api.KVPair{
		Key:   s.pathKey(record.StorageType, record.FilePath),
		Value: []byte(record.ID),
	}, writeOptions(ctx))
	if err != nil {
		return err
	}
	if !ok {
		return metadata.ErrRecordExists
	}

	return s.put(ctx, record)
}

func (s *Store) put(ctx context.Context, record *metadata.Record) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = s.kv.Put(&api.KVPair{Key: s.recordKey(record.ID), Value: value}, writeOptions(ctx))
	return err
}

func decode(pair *api.KVPair) (*metadata.Record, error) {
	var record metadata.Record
	if err := json.Unmarshal(pair.Value, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record '%s': %w", pair.Key, err)
	}

	record.Normalize()
	return &record, nil
}

func (s *Store) Get(ctx context.Context, p, storageType string) (*metadata.Record, error) {
	pair, _, err := s.kv.Get(s.pathKey(storageType, p), queryOptions(ctx))
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, metadata.ErrRecordNotFound
	}

	return s.GetByID(ctx, string(pair.Value))
}

func (s *Store) GetByID(ctx context.Context, id string) (*metadata.Record, error) {
	pair, _, err := s.kv.Get(s.recordKey(id), queryOptions(ctx))
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, metadata.ErrRecordNotFound
	}

	return decode(pair)
}

func (s *Store) Update(ctx context.Context, record *metadata.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.GetByID(ctx, record.ID)
	if err != nil {
		return err
	}
	record.Normalize()

	oldKey := s.pathKey(current.StorageType, current.FilePath)
	newKey := s.pathKey(record.StorageType, record.FilePath)
	if oldKey != newKey {
		ok, _, err := s.kv.CAS(&api.KVPair{Key: newKey, Value: []byte(record.ID)}, writeOptions(ctx))
		if err != nil {
			return err
		}
		if !ok {
			return metadata.ErrRecordExists
		}
		if _, err := s.kv.Delete(oldKey, writeOptions(ctx)); err != nil {
			return err
		}
	}

	return s.put(ctx, record)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if _, err := s.kv.Delete(s.recordKey(id), writeOptions(ctx)); err != nil {
		return err
	}
	_, err = s.kv.Delete(s.pathKey(current.StorageType, current.FilePath), writeOptions(ctx))
	return err
}

func (s *Store) Query(ctx context.Context, query *metadata.RecordQuery) ([]*metadata.Record, error) {
	pairs, _, err := s.kv.List(s.recordsPrefix(), queryOptions(ctx))
	if err != nil {
		return nil, err
	}

	candidates := make([]*metadata.Record, 0, len(pairs))
	for _, pair := range pairs {
		record, err := decode(pair)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, record)
	}

	return metadata.ApplyQuery(candidates, query), nil
}
