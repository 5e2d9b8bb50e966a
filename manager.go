// Package vstore composes a storage backend with a metadata record store. Every
// mutating storage operation is performed first and, on success, recorded in the
// background: content hashes, references and lifecycle status of each stored item.
package vstore

import (
	"context"
	"errors"

	"github.com/mwantia/vstore/backend"
	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/hashing"
	"github.com/mwantia/vstore/log"
	"github.com/mwantia/vstore/metadata"
	"github.com/mwantia/vstore/refs"
)

// Manager is a tracked storage backend. It satisfies backend.StorageBackend itself,
// so it can be used wherever a plain backend is expected.
type Manager struct {
	backend backend.StorageBackend
	store   metadata.RecordStore
	refs    *refs.Engine

	logger   *log.Logger
	hasher   hashing.Hasher
	options  *Options
	recorder *recorder
}

func NewManager(storage backend.StorageBackend, opts ...Option) (*Manager, error) {
	if storage == nil {
		return nil, data.NewError(data.KindConfiguration, "init", "", errors.New("storage backend is required"))
	}

	options := newDefaultOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, data.NewError(data.KindConfiguration, "init", "", err)
		}
	}

	m := &Manager{
		backend: storage,
		logger:  options.Logger.Named("manager"),
		hasher:  options.Hasher,
		options: options,
	}

	if options.Tracking && options.Store != nil {
		m.store = options.Store
		m.refs = refs.NewEngine(options.Store)
		m.recorder = newRecorder(options.Logger.Named("recorder"), options.RetryAttempts, options.RetryDelay, options.QueueSize)
	}

	return m, nil
}

func (m *Manager) Name() string {
	return m.backend.Name()
}

// Open opens the backend and, with tracking enabled, the record store.
func (m *Manager) Open(ctx context.Context) error {
	if err := m.backend.Open(ctx); err != nil {
		return err
	}

	if m.Tracking() {
		if err := m.store.Open(ctx); err != nil {
			return data.NewError(data.KindConfiguration, "open", "", err)
		}
		m.logger.Debug("Tracking '%s' in %s store (generation %d)", m.backend.Name(), m.store.Name(), m.store.Generation())
		if m.store.Generation() < metadata.Generation2 {
			m.logger.Warn("The %s store uses generation %d, refs and lifecycle status require a migration", m.store.Name(), m.store.Generation())
		}
	}

	return nil
}

// Close drains pending metadata writes before closing the store and the backend.
func (m *Manager) Close(ctx context.Context) error {
	errs := data.Errors{}

	if m.Tracking() {
		errs.Add(m.recorder.close(ctx))
		errs.Add(m.store.Close(ctx))
	}
	errs.Add(m.backend.Close(ctx))

	return errs.Errors()
}

func (m *Manager) Capabilities() *backend.Capabilities {
	return m.backend.Capabilities()
}

// Backend returns the wrapped storage backend.
func (m *Manager) Backend() backend.StorageBackend {
	return m.backend
}

// Store returns the record store, nil without tracking.
func (m *Manager) Store() metadata.RecordStore {
	return m.store
}

// Tracking reports whether metadata is recorded.
func (m *Manager) Tracking() bool {
	return m.store != nil
}

// Flush waits until all queued metadata writes finished.
func (m *Manager) Flush(ctx context.Context) error {
	if !m.Tracking() {
		return nil
	}
	return m.recorder.flush(ctx)
}

// record submits a metadata write for a successful storage operation.
// Failures are logged by the recorder and never returned.
func (m *Manager) record(ctx context.Context, op, path string, fn func(ctx context.Context) error) {
	if !m.Tracking() {
		return
	}

	await := m.options.AwaitRecording || awaitRecording(ctx)
	if err := m.recorder.submit(ctx, op, path, await, fn); err != nil && await {
		m.logger.Debug("Recording %s of '%s' did not complete: %v", op, path, err)
	}
}

var _ backend.StorageBackend = (*Manager)(nil)
