package vstore

import (
	"context"
	"errors"
	"time"

	"github.com/mwantia/vstore/extraction"
	"github.com/mwantia/vstore/hashing"
	"github.com/mwantia/vstore/log"
	"github.com/mwantia/vstore/metadata"
)

type Options struct {
	Logger *log.Logger
	Store  metadata.RecordStore

	Tracking       bool
	AwaitRecording bool
	SoftDelete     bool

	RetryAttempts int
	RetryDelay    time.Duration
	QueueSize     int

	Hasher        hashing.Hasher
	MergeStrategy extraction.Strategy

	// Extractor runs on the content of every tracked upload when set
	Extractor       Extractor
	ExtractorSource string
}

type Option func(*Options) error

func newDefaultOptions() *Options {
	return &Options{
		Logger:        log.NewDiscard(),
		Tracking:      true,
		RetryAttempts: 3,
		RetryDelay:    50 * time.Millisecond,
		QueueSize:     128,
		Hasher:        hashing.New(hashing.Default),
		MergeStrategy: extraction.Shallow,
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(opts *Options) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		opts.Logger = logger
		return nil
	}
}

// WithRecordStore enables metadata tracking in store.
func WithRecordStore(store metadata.RecordStore) Option {
	return func(opts *Options) error {
		opts.Store = store
		return nil
	}
}

// WithTracking toggles metadata tracking without removing the record store.
func WithTracking(enabled bool) Option {
	return func(opts *Options) error {
		opts.Tracking = enabled
		return nil
	}
}

// WithAwaitRecording blocks every tracked operation until its metadata write finished.
func WithAwaitRecording() Option {
	return func(opts *Options) error {
		opts.AwaitRecording = true
		return nil
	}
}

// WithSoftDelete keeps records of deleted items as soft_deleted instead of removing them.
func WithSoftDelete() Option {
	return func(opts *Options) error {
		opts.SoftDelete = true
		return nil
	}
}

// WithRecorderRetry sets how often a failed metadata write is attempted.
// The delay doubles after each attempt.
func WithRecorderRetry(attempts int, delay time.Duration) Option {
	return func(opts *Options) error {
		if attempts < 1 {
			return errors.New("retry attempts must be at least 1")
		}
		if delay < 0 {
			return errors.New("retry delay must not be negative")
		}
		opts.RetryAttempts = attempts
		opts.RetryDelay = delay
		return nil
	}
}

func WithQueueSize(size int) Option {
	return func(opts *Options) error {
		if size < 0 {
			return errors.New("queue size must not be negative")
		}
		opts.QueueSize = size
		return nil
	}
}

// WithHasher selects the content hash algorithm by name. Unknown names fall back to fnv1a.
func WithHasher(name string) Option {
	return func(opts *Options) error {
		opts.Hasher = hashing.New(name)
		return nil
	}
}

func WithMergeStrategy(strategy extraction.Strategy) Option {
	return func(opts *Options) error {
		if _, err := extraction.ParseStrategy(string(strategy)); err != nil {
			return err
		}
		opts.MergeStrategy = strategy
		return nil
	}
}

// WithExtractor runs extractor on every tracked upload and stores the result under source.
func WithExtractor(extractor Extractor, source string) Option {
	return func(opts *Options) error {
		if extractor == nil {
			return ErrNoExtractor
		}
		opts.Extractor = extractor
		opts.ExtractorSource = source
		return nil
	}
}

type contextKey int

const (
	awaitRecordingKey contextKey = iota
	scopeKey
	uploaderKey
)

// AwaitRecording makes the tracked operation called with ctx wait for its metadata write.
func AwaitRecording(ctx context.Context) context.Context {
	return context.WithValue(ctx, awaitRecordingKey, true)
}

// WithScope attributes records created with ctx to scopeID.
func WithScope(ctx context.Context, scopeID string) context.Context {
	return context.WithValue(ctx, scopeKey, scopeID)
}

// WithUploader attributes records created with ctx to uploadedBy.
func WithUploader(ctx context.Context, uploadedBy string) context.Context {
	return context.WithValue(ctx, uploaderKey, uploadedBy)
}

func awaitRecording(ctx context.Context) bool {
	await, _ := ctx.Value(awaitRecordingKey).(bool)
	return await
}

func scopeFrom(ctx context.Context) string {
	scope, _ := ctx.Value(scopeKey).(string)
	return scope
}

func uploaderFrom(ctx context.Context) string {
	uploader, _ := ctx.Value(uploaderKey).(string)
	return uploader
}
