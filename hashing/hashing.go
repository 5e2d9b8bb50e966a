// Package hashing computes content fingerprints used for change detection.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"hash/fnv"
	"io"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	XXH64  = "xxh64"
	SHA256 = "sha256"
	FNV1a  = "fnv1a"
)

// Default is the preferred algorithm.
const Default = XXH64

// Hasher fingerprints byte sequences. Hashes of different algorithms are not comparable.
type Hasher interface {
	Algorithm() string
	Sum(b []byte) string
}

// Streamer is implemented by hashers that can fingerprint content while it is read.
// The hex encoded digest must equal Sum over the same bytes, nil disables streaming.
type Streamer interface {
	NewHash() hash.Hash
}

type hasherFunc struct {
	name   string
	sum    func([]byte) string
	stream func() hash.Hash
}

func (h hasherFunc) Algorithm() string {
	return h.name
}

func (h hasherFunc) Sum(b []byte) string {
	return h.sum(b)
}

func (h hasherFunc) NewHash() hash.Hash {
	if h.stream == nil {
		return nil
	}
	return h.stream()
}

var (
	mu       sync.RWMutex
	registry = map[string]Hasher{}
)

func init() {
	Register(hasherFunc{name: XXH64, sum: sumXXH64, stream: func() hash.Hash { return xxhash.New() }})
	Register(hasherFunc{name: SHA256, sum: sumSHA256, stream: sha256.New})
	Register(hasherFunc{name: FNV1a, sum: sumFNV1a, stream: func() hash.Hash { return fnv.New64a() }})
}

// Register adds or replaces an algorithm.
func Register(h Hasher) {
	mu.Lock()
	defer mu.Unlock()

	registry[h.Algorithm()] = h
}

// Unregister removes an algorithm. The fnv1a fallback cannot be removed.
func Unregister(name string) {
	if name == FNV1a {
		return
	}

	mu.Lock()
	defer mu.Unlock()

	delete(registry, name)
}

// New returns the hasher registered as name, falling back to fnv1a when it is unavailable.
func New(name string) Hasher {
	if name == "" {
		name = Default
	}

	mu.RLock()
	defer mu.RUnlock()

	if h, ok := registry[name]; ok {
		return h
	}

	return registry[FNV1a]
}

// Available lists the registered algorithms.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	return names
}

// Hash fingerprints b with the default algorithm.
func Hash(b []byte) string {
	return New(Default).Sum(b)
}

// HasChanged reports whether content differs from stored. An empty stored hash always counts as changed.
func HasChanged(h Hasher, stored string, content []byte) bool {
	if stored == "" {
		return true
	}

	return h.Sum(content) != stored
}

// SumReader buffers the entire stream before hashing it, so it is unsuitable for unbounded streams.
func SumReader(h Hasher, r io.Reader) (string, []byte, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", nil, err
	}

	return h.Sum(b), b, nil
}

// Digest fingerprints everything written to it. Hashers without Streamer support
// keep the written content in memory until Sum.
type Digest struct {
	hasher Hasher
	hash   hash.Hash
	buf    bytes.Buffer
}

func NewDigest(h Hasher) *Digest {
	d := &Digest{hasher: h}
	if s, ok := h.(Streamer); ok {
		d.hash = s.NewHash()
	}
	return d
}

func (d *Digest) Write(p []byte) (int, error) {
	if d.hash != nil {
		return d.hash.Write(p)
	}
	return d.buf.Write(p)
}

// Sum returns the fingerprint of the content written so far.
func (d *Digest) Sum() string {
	if d.hash != nil {
		return hex.EncodeToString(d.hash.Sum(nil))
	}
	return d.hasher.Sum(d.buf.Bytes())
}

func sumXXH64(b []byte) string {
	return pad16(strconv.FormatUint(xxhash.Sum64(b), 16))
}

func sumSHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func sumFNV1a(b []byte) string {
	h := fnv.New64a()
	h.Write(b)
	return pad16(strconv.FormatUint(h.Sum64(), 16))
}

func pad16(s string) string {
	for len(s) < 16 {
		s = "0" + s
	}
	return s
}
