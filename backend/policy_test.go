package backend

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/mwantia/vstore/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePolicy(t *testing.T) {
	policy := WritePolicy{AllowedExtensions: []string{".pdf", "TXT"}, MaxFileSize: 10}

	assert.NoError(t, policy.Check("/a/Report.PDF", 10))
	assert.NoError(t, policy.Check("/notes.txt", -1))
	assert.Equal(t, data.KindExtensionNotAllowed, data.KindOf(policy.Check("/x.exe", 1)))
	assert.Equal(t, data.KindExtensionNotAllowed, data.KindOf(policy.Check("/noext", 1)))
	assert.Equal(t, data.KindFileTooLarge, data.KindOf(policy.Check("/a.pdf", 11)))

	assert.NoError(t, WritePolicy{}.Check("/anything.bin", 1<<40))
}

func TestWritePolicyLimit(t *testing.T) {
	policy := WritePolicy{MaxFileSize: 5}

	b, err := io.ReadAll(policy.Limit("/a", strings.NewReader("hello")))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	_, err = io.ReadAll(policy.Limit("/a", strings.NewReader("hello!")))
	assert.Equal(t, data.KindFileTooLarge, data.KindOf(err))
}

func TestProgressReader(t *testing.T) {
	type call struct {
		percent      float64
		current, max int64
	}
	var calls []call
	fn := func(percent float64, current, total int64) {
		calls = append(calls, call{percent, current, total})
	}

	r := ProgressReader(bytes.NewReader([]byte("0123456789")), 10, fn)
	buf := make([]byte, 4)
	for {
		if _, err := r.Read(buf); err != nil {
			break
		}
	}

	require.Len(t, calls, 3)
	assert.Equal(t, call{40, 4, 10}, calls[0])
	assert.Equal(t, call{100, 10, 10}, calls[2])

	// Unknown totals are not reported
	calls = nil
	src := strings.NewReader("abc")
	assert.Same(t, io.Reader(src), ProgressReader(src, -1, fn))

	// Empty content reports completion once
	_, err := io.ReadAll(ProgressReader(bytes.NewReader(nil), 0, fn))
	require.NoError(t, err)
	assert.Equal(t, []call{{100, 0, 0}}, calls)
}
