package data

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"":                  "/",
		"/":                 "/",
		"a":                 "/a",
		"/a/b/":             "/a/b",
		"//a///b":           "/a/b",
		`a\b\c.txt`:         "/a/b/c.txt",
		"/a/./b":            "/a/b",
		"/a/b/../c":         "/a/c",
		"/../../etc/passwd": "/etc/passwd",
		"./":                "/",
		"/a/b/..":           "/a",
	}

	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, Normalize(in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"", "/", "..", "a/../../b", `\\x\\y`, "/a//b/./c/", "....", "/.hidden/./x/.."}

	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestValidate(t *testing.T) {
	t.Run("NullByte", func(t *testing.T) {
		_, err := Validate("/a\x00b", "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidPath))
	})

	t.Run("NoBase", func(t *testing.T) {
		p, err := Validate("a//b", "")
		require.NoError(t, err)
		assert.Equal(t, "/a/b", p)
	})

	t.Run("InsideBase", func(t *testing.T) {
		p, err := Validate("docs/../notes.txt", "/srv/data")
		require.NoError(t, err)
		assert.Equal(t, "/srv/data/notes.txt", p)
	})

	t.Run("Traversal", func(t *testing.T) {
		for _, in := range []string{"../x", "a/../../x", "../../../../etc", `..\..\x`, "../data-other"} {
			_, err := Validate(in, "/srv/data")
			require.Error(t, err, "input %q", in)
			assert.Equal(t, KindInvalidPath, KindOf(err))
		}
	})

	t.Run("BaseItself", func(t *testing.T) {
		p, err := Validate("a/..", "/srv")
		require.NoError(t, err)
		assert.Equal(t, "/srv", p)
	})
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "/a", Dir("/a/b.txt"))
	assert.Equal(t, "/", Dir("/a"))
	assert.Equal(t, "/", Dir("/"))
	assert.Equal(t, "b.txt", Base("/a/b.txt"))
	assert.Equal(t, "", Base("/"))
	assert.Equal(t, ".pdf", Ext("/x/Report.PDF"))
	assert.Equal(t, []string{"a", "b"}, Split("/a/b"))
	assert.Nil(t, Split("/"))
	assert.Equal(t, "/a/b/c", Join("/a", "b", "c"))

	assert.True(t, HasPathPrefix("/a/b", "/a"))
	assert.True(t, HasPathPrefix("/a", "/a"))
	assert.True(t, HasPathPrefix("/a", "/"))
	assert.False(t, HasPathPrefix("/ab", "/a"))

	assert.Equal(t, "/new/x/y.txt", Rebase("/old/x/y.txt", "/old", "/new"))
	assert.Equal(t, "/new", Rebase("/old", "/old", "/new"))
	assert.Equal(t, "/other", Rebase("/other", "/old", "/new"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("report-v2.pdf"))

	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "a\x00"} {
		assert.Equal(t, KindInvalidPath, KindOf(ValidateName(name)), "name %q", name)
	}
}
