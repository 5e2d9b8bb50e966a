package data

import (
	"bytes"
	"io"
	"os"
)

type sourceKind int

const (
	sourcePath sourceKind = iota
	sourceBytes
	sourceReader
)

// Source is the content of an upload: a local file, a byte slice or a stream.
type Source struct {
	kind   sourceKind
	path   string
	data   []byte
	reader io.Reader
	size   int64
}

// SourceFromPath reads the upload from a local file.
func SourceFromPath(p string) Source {
	return Source{kind: sourcePath, path: p, size: -1}
}

// SourceFromBytes uploads an in-memory byte slice.
func SourceFromBytes(b []byte) Source {
	return Source{kind: sourceBytes, data: b, size: int64(len(b))}
}

// SourceFromReader uploads a stream. A negative size marks the length as unknown.
func SourceFromReader(r io.Reader, size int64) Source {
	if size < 0 {
		size = -1
	}
	return Source{kind: sourceReader, reader: r, size: size}
}

// Open returns the content and its size, -1 when unknown.
func (s Source) Open() (io.ReadCloser, int64, error) {
	switch s.kind {
	case sourcePath:
		f, err := os.Open(s.path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, 0, NewError(KindFileNotFound, "open", s.path, err)
			}
			return nil, 0, err
		}

		stat, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, err
		}
		if stat.IsDir() {
			f.Close()
			return nil, 0, NewError(KindIsDirectory, "open", s.path, nil)
		}

		return f, stat.Size(), nil

	case sourceBytes:
		return io.NopCloser(bytes.NewReader(s.data)), int64(len(s.data)), nil

	default:
		if s.reader == nil {
			return io.NopCloser(bytes.NewReader(nil)), 0, nil
		}
		return io.NopCloser(s.reader), s.size, nil
	}
}

// Bytes reads the whole content into memory.
func (s Source) Bytes() ([]byte, error) {
	if s.kind == sourceBytes {
		return s.data, nil
	}

	r, _, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// LocalPath returns the file path of a path source.
func (s Source) LocalPath() (string, bool) {
	return s.path, s.kind == sourcePath
}

// Sink is the target of a download. A nil *Sink collects the content in memory.
type Sink struct {
	path   string
	writer io.Writer
}

// SinkToPath writes the download to a local file, creating or truncating it.
func SinkToPath(p string) *Sink {
	return &Sink{path: p}
}

// SinkToWriter streams the download into w.
func SinkToWriter(w io.Writer) *Sink {
	return &Sink{writer: w}
}

// Open returns the writer for the sink. Writers passed by the caller are not closed.
func (s *Sink) Open() (io.WriteCloser, error) {
	if s.writer != nil {
		return nopWriteCloser{s.writer}, nil
	}

	return os.Create(s.path)
}

func (s *Sink) LocalPath() string {
	return s.path
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

// Download is the outcome of a download. Content is only set when no sink was given.
type Download struct {
	Item    *FileItem `json:"item"`
	Content []byte    `json:"content,omitempty"`
	Written int64     `json:"written"`
}
