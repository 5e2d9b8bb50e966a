package backend

import (
	"io"

	"github.com/mwantia/vstore/data"
)

// ProgressReader reports read progress to fn. Without a known total or callback,
// r is returned unchanged.
func ProgressReader(r io.Reader, total int64, fn data.ProgressFunc) io.Reader {
	if fn == nil || total < 0 {
		return r
	}

	return &progressReader{
		r:     r,
		total: total,
		fn:    fn,
	}
}

type progressReader struct {
	r       io.Reader
	total   int64
	current int64
	fn      data.ProgressFunc
	done    bool
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.current += int64(n)
		p.report()
	}
	if err == io.EOF && !p.done {
		// Empty content still reports completion
		p.report()
	}

	return n, err
}

func (p *progressReader) report() {
	if p.done {
		return
	}

	percent := 100.0
	if p.total > 0 {
		percent = float64(p.current) / float64(p.total) * 100
		if percent > 100 {
			percent = 100
		}
	}
	if p.current >= p.total {
		p.done = true
	}

	p.fn(percent, p.current, p.total)
}

// Options returns opts or an empty value for nil.
func Options(opts *data.WriteOptions) *data.WriteOptions {
	if opts == nil {
		return &data.WriteOptions{}
	}
	return opts
}

// ListingOptions returns opts or an empty value for nil.
func ListingOptions(opts *data.ListOptions) *data.ListOptions {
	if opts == nil {
		return &data.ListOptions{}
	}
	return opts
}
