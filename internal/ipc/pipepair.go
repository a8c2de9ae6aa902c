package ipc

import "io"

// PipePair adapts a child process's separate stdin (writer) and stdout
// (reader) into the single io.ReadWriteCloser a Channel expects.
type PipePair struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

// NewPipePair combines r and w, closing both (and any extras) on Close.
func NewPipePair(r io.Reader, w io.Writer, extraClosers ...io.Closer) *PipePair {
	pp := &PipePair{Reader: r, Writer: w}
	if c, ok := r.(io.Closer); ok {
		pp.closers = append(pp.closers, c)
	}
	if c, ok := w.(io.Closer); ok {
		pp.closers = append(pp.closers, c)
	}
	pp.closers = append(pp.closers, extraClosers...)
	return pp
}

// Close closes every underlying closer, returning the first error.
func (pp *PipePair) Close() error {
	var first error
	for _, c := range pp.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
