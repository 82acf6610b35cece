package decoder

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Stdin is the path that selects standard input.
const Stdin = "-"

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

type readCloser struct {
	io.Reader
	closers []func() error
}

func (rc *readCloser) Close() error {
	var first error
	for i := len(rc.closers) - 1; i >= 0; i-- {
		if err := rc.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open opens path ("-" for stdin) and transparently decompresses gzip and
// zstd input, recognized by magic bytes.
func Open(path string) (io.ReadCloser, error) {
	if path == Stdin {
		return Decompress(io.NopCloser(os.Stdin))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	rc, err := Decompress(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return rc, nil
}

// Decompress wraps r in a decompressor when its content is compressed.
// Closing the result closes r.
func Decompress(r io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, errors.Wrap(err, "read header")
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		return &readCloser{Reader: zr, closers: []func() error{r.Close, zr.Close}}, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "zstd")
		}
		return &readCloser{Reader: zr, closers: []func() error{r.Close, func() error { zr.Close(); return nil }}}, nil
	default:
		return &readCloser{Reader: br, closers: []func() error{r.Close}}, nil
	}
}
