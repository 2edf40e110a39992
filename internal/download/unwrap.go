package download

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// Compression identifies a wrapper around a downloaded file.
type Compression string

const (
	CompressionNone  Compression = ""
	CompressionGzip  Compression = "gzip"
	CompressionBzip2 Compression = "bzip2"
	CompressionXZ    Compression = "xz"
)

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
	xzMagic    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// wrapperExt maps a compression to the file extensions it adds.
var wrapperExt = map[Compression][]string{
	CompressionGzip:  {".gz", ".gzip"},
	CompressionBzip2: {".bz2", ".bzip2"},
	CompressionXZ:    {".xz"},
}

// Unwrap detects a compressed stream by its magic bytes and returns a reader
// of the decompressed content. Plain streams are returned as they are.
func Unwrap(r io.Reader) (io.ReadCloser, Compression, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(len(xzMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, CompressionNone, fmt.Errorf("peeking header: %w", err)
	}

	switch {
	case bytes.HasPrefix(header, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, CompressionGzip, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gz, CompressionGzip, nil
	case bytes.HasPrefix(header, bzip2Magic):
		bz, err := bzip2.NewReader(br, nil)
		if err != nil {
			return nil, CompressionBzip2, fmt.Errorf("creating bzip2 reader: %w", err)
		}
		return bz, CompressionBzip2, nil
	case bytes.HasPrefix(header, xzMagic):
		x, err := xz.NewReader(br)
		if err != nil {
			return nil, CompressionXZ, fmt.Errorf("creating xz reader: %w", err)
		}
		return io.NopCloser(x), CompressionXZ, nil
	default:
		return io.NopCloser(br), CompressionNone, nil
	}
}

// UnwrappedName drops the compression extension from name.
func UnwrappedName(name string, c Compression) string {
	ext := filepath.Ext(name)
	for _, e := range wrapperExt[c] {
		if strings.EqualFold(ext, e) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}
