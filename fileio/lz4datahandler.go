package fileio

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// DecompressStream returns uncompressed contents of an LZ4 frame stream
func DecompressStream(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	if _, err := io.Copy(&out, lz4.NewReader(r)); err != nil {
		return nil, errors.Wrap(err, "lz4 decompress")
	}
	return out.Bytes(), nil
}
