package fileio

import (
	"bufio"
	"go_tftp/constants"
	"io"
	"io/fs"
	"os"

	"github.com/pkg/errors"
)

var ErrNotRegular = errors.New("not a regular file")

// BufferedReader loads whole files with buffered reads
type BufferedReader struct {
	lz4 bool
}

// Load returns file contents. Errors keep fs.ErrNotExist / fs.ErrPermission visible to
// errors.Is.
func (b *BufferedReader) Load(filename string) ([]byte, error) {
	file, err := os.Open(filename)
	compressed := false
	if err != nil && b.lz4 && errors.Is(err, fs.ErrNotExist) {
		// Compressed copy stored instead.
		if lzFile, lzErr := os.Open(filename + constants.LZ4_SUFFIX); lzErr == nil {
			file, err = lzFile, nil
			compressed = true
		}
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, errors.Wrap(ErrNotRegular, filename)
	}

	if compressed {
		return DecompressStream(file)
	}

	data, err := io.ReadAll(bufio.NewReaderSize(file, constants.DEFAULT_WRITE_BUFFER))
	if err != nil {
		return nil, errors.Wrap(err, "read "+filename)
	}
	return data, nil
}
