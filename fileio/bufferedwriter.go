package fileio

import (
	"bufio"
	"go_tftp/constants"
	"hash"
	"os"

	"github.com/pkg/errors"
)

// BufferedWriter does buffered writes of downloaded blocks to file
type BufferedWriter struct {
	file     *os.File
	filename string
	writer   *bufio.Writer
	hash     hash.Hash
}

// New creates or truncates file for writing or returns error upon failing to do so
func (b *BufferedWriter) New(filename string, hashing uint8) error {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, constants.DEFAULT_FILE_PERM)
	if err != nil {
		return errors.Wrap(err, "create download file")
	}
	b.file = file
	b.filename = filename
	b.writer = bufio.NewWriterSize(file, constants.DEFAULT_WRITE_BUFFER)
	b.hash = NewHash(hashing)
	return nil
}

// Write appends block to file
func (b *BufferedWriter) Write(block []byte) error {
	if b.file == nil {
		return errors.New("cannot write without file handle")
	}
	if _, err := b.writer.Write(block); err != nil {
		return errors.Wrap(err, "write block")
	}
	// Update hash.
	if b.hash != nil {
		progressiveChecksum(b.hash, block)
	}
	return nil
}

// Close flushes remaining bytes and returns checksum of everything written
func (b *BufferedWriter) Close() ([]byte, error) {
	if b.file == nil {
		return nil, errors.New("cannot close without file handle")
	}
	err := b.writer.Flush()
	if cerr := b.file.Close(); err == nil {
		err = cerr
	}
	b.file = nil
	if err != nil {
		return nil, errors.Wrap(err, "close download file")
	}

	if b.hash == nil {
		return nil, nil
	}
	return b.hash.Sum(nil), nil
}

// Abort closes and removes partially written file
func (b *BufferedWriter) Abort() error {
	if b.file == nil {
		return nil
	}
	b.file.Close()
	b.file = nil
	return os.Remove(b.filename)
}
