package fileio

// FileWriter receives a download block by block
type FileWriter interface {
	New(filename string, hashing uint8) error
	Write(block []byte) error
	Close() ([]byte, error)
	Abort() error
}
