package fileio

// FileLoader reads a whole file into memory
type FileLoader interface {
	Load(filename string) ([]byte, error)
}
