package fileio

type IOFactory interface {
	NewLoader() FileLoader
	NewWriter() FileWriter
}

// BufferedFactory is the default factory returning buffered loader/writer instances
type BufferedFactory struct {
	// LZ4 makes loaders fall back to "<name>.lz4" when "<name>" does not exist.
	LZ4 bool
}

func (b *BufferedFactory) NewLoader() FileLoader {
	return &BufferedReader{lz4: b.LZ4}
}

func (b *BufferedFactory) NewWriter() FileWriter {
	return new(BufferedWriter)
}
