package ports

// ManifestPort reads and writes the rendered manifest. Read reports
// whether a previous manifest exists.
type ManifestPort interface {
	Read(path string) ([]byte, bool, error)
	Write(path string, data []byte) error
}
