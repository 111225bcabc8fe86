// Package storage defines the export-bundle file-system abstraction.
package storage

// FileInfo describes one file in a bundle.
type FileInfo struct {
	Path     string // forward-slash path relative to the bundle root
	Size     int64
	Checksum string
}

// Provider is the interface for bundle file operations. Every path is
// relative to the bundle root and uses forward slashes.
type Provider interface {
	// Root returns the absolute bundle root.
	Root() string
	// List returns every file under dir whose name ends in suffix, sorted
	// by path. A missing dir yields an empty list.
	List(dir, suffix string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
	// Delete removes the file at path.
	Delete(path string) error
}
