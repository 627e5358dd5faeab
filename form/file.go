package form

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File is a video selection that can be reopened for every attempt, so a
// failed conversion can be retried without choosing the file again.
type File interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type localFile struct {
	path string
	size int64
}

// LocalFile selects a video from disk.
func LocalFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &localFile{path: path, size: info.Size()}, nil
}

func (f *localFile) Name() string { return filepath.Base(f.path) }
func (f *localFile) Size() int64  { return f.size }

func (f *localFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

type memoryFile struct {
	name string
	data []byte
}

// MemoryFile selects an in-memory video, e.g. one received in a form upload.
func MemoryFile(name string, data []byte) File {
	return &memoryFile{name: name, data: data}
}

func (f *memoryFile) Name() string { return f.name }
func (f *memoryFile) Size() int64  { return int64(len(f.data)) }

func (f *memoryFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
