package mock

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/targon-build/targon/fs"
)

type MockFile struct {
	*bytes.Buffer
}

func (m *MockFile) Close() error { return nil }

type mockFileInfo struct {
	name string
	mode os.FileMode
	size int64
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return time.Now() }
func (m *mockFileInfo) IsDir() bool        { return m.mode.IsDir() }
func (m *mockFileInfo) Sys() interface{}   { return nil }

// MockFileSystem implements the FileSystem interface for testing
type MockFileSystem struct {
	Files map[string][]byte
	Dirs  map[string]bool
}

func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		Files: make(map[string][]byte),
		Dirs:  make(map[string]bool),
	}
}

// AddDir marks a path as an existing directory.
func (m *MockFileSystem) AddDir(path string) {
	m.Dirs[path] = true
}

func (m *MockFileSystem) ReadFile(filename string) ([]byte, error) {
	if data, ok := m.Files[filename]; ok {
		return data, nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	m.Files[filename] = data
	return nil
}

func (m *MockFileSystem) MkdirAll(path string, perm os.FileMode) error {
	m.Dirs[path] = true
	return nil
}

func (m *MockFileSystem) Stat(name string) (os.FileInfo, error) {
	if m.Dirs[name] {
		return &mockFileInfo{name: filepath.Base(name), mode: os.ModeDir | 0755}, nil
	}
	if data, ok := m.Files[name]; ok {
		return &mockFileInfo{name: filepath.Base(name), mode: 0644, size: int64(len(data))}, nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) Open(name string) (fs.File, error) {
	if data, ok := m.Files[name]; ok {
		return &MockFile{Buffer: bytes.NewBuffer(data)}, nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) DoublestarGlob(pattern string) ([]string, error) {
	var matches []string
	for filename := range m.Files {
		matched, err := doublestar.Match(pattern, filename)
		if err != nil {
			return nil, err
		}
		if matched {
			matches = append(matches, filename)
		}
	}
	sort.Strings(matches)
	return matches, nil
}
