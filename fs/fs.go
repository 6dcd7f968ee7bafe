package fs

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

type File interface {
	io.ReadCloser
	io.WriteCloser
}

// FileSystem interface for dependency injection and improved testability
type FileSystem interface {
	ReadFile(filename string) ([]byte, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Stat(name string) (os.FileInfo, error)
	Open(name string) (File, error)
	DoublestarGlob(pattern string) ([]string, error)
}

// RealFileSystem implements FileSystem interface using actual OS calls
type RealFileSystem struct{}

func (RealFileSystem) ReadFile(filename string) ([]byte, error) { return os.ReadFile(filename) }
func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}
func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (RealFileSystem) Stat(name string) (os.FileInfo, error)        { return os.Stat(name) }
func (RealFileSystem) Open(name string) (File, error)               { return os.Open(name) }
func (RealFileSystem) DoublestarGlob(pattern string) ([]string, error) {
	return doublestar.FilepathGlob(pattern)
}

// FirstLine reads the first line of a file, used for interpreter
// directive sniffing on extension-less sources.
func FirstLine(fsys FileSystem, filename string) (string, error) {
	f, err := fsys.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return strings.TrimRight(scanner.Text(), "\r"), nil
	}
	return "", scanner.Err()
}

// ExpandPatterns turns a declared source list into a concrete sorted
// file list. Entries without glob metacharacters pass through
// untouched so a declared-but-not-yet-generated file is not silently
// dropped.
func ExpandPatterns(fsys FileSystem, patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[{") {
			files = append(files, pattern)
			continue
		}
		matches, err := fsys.DoublestarGlob(pattern)
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return compact(files), nil
}

func compact(list []string) []string {
	out := list[:0]
	for i, v := range list {
		if i == 0 || list[i-1] != v {
			out = append(out, v)
		}
	}
	return out
}

// IsDir reports whether the path exists and is a directory.
func IsDir(fsys FileSystem, path string) bool {
	info, err := fsys.Stat(path)
	return err == nil && info.IsDir()
}

// Exists reports whether the path exists at all.
func Exists(fsys FileSystem, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil
}
