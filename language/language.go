package language

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/targon-build/targon/fs"
)

// Language is the uppercase tag attached to every classified target.
type Language string

const (
	CXX     Language = "CXX"
	Python  Language = "PYTHON"
	Perl    Language = "PERL"
	Bash    Language = "BASH"
	Matlab  Language = "MATLAB"
	Unknown Language = "UNKNOWN"
)

// IsInterpreted reports whether targets of this language go through the
// script build pipeline.
func (l Language) IsInterpreted() bool {
	return l == Python || l == Perl || l == Bash
}

// IsCross reports whether the language needs a cross-compilation
// generator instead of the native toolchain.
func (l Language) IsCross() bool { return l == Matlab }

// TemplateSuffix marks source files that need variable substitution
// before use. It is stripped before extension lookup and from output
// file names.
const TemplateSuffix = ".in"

var extensions = map[string]Language{
	".c":    CXX,
	".cc":   CXX,
	".cpp":  CXX,
	".cxx":  CXX,
	".h":    CXX,
	".hh":   CXX,
	".hpp":  CXX,
	".hxx":  CXX,
	".py":   Python,
	".pl":   Perl,
	".pm":   Perl,
	".t":    Perl,
	".sh":   Bash,
	".bash": Bash,
	".m":    Matlab,
}

var interpreters = map[string]Language{
	"python":  Python,
	"python2": Python,
	"python3": Python,
	"perl":    Perl,
	"bash":    Bash,
	"sh":      Bash,
}

// NoSourcesError reports classification of an empty source list.
type NoSourcesError struct{}

func (e *NoSourcesError) Error() string { return "cannot classify language: no source files given" }

// AmbiguousError reports sources spanning more than one language.
type AmbiguousError struct {
	Files     []string
	Languages []Language
}

func (e *AmbiguousError) Error() string {
	langs := make([]string, len(e.Languages))
	for i, l := range e.Languages {
		langs[i] = string(l)
	}
	return fmt.Sprintf("sources map to more than one language (%s): %s",
		strings.Join(langs, ", "), strings.Join(e.Files, ", "))
}

// UnknownError reports sources none of which map to a known language.
type UnknownError struct {
	Files []string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("cannot determine language of sources: %s", strings.Join(e.Files, ", "))
}

// Classify inspects the given source files and returns the single
// language they belong to. Extensions are checked first; files without
// a recognized extension are opened and their first line inspected for
// an interpreter directive. No other side effects.
func Classify(fsys fs.FileSystem, sources []string) (Language, error) {
	if len(sources) == 0 {
		return Unknown, &NoSourcesError{}
	}

	seen := make(map[Language]bool)
	for _, src := range sources {
		if l := classifyFile(fsys, src); l != Unknown {
			seen[l] = true
		}
	}

	switch len(seen) {
	case 0:
		return Unknown, &UnknownError{Files: sources}
	case 1:
		for l := range seen {
			return l, nil
		}
	}

	var langs []Language
	for l := range seen {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return Unknown, &AmbiguousError{Files: sources, Languages: langs}
}

func classifyFile(fsys fs.FileSystem, path string) Language {
	name := strings.TrimSuffix(path, TemplateSuffix)
	if ext := filepath.Ext(name); ext != "" {
		if l, ok := extensions[strings.ToLower(ext)]; ok {
			return l
		}
		return Unknown
	}

	line, err := fs.FirstLine(fsys, path)
	if err != nil {
		return Unknown
	}
	return FromInterpreterDirective(line)
}

// FromInterpreterDirective maps a shebang line to a language. Both the
// `#!/usr/bin/env name` and `#!/path/to/name` forms are accepted.
func FromInterpreterDirective(line string) Language {
	if !strings.HasPrefix(line, "#!") {
		return Unknown
	}
	fields := strings.Fields(strings.TrimPrefix(line, "#!"))
	if len(fields) == 0 {
		return Unknown
	}
	interp := filepath.Base(fields[0])
	if interp == "env" && len(fields) > 1 {
		interp = filepath.Base(fields[1])
	}
	// python3.11 and friends
	for name, l := range interpreters {
		if interp == name || strings.HasPrefix(interp, name+".") || strings.HasPrefix(interp, name+"-") {
			return l
		}
	}
	if strings.HasPrefix(interp, "python") {
		return Python
	}
	return Unknown
}
