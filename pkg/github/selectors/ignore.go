// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package selectors

import (
	"encoding/json"
	"os"
	"path"
	"strings"
)

// IgnoreRules filters non-informative paths before any category check.
// All matching is case-insensitive.
type IgnoreRules struct {
	directories  map[string]struct{}
	extensions   map[string]struct{}
	filenames    map[string]struct{}
	globs        []string
	pathContains []string
}

// NewIgnoreRules builds IgnoreRules from the config lists
func NewIgnoreRules(directories, extensions, filenames, globs, pathContains []string) *IgnoreRules {
	r := &IgnoreRules{
		directories: map[string]struct{}{},
		extensions:  map[string]struct{}{},
		filenames:   map[string]struct{}{},
	}
	for _, d := range directories {
		r.directories[strings.ToLower(d)] = struct{}{}
	}
	for _, e := range extensions {
		r.extensions[strings.ToLower(e)] = struct{}{}
	}
	for _, f := range filenames {
		r.filenames[strings.ToLower(f)] = struct{}{}
	}
	for _, g := range globs {
		r.globs = append(r.globs, strings.ToLower(g))
	}
	for _, c := range pathContains {
		r.pathContains = append(r.pathContains, strings.ToLower(normalize(c)))
	}
	return r
}

// ShouldIgnore reports whether the path matches any ignore rule
func (r *IgnoreRules) ShouldIgnore(p string) bool {
	normalized := normalize(p)
	lowerPath := strings.ToLower(normalized)
	filename := baseName(lowerPath)
	extension := suffix(filename)

	if _, ok := r.filenames[filename]; ok {
		return true
	}
	if _, ok := r.extensions[extension]; ok {
		return true
	}
	for _, pattern := range r.globs {
		if matched, _ := path.Match(pattern, filename); matched {
			return true
		}
	}
	for _, token := range r.pathContains {
		if strings.Contains(lowerPath, token) {
			return true
		}
	}

	segments := strings.Split(normalized, "/")
	for _, segment := range segments[:len(segments)-1] {
		if _, ok := r.directories[strings.ToLower(segment)]; ok {
			return true
		}
	}
	return false
}

type ignoreFile struct {
	IgnoredDirectories  []string `json:"ignored_directories"`
	IgnoredExtensions   []string `json:"ignored_extensions"`
	IgnoredFilenames    []string `json:"ignored_filenames"`
	IgnoredGlobs        []string `json:"ignored_globs"`
	IgnoredPathContains []string `json:"ignored_path_contains"`
}

// LoadIgnoreRules reads the non-informative-files config
func LoadIgnoreRules(filePath string) (*IgnoreRules, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var file ignoreFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	return NewIgnoreRules(file.IgnoredDirectories, file.IgnoredExtensions, file.IgnoredFilenames,
		file.IgnoredGlobs, file.IgnoredPathContains), nil
}
