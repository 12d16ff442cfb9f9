// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package selectors contains the pure path-classification functions used to
// pick documentation, test, build and code candidates out of a git tree.
package selectors

import (
	"path"
	"regexp"
	"strings"
)

var textExtensions = map[string]struct{}{
	".md": {}, ".txt": {}, ".rst": {}, ".adoc": {},
	".py": {}, ".js": {}, ".ts": {}, ".tsx": {}, ".jsx": {},
	".json": {}, ".yaml": {}, ".yml": {}, ".toml": {}, ".ini": {}, ".cfg": {}, ".conf": {},
	".go": {}, ".rs": {}, ".java": {}, ".kt": {}, ".swift": {}, ".rb": {}, ".php": {}, ".cs": {},
	".c": {}, ".h": {}, ".cpp": {}, ".hpp": {},
	".sh": {}, ".bash": {}, ".zsh": {}, ".ps1": {},
	".sql": {}, ".xml": {}, ".html": {}, ".css": {}, ".scss": {}, ".less": {},
	".dockerfile": {}, ".env": {},
}

var entrypointStems = map[string]struct{}{
	"main": {}, "app": {}, "server": {}, "cli": {}, "__main__": {}, "manage": {}, "run": {},
}

var docFilenames = map[string]struct{}{
	"contributing.md":  {},
	"contributing.rst": {},
	"setup.md":         {},
	"installation.md":  {},
	"install.md":       {},
}

var buildPackageNames = map[string]struct{}{
	"pyproject.toml": {}, "setup.py": {}, "setup.cfg": {}, "requirements.txt": {}, "pipfile": {},
	"package.json": {}, "tsconfig.json": {}, "pnpm-workspace.yaml": {},
	"go.mod": {}, "cargo.toml": {}, "pom.xml": {}, "build.gradle": {}, "build.gradle.kts": {},
	"composer.json": {}, "gemfile": {}, "makefile": {},
	"dockerfile": {}, "docker-compose.yml": {}, "docker-compose.yaml": {}, ".gitlab-ci.yml": {},
}

var (
	testSuffixRe = regexp.MustCompile(`.*_test\.[^/]+$`)
	testPrefixRe = regexp.MustCompile(`^test_.*\.[^/]+$`)
)

// IsLikelyTextPath reports whether the path looks like a UTF-8 text file:
// known text extension, Dockerfile, or an extensionless script.
func IsLikelyTextPath(p string) bool {
	filename := baseName(p)
	if strings.EqualFold(filename, "dockerfile") {
		return true
	}
	if _, ok := textExtensions[suffix(filename)]; ok {
		return true
	}
	// No extension often means executable script or config.
	return !strings.Contains(filename, ".")
}

// LooksLikeDocPath reports whether the path belongs to the documentation category
func LooksLikeDocPath(p string) bool {
	lower := strings.ToLower(p)
	if strings.HasPrefix(lower, "docs/") || strings.HasPrefix(lower, "documentation/") {
		return true
	}
	filename := baseName(lower)
	if strings.HasPrefix(filename, "readme") {
		return true
	}
	_, ok := docFilenames[filename]
	return ok
}

// LooksLikeTestPath reports whether the path belongs to the tests category
func LooksLikeTestPath(p string) bool {
	lower := strings.ToLower(p)
	if strings.HasPrefix(lower, "tests/") || strings.HasPrefix(lower, "test/") {
		return true
	}
	filename := baseName(lower)
	return testSuffixRe.MatchString(filename) || testPrefixRe.MatchString(filename)
}

// LooksLikeBuildPackagePath reports whether the path is a package manifest,
// build file, container file or CI file.
func LooksLikeBuildPackagePath(p string) bool {
	filename := baseName(strings.ToLower(normalize(p)))
	if _, ok := buildPackageNames[filename]; ok {
		return true
	}
	matched, _ := path.Match("requirements-*.txt", filename)
	return matched
}

// LooksLikeEntrypoint reports whether the filename stem names a program entrypoint
func LooksLikeEntrypoint(p string) bool {
	filename := baseName(p)
	stem := strings.ToLower(strings.SplitN(filename, ".", 2)[0])
	_, ok := entrypointStems[stem]
	return ok
}

// PathDepth counts the '/' separators in the path
func PathDepth(p string) int {
	return strings.Count(p, "/")
}

func baseName(p string) string {
	parts := strings.Split(p, "/")
	return parts[len(parts)-1]
}

func suffix(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(filename[idx:])
}

func normalize(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
