// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"fmt"
	"sort"
	"strings"
)

// Entity names addressable in an extraction request
const (
	EntityMetadata      = "metadata"
	EntityLanguages     = "languages"
	EntityTree          = "tree"
	EntityReadme        = "readme"
	EntityDocumentation = "documentation"
	EntityBuildPackage  = "build_package"
	EntityTests         = "tests"
	EntityCode          = "code"
)

// AllEntities lists every extraction entity in render order
var AllEntities = []string{
	EntityMetadata, EntityLanguages, EntityTree, EntityReadme,
	EntityDocumentation, EntityBuildPackage, EntityTests, EntityCode,
}

// EntitySet is the set of requested extraction entities
type EntitySet map[string]struct{}

// NewEntitySet builds a set from entity names
func NewEntitySet(names ...string) EntitySet {
	s := EntitySet{}
	for _, name := range names {
		s[name] = struct{}{}
	}
	return s
}

// Has reports whether the entity was requested
func (s EntitySet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// RenderMarkdown lays the snapshot out as the ten-section extraction
// document. Sections for entities not in requested carry the literal
// "Not requested"; requested entities with nothing behind them carry
// "Not found".
func RenderMarkdown(snapshot *RepoSnapshot, requested EntitySet, warnings []string) string {
	var lines []string

	lines = append(lines, "# Repository Metadata")
	switch {
	case !requested.Has(EntityMetadata):
		lines = append(lines, "Not requested")
	case snapshot.Metadata.Repo == "":
		lines = append(lines, "Not found")
	default:
		meta := snapshot.Metadata
		lines = append(lines,
			fmt.Sprintf("- Owner: %s", meta.Owner),
			fmt.Sprintf("- Repo: %s", meta.Repo),
			fmt.Sprintf("- Default Branch: %s", meta.DefaultBranch),
			fmt.Sprintf("- Description: %s", orNA(meta.Description)),
			fmt.Sprintf("- Topics: %s", orNA(strings.Join(meta.Topics, ", "))),
			fmt.Sprintf("- Homepage: %s", orNA(meta.Homepage)),
		)
	}

	lines = append(lines, "", "# Language Stats")
	switch {
	case !requested.Has(EntityLanguages):
		lines = append(lines, "Not requested")
	case len(snapshot.Languages) == 0:
		lines = append(lines, "Not found")
	default:
		for _, lang := range languagesByCount(snapshot.Languages) {
			lines = append(lines, fmt.Sprintf("- %s: %d", lang, snapshot.Languages[lang]))
		}
	}

	lines = append(lines, "", "# Directory Tree")
	switch {
	case !requested.Has(EntityTree):
		lines = append(lines, "Not requested")
	case len(snapshot.Tree) == 0:
		lines = append(lines, "Not found")
	default:
		for _, entry := range snapshot.Tree {
			lines = append(lines, fmt.Sprintf("- %s (%s, %d)", entry.Path, entry.Type, entry.Size))
		}
	}

	lines = append(lines, "", "# README")
	switch {
	case !requested.Has(EntityReadme):
		lines = append(lines, "Not requested")
	case snapshot.Readme == nil:
		lines = append(lines, "Not found")
	default:
		lines = appendFileBlock(lines, "README", snapshot.Readme.SourceURL, snapshot.Readme.Content)
	}

	lines = append(lines, "", "# Documentation")
	switch {
	case !requested.Has(EntityDocumentation):
		lines = append(lines, "Not requested")
	case snapshot.Documentation == nil || len(snapshot.Documentation.Files) == 0:
		lines = append(lines, "Not found")
	default:
		for _, file := range snapshot.Documentation.Files {
			lines = appendFileBlock(lines, file.Path, file.SourceURL, file.Content)
		}
	}

	lines = appendFileSection(lines, "# Build and Package Data", requested.Has(EntityBuildPackage), snapshot.BuildAndPackage)
	lines = appendFileSection(lines, "# Tests", requested.Has(EntityTests), snapshot.Tests)
	lines = appendFileSection(lines, "# Code", requested.Has(EntityCode), snapshot.Code)

	lines = append(lines, "", "# Extraction Stats")
	lines = appendStats(lines, snapshot)

	lines = append(lines, "", "# Warnings")
	if len(warnings) == 0 {
		lines = append(lines, "None")
	} else {
		lines = append(lines, warnings...)
	}
	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// RenderFullMarkdown renders the snapshot with every entity requested
func RenderFullMarkdown(snapshot *RepoSnapshot, warnings []string) string {
	return RenderMarkdown(snapshot, NewEntitySet(AllEntities...), warnings)
}

func appendFileSection(lines []string, heading string, wasRequested bool, files []FileContent) []string {
	lines = append(lines, "", heading)
	switch {
	case !wasRequested:
		lines = append(lines, "Not requested")
	case len(files) == 0:
		lines = append(lines, "Not found")
	default:
		for _, file := range files {
			lines = appendFileBlock(lines, file.Path, file.SourceURL, file.Content)
		}
	}
	return lines
}

func appendFileBlock(lines []string, label, source, content string) []string {
	byteSize := len(content)
	return append(lines,
		fmt.Sprintf("## File: %s", label),
		fmt.Sprintf("- Source: %s", orNA(source)),
		fmt.Sprintf("- UTF8 Bytes: %d", byteSize),
		fmt.Sprintf("- Estimated Tokens: %d", EstimatedTokens(byteSize)),
		"```text",
		content,
		"```",
	)
}

func appendStats(lines []string, snapshot *RepoSnapshot) []string {
	readmeBytes := 0
	if snapshot.Readme != nil {
		readmeBytes = snapshot.Readme.ByteSize
	}
	docBytes := 0
	if snapshot.Documentation != nil {
		docBytes = snapshot.Documentation.TotalBytes
	}
	testsBytes := sumBytes(snapshot.Tests)
	codeBytes := sumBytes(snapshot.Code)
	buildBytes := sumBytes(snapshot.BuildAndPackage)
	total := readmeBytes + docBytes + testsBytes + codeBytes + buildBytes

	for _, stat := range []struct {
		name  string
		bytes int
	}{
		{"readme_bytes", readmeBytes},
		{"documentation_bytes", docBytes},
		{"tests_bytes", testsBytes},
		{"code_bytes", codeBytes},
		{"build_package_bytes", buildBytes},
	} {
		lines = append(lines,
			fmt.Sprintf("- %s: %d", stat.name, stat.bytes),
			fmt.Sprintf("- %s: %d", strings.Replace(stat.name, "_bytes", "_estimated_tokens", 1), EstimatedTokens(stat.bytes)),
		)
	}
	return append(lines,
		fmt.Sprintf("- total_utf8_bytes: %d", total),
		fmt.Sprintf("- total_estimated_tokens: %d", EstimatedTokens(total)),
	)
}

func sumBytes(files []FileContent) int {
	total := 0
	for _, file := range files {
		total += file.ByteSize
	}
	return total
}

// languagesByCount orders languages by byte count descending, breaking
// ties by name for determinism.
func languagesByCount(languages map[string]int) []string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if languages[names[i]] != languages[names[j]] {
			return languages[names[i]] > languages[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
