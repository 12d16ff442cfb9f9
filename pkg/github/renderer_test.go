// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *RepoSnapshot {
	return &RepoSnapshot{
		Metadata: RepoMetadata{
			Owner:         "acme",
			Repo:          "widget",
			DefaultBranch: "master",
			Description:   "Builds widgets",
			Topics:        []string{"widgets", "tooling"},
		},
		Languages: map[string]int{"Go": 9000, "Shell": 200, "Makefile": 200},
		Tree: []TreeEntry{
			{Path: "cmd/main.go", Type: "blob", Size: 120},
			{Path: "pkg", Type: "tree", Size: 0},
		},
		Readme: &ReadmeData{
			SourceURL: "https://github.com/acme/widget/blob/master/README.md",
			Content:   "# widget\n\nMakes widgets.",
			ByteSize:  25,
		},
		Code: []FileContent{
			{Path: "cmd/main.go", SourceURL: "https://raw.example/cmd/main.go", Content: "package main", ByteSize: 12},
		},
	}
}

func TestRenderFullMarkdownLayout(t *testing.T) {
	out := RenderFullMarkdown(sampleSnapshot(), nil)

	headings := []string{
		"# Repository Metadata",
		"# Language Stats",
		"# Directory Tree",
		"# README",
		"# Documentation",
		"# Build and Package Data",
		"# Tests",
		"# Code",
		"# Extraction Stats",
		"# Warnings",
	}
	last := -1
	for _, heading := range headings {
		idx := strings.Index(out, heading+"\n")
		require.GreaterOrEqual(t, idx, 0, "missing heading %q", heading)
		assert.Greater(t, idx, last, "heading %q out of order", heading)
		last = idx
	}

	assert.Contains(t, out, "- Owner: acme")
	assert.Contains(t, out, "- Homepage: n/a")
	assert.Contains(t, out, "- cmd/main.go (blob, 120)")
	assert.Contains(t, out, "## File: README")
	assert.Contains(t, out, "```text")
	assert.Contains(t, out, "# Documentation\nNot found")
	assert.Contains(t, out, "# Tests\nNot found")
	assert.Contains(t, out, "# Warnings\nNone")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestRenderMarkdownLanguageOrdering(t *testing.T) {
	out := RenderFullMarkdown(sampleSnapshot(), nil)

	goIdx := strings.Index(out, "- Go: 9000")
	makefileIdx := strings.Index(out, "- Makefile: 200")
	shellIdx := strings.Index(out, "- Shell: 200")
	require.True(t, goIdx >= 0 && makefileIdx >= 0 && shellIdx >= 0)
	// Descending by count, ties broken by name.
	assert.Less(t, goIdx, makefileIdx)
	assert.Less(t, makefileIdx, shellIdx)
}

func TestRenderMarkdownNotRequested(t *testing.T) {
	out := RenderMarkdown(sampleSnapshot(), NewEntitySet(EntityMetadata), nil)

	assert.Contains(t, out, "- Owner: acme")
	assert.Contains(t, out, "# Language Stats\nNot requested")
	assert.Contains(t, out, "# README\nNot requested")
	assert.Contains(t, out, "# Code\nNot requested")
}

func TestRenderMarkdownStats(t *testing.T) {
	out := RenderFullMarkdown(sampleSnapshot(), nil)

	assert.Contains(t, out, "- readme_bytes: 25")
	assert.Contains(t, out, "- readme_estimated_tokens: 7")
	assert.Contains(t, out, "- code_bytes: 12")
	assert.Contains(t, out, "- total_utf8_bytes: 37")
	assert.Contains(t, out, "- total_estimated_tokens: 10")
}

func TestRenderMarkdownWarnings(t *testing.T) {
	out := RenderFullMarkdown(sampleSnapshot(), []string{"Skipped docs/huge.md: exceeds max_single_file_bytes."})
	assert.Contains(t, out, "# Warnings\nSkipped docs/huge.md: exceeds max_single_file_bytes.")
}
