// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repodigest/repodigest/pkg/fault"
)

// byteBudgetConfig makes MaxRepoDataBytes come out to exactly maxRepoBytes
// so the tests can reason about budgets in plain bytes.
func byteBudgetConfig(maxRepoBytes int) Config {
	cfg := DefaultConfig()
	cfg.ModelContextWindowTokens = maxRepoBytes * 2
	cfg.MaxRepoDataRatioInPrompt = 0.5
	cfg.BytesPerTokenEstimate = 1.0
	return cfg
}

func buildDoc(sections map[string]string) string {
	order := []string{
		"# Repository Metadata",
		"# Language Stats",
		"# Directory Tree",
		"# README",
		"# Documentation",
		"# Build and Package Data",
		"# Tests",
		"# Code",
	}
	var parts []string
	for _, header := range order {
		body, ok := sections[header]
		if !ok {
			continue
		}
		parts = append(parts, header+"\n"+body)
	}
	return strings.Join(parts, "\n\n") + "\n"
}

func TestProcessFastPath(t *testing.T) {
	input := buildDoc(map[string]string{
		"# Repository Metadata": "- Name: widget",
		"# Language Stats":      "- Go: 100.0%",
		"# Directory Tree":      "cmd/\npkg/",
		"# README":              "short readme",
		"# Code":                "## File: main.go\n```go\npackage main\n```",
	})
	cfg := DefaultConfig()
	cfg.ModelContextWindowTokens = 32768

	out, err := Process(input, cfg)
	require.NoError(t, err)

	assert.Equal(t, "- Name: widget", out.RepositoryMetadata)
	assert.Equal(t, "short readme", out.Readme)
	assert.Equal(t, "Not found", out.Documentation)
	assert.Equal(t, "Not found", out.Tests)
	assert.Empty(t, out.TruncationNotes)
	assert.Equal(t, len(input), out.InputTotalUTF8Bytes)
	assert.Equal(t, 85196, out.MaxRepoDataSizeForPromptBytes)
	assert.Equal(t, (len(input)+3)/4, out.EstimatedInputTokens)
	assert.LessOrEqual(t, out.OutputTotalUTF8Bytes, out.MaxRepoDataSizeForPromptBytes)
}

func TestProcessEmptyInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelContextWindowTokens = 1000

	_, err := Process("  \n", cfg)
	require.Error(t, err)
	assert.Equal(t, fault.Parse, fault.KindOf(err))
}

func TestProcessInvalidConfig(t *testing.T) {
	_, err := Process("# README\nhello\n", DefaultConfig())
	require.Error(t, err)
	assert.Equal(t, fault.Config, fault.KindOf(err))
}

func TestProcessShrinksDirectoryTree(t *testing.T) {
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = fmt.Sprintf("node-%02d", i)
	}
	input := buildDoc(map[string]string{
		"# Repository Metadata": "0123456789",
		"# Language Stats":      "Go: 100%",
		"# Directory Tree":      strings.Join(lines, "\n"),
		"# README":              "readme",
	})
	cfg := byteBudgetConfig(len(emptyDocumentSkeleton) + 100)

	out, err := Process(input, cfg)
	require.NoError(t, err)

	// Tree gives way first; the other baseline sections survive intact.
	assert.Equal(t, strings.Join(lines[:9], "\n"), out.DirectoryTree)
	assert.Equal(t, "0123456789", out.RepositoryMetadata)
	assert.Equal(t, "readme", out.Readme)
	assert.Contains(t, out.TruncationNotes,
		"directory_tree truncated (original_bytes=159, target_bytes=76, final_bytes=71, strategy=bfs_prefix_lines).")
	assert.Len(t, out.TruncationNotes, 5)
	assert.Equal(t, out.MaxRepoDataSizeForPromptBytes, out.OutputTotalUTF8Bytes)
}

func TestProcessBaselineBudgetFault(t *testing.T) {
	input := buildDoc(map[string]string{
		"# Repository Metadata": strings.Repeat("m", 30),
		"# Language Stats":      strings.Repeat("l", 30),
		"# Directory Tree":      strings.Repeat("t", 200),
		"# README":              strings.Repeat("r", 30),
	})
	cfg := byteBudgetConfig(len(emptyDocumentSkeleton) + 50)

	_, err := Process(input, cfg)
	require.Error(t, err)
	assert.Equal(t, fault.Budget, fault.KindOf(err))
	assert.Equal(t, "Baseline sections cannot fit in configured prompt budget.", fault.MessageOf(err))
	assert.Nil(t, fault.PartialOf(err))
}

func TestProcessOverflowCarriesPartial(t *testing.T) {
	input := buildDoc(map[string]string{
		"# Repository Metadata":    "m",
		"# Language Stats":         "l",
		"# Directory Tree":         "t",
		"# README":                 "r",
		"# Documentation":          strings.Repeat("d", 100),
		"# Build and Package Data": strings.Repeat("b", 100),
		"# Tests":                  strings.Repeat("s", 100),
		"# Code":                   strings.Repeat("c", 100),
	})
	cfg := byteBudgetConfig(len(emptyDocumentSkeleton) + 5)

	_, err := Process(input, cfg)
	require.Error(t, err)
	assert.Equal(t, fault.Budget, fault.KindOf(err))
	assert.Equal(t, "Processed markdown still exceeds max repo-data budget.", fault.MessageOf(err))

	partial, ok := fault.PartialOf(err).(*Processed)
	require.True(t, ok)
	assert.Equal(t, "Truncated to zero", partial.Tests)
	assert.Equal(t, "Truncated to zero", partial.Code)
	assert.Len(t, partial.TruncationNotes, 4)
	assert.Greater(t, partial.OutputTotalUTF8Bytes, partial.MaxRepoDataSizeForPromptBytes)
}

func TestEstimatePromptTokens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelContextWindowTokens = 1000

	tokens, err := EstimatePromptTokens("12345", cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, tokens)

	_, err = EstimatePromptTokens("12345", DefaultConfig())
	require.Error(t, err)
	assert.Equal(t, fault.Config, fault.KindOf(err))
}

func TestTruncateDirectoryTreeWholeLines(t *testing.T) {
	tree := "a/\nb/\nc/"

	assert.Equal(t, tree, truncateDirectoryTree(tree, 100))
	assert.Equal(t, "a/\nb/", truncateDirectoryTree(tree, 6))
	assert.Equal(t, "Truncated to zero", truncateDirectoryTree(tree, 0))
	assert.Equal(t, "Truncated to zero", truncateDirectoryTree(tree, 1))
}

func TestTruncateFileBlocksKeepsFenceClosure(t *testing.T) {
	block1 := "## File: a.go\n```go\npackage a\n```"
	block2 := "## File: b.go\n```go\npackage b\nvar X = 1\n```"
	content := block1 + "\n\n" + block2

	got := truncateFileBlocks(content, 60)

	assert.Equal(t, block1+"\n\n## File: b.go\n```go\npac\n```", got)
}

func TestTruncateFileBlocksWholeBlockOnly(t *testing.T) {
	block1 := "## File: a.go\n```go\npackage a\n```"
	block2 := "## File: b.go\n```go\npackage b\n```"
	content := block1 + "\n\n" + block2

	assert.Equal(t, content, truncateFileBlocks(content, len(content)))
	assert.Equal(t, "Truncated to zero", truncateFileBlocks(content, 0))
}

func TestPartialBlockHeaderDoesNotFit(t *testing.T) {
	block := "## File: b.go\n```go\npackage b\n```"

	assert.Equal(t, "## File: b", partialBlock(block, 10))
	assert.Equal(t, "", partialBlock(block, 0))
}

func TestTruncateForFieldZeroTarget(t *testing.T) {
	got, truncated := truncateForField("code", "anything", 0)
	assert.True(t, truncated)
	assert.Equal(t, "Truncated to zero", got)

	got, truncated = truncateForField("readme", "short", 100)
	assert.False(t, truncated)
	assert.Equal(t, "short", got)
}
