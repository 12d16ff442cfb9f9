// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"strings"

	"github.com/repodigest/repodigest/pkg/fault"
)

var digestHeaderToField = map[string]string{
	"# Repository Metadata":    "repository_metadata",
	"# Language Stats":         "language_stats",
	"# Directory Tree":         "tree_summary",
	"# README":                 "readme_text",
	"# Documentation":          "documentation_text",
	"# Build and Package Data": "build_package_text",
	"# Tests":                  "test_snippets",
	"# Code":                   "code_snippets",
}

// ParseRepoDigest splits a digest document into its section bodies. The
// literal "Not requested" and "Not found" placeholders map to empty
// sections. Headings inside code fences do not open sections.
func ParseRepoDigest(markdownText string) (*RepoDigest, error) {
	boundaries := digestBoundaries(markdownText)
	if len(boundaries) == 0 {
		return nil, fault.New(fault.Parse, "Malformed digest markdown: no known top-level sections found.")
	}
	values := map[string]string{}
	for index, boundary := range boundaries {
		field := digestHeaderToField[boundary.heading]
		end := len(markdownText)
		if index+1 < len(boundaries) {
			end = boundaries[index+1].offset
		}
		body := strings.TrimSpace(markdownText[boundary.bodyAt:end])
		if body == "Not requested" || body == "Not found" {
			body = ""
		}
		values[field] = body
	}
	return &RepoDigest{
		RepositoryMetadata: values["repository_metadata"],
		LanguageStats:      values["language_stats"],
		TreeSummary:        values["tree_summary"],
		ReadmeText:         values["readme_text"],
		DocumentationText:  values["documentation_text"],
		BuildPackageText:   values["build_package_text"],
		TestSnippets:       values["test_snippets"],
		CodeSnippets:       values["code_snippets"],
	}, nil
}

type digestBoundary struct {
	heading string
	offset  int
	bodyAt  int
}

func digestBoundaries(markdownText string) []digestBoundary {
	var boundaries []digestBoundary
	offset := 0
	inFence := false
	remaining := markdownText
	for len(remaining) > 0 {
		lineEnd := strings.IndexByte(remaining, '\n')
		var line string
		if lineEnd < 0 {
			line = remaining
			remaining = ""
		} else {
			line = remaining[:lineEnd+1]
			remaining = remaining[lineEnd+1:]
		}
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "```") {
			inFence = !inFence
		}
		if !inFence {
			if _, known := digestHeaderToField[stripped]; known {
				boundaries = append(boundaries, digestBoundary{
					heading: stripped,
					offset:  offset,
					bodyAt:  offset + len(line),
				})
			}
		}
		offset += len(line)
	}
	return boundaries
}
