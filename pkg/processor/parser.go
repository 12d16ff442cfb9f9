// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"fmt"
	"strings"

	"github.com/repodigest/repodigest/pkg/fault"
)

var inputHeaderToField = map[string]string{
	"# Repository Metadata":    "repository_metadata",
	"# Language Stats":         "language_stats",
	"# Directory Tree":         "directory_tree",
	"# README":                 "readme",
	"# Documentation":          "documentation",
	"# Build and Package Data": "build_and_package_data",
	"# Tests":                  "tests",
	"# Code":                   "code",
	"# Extraction Stats":       "extraction_stats",
	"# Warnings":               "warnings",
}

var outputSections = []struct {
	header string
	field  string
}{
	{"# Repository Metadata", "repository_metadata"},
	{"# Language Stats", "language_stats"},
	{"# Directory Tree", "directory_tree"},
	{"# README", "readme"},
	{"# Documentation", "documentation"},
	{"# Build and Package Data", "build_and_package_data"},
	{"# Tests", "tests"},
	{"# Code", "code"},
}

// ParseExtractionMarkdown splits an extraction document into its top-level
// sections. Heading lines inside code fences are ignored; a fence toggles
// on any line whose trimmed form starts with three backticks. Unknown
// headings belong to the preceding section's body.
func ParseExtractionMarkdown(markdownText string) (*Extracted, error) {
	if strings.TrimSpace(markdownText) == "" {
		return nil, fault.New(fault.Parse, "Input markdown is empty.")
	}
	sections := extractTopLevelSections(markdownText)
	return &Extracted{
		RepositoryMetadata:  sections["repository_metadata"],
		LanguageStats:       sections["language_stats"],
		DirectoryTree:       sections["directory_tree"],
		Readme:              sections["readme"],
		Documentation:       sections["documentation"],
		BuildAndPackageData: sections["build_and_package_data"],
		Tests:               sections["tests"],
		Code:                sections["code"],
		ExtractionStats:     sections["extraction_stats"],
		Warnings:            sections["warnings"],
	}, nil
}

// RenderProcessedMarkdown lays the eight core sections back out as markdown
func RenderProcessedMarkdown(data *Processed) string {
	parts := make([]string, 0, len(outputSections))
	for _, section := range outputSections {
		value := data.section(section.field)
		if value == "" {
			value = "Not found"
		}
		parts = append(parts, fmt.Sprintf("%s\n%s", section.header, strings.TrimSpace(value)))
	}
	return strings.Join(parts, "\n\n") + "\n"
}

type sectionBoundary struct {
	heading string
	offset  int
	bodyAt  int
}

func extractTopLevelSections(markdownText string) map[string]string {
	results := map[string]string{}
	boundaries := knownSectionBoundaries(markdownText)
	for index, boundary := range boundaries {
		field := inputHeaderToField[boundary.heading]
		end := len(markdownText)
		if index+1 < len(boundaries) {
			end = boundaries[index+1].offset
		}
		body := strings.TrimSpace(markdownText[boundary.bodyAt:end])
		results[field] = body
	}
	return results
}

func knownSectionBoundaries(markdownText string) []sectionBoundary {
	var boundaries []sectionBoundary
	offset := 0
	inFence := false
	for _, line := range splitLinesKeepEnds(markdownText) {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "```") {
			inFence = !inFence
		}
		if !inFence {
			if _, known := inputHeaderToField[stripped]; known {
				boundaries = append(boundaries, sectionBoundary{
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

func splitLinesKeepEnds(text string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}
