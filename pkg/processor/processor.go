// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package processor fits an extraction document into the share of the
// model context window reserved for repository data. Baseline sections
// shrink only when they must; optional sections compete for the remainder
// by configured weight.
package processor

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"k8s.io/klog/v2"

	"github.com/repodigest/repodigest/pkg/fault"
)

const truncatedToZero = "Truncated to zero"

var fileBlockStart = regexp.MustCompile(`(?m)^## File: .+$`)

// emptyDocumentSkeleton is the rendered document with all bodies empty;
// its length is the fixed overhead the budget must cover before any body.
const emptyDocumentSkeleton = "# Repository Metadata\n\n\n" +
	"# Language Stats\n\n\n" +
	"# Directory Tree\n\n\n" +
	"# README\n\n\n" +
	"# Documentation\n\n\n" +
	"# Build and Package Data\n\n\n" +
	"# Tests\n\n\n" +
	"# Code\n"

// Process parses markdownText and fits it into the configured budget.
// Documents already under budget pass through untouched. On overflow the
// directory tree shrinks first, then readme, language stats and metadata,
// and the optional categories split whatever is left by weight. A Budget
// fault is returned when even that is not enough; if a processed document
// was produced before the overflow was detected it rides along as the
// fault's partial result.
func Process(markdownText string, cfg Config) (*Processed, error) {
	parsed, err := ParseExtractionMarkdown(markdownText)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bookkeeper := Bookkeeper{
		ModelContextWindowTokens: cfg.ModelContextWindowTokens,
		BytesPerTokenEstimate:    cfg.BytesPerTokenEstimate,
	}
	maxRepoBytes := bookkeeper.MaxRepoDataBytes(cfg.MaxRepoDataRatioInPrompt)
	inputBytes := len(markdownText)

	fullProcessed := buildProcessed(initialSections(parsed), inputBytes, maxRepoBytes, cfg.BytesPerTokenEstimate, nil)
	if fullProcessed.OutputTotalUTF8Bytes <= maxRepoBytes {
		return fullProcessed, nil
	}

	sections := initialSections(parsed)
	var truncationNotes []string

	bodyBudget := maxRepoBytes - len(emptyDocumentSkeleton)
	if bodyBudget < 0 {
		bodyBudget = 0
	}

	baselineTotal := sectionTotal(sections, BaselineFields)
	if baselineTotal > bodyBudget {
		// Metadata, languages and readme survive as long as possible;
		// the directory tree gives way first.
		for _, field := range []string{"directory_tree", "readme", "language_stats", "repository_metadata"} {
			baselineTotal = sectionTotal(sections, BaselineFields)
			if baselineTotal <= bodyBudget {
				break
			}
			originalBytes := len(sections[field])
			allowance := bodyBudget - (baselineTotal - originalBytes)
			if allowance < 0 {
				allowance = 0
			}
			shrunk, wasTruncated := truncateForField(field, sections[field], allowance)
			sections[field] = shrunk
			if wasTruncated {
				truncationNotes = append(truncationNotes, truncationNote(field, originalBytes, allowance, len(shrunk)))
			}
		}

		baselineTotal = sectionTotal(sections, BaselineFields)
		if baselineTotal > bodyBudget {
			return nil, fault.New(fault.Budget, "Baseline sections cannot fit in configured prompt budget.").
				WithContext(fmt.Sprintf("body_budget=%d baseline_total=%d", bodyBudget, baselineTotal))
		}
	}

	remainingBudget := bodyBudget - baselineTotal
	if remainingBudget < 0 {
		remainingBudget = 0
	}
	optionalSizes := make(map[string]int, len(OptionalFields))
	for _, field := range OptionalFields {
		optionalSizes[field] = len(sections[field])
	}
	alloc := allocateOptionalBytes(remainingBudget, optionalSizes, cfg.WeightMap())

	for _, field := range OptionalFields {
		target := alloc[field]
		originalBytes := len(sections[field])
		shrunk, wasTruncated := truncateForField(field, sections[field], target)
		sections[field] = shrunk
		if wasTruncated {
			truncationNotes = append(truncationNotes, truncationNote(field, originalBytes, target, len(shrunk)))
		}
	}

	processed := buildProcessed(sections, inputBytes, maxRepoBytes, cfg.BytesPerTokenEstimate, truncationNotes)
	if processed.OutputTotalUTF8Bytes > maxRepoBytes {
		overflow := processed.OutputTotalUTF8Bytes - maxRepoBytes
		ferr := fault.New(fault.Budget, "Processed markdown still exceeds max repo-data budget.").
			WithContext(fmt.Sprintf("output_total_utf8_bytes=%d max_repo_data_size_for_prompt_bytes=%d overflow_bytes=%d",
				processed.OutputTotalUTF8Bytes, maxRepoBytes, overflow))
		ferr.Partial = processed
		return nil, ferr
	}
	klog.V(4).Infof("processed document: input=%d output=%d budget=%d notes=%d",
		inputBytes, processed.OutputTotalUTF8Bytes, maxRepoBytes, len(truncationNotes))
	return processed, nil
}

// EstimatePromptTokens is the coarse token estimate for arbitrary text
// under the given config.
func EstimatePromptTokens(markdownText string, cfg Config) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	return int(math.Ceil(float64(len(markdownText)) / cfg.BytesPerTokenEstimate)), nil
}

func initialSections(parsed *Extracted) map[string]string {
	raw := map[string]string{
		"repository_metadata":    parsed.RepositoryMetadata,
		"language_stats":         parsed.LanguageStats,
		"directory_tree":         parsed.DirectoryTree,
		"readme":                 parsed.Readme,
		"documentation":          parsed.Documentation,
		"build_and_package_data": parsed.BuildAndPackageData,
		"tests":                  parsed.Tests,
		"code":                   parsed.Code,
	}
	sections := make(map[string]string, len(CoreFields))
	for _, field := range CoreFields {
		value := raw[field]
		if value == "" {
			value = "Not found"
		}
		sections[field] = value
	}
	return sections
}

func buildProcessed(sections map[string]string, inputBytes, maxRepoBytes int, bytesPerToken float64, notes []string) *Processed {
	perCategory := make(map[string]int, len(sections))
	for key, value := range sections {
		perCategory[key] = len(value)
	}
	data := &Processed{
		RepositoryMetadata:            sections["repository_metadata"],
		LanguageStats:                 sections["language_stats"],
		DirectoryTree:                 sections["directory_tree"],
		Readme:                        sections["readme"],
		Documentation:                 sections["documentation"],
		BuildAndPackageData:           sections["build_and_package_data"],
		Tests:                         sections["tests"],
		Code:                          sections["code"],
		InputTotalUTF8Bytes:           inputBytes,
		MaxRepoDataSizeForPromptBytes: maxRepoBytes,
		EstimatedInputTokens:          int(math.Ceil(float64(inputBytes) / bytesPerToken)),
		BytesPerTokenEstimate:         bytesPerToken,
		PerCategoryBytes:              perCategory,
		TruncationNotes:               notes,
	}
	rendered := RenderProcessedMarkdown(data)
	data.OutputTotalUTF8Bytes = len(rendered)
	data.EstimatedOutputTokens = int(math.Ceil(float64(data.OutputTotalUTF8Bytes) / bytesPerToken))
	return data
}

func sectionTotal(sections map[string]string, fields []string) int {
	total := 0
	for _, field := range fields {
		total += len(sections[field])
	}
	return total
}

func truncationNote(field string, originalBytes, targetBytes, finalBytes int) string {
	if field == "directory_tree" {
		return fmt.Sprintf("%s truncated (original_bytes=%d, target_bytes=%d, final_bytes=%d, strategy=bfs_prefix_lines).",
			field, originalBytes, targetBytes, finalBytes)
	}
	return fmt.Sprintf("%s truncated (original_bytes=%d, target_bytes=%d, final_bytes=%d).",
		field, originalBytes, targetBytes, finalBytes)
}

func truncateForField(field, content string, maxBytes int) (string, bool) {
	if maxBytes <= 0 {
		return truncatedToZero, true
	}
	if len(content) <= maxBytes {
		return content, false
	}
	switch {
	case field == "directory_tree":
		return truncateDirectoryTree(content, maxBytes), true
	case isOptionalField(field):
		return truncateFileBlocks(content, maxBytes), true
	}
	return truncateText(content, maxBytes), true
}

func isOptionalField(field string) bool {
	for _, name := range OptionalFields {
		if name == field {
			return true
		}
	}
	return false
}

func truncateText(content string, maxBytes int) string {
	if maxBytes <= 0 {
		return truncatedToZero
	}
	truncated := truncateUTF8Prefix(content, maxBytes)
	if strings.TrimSpace(truncated) == "" {
		return truncatedToZero
	}
	return truncated
}

// truncateDirectoryTree keeps the longest whole-line prefix that fits,
// charging one byte for each newline separator.
func truncateDirectoryTree(content string, maxBytes int) string {
	if maxBytes <= 0 {
		return truncatedToZero
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	var selected []string
	used := 0
	for _, line := range lines {
		sepBytes := 0
		if len(selected) > 0 {
			sepBytes = 1
		}
		if used+sepBytes+len(line) > maxBytes {
			break
		}
		used += sepBytes + len(line)
		selected = append(selected, line)
	}
	if len(selected) == 0 {
		return truncatedToZero
	}
	return strings.Join(selected, "\n")
}

// truncateFileBlocks keeps whole file blocks greedily and closes the first
// block that does not fit with a truncated body and a trailing fence.
func truncateFileBlocks(content string, maxBytes int) string {
	if maxBytes <= 0 {
		return truncatedToZero
	}
	blocks := splitFileBlocks(content)
	if len(blocks) == 0 {
		return truncateText(content, maxBytes)
	}

	var selected []string
	used := 0
	for _, block := range blocks {
		if used+len(block) <= maxBytes {
			selected = append(selected, block)
			used += len(block)
			continue
		}
		if partial := partialBlock(block, maxBytes-used); partial != "" {
			selected = append(selected, partial)
		}
		break
	}

	if len(selected) == 0 {
		return truncatedToZero
	}
	combined := strings.TrimSpace(strings.Join(selected, "\n\n"))
	if combined == "" {
		return truncatedToZero
	}
	return combined
}

func splitFileBlocks(content string) []string {
	starts := fileBlockStart.FindAllStringIndex(content, -1)
	if len(starts) == 0 {
		return nil
	}
	var blocks []string
	for idx, loc := range starts {
		end := len(content)
		if idx+1 < len(starts) {
			end = starts[idx+1][0]
		}
		block := strings.TrimSpace(content[loc[0]:end])
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// partialBlock fits as much of a single file block as maxBytes allows. The
// header lines and a closing fence are preserved when they fit; otherwise
// only the headerless prefix survives.
func partialBlock(block string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	lines := strings.Split(block, "\n")
	fenceIndex := -1
	for idx, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenceIndex = idx
			break
		}
	}
	if fenceIndex < 0 {
		return truncateUTF8Prefix(block, maxBytes)
	}

	header := strings.Join(lines[:fenceIndex+1], "\n") + "\n"
	const suffix = "\n```"
	if len(header)+len(suffix) > maxBytes {
		return truncateUTF8Prefix(strings.Join(lines[:fenceIndex], "\n"), maxBytes)
	}

	contentLines := lines[fenceIndex+1:]
	closeIndex := len(contentLines)
	for idx, line := range contentLines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			closeIndex = idx
			break
		}
	}
	body := strings.Join(contentLines[:closeIndex], "\n")
	bodyLimit := maxBytes - len(header) - len(suffix)
	return header + truncateUTF8Prefix(body, bodyLimit) + suffix
}

func truncateUTF8Prefix(text string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(text) <= maxBytes {
		return text
	}
	cut := text[:maxBytes]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size != 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut
}
