// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"math"

	"github.com/repodigest/repodigest/pkg/fault"
)

// Core section fields in document order
var CoreFields = []string{
	"repository_metadata",
	"language_stats",
	"directory_tree",
	"readme",
	"documentation",
	"build_and_package_data",
	"tests",
	"code",
}

// BaselineFields are never dropped, only shrunk as a last resort
var BaselineFields = []string{"repository_metadata", "language_stats", "directory_tree", "readme"}

// OptionalFields compete for whatever budget the baseline leaves
var OptionalFields = []string{"documentation", "build_and_package_data", "tests", "code"}

// Config bounds the processed document relative to the model context window
type Config struct {
	ModelContextWindowTokens int
	MaxRepoDataRatioInPrompt float64
	BytesPerTokenEstimate    float64
	DocumentationWeight      float64
	TestsWeight              float64
	BuildPackageWeight       float64
	CodeWeight               float64
}

// DefaultConfig returns the config defaults without a context window size,
// which has no sensible default and must come from configuration.
func DefaultConfig() Config {
	return Config{
		MaxRepoDataRatioInPrompt: 0.65,
		BytesPerTokenEstimate:    4.0,
		DocumentationWeight:      0.40,
		TestsWeight:              0.20,
		BuildPackageWeight:       0.20,
		CodeWeight:               0.20,
	}
}

// Validate rejects configs that would make the budget math meaningless
func (c Config) Validate() error {
	if c.ModelContextWindowTokens <= 0 {
		return fault.New(fault.Config, "model_context_window_tokens must be positive.")
	}
	if c.MaxRepoDataRatioInPrompt <= 0 || c.MaxRepoDataRatioInPrompt >= 1 {
		return fault.New(fault.Config, "max_repo_data_ratio_in_prompt must be in (0,1).")
	}
	if c.BytesPerTokenEstimate <= 0 {
		return fault.New(fault.Config, "bytes_per_token_estimate must be > 0.")
	}
	weights := []float64{c.DocumentationWeight, c.TestsWeight, c.BuildPackageWeight, c.CodeWeight}
	allZero := true
	for _, w := range weights {
		if w < 0 {
			return fault.New(fault.Config, "All category weights must be non-negative.")
		}
		if w != 0 {
			allZero = false
		}
	}
	if allZero {
		return fault.New(fault.Config, "At least one category weight must be > 0.")
	}
	return nil
}

// WeightMap keys the optional-category weights by field name
func (c Config) WeightMap() map[string]float64 {
	return map[string]float64{
		"documentation":          c.DocumentationWeight,
		"tests":                  c.TestsWeight,
		"build_and_package_data": c.BuildPackageWeight,
		"code":                   c.CodeWeight,
	}
}

// Extracted holds the raw section bodies of an extraction document. An
// empty string means the section was absent or empty in the input.
type Extracted struct {
	RepositoryMetadata  string
	LanguageStats       string
	DirectoryTree       string
	Readme              string
	Documentation       string
	BuildAndPackageData string
	Tests               string
	Code                string
	ExtractionStats     string
	Warnings            string
}

// Processed is the budget-fitted document plus its accounting
type Processed struct {
	RepositoryMetadata  string
	LanguageStats       string
	DirectoryTree       string
	Readme              string
	Documentation       string
	BuildAndPackageData string
	Tests               string
	Code                string

	InputTotalUTF8Bytes           int
	OutputTotalUTF8Bytes          int
	MaxRepoDataSizeForPromptBytes int
	EstimatedInputTokens          int
	EstimatedOutputTokens         int
	BytesPerTokenEstimate         float64
	PerCategoryBytes              map[string]int
	TruncationNotes               []string
}

// PerCategoryTokens converts the per-category byte accounting to tokens
func (p *Processed) PerCategoryTokens() map[string]int {
	tokens := make(map[string]int, len(p.PerCategoryBytes))
	for key, value := range p.PerCategoryBytes {
		tokens[key] = int(math.Ceil(float64(value) / p.BytesPerTokenEstimate))
	}
	return tokens
}

func (p *Processed) section(field string) string {
	switch field {
	case "repository_metadata":
		return p.RepositoryMetadata
	case "language_stats":
		return p.LanguageStats
	case "directory_tree":
		return p.DirectoryTree
	case "readme":
		return p.Readme
	case "documentation":
		return p.Documentation
	case "build_and_package_data":
		return p.BuildAndPackageData
	case "tests":
		return p.Tests
	case "code":
		return p.Code
	}
	return ""
}
