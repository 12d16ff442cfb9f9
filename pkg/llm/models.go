// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"time"

	"github.com/repodigest/repodigest/pkg/fault"
)

// DefaultBaseURL is the OpenAI-compatible endpoint used when none is
// configured.
const DefaultBaseURL = "https://api.studio.nebius.ai/v1"

// RepoDigest is the eight-section repository digest fed into the prompt.
// Empty strings stand for sections the digest did not carry.
type RepoDigest struct {
	RepositoryMetadata string
	LanguageStats      string
	TreeSummary        string
	ReadmeText         string
	DocumentationText  string
	BuildPackageText   string
	TestSnippets       string
	CodeSnippets       string
}

// SummaryResult is the normalized model output
type SummaryResult struct {
	Summary      string   `json:"summary"`
	Technologies []string `json:"technologies"`
	Structure    string   `json:"structure"`
}

// Options carries per-request overrides of the gate config
type Options struct {
	ModelID         string
	Temperature     *float64
	TopP            *float64
	MaxOutputTokens int
	AttemptTimeout  time.Duration
}

// Config is the model gateway configuration
type Config struct {
	ModelID                  string
	ModelContextWindowTokens int
	Temperature              float64
	TopP                     float64
	MaxOutputTokens          int
	ConnectTimeout           time.Duration
	ReadTimeout              time.Duration
	AttemptTimeout           time.Duration
	MaxRetries               int
	RetryBackoff             []time.Duration
	BaseURL                  string
	APIKey                   string
	PromptPath               string
}

// DefaultConfig returns the gate defaults without a model id or context
// window, which must come from configuration.
func DefaultConfig() Config {
	return Config{
		Temperature:     0.1,
		TopP:            1.0,
		MaxOutputTokens: 2000,
		ConnectTimeout:  2 * time.Second,
		ReadTimeout:     45 * time.Second,
		AttemptTimeout:  50 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    []time.Duration{500 * time.Millisecond, time.Second},
		BaseURL:         DefaultBaseURL,
		PromptPath:      "prompts/repo-summary.md",
	}
}

// Validate rejects configs that cannot produce a well-formed request
func (c Config) Validate() error {
	if c.ModelID == "" {
		return fault.New(fault.Config, "model_id must be non-empty.")
	}
	if c.ModelContextWindowTokens <= 0 {
		return fault.New(fault.Config, "model_context_window_tokens must be > 0.")
	}
	if c.MaxOutputTokens <= 0 {
		return fault.New(fault.Config, "max_output_tokens must be > 0.")
	}
	if c.ConnectTimeout <= 0 || c.ReadTimeout <= 0 || c.AttemptTimeout <= 0 {
		return fault.New(fault.Config, "Timeout values must be > 0.")
	}
	if c.MaxRetries < 0 {
		return fault.New(fault.Config, "max_retries must be >= 0.")
	}
	if len(c.RetryBackoff) < 2 {
		return fault.New(fault.Config, "retry_backoff must hold at least 2 values.")
	}
	for _, backoff := range c.RetryBackoff {
		if backoff < 0 {
			return fault.New(fault.Config, "retry_backoff values must be >= 0.")
		}
	}
	return nil
}

// ApplyOptions overlays per-request options on a copy of the config
func (c Config) ApplyOptions(opts *Options) Config {
	if opts == nil {
		return c
	}
	merged := c
	if opts.ModelID != "" {
		merged.ModelID = opts.ModelID
	}
	if opts.Temperature != nil {
		merged.Temperature = *opts.Temperature
	}
	if opts.TopP != nil {
		merged.TopP = *opts.TopP
	}
	if opts.MaxOutputTokens > 0 {
		merged.MaxOutputTokens = opts.MaxOutputTokens
	}
	if opts.AttemptTimeout > 0 {
		merged.AttemptTimeout = opts.AttemptTimeout
	}
	return merged
}
