// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package configuration

import (
	"time"

	"github.com/repodigest/repodigest/pkg/github"
	"github.com/repodigest/repodigest/pkg/llm"
	"github.com/repodigest/repodigest/pkg/processor"
)

// Config mirrors config/runtime.json
type Config struct {
	Server        Server        `mapstructure:"server"`
	GithubGate    GithubGate    `mapstructure:"github_gate"`
	RepoProcessor RepoProcessor `mapstructure:"repo_processor"`
	LlmGate       LlmGate       `mapstructure:"llm_gate"`
	IgnoreFile    string        `mapstructure:"ignore_file"`
	PromptFile    string        `mapstructure:"prompt_file"`
	LogsDir       string        `mapstructure:"logs_dir"`
}

// Server configures the HTTP edge
type Server struct {
	Address string `mapstructure:"address"`
}

// GithubGate configures the extraction adapter and its limits
type GithubGate struct {
	Host                          string    `mapstructure:"host"`
	RawHost                       string    `mapstructure:"raw_host"`
	MaxRetries                    int       `mapstructure:"max_retries"`
	AttemptTimeoutSeconds         float64   `mapstructure:"attempt_timeout_seconds"`
	RetryBackoffSeconds           []float64 `mapstructure:"retry_backoff_seconds"`
	MaxDocsTotalBytes             int       `mapstructure:"max_docs_total_bytes"`
	MaxTestsTotalBytes            int       `mapstructure:"max_tests_total_bytes"`
	MaxCodeTotalBytes             int       `mapstructure:"max_code_total_bytes"`
	MaxBuildPackageTotalBytes     int       `mapstructure:"max_build_package_total_bytes"`
	MaxSingleFileBytes            int       `mapstructure:"max_single_file_bytes"`
	MaxDocsFiles                  int       `mapstructure:"max_docs_files"`
	MaxTestsFiles                 int       `mapstructure:"max_tests_files"`
	MaxCodeFiles                  int       `mapstructure:"max_code_files"`
	MaxBuildPackageFiles          int       `mapstructure:"max_build_package_files"`
	MaxCodeDepth                  int       `mapstructure:"max_code_depth"`
	MaxBuildPackageDepth          int       `mapstructure:"max_build_package_depth"`
	MaxDocsDurationSeconds        float64   `mapstructure:"max_docs_duration_seconds"`
	MaxTestsDurationSeconds       float64   `mapstructure:"max_tests_duration_seconds"`
	MaxCodeDurationSeconds        float64   `mapstructure:"max_code_duration_seconds"`
	MaxBuildPackageDurationSecs   float64   `mapstructure:"max_build_package_duration_seconds"`
	MaxTotalFetchDurationSeconds  float64   `mapstructure:"max_total_fetch_duration_seconds"`
}

// RepoProcessor configures the prompt budget math
type RepoProcessor struct {
	MaxRepoDataRatioInPrompt float64 `mapstructure:"max_repo_data_ratio_in_prompt"`
	BytesPerTokenEstimate    float64 `mapstructure:"bytes_per_token_estimate"`
	DocumentationWeight      float64 `mapstructure:"documentation_weight"`
	TestsWeight              float64 `mapstructure:"tests_weight"`
	BuildPackageWeight       float64 `mapstructure:"build_package_weight"`
	CodeWeight               float64 `mapstructure:"code_weight"`
}

// LlmGate configures the model gateway
type LlmGate struct {
	ModelID                  string    `mapstructure:"model_id"`
	ModelContextWindowTokens int       `mapstructure:"model_context_window_tokens"`
	Temperature              float64   `mapstructure:"temperature"`
	TopP                     float64   `mapstructure:"top_p"`
	MaxOutputTokens          int       `mapstructure:"max_output_tokens"`
	ConnectTimeoutSeconds    float64   `mapstructure:"connect_timeout_seconds"`
	ReadTimeoutSeconds       float64   `mapstructure:"read_timeout_seconds"`
	AttemptTimeoutSeconds    float64   `mapstructure:"attempt_timeout_seconds"`
	MaxRetries               int       `mapstructure:"max_retries"`
	RetryBackoffSeconds      []float64 `mapstructure:"retry_backoff_seconds"`
	BaseURL                  string    `mapstructure:"base_url"`
}

// GithubOptions converts the section to adapter options
func (c *Config) GithubOptions() github.Options {
	return github.Options{
		Host:           c.GithubGate.Host,
		RawHost:        c.GithubGate.RawHost,
		MaxRetries:     c.GithubGate.MaxRetries,
		AttemptTimeout: secondsToDuration(c.GithubGate.AttemptTimeoutSeconds),
		Backoff:        secondsToDurations(c.GithubGate.RetryBackoffSeconds),
	}
}

// GithubLimits converts the section to extraction limits
func (c *Config) GithubLimits() github.Limits {
	return github.Limits{
		MaxDocsTotalBytes:         c.GithubGate.MaxDocsTotalBytes,
		MaxTestsTotalBytes:        c.GithubGate.MaxTestsTotalBytes,
		MaxCodeTotalBytes:         c.GithubGate.MaxCodeTotalBytes,
		MaxBuildPackageTotalBytes: c.GithubGate.MaxBuildPackageTotalBytes,
		MaxSingleFileBytes:        c.GithubGate.MaxSingleFileBytes,
		MaxDocsFiles:              c.GithubGate.MaxDocsFiles,
		MaxTestsFiles:             c.GithubGate.MaxTestsFiles,
		MaxCodeFiles:              c.GithubGate.MaxCodeFiles,
		MaxBuildPackageFiles:      c.GithubGate.MaxBuildPackageFiles,
		MaxCodeDepth:              c.GithubGate.MaxCodeDepth,
		MaxBuildPackageDepth:      c.GithubGate.MaxBuildPackageDepth,
		MaxDocsDuration:           secondsToDuration(c.GithubGate.MaxDocsDurationSeconds),
		MaxTestsDuration:          secondsToDuration(c.GithubGate.MaxTestsDurationSeconds),
		MaxCodeDuration:           secondsToDuration(c.GithubGate.MaxCodeDurationSeconds),
		MaxBuildPackageDuration:   secondsToDuration(c.GithubGate.MaxBuildPackageDurationSecs),
		MaxTotalFetchDuration:     secondsToDuration(c.GithubGate.MaxTotalFetchDurationSeconds),
	}
}

// ProcessorConfig converts the section to a processor config
func (c *Config) ProcessorConfig() processor.Config {
	return processor.Config{
		ModelContextWindowTokens: c.LlmGate.ModelContextWindowTokens,
		MaxRepoDataRatioInPrompt: c.RepoProcessor.MaxRepoDataRatioInPrompt,
		BytesPerTokenEstimate:    c.RepoProcessor.BytesPerTokenEstimate,
		DocumentationWeight:      c.RepoProcessor.DocumentationWeight,
		TestsWeight:              c.RepoProcessor.TestsWeight,
		BuildPackageWeight:       c.RepoProcessor.BuildPackageWeight,
		CodeWeight:               c.RepoProcessor.CodeWeight,
	}
}

// LlmConfig converts the section to a gate config, including the API key
// from the environment.
func (c *Config) LlmConfig(apiKey string) llm.Config {
	return llm.Config{
		ModelID:                  c.LlmGate.ModelID,
		ModelContextWindowTokens: c.LlmGate.ModelContextWindowTokens,
		Temperature:              c.LlmGate.Temperature,
		TopP:                     c.LlmGate.TopP,
		MaxOutputTokens:          c.LlmGate.MaxOutputTokens,
		ConnectTimeout:           secondsToDuration(c.LlmGate.ConnectTimeoutSeconds),
		ReadTimeout:              secondsToDuration(c.LlmGate.ReadTimeoutSeconds),
		AttemptTimeout:           secondsToDuration(c.LlmGate.AttemptTimeoutSeconds),
		MaxRetries:               c.LlmGate.MaxRetries,
		RetryBackoff:             secondsToDurations(c.LlmGate.RetryBackoffSeconds),
		BaseURL:                  c.LlmGate.BaseURL,
		APIKey:                   apiKey,
		PromptPath:               c.PromptFile,
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func secondsToDurations(seconds []float64) []time.Duration {
	durations := make([]time.Duration, 0, len(seconds))
	for _, s := range seconds {
		durations = append(durations, secondsToDuration(s))
	}
	return durations
}
