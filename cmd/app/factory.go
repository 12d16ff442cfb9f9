// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/repodigest/repodigest/cmd/configuration"
	"github.com/repodigest/repodigest/pkg/github/selectors"
	"github.com/repodigest/repodigest/pkg/llm"
	"github.com/repodigest/repodigest/pkg/metrics"
	"github.com/repodigest/repodigest/pkg/summarizer"
	"github.com/repodigest/repodigest/pkg/writers"
)

// NewService assembles a summarizer from the loaded configuration.
// The LLM gate and its HTTP client are shared across requests; GitHub
// clients are created per request inside the service.
func NewService(loader configuration.ConfigurationLoader) (*summarizer.Service, *configuration.Config, error) {
	config, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := configuration.ValidateStartup(config); err != nil {
		return nil, nil, err
	}

	rules, err := selectors.LoadIgnoreRules(config.IgnoreFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load ignore rules from %s: %v", config.IgnoreFile, err)
	}

	apiKey := strings.TrimSpace(os.Getenv(configuration.APIKeyEnvVar))
	llmCfg := config.LlmConfig(apiKey)
	gate, err := llm.NewGate(llmCfg, metrics.InstrumentClientRoundTripperDuration(newLLMHTTPClient(llmCfg), "llm"))
	if err != nil {
		return nil, nil, err
	}

	service := summarizer.New(summarizer.Config{
		GithubOptions: config.GithubOptions(),
		GithubToken:   os.Getenv(configuration.GithubTokenEnvVar),
		Limits:        config.GithubLimits(),
		IgnoreRules:   rules,
		Processor:     config.ProcessorConfig(),
	}, gate, &writers.FSWriter{Root: config.LogsDir})

	return service, config, nil
}

// newLLMHTTPClient builds the transport for the model provider. The
// overall request deadline comes from per-attempt contexts, so only the
// dial and header phases are bounded here.
func newLLMHTTPClient(cfg llm.Config) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			ResponseHeaderTimeout: cfg.ReadTimeout,
		},
	}
}
