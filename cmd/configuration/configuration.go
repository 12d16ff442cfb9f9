// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package configuration

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

const (
	// DefaultConfigFile is used when REPODIGESTCONFIG is not set
	DefaultConfigFile = "config/runtime.json"
	// APIKeyEnvVar holds the model provider credential
	APIKeyEnvVar = "NEBIUS_API_KEY"
	// ModelIDEnvVar overrides llm_gate.model_id
	ModelIDEnvVar = "NEBIUS_MODEL_ID"
	// BaseURLEnvVar overrides llm_gate.base_url
	BaseURLEnvVar = "NEBIUS_BASE_URL"
	// GithubTokenEnvVar enables authenticated GitHub access
	GithubTokenEnvVar = "GITHUB_TOKEN"
)

type ConfigurationLoader interface {
	Load() (*Config, error)
}

type DefaultConfigurationLoader func() (*Config, error)

func (d *DefaultConfigurationLoader) Load() (*Config, error) {
	if configFilePath, found := os.LookupEnv("REPODIGESTCONFIG"); found {
		if configFilePath == "" {
			return nil, fmt.Errorf("the provided environment variable REPODIGESTCONFIG is set to empty string")
		}
		return load(configFilePath)
	}
	return load(DefaultConfigFile)
}

func load(configFilePath string) (*Config, error) {
	stat, err := os.Stat(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info for configuration file path %s: %v", configFilePath, err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("the config file path %s is directory, instead of file", configFilePath)
	}

	v := viper.New()
	v.SetConfigFile(configFilePath)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %v", configFilePath, err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration file %s: %v", configFilePath, err)
	}
	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides lets deployment environments replace the provider
// coordinates without editing the configuration file.
func applyEnvOverrides(config *Config) {
	if modelID, found := os.LookupEnv(ModelIDEnvVar); found && modelID != "" {
		config.LlmGate.ModelID = modelID
	}
	if baseURL, found := os.LookupEnv(BaseURLEnvVar); found && baseURL != "" {
		config.LlmGate.BaseURL = baseURL
	}
}
