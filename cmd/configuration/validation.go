// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package configuration

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ValidateStartup verifies the loaded configuration before any server or
// command work starts. It aggregates every finding so operators fix the
// whole file in one pass.
func ValidateStartup(config *Config) error {
	var errs *multierror.Error

	llmCfg := config.LlmConfig(strings.TrimSpace(os.Getenv(APIKeyEnvVar)))
	if err := llmCfg.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := config.ProcessorConfig().Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	errs = multierror.Append(errs, validateLimits(&config.GithubGate)...)

	if llmCfg.APIKey == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s is required and must be non-empty", APIKeyEnvVar))
	}

	return errs.ErrorOrNil()
}

func validateLimits(gate *GithubGate) []error {
	var errs []error

	intValues := []struct {
		key   string
		value int
	}{
		{"max_docs_total_bytes", gate.MaxDocsTotalBytes},
		{"max_tests_total_bytes", gate.MaxTestsTotalBytes},
		{"max_code_total_bytes", gate.MaxCodeTotalBytes},
		{"max_build_package_total_bytes", gate.MaxBuildPackageTotalBytes},
		{"max_single_file_bytes", gate.MaxSingleFileBytes},
		{"max_build_package_files", gate.MaxBuildPackageFiles},
		{"max_code_files", gate.MaxCodeFiles},
		{"max_build_package_depth", gate.MaxBuildPackageDepth},
		{"max_code_depth", gate.MaxCodeDepth},
	}
	for _, v := range intValues {
		if v.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive integer", v.key))
		}
	}

	floatValues := []struct {
		key   string
		value float64
	}{
		{"max_build_package_duration_seconds", gate.MaxBuildPackageDurationSecs},
		{"max_code_duration_seconds", gate.MaxCodeDurationSeconds},
		{"max_total_fetch_duration_seconds", gate.MaxTotalFetchDurationSeconds},
	}
	for _, v := range floatValues {
		if v.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive number", v.key))
		}
	}

	return errs
}
