// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/repodigest/repodigest/cmd/configuration"
	"github.com/repodigest/repodigest/pkg/metrics"
	"github.com/repodigest/repodigest/pkg/server"
)

// NewCommand creates a new root command and propagates
// the context to its subcommand Run callback closures
func NewCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "repodigest",
		Short:        "Summarize public GitHub repositories with a language model",
		SilenceUsage: true,
	}

	loader := new(configuration.DefaultConfigurationLoader)

	cmd.AddCommand(newServeCmd(ctx, loader))
	cmd.AddCommand(newExtractCmd(ctx, loader))
	cmd.AddCommand(newProcessCmd(loader))
	cmd.AddCommand(newSummarizeCmd(ctx, loader))
	cmd.AddCommand(NewVersionCmd())

	klog.InitFlags(nil)
	AddFlags(cmd)

	return cmd
}

func newServeCmd(ctx context.Context, loader configuration.ConfigurationLoader) *cobra.Command {
	flags := &cmdFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the summarization HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			metrics.RegisterServiceMetrics(nil)
			service, config, err := NewService(loader)
			if err != nil {
				return err
			}
			address := config.Server.Address
			if flags.address != "" {
				address = flags.address
			}
			return server.New(service).ListenAndServe(ctx, address)
		},
	}
	flags.configureServe(cmd)
	return cmd
}

func newExtractCmd(ctx context.Context, loader configuration.ConfigurationLoader) *cobra.Command {
	flags := &cmdFlags{}
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Print the staged extraction markdown for a repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			service, _, err := NewService(loader)
			if err != nil {
				return err
			}
			markdown, err := service.Extract(ctx, flags.repositoryURL)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), markdown)
			return nil
		},
	}
	flags.configureRepositoryURL(cmd)
	return cmd
}

func newProcessCmd(loader configuration.ConfigurationLoader) *cobra.Command {
	flags := &cmdFlags{}
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Fit extraction markdown into the configured prompt budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			service, _, err := NewService(loader)
			if err != nil {
				return err
			}
			input, err := readInput(flags.inputPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			processed, err := service.ProcessMarkdown(string(input))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), processed)
			return nil
		},
	}
	flags.configureInput(cmd)
	return cmd
}

func newSummarizeCmd(ctx context.Context, loader configuration.ConfigurationLoader) *cobra.Command {
	flags := &cmdFlags{}
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Run the full pipeline for one repository and print the summary JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			service, _, err := NewService(loader)
			if err != nil {
				return err
			}
			result, err := service.Summarize(ctx, flags.repositoryURL)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}
	flags.configureRepositoryURL(cmd)
	return cmd
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
