// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"flag"

	"github.com/spf13/cobra"
)

type cmdFlags struct {
	address       string
	repositoryURL string
	inputPath     string
}

// Configure configures flags for command
func (flags *cmdFlags) configureServe(command *cobra.Command) {
	command.Flags().StringVarP(&flags.address, "address", "a", "",
		"Listen address. Overrides the server.address configuration value.")
}

func (flags *cmdFlags) configureRepositoryURL(command *cobra.Command) {
	command.Flags().StringVarP(&flags.repositoryURL, "url", "u", "",
		"Public GitHub repository URL.")
	_ = command.MarkFlagRequired("url")
}

func (flags *cmdFlags) configureInput(command *cobra.Command) {
	command.Flags().StringVarP(&flags.inputPath, "input", "i", "-",
		"Path to an extraction markdown file. Reads the standard input when set to '-'.")
}

// AddFlags adds go flags to rootCmd
func AddFlags(rootCmd *cobra.Command) {
	flag.CommandLine.VisitAll(func(gf *flag.Flag) {
		rootCmd.PersistentFlags().AddGoFlag(gf)
	})
}
