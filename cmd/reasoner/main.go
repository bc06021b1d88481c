// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command reasoner runs and queries the climate reasoner.
//
// Usage:
//
//	reasoner serve --config reasoner.yaml
//	reasoner search "heat pumps" --source table
//	reasoner similar org-aurora --same-country
//	reasoner recommend org-aurora --tag energy
//	reasoner world stats
//	reasoner world traverse module energy --depth 2
//
// Output is a table on a terminal and JSON otherwise; --output overrides.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianClimate/pkg/logging"
	"github.com/AleutianAI/AleutianClimate/pkg/ux"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/config"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		ux.NewStyles(os.Stderr).Errorf(os.Stderr, "Error: %v", err)
		os.Exit(1)
	}
}

// cliApp carries state shared by every subcommand.
type cliApp struct {
	out io.Writer

	configPath string
	logLevel   string
	output     string

	cfg    config.Config
	logger *logging.Logger
	styles ux.Styles
}

// newRootCmd builds the command tree writing results to out.
func newRootCmd(out io.Writer) *cobra.Command {
	app := &cliApp{out: out, styles: ux.NewStyles(out)}

	root := &cobra.Command{
		Use:   "reasoner",
		Short: "Climate reasoner: world model, hybrid search and peer strategies",
		Long: `The climate reasoner answers questions about the platform and its tenants.

It combines a knowledge graph of the system (the World Model), a hybrid
search across vector, graph and table sources, and peer-based strategy
recommendations drawn from similar organizations.

Configuration comes from --config (YAML), then REASONER_* and related
environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.logger != nil {
				_ = app.logger.Close()
			}
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVarP(&app.configPath, "config", "c", os.Getenv("REASONER_CONFIG"),
		"Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&app.logLevel, "log-level", "",
		"Log level override: debug, info, warn, error")
	root.PersistentFlags().StringVarP(&app.output, "output", "o", outputAuto,
		"Output format: auto, json, text")

	root.AddCommand(
		newServeCmd(app),
		newSearchCmd(app),
		newSimilarCmd(app),
		newRecommendCmd(app),
		newWorldCmd(app),
	)
	return root
}

func (a *cliApp) init() error {
	switch a.output {
	case outputAuto, outputJSON, outputText:
	default:
		return fmt.Errorf("invalid --output %q (want auto, json or text)", a.output)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		if _, ok := logging.ParseLevel(a.logLevel); !ok {
			return fmt.Errorf("invalid --log-level %q", a.logLevel)
		}
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.LoggingConfig("reasoner"))
	a.logger.SetDefault()
	return nil
}
