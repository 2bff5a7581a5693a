package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/n9te9/go-graphql-federation-planner/gateway"
	"github.com/n9te9/go-graphql-federation-planner/server"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "planner.yaml"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of Federation Planner",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Federation Planner %s\n", server.Version)
	},
}

func newInitCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample planner.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := server.Init(configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "Config file path")
	return cmd
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the query plan service",
		RunE: func(cmd *cobra.Command, args []string) error {
			opt, err := gateway.LoadOption(configPath)
			if err != nil {
				return err
			}
			logger, sync, err := server.NewLogger(opt.LogLevel)
			if err != nil {
				return err
			}
			defer sync() //nolint:errcheck
			return server.Run(opt, logger)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "Config file path")
	return cmd
}

func newPlanCmd() *cobra.Command {
	var (
		configPath    string
		queryPath     string
		operationName string
		format        string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan one operation against the configured subgraphs and print the plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "text" {
				return fmt.Errorf("unknown format %q", format)
			}
			opt, err := gateway.LoadOption(configPath)
			if err != nil {
				return err
			}
			query, err := os.ReadFile(queryPath)
			if err != nil {
				return err
			}
			logger, sync, err := server.NewLogger(opt.LogLevel)
			if err != nil {
				return err
			}
			defer sync() //nolint:errcheck

			ctx := context.Background()
			p, err := gateway.NewPlanner(ctx, opt, logger)
			if err != nil {
				return err
			}
			qp, err := p.Plan(ctx, string(query), operationName)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "evaluated plans: %d\n", p.LastGeneratedPlanStatistics().EvaluatedPlanCount)

			out := cmd.OutOrStdout()
			if format == "text" {
				fmt.Fprint(out, qp.String())
				return nil
			}
			b, err := json.MarshalIndent(qp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "Config file path")
	cmd.Flags().StringVar(&queryPath, "query", "", "Path to the operation document")
	cmd.Flags().StringVar(&operationName, "operation-name", "", "Operation to plan when the document holds several")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or text")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "federation-planner",
		Short:        "Query planner for federated GraphQL supergraphs",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPlanCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
