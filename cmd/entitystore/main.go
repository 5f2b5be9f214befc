package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devrev/pairdb/entitystore/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "entitystore",
	Short:         "Multi-tenant MVCC entity store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "./config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "path to the YAML config file")

	rootCmd.AddCommand(serveCmd, repairOnceCmd, refreshIndexCmd, configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "entitystore: %v\n", err)
		os.Exit(1)
	}
}
