package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set via ldflags during build
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "artstore-admin",
	Short: "ArtStore admin control plane",
	Long: `The ArtStore admin issues tokens, manages identities and the
signing key set, tracks the storage element fleet and garbage-collects
expired and orphaned files.`,
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
