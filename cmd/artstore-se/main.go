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
	Use:   "artstore-se",
	Short: "ArtStore storage element",
	Long: `The ArtStore storage element stores file bytes with JSON sidecar
metadata, serves the file API and publishes its health and capacity to
the shared registry.`,
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
