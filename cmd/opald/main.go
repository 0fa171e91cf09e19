package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opalhq/opal/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "opald",
		Short: "Opal daemon",
		Long:  "Opal daemon for running the knowledge API server, ingest worker, and chat endpoint",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(cli.ServeCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
