package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "go-odm",
	Short: "go-odm - document models with reference-document indexes over a key/value store",
	Long: `go-odm stores schema-described documents in a key/value backend and keeps
one reference document per indexed value, so documents can be found by any
indexed field without scanning.

Examples:
  # Serve the HTTP API on the memory backend
  go-odm serve

  # Serve on pebble
  ODM_STORE=pebble go-odm serve --port 9090

  # Print the reference key for a lookup
  go-odm refkey User email joe@gmail.com`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRefKeyCmd())
	rootCmd.AddCommand(newLoadCmd())
}
