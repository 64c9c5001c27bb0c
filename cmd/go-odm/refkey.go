package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adfharrison1/go-odm/pkg/keys"
)

func newRefKeyCmd() *cobra.Command {
	var (
		prefix    string
		maxInline int
	)
	cmd := &cobra.Command{
		Use:   "refkey <model> <index> <value>",
		Short: "Print the reference-document key for an indexed value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args[:2] {
				if !keys.ValidName(name) {
					return fmt.Errorf("invalid name %q", name)
				}
			}
			b := keys.NewBuilder(keys.WithPrefix(prefix), keys.WithMaxInlineValue(maxInline))
			fmt.Fprintln(cmd.OutOrStdout(), b.RefKey(args[0], args[1], args[2]))
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Key prefix")
	cmd.Flags().IntVar(&maxInline, "max-inline", keys.DefaultMaxInlineValue, "Longest value kept verbatim in the key")
	return cmd
}
