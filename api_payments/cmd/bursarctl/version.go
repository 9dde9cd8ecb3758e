package main

import (
	"fmt"

	"github.com/spf13/cobra"

	fwv "frameworks/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), fwv.GetInfo())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bursarctl %s (git %s)\n", fwv.Version, fwv.GetShortCommit())
			return nil
		},
	}
}
