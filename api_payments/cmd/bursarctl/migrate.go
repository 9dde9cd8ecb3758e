package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"frameworks/api_payments/migrations"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the payments schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolveDatabaseURL()
			if err != nil {
				return err
			}
			return migrations.Up(url, newLogger(cmd.ErrOrStderr()))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolveDatabaseURL()
			if err != nil {
				return err
			}
			return migrations.Down(url, newLogger(cmd.ErrOrStderr()))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolveDatabaseURL()
			if err != nil {
				return err
			}
			v, dirty, err := migrations.Version(url, newLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"version": v, "dirty": dirty})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d", v)
			if dirty {
				fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	})
	return cmd
}
