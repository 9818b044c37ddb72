package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/addrlease/internal/version"
)

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the addrlease version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if long {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Read().String())
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Module(), version.Current())
			return err
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "include Go version and VCS revision")
	return cmd
}
