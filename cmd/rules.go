package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-fraud-triage/config"
	"github.com/dhcgn/mail-fraud-triage/rules"
)

func newRulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the active rule tables as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.RulesPath(cmd)
			if err != nil {
				return err
			}
			tables, err := rules.LoadFile(path)
			if err != nil {
				return fmt.Errorf("load rules: %w", err)
			}
			data, err := tables.Marshal()
			if err != nil {
				return fmt.Errorf("encode rules: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
