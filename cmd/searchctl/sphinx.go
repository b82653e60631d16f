package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/sphinxconf"
)

func (c *cli) sphinxConfigCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "sphinx-config",
		Short: "Print the search daemon configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := sphinxconf.Emit(sphinxconf.FromConfig(c.cfg))
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o640); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
