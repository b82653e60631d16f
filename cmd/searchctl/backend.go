package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/app"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/settings"
)

// backendCmd reads or overrides the backend the running service selects.
func (c *cli) backendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend [none|native|sphinx|external]",
		Short: "Show or set the active search backend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withStores(ctx, func(stores *app.Stores) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					name, ok, err := stores.Settings.Get(ctx, settings.KeySearchBackend)
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintf(out, "%s (from config)\n", c.cfg.Search.Backend)
						return nil
					}
					fmt.Fprintln(out, name)
					return nil
				}
				switch args[0] {
				case "none", "native", "sphinx", "external":
				default:
					return fmt.Errorf("unknown backend %q", args[0])
				}
				if err := stores.Settings.Set(ctx, settings.KeySearchBackend, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(out, "search backend set to %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}
