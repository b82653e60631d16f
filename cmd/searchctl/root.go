package main

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/app"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
)

type cli struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "searchctl",
		Short:        "Manage the forum search index",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "configs/development.yaml", "path to config file")

	root.AddCommand(
		c.buildCmd(),
		c.stepCmd(),
		c.statusCmd(),
		c.parseCmd(),
		c.sphinxConfigCmd(),
		c.backendCmd(),
		c.keysCmd(),
	)
	return root
}

// withStores opens the stores for the duration of fn.
func (c *cli) withStores(ctx context.Context, fn func(*app.Stores) error) error {
	stores, err := app.Open(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(stores)
}

func (c *cli) newBuilder(stores *app.Stores) (builder, error) {
	b, _, err := app.NewBuilder(stores, c.cfg.Indexer, nil, metrics.NewUnregistered())
	if err != nil {
		return nil, fmt.Errorf("creating builder: %w", err)
	}
	return b, nil
}

func renderTable(headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header(headers)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}
