package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/app"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
)

type builder interface {
	Status(ctx context.Context) (*indexer.State, indexer.Progress, error)
	Step(ctx context.Context, state *indexer.State) (*indexer.State, indexer.Progress, error)
	Start(ctx context.Context, cfg indexer.BuildConfig, force bool) (*indexer.State, error)
}

func (c *cli) buildCmd() *cobra.Command {
	var (
		wordSize string
		force    bool
		resume   bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the index, stepping until it completes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.withStores(ctx, func(stores *app.Stores) error {
				b, err := c.newBuilder(stores)
				if err != nil {
					return err
				}
				var state *indexer.State
				if resume {
					if state, _, err = b.Status(ctx); err != nil {
						return err
					}
				}
				if state == nil || state.Phase == indexer.PhaseDone {
					cfg, err := app.BuildConfig(c.cfg.Indexer)
					if err != nil {
						return err
					}
					if wordSize != "" {
						if cfg.WordSize, err = tokenizer.ParseWordSize(wordSize); err != nil {
							return err
						}
					}
					if state, err = b.Start(ctx, cfg, force); err != nil {
						return err
					}
				}
				return runBuild(ctx, b, state, func(p indexer.Progress) {
					fmt.Fprintf(cmd.OutOrStdout(), "%-9s %3d%%  cursor=%d entries=%d\n", p.Phase, p.Percent, p.Cursor, p.Entries)
				})
			})
		},
	}
	cmd.Flags().StringVar(&wordSize, "word-size", "", "word id size: small, medium or large")
	cmd.Flags().BoolVar(&force, "force", false, "discard a build in progress")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue a build in progress instead of starting over")
	return cmd
}

// runBuild steps until the build completes or ctx ends. A failed step
// stops the loop; the persisted state lets a later run resume.
func runBuild(ctx context.Context, b builder, state *indexer.State, report func(indexer.Progress)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, progress, err := b.Step(ctx, state)
		if err != nil {
			return fmt.Errorf("build stopped at %d%%: %w", progress.Percent, err)
		}
		report(progress)
		if progress.Done {
			return nil
		}
		state = next
	}
}

func (c *cli) stepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "step",
		Short: "Run one build step, starting a build if none is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withStores(ctx, func(stores *app.Stores) error {
				b, err := c.newBuilder(stores)
				if err != nil {
					return err
				}
				state, progress, err := b.Status(ctx)
				if err != nil {
					return err
				}
				if !progress.Done {
					if _, progress, err = b.Step(ctx, state); err != nil {
						return err
					}
				}
				return renderProgress(progress)
			})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the build position and message counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withStores(ctx, func(stores *app.Stores) error {
				b, err := c.newBuilder(stores)
				if err != nil {
					return err
				}
				state, progress, err := b.Status(ctx)
				if err != nil {
					return err
				}
				stats, err := stores.Messages.Stats(ctx)
				if err != nil {
					return err
				}
				size, err := stores.Index.Size(ctx)
				if err != nil {
					return err
				}
				rows := [][]string{
					{"phase", string(progress.Phase)},
					{"percent", strconv.Itoa(progress.Percent) + "%"},
					{"cursor", strconv.FormatUint(uint64(progress.Cursor), 10)},
					{"index entries", strconv.FormatInt(size, 10)},
				}
				if state != nil && state.Config.WordSize.Name != "" {
					rows = append(rows, []string{"word size", state.Config.WordSize.Name})
				}
				rows = append(rows, statsRows(stats)...)
				return renderTable([]string{"Field", "Value"}, rows)
			})
		},
	}
}

func statsRows(s messages.Stats) [][]string {
	return [][]string{
		{"messages", strconv.FormatInt(s.Count, 10)},
		{"max message id", strconv.FormatUint(uint64(s.MaxID), 10)},
	}
}

func renderProgress(p indexer.Progress) error {
	return renderTable(
		[]string{"Phase", "Percent", "Cursor", "Processed", "Entries", "Done"},
		[][]string{{
			string(p.Phase),
			strconv.Itoa(p.Percent) + "%",
			strconv.FormatUint(uint64(p.Cursor), 10),
			strconv.Itoa(p.Processed),
			strconv.FormatInt(p.Entries, 10),
			strconv.FormatBool(p.Done),
		}},
	)
}
