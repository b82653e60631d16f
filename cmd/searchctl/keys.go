package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/postgres"
)

// keysCmd manages the API keys the gateway accepts.
func (c *cli) keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Create, list and revoke gateway API keys",
	}
	cmd.AddCommand(c.keysCreateCmd(), c.keysListCmd(), c.keysRevokeCmd())
	return cmd
}

func (c *cli) withKeys(cmd *cobra.Command, fn func(*apikey.Validator) error) error {
	db, err := postgres.New(cmd.Context(), c.cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	v := apikey.NewValidator(db)
	if err := v.Migrate(cmd.Context()); err != nil {
		return err
	}
	return fn(v)
}

func (c *cli) keysCreateCmd() *cobra.Command {
	var (
		scope     string
		rateLimit int
		expiresIn time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a key and print it once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := apikey.ParseScope(scope)
			if err != nil {
				return err
			}
			if rateLimit < 0 {
				return fmt.Errorf("--rate-limit must not be negative")
			}
			var expiresAt *time.Time
			if expiresIn > 0 {
				t := time.Now().Add(expiresIn)
				expiresAt = &t
			}
			return c.withKeys(cmd, func(v *apikey.Validator) error {
				raw, info, err := v.CreateKey(cmd.Context(), args[0], s, rateLimit, expiresAt)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:    %d\nscope: %s\nkey:   %s\n", info.ID, info.Scope, raw)
				fmt.Fprintln(out, "store the key now, it cannot be shown again")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(apikey.ScopeSearch), "search, ingest or admin")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests per rate window, 0 for the gateway default")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "key lifetime, e.g. 720h")
	return cmd
}

func (c *cli) keysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withKeys(cmd, func(v *apikey.Validator) error {
				keys, err := v.ListKeys(cmd.Context())
				if err != nil {
					return err
				}
				return renderTable([]string{"id", "name", "scope", "rate limit", "created", "expires"}, keyRows(keys))
			})
		},
	}
}

func keyRows(keys []apikey.KeyInfo) [][]string {
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		expires := "never"
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format(time.RFC3339)
		}
		limit := "default"
		if k.RateLimit > 0 {
			limit = strconv.Itoa(k.RateLimit)
		}
		rows = append(rows, []string{
			strconv.FormatInt(k.ID, 10), k.Name, string(k.Scope), limit,
			k.CreatedAt.Format(time.RFC3339), expires,
		})
	}
	return rows
}

func (c *cli) keysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Deactivate a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			return c.withKeys(cmd, func(v *apikey.Validator) error {
				if err := v.RevokeKey(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "key %d revoked\n", id)
				return nil
			})
		},
	}
}
