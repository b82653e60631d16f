package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher/parser"
)

func (c *cli) parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <query>",
		Short: "Show how a search string is parsed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.Join(args, " ")
			q := parser.Parse(raw, parser.NormalizeBlacklist(c.cfg.Search.Blacklist), c.cfg.Search.SimpleFulltext)

			var rows [][]string
			for _, t := range q.Included {
				rows = append(rows, termRow("include", t))
			}
			for _, t := range q.Excluded {
				rows = append(rows, termRow("exclude", t))
			}
			for _, w := range q.IgnoredShortWords {
				rows = append(rows, []string{"ignored", w, "word"})
			}
			if err := renderTable([]string{"Role", "Text", "Kind"}, rows); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if q.FoundBlacklisted {
				fmt.Fprintln(out, "blacklisted words were dropped")
			}
			if rej := q.Rejection(); rej != parser.NotRejected {
				fmt.Fprintf(out, "rejected: %s\n", rej)
			}
			return nil
		},
	}
}

func termRow(role string, t parser.Term) []string {
	kind := "word"
	if t.Phrase {
		kind = "phrase"
	}
	return []string{role, t.Text, kind}
}
