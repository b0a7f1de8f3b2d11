package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/strategy"
	"github.com/pinnlo/service_layer/internal/app/storage"
)

func debugCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Inspect stored strategies and cards",
	}
	var userID string
	var asJSON bool
	cmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "Owner user id (required)")
	cmd.PersistentFlags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	var strategyID, cardType string
	var limit int
	cards := &cobra.Command{
		Use:   "cards",
		Short: "List the cards of a strategy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || strategyID == "" {
				return errors.New("--user and --strategy are required")
			}
			if cardType != "" && !card.ValidType(cardType) {
				return fmt.Errorf("unknown card type %q", cardType)
			}
			return c.withStore(cmd.Context(), func(store storage.Store) error {
				list, err := store.ListCards(cmd.Context(), userID, strategyID, card.Filter{CardType: cardType, Limit: limit})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				return printCards(cmd.OutOrStdout(), list)
			})
		},
	}
	cards.Flags().StringVarP(&strategyID, "strategy", "s", "", "Strategy id")
	cards.Flags().StringVarP(&cardType, "type", "t", "", "Only cards of this type")
	cards.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum cards (0 for all)")
	cmd.AddCommand(cards)

	cmd.AddCommand(&cobra.Command{
		Use:   "strategy <id>",
		Short: "Show a strategy with its card counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			return c.withStore(cmd.Context(), func(store storage.Store) error {
				st, err := store.GetStrategy(cmd.Context(), userID, args[0])
				if err != nil {
					return err
				}
				counts, err := store.CountCardsByType(cmd.Context(), userID, st.ID)
				if err != nil {
					return err
				}
				summary := strategy.Summary{Strategy: st, CardCounts: counts}
				for _, n := range counts {
					summary.TotalCards += n
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), summary)
				}
				return printSummary(cmd.OutOrStdout(), summary)
			})
		},
	})

	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCards(w io.Writer, cards []card.Card) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tPRIORITY\tCONFIDENCE\tTITLE\tUPDATED")
	for _, c := range cards {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.CardType, c.Priority, c.ConfidenceLevel, truncate(c.Title, 48), c.UpdatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(tw, "\n%d cards\n", len(cards))
	return tw.Flush()
}

func printSummary(w io.Writer, s strategy.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", s.ID)
	fmt.Fprintf(tw, "Title\t%s\n", s.Title)
	if s.Client != "" {
		fmt.Fprintf(tw, "Client\t%s\n", s.Client)
	}
	fmt.Fprintf(tw, "Status\t%s\n", s.Status)
	fmt.Fprintf(tw, "Created\t%s\n", s.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(tw, "Cards\t%d\n", s.TotalCards)

	types := make([]string, 0, len(s.CardCounts))
	for t := range s.CardCounts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(tw, "  %s\t%d\n", t, s.CardCounts[t])
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
