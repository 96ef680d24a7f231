package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/hieratika/internal/printer"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

var pagesCmd = &cobra.Command{
	Use:   "pages",
	Short: "List configuration pages",
	Args:  cobra.NoArgs,
	RunE:  runPages,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the server performance statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(pagesCmd, statsCmd)
}

func runPages(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	pages, err := s.client.GetPages(context.Background())
	if err != nil {
		return printer.ServerError("list pages", "", err)
	}
	if len(pages) == 0 {
		printer.Info("No pages found\n")
		return nil
	}
	rows := make([][]string, len(pages))
	for i, p := range pages {
		rows[i] = []string{p.Name, dash(p.Description)}
	}
	printer.Table([]string{"NAME", "DESCRIPTION"}, rows)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.client.Statistics(context.Background())
	if err != nil {
		return printer.ServerError("get statistics", "", err)
	}
	printer.Values(hieratika.Values(stats))
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
