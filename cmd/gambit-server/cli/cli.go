// Package cli implements the archive admin mini-app reachable as
// `gambit-server db <subcommand>`.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"gambit/internal/archive"
)

// Run is the entry point for the CLI mini-app
func Run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("subcommand required: init, delete, query")
	}

	switch args[0] {
	case "init":
		return runInit(args[1:])
	case "delete":
		return runDelete(args[1:])
	case "query":
		return runQuery(args[1:])
	default:
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func openArchive(path string) (*archive.Archive, error) {
	if path == "" {
		return nil, fmt.Errorf("database path required")
	}
	return archive.New(path, zerolog.Nop())
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	path := fs.String("path", "", "Database file path (required)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	arc, err := openArchive(*path)
	if err != nil {
		return err
	}
	defer arc.Close()

	if err := arc.Init(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	fmt.Printf("Archive initialized at: %s\n", *path)
	return nil
}

func runDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	path := fs.String("path", "", "Database file path (required)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	arc, err := openArchive(*path)
	if err != nil {
		return err
	}

	if err := arc.Delete(); err != nil {
		return fmt.Errorf("failed to delete database: %w", err)
	}

	fmt.Printf("Archive deleted: %s\n", *path)
	return nil
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	path := fs.String("path", "", "Database file path (required)")
	participantID := fs.String("participantId", "", "Participant ID to filter (optional)")
	limit := fs.Int("limit", 20, "Maximum rows to list")

	if err := fs.Parse(args); err != nil {
		return err
	}

	arc, err := openArchive(*path)
	if err != nil {
		return err
	}
	defer arc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	matches, err := arc.Recent(ctx, *participantID, *limit)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if len(matches) == 0 {
		fmt.Println("No finished matches found")
		return nil
	}

	// Print results in tabular format
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Match ID\tFirst\tSecond\tWinner\tReason\tEnded (UTC)")
	fmt.Fprintln(w, strings.Repeat("-", 88))

	for _, m := range matches {
		winner := "-"
		if m.WinnerID != nil {
			winner = *m.WinnerID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shorten(m.ID, 8),
			shorten(m.FirstID, 16),
			shorten(m.SecondID, 16),
			shorten(winner, 16),
			m.Reason,
			m.EndedAt.UTC().Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()

	fmt.Printf("\nFound %d match(es)\n", len(matches))
	return nil
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
