package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"agrirag/internal/answer"
	"agrirag/internal/ingest"
	"agrirag/internal/tui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload and query HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, logger, err := setup(ctx, false)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		defer a.Close()
		return a.Server().Run(ctx)
	},
}

var (
	ingestLimit  int
	ingestSource string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Add every row of a .csv, .tsv, .xls or .xlsx file to the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, logger, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		defer a.Close()

		added, err := a.Ingest(cmd.Context(), ingest.Request{Path: args[0], Source: ingestSource, RowLimit: ingestLimit})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Successfully processed %s (%d rows added)\n", args[0], added)
		return nil
	},
}

var askSources bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question from the indexed rows",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, logger, err := setup(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		defer a.Close()

		question := strings.Join(args, " ")
		out := cmd.OutOrStdout()
		if !askSources {
			fmt.Fprintln(out, a.Answer(cmd.Context(), question))
			return nil
		}
		res, err := a.Ask(cmd.Context(), question)
		if err != nil {
			fmt.Fprintln(out, answer.ErrorAnswer(err))
			return nil
		}
		fmt.Fprintln(out, res.Answer)
		for i, h := range res.Sources {
			fmt.Fprintf(out, "  [%d] %.3f %s (%s row %d)\n", i+1, h.Score, h.Unit.Text, h.Unit.Origin.Source, h.Unit.Origin.Row)
		}
		return nil
	},
}

var chatSources bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat over the index (:upload <file> to ingest)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, logger, err := setup(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		defer a.Close()

		m := tui.New(a, a.QueryTimeout(), chatSources)
		_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
		return err
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the number of indexed units",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, logger, err := setup(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		defer a.Close()

		n, err := a.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d units indexed\n", n)
		return nil
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "Read at most N data rows (0 reads all)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "Source name recorded in unit metadata (defaults to the file name)")
	askCmd.Flags().BoolVar(&askSources, "sources", false, "List the retrieved rows under the answer")
	chatCmd.Flags().BoolVar(&chatSources, "sources", false, "Show retrieved rows under each answer")
}
