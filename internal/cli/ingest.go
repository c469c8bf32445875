package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/pulse/pkg/intake"
	"github.com/harun/pulse/pkg/session"
)

var ingestIndividual bool

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Aggregate session updates read from stdin",
	Long: `Read newline-delimited JSON session updates from stdin, fold them into
per-minute aggregates and deliver them through the configured transport.

Each line describes one session:

  {"sid":"...","did":"user-1","started":"2024-05-01T10:00:00Z","status":"ok","errors":0}

Sessions still in the "ok" status are closed (and counted as exited) before
aggregation. Malformed lines are logged and skipped.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVar(&ingestIndividual, "individual", false, "send each session on its own instead of aggregating")
}

func runIngest(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	stats := newTally()
	bad, err := intake.ReadSessions(cmd.InOrStdin(), rt.defaults(), func(s *session.Session) {
		if ingestIndividual {
			rt.flusher.CaptureSession(s)
		} else {
			rt.flusher.AddSession(s)
		}
		stats.add(s)
	})
	for _, le := range bad {
		rt.log.Warn().Err(le.Err).Int("line", le.Line).Msg("Skipping session line")
	}
	stats.skipped = len(bad)
	if err != nil {
		return err
	}

	if err := rt.Close(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: shutdown finished with errors: %v\n", err)
	}

	stats.print(cmd.OutOrStdout(), "Ingested")
	return nil
}
