package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leomancini/ai-phone-firmware/pkg/config"
	"github.com/leomancini/ai-phone-firmware/runtime/events"
	"github.com/leomancini/ai-phone-firmware/runtime/recording"
)

const (
	flagJournalDir = "journal-dir"
	flagFormat     = "format"
	flagOut        = "out"

	exportPrefix = "export."
)

func newExportCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a journaled session as a recording",
		Long: `Reads one session from the event journal, prints a per-turn summary and,
with --out, writes the session as a self-contained recording file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format := recording.Format(v.GetString(exportPrefix + flagFormat))
			if format != recording.FormatJSON && format != recording.FormatJSONLines {
				return fmt.Errorf("unknown format %q (want json or jsonl)", format)
			}
			return runExport(cmd, v.GetString(exportPrefix+flagJournalDir), args[0], v.GetString(exportPrefix+flagOut), format)
		},
	}
	cmd.Flags().String(flagJournalDir, config.DefaultJournalDir, "Directory holding the event journal")
	cmd.Flags().String(flagFormat, string(recording.FormatJSON), "Output format: json or jsonl")
	cmd.Flags().StringP(flagOut, "o", "", "Write the recording to this file")
	bindFlags(v, exportPrefix, cmd.Flags())
	return cmd
}

func runExport(cmd *cobra.Command, dir, sessionID, out string, format recording.Format) error {
	store, err := events.NewFileEventStore(dir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, err := recording.Export(cmd.Context(), store, sessionID)
	if err != nil {
		return err
	}
	turns, err := rec.Turns()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, rec.String())
	if len(turns) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TURN\tOFFSET\tAUDIO\tBYTES\tSTATUS\tTRANSCRIPT")
		for _, t := range turns {
			status := "completed"
			if t.Aborted {
				status = "aborted"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				t.TurnID, t.Offset.Round(time.Millisecond), t.Duration.Round(time.Millisecond),
				t.Bytes, status, t.Transcript)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if out == "" {
		return nil
	}
	if err := rec.SaveTo(out, format); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n✅ Wrote %s\n", out)
	return nil
}
