package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/plotherd/internal/observability"
	"github.com/3leaps/plotherd/internal/supervisor"
	"github.com/3leaps/plotherd/pkg/admission"
	"github.com/3leaps/plotherd/pkg/archive"
	"github.com/3leaps/plotherd/pkg/job"
	"github.com/3leaps/plotherd/pkg/output"
)

var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Run the admission loop",
	Long: `Poll the job set and start a new plotter worker whenever the global
limit, global stagger, per-directory limits and per-directory phase stagger
all allow it. At most one worker is started per tick.

Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runPlot,
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Run the archive loop",
	Long: `Poll for finished plots in the destination directories and move them,
oldest first, to the archive directories in round-robin order. A directory
takes part only while its free space stays above the configured reserve and
no running job uses it as a temp directory.

Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(plotCmd)
	rootCmd.AddCommand(archiveCmd)

	plotCmd.Flags().String("events", "", `Append JSONL events to this file ("-" for stdout)`)
	archiveCmd.Flags().String("events", "", `Append JSONL events to this file ("-" for stdout)`)
}

func runPlot(cmd *cobra.Command, _ []string) error {
	sup, err := newSupervisor()
	if err != nil {
		return err
	}
	eventsPath, _ := cmd.Flags().GetString("events")
	events, closeEvents, err := openEvents(eventsPath, "admission")
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot open events file", err)
	}
	defer closeEvents()

	ctx := cmd.Context()
	printer := admissionPrinter(cmd.OutOrStdout())
	observe := func(d admission.Decision, err error) {
		if eventsPath != "-" {
			printer(d, err)
		}
		if events != nil {
			writeAdmissionEvent(ctx, events, d, err)
		}
	}
	return loopError("Admission", sup.RunAdmissionLoop(ctx, observe))
}

func runArchive(cmd *cobra.Command, _ []string) error {
	sup, err := newSupervisor()
	if err != nil {
		return err
	}
	eventsPath, _ := cmd.Flags().GetString("events")
	events, closeEvents, err := openEvents(eventsPath, "archive")
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot open events file", err)
	}
	defer closeEvents()

	ctx := cmd.Context()
	printer := archivePrinter(cmd.OutOrStdout())
	observe := func(res archive.Result, err error) {
		if eventsPath != "-" {
			printer(res, err)
		}
		if events != nil {
			writeArchiveEvents(ctx, events, res, err)
		}
	}
	err = sup.RunArchiveLoop(ctx, observe)
	if errors.Is(err, supervisor.ErrNoArchiveDirs) {
		return exitError(foundry.ExitInvalidArgument, "Nothing to archive to", err)
	}
	return loopError("Archive", err)
}

// openEvents opens the JSONL event sink. An empty path disables events and
// "-" writes to stdout in place of the human-readable lines.
func openEvents(path, loop string) (output.Writer, func(), error) {
	host, _ := os.Hostname()
	switch path {
	case "":
		return nil, func() {}, nil
	case "-":
		w := output.NewJSONLWriter(os.Stdout, loop, host)
		return w, func() { _ = w.Close() }, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	w := output.NewJSONLWriter(f, loop, host)
	return w, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}

func writeAdmissionEvent(ctx context.Context, w output.Writer, d admission.Decision, tickErr error) {
	var err error
	if tickErr != nil {
		err = w.WriteError(ctx, &output.ErrorRecord{
			Message:      tickErr.Error(),
			SpawnFailure: admission.IsSpawnFailure(tickErr),
		})
	} else {
		err = w.WriteAdmission(ctx, &output.AdmissionRecord{
			Started:    d.Started,
			WaitReason: d.WaitReason,
			TmpDir:     d.TmpDir,
			DstDir:     d.DstDir,
			PID:        d.PID,
			LogPath:    d.LogPath,
			Argv:       d.Argv,
			LiveJobs:   d.LiveJobs,
		})
	}
	logEventError(err)
}

func writeArchiveEvents(ctx context.Context, w output.Writer, res archive.Result, tickErr error) {
	for _, m := range res.Moved {
		logEventError(w.WriteTransfer(ctx, &output.TransferRecord{
			Src:      m.Src,
			Dst:      m.Dst,
			Bytes:    m.Bytes,
			Renamed:  m.Renamed,
			Duration: m.Duration,
		}))
	}
	if len(res.Moved) == 0 && res.WaitReason != "" {
		logEventError(w.WriteArchiveWait(ctx, &output.ArchiveWaitRecord{
			Reason:  res.WaitReason,
			Pending: len(res.Pending),
			Failed:  res.Failed,
		}))
	}
	if tickErr != nil {
		logEventError(w.WriteError(ctx, &output.ErrorRecord{Message: tickErr.Error()}))
	}
}

func logEventError(err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.CLILogger.Warn("Failed to write event", zap.Error(err))
	}
}

// admissionPrinter writes one line per tick, collapsing repeated wait
// reasons.
func admissionPrinter(w io.Writer) supervisor.AdmissionObserver {
	var last string
	return func(d admission.Decision, err error) {
		var line string
		switch {
		case err != nil && admission.IsSpawnFailure(err):
			line = fmt.Sprintf("spawn failed: %v", err)
		case err != nil:
			line = fmt.Sprintf("tick failed: %v", err)
		case d.Started:
			line = fmt.Sprintf("started pid %d: tmp %s dst %s log %s", d.PID, d.TmpDir, d.DstDir, d.LogPath)
		default:
			line = fmt.Sprintf("waiting (%d jobs): %s", d.LiveJobs, d.WaitReason)
		}
		if line == last && !d.Started {
			return
		}
		last = line
		_, _ = fmt.Fprintln(w, line)
	}
}

func archivePrinter(w io.Writer) supervisor.ArchiveObserver {
	var last string
	return func(res archive.Result, err error) {
		for _, m := range res.Moved {
			verb := "copied"
			if m.Renamed {
				verb = "renamed"
			}
			_, _ = fmt.Fprintf(w, "%s %s -> %s (%s in %s)\n",
				verb, m.Src, m.Dst, humanize.IBytes(uint64(m.Bytes)), m.Duration.Round(time.Second))
		}
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "archive tick: %v\n", err)
		}
		if len(res.Moved) > 0 || res.WaitReason == "" || res.WaitReason == last {
			last = res.WaitReason
			return
		}
		last = res.WaitReason
		_, _ = fmt.Fprintf(w, "waiting (%d pending): %s\n", len(res.Pending), res.WaitReason)
	}
}

// jobRef is the short human reference used in command output.
func jobRef(j *job.Job) string {
	return fmt.Sprintf("%s (pid %d)", job.ShortID(j.PlotID), j.PID)
}
