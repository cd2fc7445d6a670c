package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/plotherd/internal/supervisor"
	"github.com/3leaps/plotherd/pkg/archive"
	"github.com/3leaps/plotherd/pkg/job"
	"github.com/3leaps/plotherd/pkg/plotlog"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live plotting jobs",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var detailsCmd = &cobra.Command{
	Use:   "details <plot_id_prefix>...",
	Short: "Show full details for jobs",
	Long: `Show full details for the jobs matching each plot ID prefix.
"all" selects every live job.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDetails,
}

var suspendCmd = &cobra.Command{
	Use:   "suspend <plot_id_prefix>...",
	Short: "Pause jobs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSuspend,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <plot_id_prefix>...",
	Short: "Resume paused jobs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResume,
}

var killCmd = &cobra.Command{
	Use:   "kill <plot_id_prefix>...",
	Short: "Kill jobs and delete their temp files",
	Long: `Kill jobs and delete their temp files.

Each job is paused, its temp files are listed, and you are asked to
confirm. Declining resumes the job. Only the listed files are deleted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runKill,
}

var filesCmd = &cobra.Command{
	Use:   "files <plot_id_prefix>...",
	Short: "List temp files of jobs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFiles,
}

var dschedCmd = &cobra.Command{
	Use:   "dsched",
	Short: "Show job phases per destination directory",
	Args:  cobra.NoArgs,
	RunE:  runDsched,
}

var dirsCmd = &cobra.Command{
	Use:   "dirs",
	Short: "Show job load and free space per directory",
	Args:  cobra.NoArgs,
	RunE:  runDirs,
}

func init() {
	rootCmd.AddCommand(statusCmd, detailsCmd, suspendCmd, resumeCmd, killCmd, filesCmd, dschedCmd, dirsCmd)

	statusCmd.Flags().Bool("json", false, "Output as JSON")
	detailsCmd.Flags().Bool("json", false, "Output as JSON")
	filesCmd.Flags().Bool("json", false, "Output as JSON")
	dirsCmd.Flags().Bool("json", false, "Output as JSON")
	killCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	sup, err := newSupervisor()
	if err != nil {
		return err
	}
	rows, err := sup.Status(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list jobs", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, rows)
	}
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}
	writeStatusTable(out, rows)
	return nil
}

func writeStatusTable(out io.Writer, rows []job.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "PLOT ID\tK\tTMP\tDST\tPHASE\tPCT\tSTATE\tWALL\tCPU\tTMP SIZE\tPID")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%.0f%%\t%s\t%s\t%s\t%s\t%d\n",
			job.ShortID(r.PlotID),
			r.K,
			orDash(r.TmpDir),
			orDash(r.DstDir),
			r.Phase,
			r.Pct,
			r.State,
			formatElapsed(r.Elapsed),
			formatElapsed(r.CPUTime),
			humanize.IBytes(r.TmpBytes),
			r.PID,
		)
	}
}

func runDetails(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	sup, err := newSupervisor()
	if err != nil {
		return err
	}
	jobs, err := sup.JobDetails(cmd.Context(), args)
	if err != nil {
		return selectionError("Failed to select jobs", err)
	}

	out := cmd.OutOrStdout()
	now := time.Now()
	if jsonOutput {
		rows := make([]job.Summary, 0, len(jobs))
		for _, j := range jobs {
			rows = append(rows, j.Summary(now))
		}
		return writeJSON(out, rows)
	}
	for i, j := range jobs {
		if i > 0 {
			_, _ = fmt.Fprintln(out)
		}
		_, _ = fmt.Fprint(out, j.Detail(now))
	}
	return nil
}

func runSuspend(cmd *cobra.Command, args []string) error {
	sup, err := newSupervisor()
	if err != nil {
		return err
	}
	jobs, err := sup.Suspend(cmd.Context(), args)
	printActed(cmd.OutOrStdout(), "Suspended", jobs)
	if err != nil {
		return selectionError("Suspend failed", err)
	}
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	sup, err := newSupervisor()
	if err != nil {
		return err
	}
	jobs, err := sup.Resume(cmd.Context(), args)
	printActed(cmd.OutOrStdout(), "Resumed", jobs)
	if err != nil {
		return selectionError("Resume failed", err)
	}
	return nil
}

func printActed(w io.Writer, verb string, jobs []*job.Job) {
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s %s\n", verb, jobRef(j))
	}
}

func runKill(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")

	sup, err := newSupervisor()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var confirm supervisor.ConfirmFunc
	if !yes {
		confirm = promptConfirm(bufio.NewReader(cmd.InOrStdin()), out)
	}

	results, err := sup.Kill(cmd.Context(), args, confirm)
	for _, r := range results {
		ref := fmt.Sprintf("%s (pid %d)", job.ShortID(r.PlotID), r.PID)
		if r.Declined {
			_, _ = fmt.Fprintf(out, "Left %s running\n", ref)
			continue
		}
		_, _ = fmt.Fprintf(out, "Killed %s, removed %d temp files\n", ref, len(r.Removed))
	}
	if err != nil {
		return selectionError("Kill failed", err)
	}
	return nil
}

// promptConfirm asks on out and reads a y/n answer from in. EOF declines.
func promptConfirm(in *bufio.Reader, out io.Writer) supervisor.ConfirmFunc {
	return func(j *job.Job, tempFiles []string) (bool, error) {
		_, _ = fmt.Fprintf(out, "Will kill pid %d, plot id %s\n", j.PID, j.PlotID)
		_, _ = fmt.Fprintf(out, "Will delete %d temp files:\n", len(tempFiles))
		for _, f := range tempFiles {
			_, _ = fmt.Fprintf(out, "  %s\n", f)
		}
		_, _ = fmt.Fprint(out, `Are you sure? ("y" to confirm): `)

		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("read confirmation: %w", err)
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

func runFiles(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	sup, err := newSupervisor()
	if err != nil {
		return err
	}
	files, err := sup.TempFiles(cmd.Context(), args)
	if err != nil {
		return selectionError("Failed to list temp files", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, files)
	}
	for _, jf := range files {
		_, _ = fmt.Fprintf(out, "%s (pid %d):\n", jf.PlotID, jf.PID)
		for _, f := range jf.Files {
			_, _ = fmt.Fprintf(out, "  %s\n", f)
		}
	}
	return nil
}

func runDsched(cmd *cobra.Command, _ []string) error {
	sup, err := newSupervisor()
	if err != nil {
		return err
	}
	sched, err := sup.DestinationSchedule(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list jobs", err)
	}
	writeDsched(cmd.OutOrStdout(), sched)
	return nil
}

func writeDsched(out io.Writer, sched []supervisor.DirMilestones) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "DST\tJOBS\tPHASES")
	for _, d := range sched {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", d.Dir, len(d.Milestones), formatMilestones(d.Milestones))
	}
}

func runDirs(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	sup, err := newSupervisor()
	if err != nil {
		return err
	}
	rep, err := sup.DirectoryReport(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to build directory report", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, rep)
	}
	writeDirs(out, "TMP", rep.Tmp)
	_, _ = fmt.Fprintln(out)
	writeDirs(out, "DST", rep.Dst)
	if len(rep.Archive) > 0 {
		_, _ = fmt.Fprintln(out)
		writeArchiveDirs(out, rep.Archive)
	}
	return nil
}

func writeDirs(out io.Writer, title string, dirs []supervisor.DirUsage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintf(w, "%s\tJOBS\tPHASES\tFREE\tSIZE\tUSED\n", title)
	for _, d := range dirs {
		if d.Err != "" {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t-\t-\t%s\n", d.Path, d.Jobs, formatMilestones(d.Milestones), d.Err)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			d.Path, d.Jobs, formatMilestones(d.Milestones),
			humanize.IBytes(d.Space.Free), humanize.IBytes(d.Space.Total), usedPct(d.Space))
	}
}

// writeArchiveDirs lists archive volumes with the round-robin order: the
// lowest LAST USED among qualifying volumes receives the next plot.
func writeArchiveDirs(out io.Writer, dirs []supervisor.DirUsage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ARCHIVE\tFREE\tSIZE\tUSED\tLAST USED")
	for _, d := range dirs {
		last := "-"
		if d.LastUsed > 0 {
			last = fmt.Sprintf("%d", d.LastUsed)
		}
		if d.Err != "" {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t%s\t%s\n", d.Path, d.Err, last)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.Path, humanize.IBytes(d.Space.Free), humanize.IBytes(d.Space.Total), usedPct(d.Space), last)
	}
}

func usedPct(sp archive.Space) string {
	if sp.Total == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", 100*float64(sp.Total-sp.Free)/float64(sp.Total))
}

func formatMilestones(ms []plotlog.Milestone) string {
	if len(ms) == 0 {
		return "-"
	}
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = m.String()
	}
	return strings.Join(parts, " ")
}

// formatElapsed renders a duration as h:mm.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	m := int(d / time.Minute)
	return fmt.Sprintf("%d:%02d", m/60, m%60)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
