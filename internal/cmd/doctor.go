package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/plotherd/internal/config"
	"github.com/3leaps/plotherd/internal/observability"
	"github.com/3leaps/plotherd/pkg/archive"
	"github.com/3leaps/plotherd/pkg/job"
	"github.com/3leaps/plotherd/pkg/process"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the configuration and the host and suggest
fixes for common issues.

Checks the config file, the plotter executable, every configured
directory (exists, writable, free space) and access to the process table.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorReport numbers checks and remembers whether any failed.
type doctorReport struct {
	log    *zap.Logger
	num    int
	total  int
	failed int
}

func (r *doctorReport) pass(what, detail string, fields ...zap.Field) {
	r.num++
	r.log.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", r.num, r.total, what, detail), fields...)
}

func (r *doctorReport) warn(what, detail string, fields ...zap.Field) {
	r.num++
	r.log.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⚠️  %s", r.num, r.total, what, detail), fields...)
}

func (r *doctorReport) fail(what, detail string, fields ...zap.Field) {
	r.num++
	r.failed++
	r.log.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %s", r.num, r.total, what, detail), fields...)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	log := observability.CLILogger
	log.Info("=== " + binaryName + " doctor ===")
	log.Info("")

	rep := &doctorReport{log: log, total: 5}

	goVersion := runtime.Version()
	rep.pass("Go runtime", fmt.Sprintf("%s %s/%s", goVersion, runtime.GOOS, runtime.GOARCH),
		zap.String("go_version", goVersion))

	if v := crucible.GetVersion(); v.Crucible != "" {
		rep.pass("Crucible access", "v"+v.Crucible, zap.String("crucible_version", v.Crucible))
	} else {
		rep.warn("Crucible access", "cannot read Crucible version")
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		rep.fail("config", err.Error(), zap.String("path", configPath()))
		log.Info("")
		log.Info("Fix the config file and run doctor again.")
		if errors.Is(err, os.ErrNotExist) {
			return exitError(foundry.ExitFileNotFound, "Config file not found", err)
		}
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	rep.pass("config", configPath())

	dirs := doctorDirs(cfg)
	rep.total += len(dirs)

	if path, err := exec.LookPath(cfg.Plotting.Executable); err != nil {
		rep.fail("plotter executable", fmt.Sprintf("%s not found on PATH", cfg.Plotting.Executable), zap.Error(err))
	} else {
		rep.pass("plotter executable", path)
	}

	checkProcessTable(cmd.Context(), rep, cfg.Plotting.Executable, cfg.Directories.Log)

	space := archive.DiskSpace{}
	for _, d := range dirs {
		what := d.role + " directory " + d.path
		if err := checkDir(d.path); err != nil {
			rep.fail(what, err.Error())
			continue
		}
		s, err := space.Space(cmd.Context(), d.path)
		if err != nil {
			rep.warn(what, "cannot read free space", zap.Error(err))
			continue
		}
		rep.pass(what, fmt.Sprintf("%s free of %s", humanize.IBytes(s.Free), humanize.IBytes(s.Total)),
			zap.Uint64("free_bytes", s.Free))
	}

	log.Info("")
	if rep.failed > 0 {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
		return exitError(foundry.ExitInvalidArgument, "Doctor found problems", fmt.Errorf("%d of %d checks failed", rep.failed, rep.total))
	}
	log.Info("✅ All checks passed!")
	log.Info("=== End Diagnostics ===")
	return nil
}

func configPath() string {
	return viper.GetString("config")
}

type doctorDir struct {
	role string
	path string
}

// doctorDirs lists every configured directory once, in config order.
func doctorDirs(cfg *config.Config) []doctorDir {
	var out []doctorDir
	seen := make(map[string]bool)
	add := func(role string, paths ...string) {
		for _, p := range paths {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, doctorDir{role: role, path: p})
		}
	}
	add("log", cfg.Directories.Log)
	add("tmp", cfg.Directories.Tmp...)
	add("tmp2", cfg.Directories.Tmp2)
	add("dst", cfg.Directories.Dst...)
	add("archive", cfg.Directories.Archive...)
	return out
}

// checkDir reports whether path is an existing directory this process can
// write to.
func checkDir(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.New("does not exist")
		}
		return err
	}
	if !st.IsDir() {
		return errors.New("not a directory")
	}
	if err := checkWritable(path); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	return nil
}

func checkProcessTable(ctx context.Context, rep *doctorReport, executable, logDir string) {
	jobs, err := job.List(ctx, job.Options{
		Executable: executable,
		LogDir:     logDir,
		Probe:      process.NewSystemProbe(job.MatchFunc(executable)),
	})
	if err != nil {
		rep.fail("process table", err.Error())
		return
	}
	rep.pass("process table", fmt.Sprintf("%d live jobs", len(jobs)), zap.Int("jobs", len(jobs)))
}
