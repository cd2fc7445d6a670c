// Package config loads and validates the plotherd configuration document.
package config

import (
	"time"

	"github.com/3leaps/plotherd/pkg/admission"
	"github.com/3leaps/plotherd/pkg/archive"
	"github.com/3leaps/plotherd/pkg/plotlog"
)

// DefaultPath is the configuration file used when --config is not given.
const DefaultPath = "config.yaml"

// EnvPrefix prefixes environment overrides (PLOTHERD_SCHEDULING_GLOBAL_MAX_JOBS).
const EnvPrefix = "PLOTHERD"

// Config is the full configuration document.
type Config struct {
	Directories Directories `mapstructure:"directories" json:"directories"`
	Scheduling  Scheduling  `mapstructure:"scheduling" json:"scheduling"`
	Archive     Archive     `mapstructure:"archive" json:"archive"`
	Plotting    Plotting    `mapstructure:"plotting" json:"plotting"`
	Logging     Logging     `mapstructure:"logging" json:"logging"`
	Server      Server      `mapstructure:"server" json:"server"`
}

type Directories struct {
	Log     string   `mapstructure:"log" json:"log"`
	Tmp     []string `mapstructure:"tmp" json:"tmp"`
	Tmp2    string   `mapstructure:"tmp2" json:"tmp2,omitempty"`
	Dst     []string `mapstructure:"dst" json:"dst,omitempty"`
	Archive []string `mapstructure:"archive" json:"archive,omitempty"`
}

// DstOrTmp returns the destination dirs, or the temp dirs when none are
// configured (workers then write final plots into their temp dir).
func (d Directories) DstOrTmp() []string {
	if len(d.Dst) > 0 {
		return d.Dst
	}
	return d.Tmp
}

type Scheduling struct {
	GlobalMaxJobs           int           `mapstructure:"global_max_jobs" json:"global_max_jobs"`
	GlobalStagger           time.Duration `mapstructure:"global_stagger" json:"global_stagger"`
	TmpDirMaxJobs           int           `mapstructure:"tmpdir_max_jobs" json:"tmpdir_max_jobs"`
	DstDirMaxJobs           int           `mapstructure:"dstdir_max_jobs" json:"dstdir_max_jobs"`
	Tmp2MaxJobs             int           `mapstructure:"tmp2_max_jobs" json:"tmp2_max_jobs"`
	TmpDirStaggerPhaseMajor int           `mapstructure:"tmpdir_stagger_phase_major" json:"tmpdir_stagger_phase_major"`
	TmpDirStaggerPhaseMinor int           `mapstructure:"tmpdir_stagger_phase_minor" json:"tmpdir_stagger_phase_minor"`
	PollingInterval         time.Duration `mapstructure:"polling_interval" json:"polling_interval"`
	ArchivePollingInterval  time.Duration `mapstructure:"archive_polling_interval" json:"archive_polling_interval"`
}

// Stagger returns the tmp-dir stagger threshold as a milestone.
func (s Scheduling) Stagger() plotlog.Milestone {
	return plotlog.Milestone{Phase: s.TmpDirStaggerPhaseMajor, Substep: s.TmpDirStaggerPhaseMinor}
}

type Archive struct {
	MinFreePct        float64 `mapstructure:"min_free_pct" json:"min_free_pct"`
	MinFreeBytes      uint64  `mapstructure:"min_free_bytes" json:"min_free_bytes"`
	MaxBytesPerSecond int64   `mapstructure:"max_bytes_per_second" json:"max_bytes_per_second"`
}

type Plotting struct {
	Executable          string   `mapstructure:"executable" json:"executable"`
	K                   int      `mapstructure:"k" json:"k"`
	NoBitfield          bool     `mapstructure:"e" json:"e"`
	Threads             int      `mapstructure:"n_threads" json:"n_threads"`
	Buckets             int      `mapstructure:"n_buckets" json:"n_buckets"`
	BufferMiB           int      `mapstructure:"job_buffer" json:"job_buffer"`
	FarmerPK            string   `mapstructure:"farmer_pk" json:"farmer_pk,omitempty"`
	PoolPK              string   `mapstructure:"pool_pk" json:"pool_pk,omitempty"`
	PoolContractAddress string   `mapstructure:"pool_contract_address" json:"pool_contract_address,omitempty"`
	ExtraArgs           []string `mapstructure:"extra_args" json:"extra_args,omitempty"`
}

type Logging struct {
	Level string `mapstructure:"level" json:"level"`
}

type Server struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// AdmissionConfig projects the document onto the admission policy.
func (c *Config) AdmissionConfig() admission.Config {
	return admission.Config{
		TmpDirs:       c.Directories.Tmp,
		Tmp2Dir:       c.Directories.Tmp2,
		DstDirs:       c.Directories.Dst,
		GlobalMaxJobs: c.Scheduling.GlobalMaxJobs,
		GlobalStagger: c.Scheduling.GlobalStagger,
		TmpDirMaxJobs: c.Scheduling.TmpDirMaxJobs,
		DstDirMaxJobs: c.Scheduling.DstDirMaxJobs,
		Tmp2MaxJobs:   c.Scheduling.Tmp2MaxJobs,
		Stagger:       c.Scheduling.Stagger(),
		Plot: admission.PlotParams{
			Executable:   c.Plotting.Executable,
			K:            c.Plotting.K,
			Threads:      c.Plotting.Threads,
			Buckets:      c.Plotting.Buckets,
			BufferMiB:    c.Plotting.BufferMiB,
			NoBitfield:   c.Plotting.NoBitfield,
			FarmerPK:     c.Plotting.FarmerPK,
			PoolPK:       c.Plotting.PoolPK,
			PoolContract: c.Plotting.PoolContractAddress,
			ExtraArgs:    c.Plotting.ExtraArgs,
		},
	}
}

// ArchiveConfig projects the document onto the archive policy.
func (c *Config) ArchiveConfig() archive.Config {
	return archive.Config{
		Sources:      c.Directories.DstOrTmp(),
		Destinations: c.Directories.Archive,
		LogDir:       c.Directories.Log,
		MinFreePct:   c.Archive.MinFreePct,
		MinFreeBytes: c.Archive.MinFreeBytes,
	}
}
