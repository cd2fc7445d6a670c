package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/schema"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	schemasassets "github.com/3leaps/plotherd/internal/assets/schemas"
)

var (
	configMu  sync.RWMutex
	appConfig *Config

	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// Load reads the document at path, applies environment overrides and then
// runtime overrides (highest precedence), and validates the result.
//
// A missing file returns an error wrapping os.ErrNotExist. Any validation
// failure returns an *InvalidError.
func Load(path string, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	doc, err := parseDocument(path, raw)
	if err != nil {
		return nil, err
	}
	if err := v.MergeConfigMap(doc); err != nil {
		return nil, fmt.Errorf("merge config %s: %w", path, err)
	}
	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, &InvalidError{Source: path, Problems: []Problem{{Message: err.Error()}}}
	}
	cfg.normalize()

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, &InvalidError{Source: path, Problems: problems}
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// parseDocument decodes YAML and checks it against the embedded schema.
// Schema validation runs on the raw document so unknown keys are rejected.
func parseDocument(path string, raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &InvalidError{Source: path, Problems: []Problem{{Message: "parse yaml: " + err.Error()}}}
	}
	if doc == nil {
		doc = map[string]any{}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, &InvalidError{Source: path, Problems: []Problem{{Message: "convert to json: " + err.Error()}}}
	}
	problems, err := validateSchema(data)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, &InvalidError{Source: path, Problems: problems}
	}
	return doc, nil
}

func validateSchema(data []byte) ([]Problem, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.ConfigSchema) == 0 {
			validatorErr = errors.New("embedded config schema is empty")
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.ConfigSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("compile config schema: %w", validatorErr)
		}
	})
	if validatorErr != nil {
		return nil, validatorErr
	}

	diags, err := validator.ValidateJSON(data)
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	var problems []Problem
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			problems = append(problems, Problem{Path: d.Pointer, Message: d.Message})
		}
	}
	return problems, nil
}

// applyOverrides sets every leaf of m explicitly so it outranks both the
// file and the environment.
func applyOverrides(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			applyOverrides(v, key, nested)
			continue
		}
		v.Set(key, val)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("directories.log", "")
	v.SetDefault("directories.tmp", []string{})
	v.SetDefault("directories.tmp2", "")
	v.SetDefault("directories.dst", []string{})
	v.SetDefault("directories.archive", []string{})

	v.SetDefault("scheduling.global_max_jobs", 8)
	v.SetDefault("scheduling.global_stagger", "0s")
	v.SetDefault("scheduling.tmpdir_max_jobs", 2)
	v.SetDefault("scheduling.dstdir_max_jobs", 0)
	v.SetDefault("scheduling.tmp2_max_jobs", 0)
	v.SetDefault("scheduling.tmpdir_stagger_phase_major", 2)
	v.SetDefault("scheduling.tmpdir_stagger_phase_minor", 1)
	v.SetDefault("scheduling.polling_interval", "20s")
	v.SetDefault("scheduling.archive_polling_interval", "60s")

	v.SetDefault("archive.min_free_pct", 5.0)
	v.SetDefault("archive.min_free_bytes", 0)
	v.SetDefault("archive.max_bytes_per_second", 0)

	v.SetDefault("plotting.executable", "chia")
	v.SetDefault("plotting.k", 32)
	v.SetDefault("plotting.e", false)
	v.SetDefault("plotting.n_threads", 2)
	v.SetDefault("plotting.n_buckets", 128)
	v.SetDefault("plotting.job_buffer", 4608)
	v.SetDefault("plotting.farmer_pk", "")
	v.SetDefault("plotting.pool_pk", "")
	v.SetDefault("plotting.pool_contract_address", "")
	v.SetDefault("plotting.extra_args", []string{})

	v.SetDefault("logging.level", "info")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
}

func (c *Config) normalize() {
	clean := func(dirs []string) []string {
		out := make([]string, 0, len(dirs))
		for _, d := range dirs {
			if d = strings.TrimSpace(d); d != "" {
				out = append(out, filepath.Clean(d))
			}
		}
		return out
	}
	c.Directories.Tmp = clean(c.Directories.Tmp)
	c.Directories.Dst = clean(c.Directories.Dst)
	c.Directories.Archive = clean(c.Directories.Archive)
	if c.Directories.Tmp2 != "" {
		c.Directories.Tmp2 = filepath.Clean(c.Directories.Tmp2)
	}
	if c.Directories.Log != "" {
		c.Directories.Log = filepath.Clean(c.Directories.Log)
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

// Validate runs the semantic checks the schema cannot express.
func (c *Config) Validate() []Problem {
	var ps []Problem
	add := func(path, format string, args ...any) {
		ps = append(ps, Problem{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	d := c.Directories
	if len(d.Tmp) == 0 {
		add("directories.tmp", "at least one temp directory is required")
	}
	if d.Log == "" {
		add("directories.log", "log directory is required")
	}
	checkUnique := func(path string, dirs []string) {
		seen := make(map[string]bool, len(dirs))
		for _, dir := range dirs {
			if seen[dir] {
				add(path, "duplicate directory %s", dir)
			}
			seen[dir] = true
		}
	}
	checkUnique("directories.tmp", d.Tmp)
	checkUnique("directories.dst", d.Dst)
	checkUnique("directories.archive", d.Archive)

	s := c.Scheduling
	if s.GlobalMaxJobs < 1 {
		add("scheduling.global_max_jobs", "must be positive, got %d", s.GlobalMaxJobs)
	}
	if s.TmpDirMaxJobs < 1 {
		add("scheduling.tmpdir_max_jobs", "must be positive, got %d", s.TmpDirMaxJobs)
	}
	if s.DstDirMaxJobs < 0 {
		add("scheduling.dstdir_max_jobs", "must not be negative, got %d", s.DstDirMaxJobs)
	}
	if s.Tmp2MaxJobs < 0 {
		add("scheduling.tmp2_max_jobs", "must not be negative, got %d", s.Tmp2MaxJobs)
	}
	if s.TmpDirStaggerPhaseMajor < 1 || s.TmpDirStaggerPhaseMajor > 4 {
		add("scheduling.tmpdir_stagger_phase_major", "must be between 1 and 4, got %d", s.TmpDirStaggerPhaseMajor)
	}
	if s.TmpDirStaggerPhaseMinor < 0 {
		add("scheduling.tmpdir_stagger_phase_minor", "must not be negative, got %d", s.TmpDirStaggerPhaseMinor)
	}
	if s.GlobalStagger < 0 {
		add("scheduling.global_stagger", "must not be negative")
	}
	positive := func(path string, dur time.Duration) {
		if dur <= 0 {
			add(path, "must be a positive duration, got %s", dur)
		}
	}
	positive("scheduling.polling_interval", s.PollingInterval)
	positive("scheduling.archive_polling_interval", s.ArchivePollingInterval)

	a := c.Archive
	if a.MinFreePct < 0 || a.MinFreePct >= 100 {
		add("archive.min_free_pct", "must be in [0,100), got %g", a.MinFreePct)
	}
	if a.MaxBytesPerSecond < 0 {
		add("archive.max_bytes_per_second", "must not be negative")
	}

	if c.Plotting.PoolPK != "" && c.Plotting.PoolContractAddress != "" {
		add("plotting", "pool_pk and pool_contract_address are mutually exclusive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "unknown level %q", c.Logging.Level)
	}
	return ps
}
