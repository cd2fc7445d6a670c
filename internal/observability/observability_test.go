package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"debug", "debug", false},
		{"INFO", "info", false},
		{"", "info", false},
		{"warning", "warn", false},
		{"error", "error", false},
		{"loud", "info", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lvl, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, lvl.String())
		})
	}
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() {
		CLILogger = orig
		cliLevel.SetLevel(zap.InfoLevel)
	}()

	InitCLILogger("test", false)
	require.NotNil(t, CLILogger)

	require.NoError(t, SetLogLevel("warn"))
	assert.Equal(t, zap.WarnLevel, LogLevel())
	assert.False(t, CLILogger.Core().Enabled(zap.InfoLevel))

	assert.Error(t, SetLogLevel("nope"))
	assert.Equal(t, zap.WarnLevel, LogLevel())
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.Admission(OutcomeStarted)
	m.Admission(OutcomeStarted)
	m.Admission(OutcomeGlobalLimit)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues(OutcomeStarted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues(OutcomeGlobalLimit)))

	m.Jobs(3, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.liveJobs.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveJobs.WithLabelValues("suspended")))

	m.Archived(100, true)
	m.Archived(50, false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.archiveMoves.WithLabelValues("rename")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.archiveBytes))

	m.ArchiveFailures(0)
	m.ArchiveFailures(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.archiveFails))

	m.ArchivePending(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.archivePending))

	m.TickDuration("admission", 0.5)
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Admission(OutcomeStarted)
		m.Jobs(1, 1)
		m.Archived(1, true)
		m.ArchiveFailures(1)
		m.ArchivePending(1)
		m.TickDuration("archive", 1)
	})
}
