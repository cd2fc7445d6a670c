package admission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Spawned identifies a started worker.
type Spawned struct {
	PID     int
	LogPath string
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, argv []string) (Spawned, error)
}

// ExecSpawner starts workers as detached child processes. Each worker gets
// a fresh log file in LogDir receiving both stdout and stderr, and runs in
// its own process group so suspend and cancel reach its children.
type ExecSpawner struct {
	LogDir string
	Logger *zap.Logger

	now func() time.Time
}

func NewExecSpawner(logDir string, logger *zap.Logger) *ExecSpawner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecSpawner{LogDir: logDir, Logger: logger, now: time.Now}
}

// LogName returns a log file name that sorts by start time and cannot
// collide between two spawns in the same second.
func LogName(t time.Time) string {
	return t.Format("2006-01-02T15_04_05") + "-" + uuid.New().String()[:8] + ".log"
}

// Spawn starts argv and returns once the process is running. The worker is
// not tied to ctx: it keeps running when the supervisor exits.
func (s *ExecSpawner) Spawn(ctx context.Context, argv []string) (Spawned, error) {
	if len(argv) == 0 {
		return Spawned{}, errors.New("empty worker command")
	}
	if err := ctx.Err(); err != nil {
		return Spawned{}, err
	}
	if err := os.MkdirAll(s.LogDir, 0755); err != nil {
		return Spawned{}, fmt.Errorf("create log dir: %w", err)
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	logPath := filepath.Join(s.LogDir, LogName(now()))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return Spawned{}, fmt.Errorf("create worker log: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = os.Environ()
	detach(cmd)

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		_ = os.Remove(logPath)
		return Spawned{}, fmt.Errorf("start worker: %w", err)
	}
	// The child holds its own descriptor.
	_ = logFile.Close()

	pid := cmd.Process.Pid
	go func() {
		err := cmd.Wait()
		s.logger().Debug("Worker exited", zap.Int("pid", pid), zap.String("log", logPath), zap.Error(err))
	}()

	return Spawned{PID: pid, LogPath: logPath}, nil
}

func (s *ExecSpawner) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
