// Package output writes loop events as JSONL.
//
// Each line is a typed envelope with a type-specific payload, so a
// consumer can tail the stream and parse every line on its own.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record types. The suffix is the payload version.
const (
	TypeAdmission   = "plotherd.admission.v1"
	TypeTransfer    = "plotherd.transfer.v1"
	TypeArchiveWait = "plotherd.archive_wait.v1"
	TypeError       = "plotherd.error.v1"
)

// Record is the envelope for every line.
type Record struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`

	// Loop names the emitting loop ("admission" or "archive").
	Loop string `json:"loop"`

	// Host is the machine running the loop.
	Host string `json:"host,omitempty"`

	Data json.RawMessage `json:"data"`
}

// AdmissionRecord is one admission tick's decision.
type AdmissionRecord struct {
	Started    bool     `json:"started"`
	WaitReason string   `json:"wait_reason,omitempty"`
	TmpDir     string   `json:"tmp_dir,omitempty"`
	DstDir     string   `json:"dst_dir,omitempty"`
	PID        int      `json:"pid,omitempty"`
	LogPath    string   `json:"log_path,omitempty"`
	Argv       []string `json:"argv,omitempty"`
	LiveJobs   int      `json:"live_jobs"`
}

// TransferRecord is one finished plot moved to an archive directory.
type TransferRecord struct {
	Src      string        `json:"src"`
	Dst      string        `json:"dst"`
	Bytes    int64         `json:"bytes"`
	Renamed  bool          `json:"renamed"`
	Duration time.Duration `json:"duration_ns"`
}

// ArchiveWaitRecord is an archive tick that moved nothing.
type ArchiveWaitRecord struct {
	Reason  string `json:"reason"`
	Pending int    `json:"pending"`
	Failed  int    `json:"failed,omitempty"`
}

// ErrorRecord is a tick failure.
type ErrorRecord struct {
	Message string `json:"message"`

	// SpawnFailure marks a worker that could not be started.
	SpawnFailure bool `json:"spawn_failure,omitempty"`
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("writer is closed")

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // "marshal_data", "marshal_record" or "write"
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
