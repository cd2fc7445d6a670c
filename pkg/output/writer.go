package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits loop events. Implementations must be safe for concurrent
// use; each Write* call emits exactly one line.
type Writer interface {
	WriteAdmission(ctx context.Context, rec *AdmissionRecord) error
	WriteTransfer(ctx context.Context, rec *TransferRecord) error
	WriteArchiveWait(ctx context.Context, rec *ArchiveWaitRecord) error
	WriteError(ctx context.Context, rec *ErrorRecord) error
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
// Writes are serialized so lines never interleave.
type JSONLWriter struct {
	w    io.Writer
	loop string
	host string
	now  func() time.Time

	mu     sync.Mutex
	closed bool
}

var _ Writer = (*JSONLWriter)(nil)

// NewJSONLWriter returns a writer stamping every record with loop and host.
func NewJSONLWriter(w io.Writer, loop, host string) *JSONLWriter {
	return &JSONLWriter{w: w, loop: loop, host: host, now: time.Now}
}

func (jw *JSONLWriter) WriteAdmission(ctx context.Context, rec *AdmissionRecord) error {
	return jw.writeRecord(ctx, TypeAdmission, rec)
}

func (jw *JSONLWriter) WriteTransfer(ctx context.Context, rec *TransferRecord) error {
	return jw.writeRecord(ctx, TypeTransfer, rec)
}

func (jw *JSONLWriter) WriteArchiveWait(ctx context.Context, rec *ArchiveWaitRecord) error {
	return jw.writeRecord(ctx, TypeArchiveWait, rec)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

// Close marks the writer closed. The underlying writer is not closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return ErrWriterClosed
	}

	line, err := json.Marshal(Record{
		Type: recordType,
		TS:   jw.now().UTC(),
		Loop: jw.loop,
		Host: jw.host,
		Data: payload,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	if err := writeAll(jw.w, append(line, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll loops over short writes so a line is never truncated.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
