package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const copyChunk = 1 << 20

// Moved describes a completed transfer.
type Moved struct {
	Src      string        `json:"src"`
	Dst      string        `json:"dst"`
	Bytes    int64         `json:"bytes"`
	Renamed  bool          `json:"renamed"`
	Duration time.Duration `json:"duration_ns"`
}

// Mover moves a finished plot into a destination directory.
type Mover interface {
	Move(ctx context.Context, src, dstDir string) (Moved, error)
}

// FileMover renames within a filesystem and copies across filesystems.
//
// A copy lands in a hidden temp file next to the final name, is synced and
// size-checked, then renamed into place; the source is removed last. A
// failed copy never leaves a partial plot under the final name.
type FileMover struct {
	limiter *rate.Limiter
}

// NewFileMover returns a mover. bytesPerSecond of 0 disables bandwidth
// limiting.
func NewFileMover(bytesPerSecond int64) *FileMover {
	m := &FileMover{}
	if bytesPerSecond > 0 {
		burst := copyChunk
		if bytesPerSecond < int64(burst) {
			burst = int(bytesPerSecond)
		}
		m.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}
	return m
}

func (m *FileMover) Move(ctx context.Context, src, dstDir string) (Moved, error) {
	start := time.Now()
	dst := filepath.Join(dstDir, filepath.Base(src))

	st, err := os.Stat(src)
	if err != nil {
		return Moved{}, &TransferError{Src: src, Dst: dst, Op: "stat", Err: err}
	}
	res := Moved{Src: src, Dst: dst, Bytes: st.Size()}
	if dt, err := os.Lstat(dst); err == nil {
		// A full-size copy is what an earlier move leaves behind when it
		// could not remove the source; finish that move.
		if !dt.Mode().IsRegular() || dt.Size() != st.Size() || os.SameFile(st, dt) {
			return Moved{}, &TransferError{Src: src, Dst: dst, Op: "rename", Err: os.ErrExist}
		}
		if err := os.Remove(src); err != nil {
			return Moved{}, &TransferError{Src: src, Dst: dst, Op: "cleanup", Err: err}
		}
		res.Duration = time.Since(start)
		return res, nil
	}

	err = os.Rename(src, dst)
	if err == nil {
		res.Renamed = true
		res.Duration = time.Since(start)
		return res, nil
	}
	if !isCrossDevice(err) {
		return Moved{}, classify(src, dst, "rename", err)
	}

	if err := m.copyFile(ctx, src, dst, st.Size()); err != nil {
		return Moved{}, err
	}
	if err := os.Remove(src); err != nil {
		return Moved{}, &TransferError{Src: src, Dst: dst, Op: "cleanup", Err: err}
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (m *FileMover) copyFile(ctx context.Context, src, dst string, size int64) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return &TransferError{Src: src, Dst: dst, Op: "copy", Err: err}
	}
	defer func() { _ = in.Close() }()

	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+"."+uuid.New().String()+".tmp")
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return classify(src, dst, "copy", err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	var w io.Writer = out
	if m.limiter != nil {
		w = &limitedWriter{ctx: ctx, w: out, limiter: m.limiter}
	}
	buf := make([]byte, copyChunk)
	if _, err = io.CopyBuffer(w, &ctxReader{ctx: ctx, r: in}, buf); err != nil {
		return classify(src, dst, "copy", err)
	}
	if err = out.Sync(); err != nil {
		return classify(src, dst, "copy", err)
	}
	if err = out.Close(); err != nil {
		return classify(src, dst, "copy", err)
	}

	st, err := os.Stat(tmp)
	if err != nil {
		return &TransferError{Src: src, Dst: dst, Op: "verify", Err: err}
	}
	if st.Size() != size {
		err = &SizeMismatchError{Path: tmp, Expected: size, Got: st.Size()}
		return &TransferError{Src: src, Dst: dst, Op: "verify", Err: err}
	}
	if err = os.Rename(tmp, dst); err != nil {
		return classify(src, dst, "rename", err)
	}
	return nil
}

// classify maps out-of-space failures onto ErrNoSpace.
func classify(src, dst, op string, err error) error {
	if isNoSpace(err) {
		return fmt.Errorf("%s %s: %w: %w", op, dst, ErrNoSpace, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TransferError{Src: src, Dst: dst, Op: op, Err: err}
}

type limitedWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	written := 0
	burst := l.limiter.Burst()
	for written < len(p) {
		n := len(p) - written
		if n > burst {
			n = burst
		}
		if err := l.limiter.WaitN(l.ctx, n); err != nil {
			return written, err
		}
		m, err := l.w.Write(p[written : written+n])
		written += m
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
