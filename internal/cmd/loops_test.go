package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/plotherd/pkg/admission"
	"github.com/3leaps/plotherd/pkg/archive"
	"github.com/3leaps/plotherd/pkg/output"
)

func recordTypes(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	var types []string
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec output.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		types = append(types, rec.Type)
	}
	return types
}

func TestWriteAdmissionEvent(t *testing.T) {
	var buf bytes.Buffer
	w := output.NewJSONLWriter(&buf, "admission", "test")
	ctx := context.Background()

	writeAdmissionEvent(ctx, w, admission.Decision{Started: true, PID: 9, TmpDir: "/tmp1"}, nil)
	writeAdmissionEvent(ctx, w, admission.Decision{WaitReason: admission.ReasonGlobalStagger}, nil)
	writeAdmissionEvent(ctx, w, admission.Decision{}, fmt.Errorf("list jobs: %w", assert.AnError))

	assert.Equal(t, []string{output.TypeAdmission, output.TypeAdmission, output.TypeError}, recordTypes(t, &buf))
}

func TestWriteArchiveEvents(t *testing.T) {
	var buf bytes.Buffer
	w := output.NewJSONLWriter(&buf, "archive", "test")
	ctx := context.Background()

	writeArchiveEvents(ctx, w, archive.Result{Moved: []archive.Moved{
		{Src: "/dst1/a.plot", Dst: "/farm1/a.plot"},
		{Src: "/dst2/b.plot", Dst: "/farm2/b.plot"},
	}}, nil)
	writeArchiveEvents(ctx, w, archive.Result{WaitReason: "no plots ready"}, assert.AnError)

	assert.Equal(t, []string{
		output.TypeTransfer, output.TypeTransfer, output.TypeArchiveWait, output.TypeError,
	}, recordTypes(t, &buf))
}

func TestOpenEvents(t *testing.T) {
	w, closeFn, err := openEvents("", "admission")
	require.NoError(t, err)
	assert.Nil(t, w)
	closeFn()

	path := filepath.Join(t.TempDir(), "events.jsonl")
	for i := 0; i < 2; i++ {
		w, closeFn, err = openEvents(path, "archive")
		require.NoError(t, err)
		require.NoError(t, w.WriteArchiveWait(context.Background(), &output.ArchiveWaitRecord{Reason: "no plots ready"}))
		closeFn()
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{output.TypeArchiveWait, output.TypeArchiveWait}, recordTypes(t, bytes.NewBuffer(data)))

	_, _, err = openEvents(filepath.Join(t.TempDir(), "missing", "events.jsonl"), "archive")
	assert.Error(t, err)
}

func TestArchiveCommandDescribesRoundRobin(t *testing.T) {
	assert.Contains(t, archiveCmd.Long, "round-robin")
	assert.NotContains(t, archiveCmd.Long, "most free space")
}
