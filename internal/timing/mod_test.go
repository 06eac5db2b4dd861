package timing

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecorder_Record(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	rec := newRecorder(clock.Now)

	clock.advance(1500 * time.Millisecond)
	rec.Record("serviceAnnouncementSent")

	clock.advance(time.Second)
	rec.Record("bidOfferReceived")

	steps := rec.Steps()
	require.Len(t, steps, 2)
	require.Equal(t, "serviceAnnouncementSent", steps[0].Name)
	require.Equal(t, 1500*time.Millisecond, steps[0].Elapsed)
	require.Equal(t, 2500*time.Millisecond, steps[1].Elapsed)

	buffer := new(bytes.Buffer)
	require.NoError(t, rec.WriteCSV(buffer))
	require.Equal(t, "step,timestamp\nserviceAnnouncementSent,1.5\nbidOfferReceived,2.5\n", buffer.String())

	// The export is not mistaken for an io.WriterTo by io.Copy and friends.
	_, isWriterTo := interface{}(rec).(io.WriterTo)
	require.False(t, isWriterTo)

	rec.Reset()
	require.Empty(t, rec.Steps())

	var empty *Recorder
	empty.Record("ignored")
	require.Nil(t, empty.Steps())
}

func TestRecorder_Save(t *testing.T) {
	rec := NewRecorder()
	rec.Record("deploymentStart")

	path := filepath.Join(t.TempDir(), "runs", "provider.csv")

	require.NoError(t, rec.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "step,timestamp\ndeploymentStart,")

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	err = rec.Save(filepath.Join(file, "provider.csv"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to create folder: ")
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}
