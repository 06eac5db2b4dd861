// Package timing records the time of the steps of a federation run, relative
// to the start of the run, and exports them as CSV rows (step, timestamp).
package timing

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/xerrors"
)

// Header is the first row of an export.
var Header = []string{"step", "timestamp"}

// Step is the time of a step in seconds since the start of the run.
type Step struct {
	Name    string
	Elapsed time.Duration
}

// Recorder collects the steps of a run. It is safe for concurrent use.
type Recorder struct {
	sync.Mutex

	start time.Time
	steps []Step
	now   func() time.Time
}

// NewRecorder returns a recorder whose run starts now.
func NewRecorder() *Recorder {
	return newRecorder(time.Now)
}

func newRecorder(now func() time.Time) *Recorder {
	return &Recorder{
		start: now(),
		now:   now,
	}
}

// Reset restarts the run and forgets the recorded steps.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}

	r.Lock()
	defer r.Unlock()

	r.start = r.now()
	r.steps = nil
}

// Record appends the step with the time elapsed since the start of the run.
// A nil recorder ignores the step.
func (r *Recorder) Record(name string) {
	if r == nil {
		return
	}

	r.Lock()
	defer r.Unlock()

	r.steps = append(r.steps, Step{Name: name, Elapsed: r.now().Sub(r.start)})
}

// Steps returns the recorded steps in order.
func (r *Recorder) Steps() []Step {
	if r == nil {
		return nil
	}

	r.Lock()
	defer r.Unlock()

	return append([]Step{}, r.steps...)
}

// WriteCSV writes the header and the steps as CSV rows.
func (r *Recorder) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	err := writer.Write(Header)
	if err != nil {
		return xerrors.Errorf("failed to write header: %v", err)
	}

	for _, step := range r.Steps() {
		seconds := strconv.FormatFloat(step.Elapsed.Seconds(), 'f', -1, 64)

		err = writer.Write([]string{step.Name, seconds})
		if err != nil {
			return xerrors.Errorf("failed to write step: %v", err)
		}
	}

	writer.Flush()

	err = writer.Error()
	if err != nil {
		return xerrors.Errorf("failed to flush: %v", err)
	}

	return nil
}

// Save exports the steps to the file at the given path, which is created or
// truncated.
func (r *Recorder) Save(path string) error {
	err := os.MkdirAll(filepath.Dir(path), os.ModePerm)
	if err != nil {
		return xerrors.Errorf("failed to create folder: %v", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("failed to create file: %v", err)
	}

	defer file.Close()

	return r.WriteCSV(file)
}
