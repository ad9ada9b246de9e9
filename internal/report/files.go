package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/roach88/phasetrace/internal/moment"
	"github.com/roach88/phasetrace/internal/phase"
)

// WriteAll writes every report of one run into dir, creating it if
// needed. Existing files are replaced.
func WriteAll(dir string, moments []moment.Moment, outputs []phase.Output) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{TimelineFile, func(w io.Writer) error { return WriteTimeline(w, moments) }},
		{PhasesFile, func(w io.Writer) error { return WritePhases(w, outputs) }},
		{SequencesFile, func(w io.Writer) error { return WriteSequences(w, moments) }},
		{SendPacketsFile, func(w io.Writer) error { return WriteSendPackets(w, moments) }},
		{SummaryFile, func(w io.Writer) error { return WriteSummary(w, Summarize(outputs)) }},
	}
	for _, f := range files {
		if err := writeFile(filepath.Join(dir, f.name), f.write); err != nil {
			return err
		}
	}
	return nil
}

// WriteTrafficFile writes background traffic into dir in the timeline
// layout. dir must exist.
func WriteTrafficFile(dir string, traffic []moment.Moment) error {
	return writeFile(filepath.Join(dir, TrafficFile), func(w io.Writer) error {
		return WriteTimeline(w, traffic)
	})
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}
