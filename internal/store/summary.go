package store

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// TimeLayout is used for start/end columns
const TimeLayout = "2006-01-02 15:04:05.000000"

// SummaryHeader lists the summary log columns, in order
var SummaryHeader = []string{"experiment_name", "start_time", "end_time", "parameters_path", "output_path"}

// SummaryRow is one line of the summary log
type SummaryRow struct {
	RunID          string
	StartTime      time.Time
	EndTime        time.Time
	ParametersPath string
	OutputPath     string
}

func (r SummaryRow) record() []string {
	return []string{
		r.RunID,
		r.StartTime.Format(TimeLayout),
		r.EndTime.Format(TimeLayout),
		r.ParametersPath,
		r.OutputPath,
	}
}

// SummaryLog is the append-only experiments.csv of a base directory.
// Every Append is one open-append-close under an exclusive flock, so
// harness instances sharing a directory neither interleave rows nor write
// the header twice.
type SummaryLog struct {
	path string
}

// NewSummaryLog returns the summary log of base directory dir
func NewSummaryLog(dir string) *SummaryLog {
	return &SummaryLog{path: filepath.Join(dir, SummaryFile)}
}

// Path returns the log file path
func (s *SummaryLog) Path() string {
	return s.path
}

// Append writes row, preceded by the header when the file is empty
func (s *SummaryLog) Append(row SummaryRow) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open summary log: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to lock summary log: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat summary log: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if info.Size() == 0 {
		if err := w.Write(SummaryHeader); err != nil {
			return err
		}
	}
	if err := w.Write(row.record()); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	// One write per row keeps the append atomic with respect to other appenders.
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append summary row: %w", err)
	}
	return nil
}

// ReadAll returns every row (header excluded)
func (s *SummaryLog) ReadAll() ([][]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse summary log: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[1:], nil
}
