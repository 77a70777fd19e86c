package loop

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yarlson/lever/internal/run"
)

// CycleRecord is the audit record of one loop cycle.
type CycleRecord struct {
	// CycleID is the unique identifier for this cycle.
	CycleID string `json:"cycle_id"`

	// Cycle is the 1-based position of the cycle in its loop.
	Cycle int `json:"cycle"`

	// TaskID is the task the run worked on, when one was selected.
	TaskID string `json:"task_id,omitempty"`

	// RunID is the run directory name, when a run branch was created.
	RunID string `json:"run_id,omitempty"`

	// ExitCode is the run's exit code.
	ExitCode int `json:"exit_code"`

	// Decision is what the loop did with the exit code.
	Decision Decision `json:"decision"`

	// Message is the run's one-line outcome.
	Message string `json:"message,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// NewCycleRecord starts a record for the given cycle.
func NewCycleRecord(cycle int, now time.Time) *CycleRecord {
	return &CycleRecord{
		CycleID:   GenerateCycleID(),
		Cycle:     cycle,
		StartTime: now,
	}
}

// Duration returns the duration of the cycle.
func (r *CycleRecord) Duration() time.Duration {
	if r.StartTime.IsZero() || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Complete fills the record from the run result.
func (r *CycleRecord) Complete(res run.Result, d Decision, now time.Time) {
	r.TaskID = res.TaskID
	r.RunID = res.RunID
	r.ExitCode = res.ExitCode
	r.Message = res.Message
	r.Decision = d
	r.EndTime = now
}

// GenerateCycleID generates a unique cycle ID.
func GenerateCycleID() string {
	return uuid.New().String()[:8]
}

// SaveRecord writes a cycle record to dir and returns its path.
func SaveRecord(dir string, record *CycleRecord) (string, error) {
	if record == nil {
		return "", errors.New("record cannot be nil")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create loop directory: %w", err)
	}

	name := fmt.Sprintf("cycle-%s-%s.json", record.StartTime.UTC().Format("20060102T150405Z"), record.CycleID)
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write record: %w", err)
	}

	return path, nil
}

// LoadRecord loads a cycle record from a file.
func LoadRecord(path string) (*CycleRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var record CycleRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return &record, nil
}

// LoadRecords loads every cycle record in dir, oldest first. A missing
// directory yields no records.
func LoadRecords(dir string) ([]*CycleRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read loop directory: %w", err)
	}

	var records []*CycleRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "cycle-") || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		rec, err := LoadRecord(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartTime.Before(records[j].StartTime)
	})
	return records, nil
}
