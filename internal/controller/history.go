package controller

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/dgnsrekt/flowrec/internal/cdpcontrol"
	"github.com/dgnsrekt/flowrec/internal/replay"
	"github.com/dgnsrekt/flowrec/internal/snapshot"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// RunJournal keeps the history of finished replays.
type RunJournal interface {
	Write(record any) error
	Recent(limit int) ([]json.RawMessage, error)
}

// SnapshotStore keeps failure screenshots keyed by run id.
type SnapshotStore interface {
	Save(meta snapshot.Meta, image []byte) error
	Get(id string) (snapshot.Meta, error)
	List() ([]snapshot.Meta, error)
	ReadImage(id string) ([]byte, string, error)
	Delete(id string) error
}

func (s *Service) record(res RunResult) {
	if s.runs == nil {
		return
	}
	if err := s.runs.Write(res); err != nil {
		slog.Warn("run journal write failed", "run_id", res.RunID, "error", err)
	}
}

// RecentRuns returns finished replays, newest first. A non-positive limit
// means the default.
func (s *Service) RecentRuns(limit int) ([]RunResult, error) {
	if s.runs == nil {
		return []RunResult{}, nil
	}
	if limit <= 0 {
		limit = defaultRunLimit
	}
	limit = min(limit, maxRunLimit)
	raw, err := s.runs.Recent(limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunResult, 0, len(raw))
	for _, line := range raw {
		var res RunResult
		if err := json.Unmarshal(line, &res); err != nil {
			slog.Debug("run journal entry skipped", "error", err)
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *Service) saveSnapshot(name, runID string, stepErr *replay.StepError) string {
	if s.snaps == nil || len(stepErr.Screenshot) == 0 {
		return ""
	}
	meta := snapshot.Meta{ID: runID, Flow: name, StepIndex: stepErr.Index, Error: stepErr.Error()}
	if err := s.snaps.Save(meta, stepErr.Screenshot); err != nil {
		slog.Warn("failure screenshot not saved", "run_id", runID, "error", err)
		return ""
	}
	return runID
}

func snapshotError(id string, err error) error {
	if errors.Is(err, snapshot.ErrNotFound) {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeSnapshotNotFound, Message: "snapshot " + id + " not found", Cause: err}
	}
	var invalid *snapshot.InvalidIDError
	if errors.As(err, &invalid) {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: err.Error(), Cause: err}
	}
	return err
}

func (s *Service) ListSnapshots() ([]snapshot.Meta, error) {
	if s.snaps == nil {
		return []snapshot.Meta{}, nil
	}
	return s.snaps.List()
}

func (s *Service) GetSnapshot(id string) (snapshot.Meta, error) {
	if s.snaps == nil {
		return snapshot.Meta{}, snapshotError(id, snapshot.ErrNotFound)
	}
	meta, err := s.snaps.Get(id)
	if err != nil {
		return snapshot.Meta{}, snapshotError(id, err)
	}
	return meta, nil
}

// ReadSnapshotImage returns the image bytes and their format.
func (s *Service) ReadSnapshotImage(id string) ([]byte, string, error) {
	if s.snaps == nil {
		return nil, "", snapshotError(id, snapshot.ErrNotFound)
	}
	data, format, err := s.snaps.ReadImage(id)
	if err != nil {
		return nil, "", snapshotError(id, err)
	}
	return data, format, nil
}

func (s *Service) DeleteSnapshot(id string) error {
	if s.snaps == nil {
		return snapshotError(id, snapshot.ErrNotFound)
	}
	if err := s.snaps.Delete(id); err != nil {
		return snapshotError(id, err)
	}
	return nil
}
