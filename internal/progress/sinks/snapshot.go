package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/telefonbuch-scraper/internal/progress"
)

// Run statuses reported in a Snapshot.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Snapshot is the latest known state of a scrape run.
type Snapshot struct {
	RunID      string     `json:"run_id,omitempty"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	CurrentKey string `json:"current_key,omitempty"`
	KeyIndex   int    `json:"key_index"`
	KeyCount   int    `json:"key_count"`
	Offset     int    `json:"offset"`
	Total      int    `json:"total"`

	KeysCommitted int   `json:"keys_committed"`
	KeysSkipped   int   `json:"keys_skipped"`
	KeysEmpty     int   `json:"keys_empty"`
	Pages         int64 `json:"pages"`
	Records       int64 `json:"records"`
	Restarts      int   `json:"restarts"`

	Error string `json:"error,omitempty"`
}

// SnapshotSink folds events into a Snapshot for the progress endpoint.
type SnapshotSink struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewSnapshotSink returns an idle snapshot.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{snap: Snapshot{Status: StatusIdle}}
}

// Snapshot returns a copy of the current state.
func (s *SnapshotSink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Consume applies the batch in order.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *SnapshotSink) apply(evt progress.Event) {
	ts := evt.TS
	if evt.Stage == progress.StageRunStart {
		s.snap = Snapshot{
			RunID:     evt.RunUUID().String(),
			Status:    StatusRunning,
			StartedAt: &ts,
			KeyCount:  evt.KeyCount,
		}
	}
	s.snap.UpdatedAt = &ts

	switch evt.Stage {
	case progress.StageRunDone:
		s.snap.Status = StatusDone
		s.snap.FinishedAt = &ts
	case progress.StageRunError:
		s.snap.Status = StatusError
		s.snap.FinishedAt = &ts
		s.snap.Error = evt.Note
	case progress.StageKeyStart:
		s.snap.CurrentKey = evt.Key
		s.snap.KeyIndex = evt.KeyIndex
		s.snap.KeyCount = evt.KeyCount
		s.snap.Offset = 0
		s.snap.Total = 0
	case progress.StageKeySkipped:
		s.snap.KeysSkipped++
	case progress.StageKeyEmpty:
		s.snap.KeysEmpty++
	case progress.StagePageStored:
		s.snap.Offset = evt.Offset
		s.snap.Total = evt.Total
		s.snap.Pages++
		s.snap.Records += int64(evt.Records)
	case progress.StageKeyCommitted:
		s.snap.KeysCommitted++
	case progress.StageServiceRestart:
		s.snap.Restarts++
	}
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
