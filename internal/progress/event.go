package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageRunError       Stage = "RUN_ERROR"
	StageKeyStart       Stage = "KEY_START"
	StageKeySkipped     Stage = "KEY_SKIPPED"
	StageKeyEmpty       Stage = "KEY_EMPTY"
	StagePageStored     Stage = "PAGE_STORED"
	StageKeyCommitted   Stage = "KEY_COMMITTED"
	StageServiceRestart Stage = "SERVICE_RESTART"
)

// Event captures one scrape milestone.
type Event struct {
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Key is the query key for key and page stages.
	Key string
	// KeyIndex is the 0-based position of Key in the key space; KeyCount its size.
	KeyIndex int
	KeyCount int
	Offset   int
	// Total is the result count reported by the service for Key.
	Total int
	// Records counts rows inserted by a page, or committed by a key.
	Records int
	Dur     time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageServiceRestart:
	case StageKeyStart, StageKeySkipped, StageKeyEmpty, StageKeyCommitted:
		if e.Key == "" {
			return fmt.Errorf("%s requires key", e.Stage)
		}
	case StagePageStored:
		if e.Key == "" {
			return errors.New("page stored requires key")
		}
		if e.Offset < 0 {
			return errors.New("offset must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run id to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
