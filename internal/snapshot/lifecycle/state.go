package lifecycle

import (
	"fmt"

	"github.com/yndnr/memsnap-go/internal/core/domain"
)

// State is the snapshot lifecycle state of one instance.
type State int

const (
	StateInit State = iota
	StateNoSnapshot
	StateTestSnapshot
	StateRestorable
	StateRestored
	StateBootstrapped
	StateCapturePending
	StateCaptured
	StateUploadDeferred
	StateUploaded
	StateUploadFailed
)

var stateNames = [...]string{
	StateInit:           "init",
	StateNoSnapshot:     "no_snapshot",
	StateTestSnapshot:   "test_snapshot",
	StateRestorable:     "restorable",
	StateRestored:       "restored",
	StateBootstrapped:   "bootstrapped",
	StateCapturePending: "capture_pending",
	StateCaptured:       "captured",
	StateUploadDeferred: "upload_deferred",
	StateUploaded:       "uploaded",
	StateUploadFailed:   "upload_failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var transitions = map[State][]State{
	StateInit:           {StateNoSnapshot, StateTestSnapshot, StateRestorable},
	StateNoSnapshot:     {StateBootstrapped},
	StateTestSnapshot:   {StateBootstrapped},
	StateRestorable:     {StateRestored},
	StateBootstrapped:   {StateCapturePending},
	StateCapturePending: {StateCaptured},
	StateCaptured:       {StateUploadDeferred},
	StateUploadDeferred: {StateUploaded, StateUploadFailed},
}

// CanTransition reports whether from → to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return domain.ErrInvalidTransition.WithDetails(fmt.Sprintf("%s -> %s", from, to))
	}
	return nil
}
