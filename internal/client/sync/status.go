package sync

import (
	"sync"
	"time"
)

// State names where the orchestrator is inside a cycle.
type State int

const (
	StateIdle State = iota
	StateCollecting
	StateClassifying
	StatePushing
	StatePulling
	StateAwaitingChoice
	StateCommitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateClassifying:
		return "classifying"
	case StatePushing:
		return "pushing"
	case StatePulling:
		return "pulling"
	case StateAwaitingChoice:
		return "awaiting-choice"
	case StateCommitting:
		return "committing"
	default:
		return "unknown"
	}
}

// ProfileStatus is the read-only view of an engine exposed to status
// displays. Readers must tolerate a profile that has never synced.
type ProfileStatus struct {
	ProfileID      string    `json:"profile_id"`
	Profile        string    `json:"profile"`
	State          string    `json:"state"`
	LastDecision   string    `json:"last_decision,omitempty"`
	LastResolution string    `json:"last_resolution,omitempty"`
	LastCommitted  bool      `json:"last_committed"`
	LastError      string    `json:"last_error,omitempty"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	LastDurationMS int64     `json:"last_duration_ms"`
}

type status struct {
	mu             sync.RWMutex
	profileID      string
	profileName    string
	state          State
	lastDecision   string
	lastResolution string
	lastCommitted  bool
	lastError      string
	lastCycleAt    time.Time
	lastDuration   time.Duration
}

func newStatus(profileID, profileName string) *status {
	return &status{profileID: profileID, profileName: profileName}
}

func (s *status) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *status) finishCycle(res *CycleResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastCycleAt = time.Now()
	s.lastError = ""
	s.lastDecision = ""
	s.lastResolution = ""
	s.lastCommitted = false

	if err != nil {
		s.lastError = err.Error()
	}
	if res != nil {
		s.lastDecision = res.Decision.String()
		if res.Decision == DecisionConflict {
			s.lastResolution = res.Resolution.String()
		}
		s.lastCommitted = res.Committed
		s.lastDuration = res.Duration
	}
}

func (s *status) view() ProfileStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ProfileStatus{
		ProfileID:      s.profileID,
		Profile:        s.profileName,
		State:          s.state.String(),
		LastDecision:   s.lastDecision,
		LastResolution: s.lastResolution,
		LastCommitted:  s.lastCommitted,
		LastError:      s.lastError,
		LastCycleAt:    s.lastCycleAt,
		LastDurationMS: s.lastDuration.Milliseconds(),
	}
}
