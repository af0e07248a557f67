package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/opensaves/savesync/internal/backend"
	"github.com/opensaves/savesync/internal/utils"
)

// ErrCycleRunning is returned when a cycle is requested while another one is
// still in flight for the same profile.
var ErrCycleRunning = errors.New("sync cycle already running")

// EngineConfig wires one engine to one save profile.
type EngineConfig struct {
	ProfileID   string
	ProfileName string
	LocalRoot   string
	RemotePath  string
	Transfer    backend.Transfer
	Records     *RecordStore
	Decider     DecisionProvider
	// Ignore overrides the snapshot filter; built from the save
	// directory's rules when nil.
	Ignore *IgnoreList
	// Journal is optional; cycles are logged when set.
	Journal *CycleJournal
}

// CycleResult summarizes one completed sync cycle.
type CycleResult struct {
	Decision   Decision
	Resolution Resolution
	Committed  bool
	Duration   time.Duration
}

// Engine drives one full sync cycle per profile: collect both snapshots,
// classify, execute the transfer or ask the user, then atomically commit the
// new fingerprint record. Any failure aborts without touching the record,
// so every cycle is retryable from the same last-good baseline.
type Engine struct {
	cfg       EngineConfig
	collector *Collector
	status    *status
	muSync    sync.Mutex
	// lock extends mutual exclusion across processes: the daemon and an
	// interactive sync must never cycle the same profile concurrently
	lock *flock.Flock
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	switch {
	case cfg.ProfileID == "":
		return nil, errors.New("engine: profile id is required")
	case cfg.LocalRoot == "":
		return nil, errors.New("engine: local root is required")
	case cfg.RemotePath == "":
		return nil, errors.New("engine: remote path is required")
	case cfg.Transfer == nil:
		return nil, errors.New("engine: transfer backend is required")
	case cfg.Records == nil:
		return nil, errors.New("engine: record store is required")
	case cfg.Decider == nil:
		return nil, errors.New("engine: decision provider is required")
	}
	if cfg.ProfileName == "" {
		cfg.ProfileName = cfg.ProfileID
	}

	ignore := cfg.Ignore
	if ignore == nil {
		ignore = NewIgnoreList(cfg.LocalRoot)
		ignore.Load()
	}

	// the record dir hosts the profile lock file as well
	if err := utils.EnsureDir(cfg.Records.dir); err != nil {
		return nil, fmt.Errorf("engine: ensure record dir: %w", err)
	}

	return &Engine{
		cfg:       cfg,
		collector: NewCollector(cfg.LocalRoot, cfg.RemotePath, cfg.Transfer, ignore),
		status:    newStatus(cfg.ProfileID, cfg.ProfileName),
		lock:      flock.New(cfg.Records.lockPath(cfg.ProfileID)),
	}, nil
}

// Status returns a read-only view for status displays.
func (e *Engine) Status() ProfileStatus {
	return e.status.view()
}

// RunCycle executes one sync cycle end to end. At most one cycle runs per
// profile, across processes; a concurrent call fails fast with
// ErrCycleRunning.
func (e *Engine) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !e.muSync.TryLock() {
		return nil, ErrCycleRunning
	}
	defer e.muSync.Unlock()

	locked, err := e.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire profile lock: %w", err)
	}
	if !locked {
		return nil, ErrCycleRunning
	}
	defer e.lock.Unlock()

	start := time.Now()
	result, err := e.runCycle(ctx)
	if result == nil {
		result = &CycleResult{}
	}
	result.Duration = time.Since(start)

	e.status.finishCycle(result, err)
	e.journalCycle(result, err, start)

	if err != nil {
		slog.Error("sync cycle failed", "profile", e.cfg.ProfileName, "decision", result.Decision, "took", result.Duration, "error", err)
	} else {
		slog.Info("sync cycle", "profile", e.cfg.ProfileName, "decision", result.Decision, "committed", result.Committed, "took", result.Duration)
	}
	return result, err
}

func (e *Engine) runCycle(ctx context.Context) (*CycleResult, error) {
	e.status.setState(StateCollecting)
	defer e.status.setState(StateIdle)

	rec, err := e.cfg.Records.Load(e.cfg.ProfileID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, fmt.Errorf("load record: %w", err)
	}

	local, err := e.collector.CollectLocal()
	if err != nil {
		if rec != nil || !errors.Is(err, ErrSaveDirNotFound) {
			// a profile that has synced before suddenly has no save
			// dir (unmounted drive, removed prefix): abort rather
			// than mirror an empty side over the remote
			return nil, fmt.Errorf("collect local: %w", err)
		}
		// never played on this device: an empty local side, so a
		// non-empty remote seeds it
		local = NewSnapshot(nil)
	}
	remote, err := e.collector.CollectRemote(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect remote: %w", err)
	}

	e.status.setState(StateClassifying)
	decision := Classify(local, remote, rec)
	result := &CycleResult{Decision: decision}

	switch decision {
	case DecisionNoChange:
		// refresh the record when both sides converged to identical
		// content on their own, so a later one-sided edit is not
		// misread as a two-sided divergence
		if e.needsConvergenceCommit(local, remote, rec) {
			e.status.setState(StateCommitting)
			if err := e.commit(local, remote); err != nil {
				return result, err
			}
			result.Committed = true
		}
		return result, nil

	case DecisionPushLocal:
		// a push that deletes remote files first snapshots the remote
		// side, so a locally wiped save never destroys the only copy
		if losesPaths(local, remote) {
			if err := e.backupRemoteSide(ctx); err != nil {
				return result, err
			}
		}
		e.status.setState(StatePushing)
		if err := e.cfg.Transfer.Upload(ctx, e.cfg.LocalRoot, e.cfg.RemotePath); err != nil {
			return result, fmt.Errorf("push: %w", err)
		}

	case DecisionPullRemote:
		if losesPaths(remote, local) {
			if err := e.backupLocalSide(); err != nil {
				return result, err
			}
		}
		e.status.setState(StatePulling)
		if err := utils.EnsureDir(e.cfg.LocalRoot); err != nil {
			return result, fmt.Errorf("pull: ensure local dir: %w", err)
		}
		if err := e.cfg.Transfer.Download(ctx, e.cfg.RemotePath, e.cfg.LocalRoot); err != nil {
			return result, fmt.Errorf("pull: %w", err)
		}

	case DecisionConflict:
		e.status.setState(StateAwaitingChoice)
		conflict := &ConflictCase{
			Profile:       e.cfg.ProfileName,
			Local:         local,
			Remote:        remote,
			LocalSummary:  newSideSummary(local),
			RemoteSummary: newSideSummary(remote),
		}

		resolution, err := e.cfg.Decider.Resolve(ctx, conflict)
		if err != nil {
			return result, fmt.Errorf("resolve conflict: %w", err)
		}
		result.Resolution = resolution

		if resolution == ResolutionCancel {
			// clean no-op: the divergence persists and will
			// reclassify identically on the next trigger
			slog.Info("conflict resolution cancelled", "profile", e.cfg.ProfileName)
			return result, nil
		}

		if err := e.backupBeforeResolve(ctx); err != nil {
			return result, err
		}

		switch resolution {
		case ResolutionKeepLocal:
			e.status.setState(StatePushing)
			if err := e.cfg.Transfer.Upload(ctx, e.cfg.LocalRoot, e.cfg.RemotePath); err != nil {
				return result, fmt.Errorf("push resolved: %w", err)
			}
		case ResolutionKeepRemote:
			e.status.setState(StatePulling)
			if err := utils.EnsureDir(e.cfg.LocalRoot); err != nil {
				return result, fmt.Errorf("pull resolved: ensure local dir: %w", err)
			}
			if err := e.cfg.Transfer.Download(ctx, e.cfg.RemotePath, e.cfg.LocalRoot); err != nil {
				return result, fmt.Errorf("pull resolved: %w", err)
			}
		}
	}

	// transfer succeeded: observe both sides as they are now and commit
	e.status.setState(StateCommitting)
	if err := e.commitCurrent(ctx); err != nil {
		return result, err
	}
	result.Committed = true
	return result, nil
}

// needsConvergenceCommit is true when classification said NoChange but the
// stored record does not reflect the current (identical) content yet.
func (e *Engine) needsConvergenceCommit(local, remote *Snapshot, rec *Record) bool {
	if local.Empty() && remote.Empty() {
		return false
	}
	return rec == nil ||
		rec.LocalFingerprint != local.Fingerprint() ||
		rec.RemoteFingerprint != remote.Fingerprint()
}

// commitCurrent re-collects both sides after a transfer and persists their
// fingerprints. A failure here leaves the old record in place; the next
// cycle then re-observes both sides as already identical and commits.
func (e *Engine) commitCurrent(ctx context.Context) error {
	local, err := e.collector.CollectLocal()
	if err != nil {
		return fmt.Errorf("commit: recollect local: %w", err)
	}
	remote, err := e.collector.CollectRemote(ctx)
	if err != nil {
		return fmt.Errorf("commit: recollect remote: %w", err)
	}

	if !local.ContentEqual(remote) {
		// some providers report checksums with a lag; the record still
		// stores what each side actually looks like, so the worst case
		// is a redundant transfer next cycle, never corruption
		slog.Warn("post-transfer snapshots differ", "profile", e.cfg.ProfileName, "localFiles", local.Len(), "remoteFiles", remote.Len())
	}

	return e.commit(local, remote)
}

func (e *Engine) commit(local, remote *Snapshot) error {
	rec := &Record{
		ProfileID:         e.cfg.ProfileID,
		LocalFingerprint:  local.Fingerprint(),
		RemoteFingerprint: remote.Fingerprint(),
		FileCount:         local.Len(),
		TotalSize:         local.TotalSize(),
		SyncedAt:          time.Now().UTC(),
	}
	if err := e.cfg.Records.Save(rec); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func (e *Engine) journalCycle(result *CycleResult, err error, start time.Time) {
	if e.cfg.Journal == nil {
		return
	}

	entry := &CycleEntry{
		ProfileID:  e.cfg.ProfileID,
		Decision:   result.Decision.String(),
		Committed:  result.Committed,
		StartedAt:  start.UTC().Format(time.RFC3339),
		DurationMS: result.Duration.Milliseconds(),
	}
	if result.Decision == DecisionConflict {
		entry.Resolution = result.Resolution.String()
	}
	if err != nil {
		entry.Error = err.Error()
	}

	if jerr := e.cfg.Journal.Append(entry); jerr != nil {
		slog.Warn("failed to journal cycle", "profile", e.cfg.ProfileName, "error", jerr)
	}
}
