package sync

// Decision is the outcome of classifying one sync cycle's situation.
type Decision int

const (
	// DecisionNoChange means both sides match the last synced state, or
	// converged to identical content on their own.
	DecisionNoChange Decision = iota
	// DecisionPushLocal means only the local side changed since the last
	// sync; upload it.
	DecisionPushLocal
	// DecisionPullRemote means only the remote side changed; download it.
	DecisionPullRemote
	// DecisionConflict means both sides diverged and a user choice is
	// required.
	DecisionConflict
)

func (d Decision) String() string {
	switch d {
	case DecisionNoChange:
		return "no-change"
	case DecisionPushLocal:
		return "push-local"
	case DecisionPullRemote:
		return "pull-remote"
	case DecisionConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Classify compares the current local and remote snapshots against the last
// known synchronized record and decides what this cycle should do. Pure and
// side-effect free.
//
// Content fingerprints are authoritative; modification timestamps never pick
// a side. Clock skew across devices and compat layers makes "newest wins"
// unsafe, so timestamps are only advisory metadata on conflict summaries.
//
// rec == nil is the first-sync case: a single non-empty side seeds the
// other, two differing non-empty sides are a conflict (never silently pick
// one), and two identical sides are already in sync.
func Classify(local, remote *Snapshot, rec *Record) Decision {
	if rec == nil {
		switch {
		case local.Empty() && remote.Empty():
			return DecisionNoChange
		case remote.Empty():
			return DecisionPushLocal
		case local.Empty():
			return DecisionPullRemote
		case local.ContentEqual(remote):
			return DecisionNoChange
		default:
			return DecisionConflict
		}
	}

	localChanged := local.Fingerprint() != rec.LocalFingerprint
	remoteChanged := remote.Fingerprint() != rec.RemoteFingerprint

	switch {
	case !localChanged && !remoteChanged:
		return DecisionNoChange
	case localChanged && !remoteChanged:
		return DecisionPushLocal
	case !localChanged && remoteChanged:
		return DecisionPullRemote
	case local.ContentEqual(remote):
		// independent edits converged to the same bytes: already in
		// sync, not a conflict
		return DecisionNoChange
	default:
		return DecisionConflict
	}
}
