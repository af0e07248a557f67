package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Resolution is the user's answer to a conflict.
type Resolution int

const (
	// ResolutionCancel leaves both sides untouched. The divergence
	// persists and will reclassify as a conflict on the next cycle.
	ResolutionCancel Resolution = iota
	// ResolutionKeepLocal pushes the local save over the remote one.
	ResolutionKeepLocal
	// ResolutionKeepRemote pulls the remote save over the local one.
	ResolutionKeepRemote
)

func (r Resolution) String() string {
	switch r {
	case ResolutionKeepLocal:
		return "keep-local"
	case ResolutionKeepRemote:
		return "keep-remote"
	case ResolutionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// SideSummary is the advisory metadata shown to the user for one side of a
// conflict. Timestamps appear here and nowhere else in the decision path.
type SideSummary struct {
	FileCount     int       `json:"file_count"`
	TotalSize     int64     `json:"total_size"`
	LatestModTime time.Time `json:"latest_mod_time"`
	HashVerified  bool      `json:"hash_verified"`
}

func newSideSummary(s *Snapshot) SideSummary {
	return SideSummary{
		FileCount:     s.Len(),
		TotalSize:     s.TotalSize(),
		LatestModTime: s.LatestModTime(),
		HashVerified:  s.HashVerified(),
	}
}

func (s SideSummary) String() string {
	if s.FileCount == 0 {
		return "(empty)"
	}
	out := fmt.Sprintf("%d file(s), %s, last modified %s",
		s.FileCount,
		humanize.IBytes(uint64(s.TotalSize)),
		s.LatestModTime.Local().Format("2006-01-02 15:04"),
	)
	if !s.HashVerified {
		out += " (hash unverified)"
	}
	return out
}

// ConflictCase carries both diverging snapshots to the decision provider.
// Ephemeral: discarded once resolved.
type ConflictCase struct {
	Profile       string
	Local         *Snapshot
	Remote        *Snapshot
	LocalSummary  SideSummary
	RemoteSummary SideSummary
}

// DecisionProvider resolves conflicts. Implementations range from a
// terminal prompt to a scripted test stub; the engine only needs the
// capability, never the presentation.
type DecisionProvider interface {
	Resolve(ctx context.Context, c *ConflictCase) (Resolution, error)
}

// DecisionFunc adapts a plain function to a DecisionProvider.
type DecisionFunc func(ctx context.Context, c *ConflictCase) (Resolution, error)

func (f DecisionFunc) Resolve(ctx context.Context, c *ConflictCase) (Resolution, error) {
	return f(ctx, c)
}
