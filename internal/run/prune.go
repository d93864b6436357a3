package run

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/metalagman/phasekit/internal/config"
	"github.com/metalagman/phasekit/internal/db"
	"github.com/metalagman/phasekit/internal/memory"
	"github.com/metalagman/phasekit/internal/model"
	"github.com/rs/zerolog/log"
)

// Catalog lists and deletes recorded runs. *db.Store satisfies it.
type Catalog interface {
	ListRuns(ctx context.Context, limit int) ([]db.RunRecord, error)
	DeleteRun(ctx context.Context, runID string) error
}

// MemoryCleaner drops shared memory under a namespace. *db.KVStore satisfies it.
type MemoryCleaner interface {
	Clear(ctx context.Context, namespace string) (int64, error)
}

// PruneResult summarizes a prune operation.
type PruneResult struct {
	Considered int
	Kept       int
	Deleted    int
	Skipped    int
	Pruned     []string
}

// Pruner applies a retention policy to recorded runs.
type Pruner struct {
	Runs     Catalog
	StateDir string
	// Memory and Namespace are optional. When set, each pruned run's memory
	// namespace is cleared as well.
	Memory    MemoryCleaner
	Namespace string
	Now       func() time.Time
}

// Expired returns the runs outside policy. runs must be ordered newest first.
// A run survives when it is still running, among the newest KeepLast, or
// created after the KeepDays cutoff.
func Expired(runs []db.RunRecord, policy config.RetentionPolicy, now time.Time) []db.RunRecord {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return nil
	}
	var cutoff time.Time
	if policy.KeepDays > 0 {
		cutoff = now.Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}
	var out []db.RunRecord
	for i, r := range runs {
		switch {
		case r.Status == model.RunStatusRunning:
		case policy.KeepLast > 0 && i < policy.KeepLast:
		case policy.KeepDays > 0 && r.CreatedAt.After(cutoff):
		default:
			out = append(out, r)
		}
	}
	return out
}

// Prune deletes expired runs with their directories. With dryRun it only
// counts what would be deleted.
func (p Pruner) Prune(ctx context.Context, policy config.RetentionPolicy, dryRun bool) (PruneResult, error) {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return PruneResult{}, nil
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	runs, err := p.Runs.ListRuns(ctx, 0)
	if err != nil {
		return PruneResult{}, err
	}
	expired := Expired(runs, policy, now().UTC())

	res := PruneResult{Considered: len(runs), Kept: len(runs) - len(expired)}
	for _, r := range expired {
		if dryRun {
			res.Deleted++
			res.Pruned = append(res.Pruned, r.RunID)
			continue
		}
		dir := r.RunDir
		if dir == "" {
			dir = Dir(p.StateDir, r.RunID)
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("run_id", r.RunID).Msg("remove run dir")
			res.Skipped++
			continue
		}
		if err := p.Runs.DeleteRun(ctx, r.RunID); err != nil {
			return res, fmt.Errorf("prune run %s: %w", r.RunID, err)
		}
		if p.Memory != nil && p.Namespace != "" {
			if _, err := p.Memory.Clear(ctx, memory.Key(p.Namespace, r.RunID)); err != nil {
				log.Warn().Err(err).Str("run_id", r.RunID).Msg("clear run memory")
			}
		}
		res.Deleted++
		res.Pruned = append(res.Pruned, r.RunID)
	}
	return res, nil
}
