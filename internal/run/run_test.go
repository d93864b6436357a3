package run

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/metalagman/phasekit/internal/config"
	internaldb "github.com/metalagman/phasekit/internal/db"
)

func TestNewIDFormat(t *testing.T) {
	t.Parallel()

	id, err := NewID(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if !regexp.MustCompile(`^20260304-050607-[0-9a-f]{6}$`).MatchString(id) {
		t.Fatalf("NewID() = %q, want timestamp-hex form", id)
	}
}

func TestTryAcquireLockIsExclusive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, ok, err := TryAcquireLock(dir, "run-1")
	if err != nil || !ok {
		t.Fatalf("first TryAcquireLock() = %v, %v", ok, err)
	}
	holder, err := Holder(dir)
	if err != nil {
		t.Fatalf("Holder() error = %v", err)
	}
	if !strings.HasPrefix(holder, "run-1 pid=") {
		t.Fatalf("Holder() = %q, want run-1 owner", holder)
	}

	second, ok, err := TryAcquireLock(dir, "run-2")
	if err != nil {
		t.Fatalf("second TryAcquireLock() error = %v", err)
	}
	if ok {
		_ = second.Release()
		t.Fatalf("second TryAcquireLock() acquired a held lock")
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	third, err := AcquireLock(dir, "prune")
	if err != nil {
		t.Fatalf("AcquireLock() after release error = %v", err)
	}
	defer func() { _ = third.Release() }()
	if holder, _ := Holder(dir); !strings.HasPrefix(holder, "prune pid=") {
		t.Fatalf("Holder() = %q, want prune owner", holder)
	}
}

func TestHolderWithoutLockFile(t *testing.T) {
	t.Parallel()

	holder, err := Holder(t.TempDir())
	if err != nil || holder != "" {
		t.Fatalf("Holder() = %q, %v, want empty", holder, err)
	}
}

func TestExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	runs := []internaldb.RunRecord{
		{RunID: "a", CreatedAt: now.Add(-time.Hour), Status: "passed"},
		{RunID: "b", CreatedAt: now.Add(-48 * time.Hour), Status: "failed"},
		{RunID: "c", CreatedAt: now.Add(-96 * time.Hour), Status: "passed"},
		{RunID: "d", CreatedAt: now.Add(-120 * time.Hour), Status: "running"},
	}

	tests := []struct {
		name   string
		policy config.RetentionPolicy
		want   []string
	}{
		{name: "no policy", policy: config.RetentionPolicy{}, want: nil},
		{name: "keep last", policy: config.RetentionPolicy{KeepLast: 1}, want: []string{"b", "c"}},
		{name: "keep days", policy: config.RetentionPolicy{KeepDays: 3}, want: []string{"c"}},
		{name: "either keeps", policy: config.RetentionPolicy{KeepLast: 3, KeepDays: 1}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, r := range Expired(runs, tt.policy, now) {
				got = append(got, r.RunID)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrunerRemovesRunsDirsAndMemory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	stateDir := t.TempDir()
	database, err := internaldb.Open(filepath.Join(stateDir, internaldb.FileName))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	store := internaldb.NewStore(database)
	kv := internaldb.NewKVStore(database)

	now := time.Now().UTC()
	seed := []struct {
		id     string
		age    time.Duration
		status string
	}{
		{id: "run-new", age: time.Hour, status: "passed"},
		{id: "run-mid", age: 48 * time.Hour, status: "failed"},
		{id: "run-old", age: 96 * time.Hour, status: "passed"},
		{id: "run-stuck", age: 120 * time.Hour, status: "running"},
	}
	for _, s := range seed {
		dir := Dir(stateDir, s.id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
		if _, err := database.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, pipeline, status, run_dir) VALUES(?, ?, ?, ?, ?)`,
			s.id, now.Add(-s.age).Format(time.RFC3339), "p", s.status, dir); err != nil {
			t.Fatalf("insert run: %v", err)
		}
		if err := kv.Write(ctx, "pipeline/"+s.id+"/design", "v"); err != nil {
			t.Fatalf("write memory: %v", err)
		}
	}

	pruner := Pruner{Runs: store, StateDir: stateDir, Memory: kv, Namespace: "pipeline"}
	dry, err := pruner.Prune(ctx, config.RetentionPolicy{KeepLast: 1}, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if dry.Deleted != 2 || dry.Kept != 2 {
		t.Fatalf("dry run = %+v, want 2 deleted 2 kept", dry)
	}
	if _, err := os.Stat(Dir(stateDir, "run-old")); err != nil {
		t.Fatalf("dry run removed a directory: %v", err)
	}

	res, err := pruner.Prune(ctx, config.RetentionPolicy{KeepLast: 1, KeepDays: 3}, false)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if res.Considered != 4 || res.Deleted != 1 || res.Kept != 3 {
		t.Fatalf("prune = %+v, want 4 considered, 1 deleted, 3 kept", res)
	}
	if len(res.Pruned) != 1 || res.Pruned[0] != "run-old" {
		t.Fatalf("pruned = %v, want [run-old]", res.Pruned)
	}
	if _, err := os.Stat(Dir(stateDir, "run-old")); !os.IsNotExist(err) {
		t.Fatalf("run-old dir should be removed, stat err = %v", err)
	}
	if _, ok, err := kv.Read(ctx, "pipeline/run-old/design"); err != nil || ok {
		t.Fatalf("run-old memory should be cleared, ok=%v err=%v", ok, err)
	}
	if _, ok, err := kv.Read(ctx, "pipeline/run-new/design"); err != nil || !ok {
		t.Fatalf("run-new memory should remain, ok=%v err=%v", ok, err)
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
}

func TestPrunerWithoutPolicyIsNoop(t *testing.T) {
	t.Parallel()

	res, err := Pruner{}.Prune(context.Background(), config.RetentionPolicy{}, false)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if res.Considered != 0 || res.Deleted != 0 || res.Pruned != nil {
		t.Fatalf("Prune() = %+v, want zero", res)
	}
}
