package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dmrelay/pkg/logx"
)

func entryAt(t time.Time, target int64) Entry {
	return Entry{
		At:        t,
		ActorID:   1,
		TargetID:  target,
		Requested: 5,
		Sent:      2,
		Failed:    3,
		Outcome:   "aborted",
		Cause:     "forbidden",
		TookMS:    1200,
	}
}

func readLines(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var out []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled open = (%v, %v)", st, err)
	}
	st, err = Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("none open = (%v, %v)", st, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileAppendAndPrune(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now()
	old := entryAt(now.Add(-48*time.Hour), 100)
	recent := entryAt(now, 200)

	if err := st.Append(ctx, old); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Append(ctx, recent); err != nil {
		t.Fatalf("Append: %v", err)
	}

	dropped, err := st.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}

	got := readLines(t, path)
	if len(got) != 1 || got[0].TargetID != 200 {
		t.Fatalf("remaining entries = %+v", got)
	}

	// The append handle survives the rewrite.
	if err := st.Append(ctx, entryAt(now, 300)); err != nil {
		t.Fatalf("Append after prune: %v", err)
	}
	if got := readLines(t, path); len(got) != 2 {
		t.Fatalf("entries after post-prune append = %d", len(got))
	}
}

func TestSQLiteAppendAndPrune(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now()
	if err := st.Append(ctx, entryAt(now.Add(-48*time.Hour), 100)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Append(ctx, entryAt(now, 200)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	dropped, err := st.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
}
