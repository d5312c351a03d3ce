package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"qencode/internal/logging"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	return Open(filepath.Join(t.TempDir(), "done.json"), logging.NewNop())
}

func TestFreshInitWritesEmptyLedger(t *testing.T) {
	l := newLedger(t)
	set, err := l.LoadOrInit(1000, false)
	if err != nil {
		t.Fatal(err)
	}
	if set.Initial != 0 || len(set.Done) != 0 {
		t.Fatalf("unexpected resume set: %+v", set)
	}
	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"total":1000,"done":{}}` {
		t.Fatalf("ledger = %s", data)
	}
}

func TestResumeRestoresRecordedChunks(t *testing.T) {
	l := newLedger(t)
	if _, err := l.LoadOrInit(1000, false); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordComplete("0000", 250); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordComplete("0002", 400); err != nil {
		t.Fatal(err)
	}

	reopened := Open(l.Path(), logging.NewNop())
	set, err := reopened.LoadOrInit(1000, true)
	if err != nil {
		t.Fatal(err)
	}
	if set.Initial != 650 {
		t.Fatalf("Initial = %d, want 650", set.Initial)
	}
	if !reopened.IsResumed("0000") || !reopened.IsResumed("0002") || reopened.IsResumed("0001") {
		t.Fatalf("unexpected resume membership: %+v", set.Done)
	}
}

func TestFreshStartDiscardsExistingLedger(t *testing.T) {
	l := newLedger(t)
	if _, err := l.LoadOrInit(100, false); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordComplete("0000", 100); err != nil {
		t.Fatal(err)
	}
	set, err := Open(l.Path(), logging.NewNop()).LoadOrInit(100, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Done) != 0 {
		t.Fatalf("expected fresh ledger, got %+v", set.Done)
	}
}

func TestCorruptLedgerFallsBackToFresh(t *testing.T) {
	tests := map[string]string{
		"garbage":   "not json at all",
		"truncated": `{"total": 10, "done": {"0000": `,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			l := newLedger(t)
			if err := os.WriteFile(l.Path(), []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			set, err := l.LoadOrInit(10, true)
			if err != nil {
				t.Fatalf("LoadOrInit: %v", err)
			}
			if set.Initial != 0 || len(set.Done) != 0 {
				t.Fatalf("expected empty resume set, got %+v", set)
			}
			state, err := l.Snapshot()
			if err != nil {
				t.Fatalf("ledger should be readable after fallback: %v", err)
			}
			if state.Total != 10 {
				t.Fatalf("Total = %d", state.Total)
			}
		})
	}
}

func TestResumeWithoutFileStartsFresh(t *testing.T) {
	l := newLedger(t)
	set, err := l.LoadOrInit(5, true)
	if err != nil {
		t.Fatal(err)
	}
	if set.Initial != 0 {
		t.Fatalf("Initial = %d", set.Initial)
	}
}

func TestRecordCompleteOverwrites(t *testing.T) {
	l := newLedger(t)
	if _, err := l.LoadOrInit(100, false); err != nil {
		t.Fatal(err)
	}
	_ = l.RecordComplete("0000", 10)
	if err := l.RecordComplete("0000", 12); err != nil {
		t.Fatal(err)
	}
	state, err := l.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if state.Done["0000"] != 12 || len(state.Done) != 1 {
		t.Fatalf("state = %+v", state)
	}
}

func TestConcurrentRecordsAreAllKept(t *testing.T) {
	l := newLedger(t)
	if _, err := l.LoadOrInit(64*10, false); err != nil {
		t.Fatal(err)
	}
	other := Open(l.Path(), logging.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := l
			if i%2 == 1 {
				target = other
			}
			if err := target.RecordComplete(fmt.Sprintf("%04d", i), 10); err != nil {
				t.Errorf("record %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	state, err := l.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Done) != 64 || state.Frames() != 640 {
		t.Fatalf("expected 64 chunks / 640 frames, got %d / %d", len(state.Done), state.Frames())
	}
}

func TestStatePercentClamps(t *testing.T) {
	s := State{Total: 100, Done: map[string]int{"0000": 80, "0001": 40}}
	if s.Percent() != 100 {
		t.Fatalf("Percent = %v", s.Percent())
	}
	if (State{}).Percent() != 0 {
		t.Fatal("zero total should report 0%")
	}
	if got := s.Names(); len(got) != 2 || got[0] != "0000" {
		t.Fatalf("Names = %v", got)
	}
}
