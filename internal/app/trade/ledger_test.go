package trade

import (
	"reflect"
	"strconv"
	"sync"
	"testing"

	"github.com/coachpo/cntrade/internal/domain/schema"
)

func TestLedgerAddRemoveContains(t *testing.T) {
	l := NewLedger()
	if !l.Add("A", schema.EnvLive) {
		t.Fatalf("expected first add to report a new entry")
	}
	if l.Add(" A ", schema.EnvLive) {
		t.Fatalf("expected trimmed duplicate to be ignored")
	}
	if !l.Contains("A", schema.EnvLive) {
		t.Fatalf("expected A in env 0")
	}
	if l.Contains("A", schema.EnvSimulated) {
		t.Fatalf("entries are keyed by env as well as id")
	}
	if !l.Remove("A", schema.EnvLive) {
		t.Fatalf("expected remove to report an existing entry")
	}
	if l.Remove("A", schema.EnvLive) {
		t.Fatalf("second remove must be a no-op")
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty ledger, got %d", l.Len())
	}
}

func TestLedgerTrackTerminalAndCatchAll(t *testing.T) {
	l := NewLedger()
	l.Add("A", schema.EnvLive)

	if !l.Track("A", schema.EnvLive, true) {
		t.Fatalf("terminal status must remove tracked order")
	}
	if l.Contains("A", schema.EnvLive) {
		t.Fatalf("A should be gone")
	}

	if l.Track("B", schema.EnvLive, false) {
		t.Fatalf("without a catch-all a live order must not be added")
	}

	l.Add("", schema.EnvLive)
	if !l.Track("B", schema.EnvLive, false) {
		t.Fatalf("catch-all should promote B")
	}
	if l.Track("B", schema.EnvLive, false) {
		t.Fatalf("already tracked order must not change the ledger")
	}
	if l.Track("", schema.EnvLive, true) {
		t.Fatalf("empty order id must never touch the catch-all entry")
	}
	if !l.Contains("", schema.EnvLive) {
		t.Fatalf("catch-all must survive")
	}
}

func TestPlanPartitionsByEnv(t *testing.T) {
	l := NewLedger()
	l.Add("B", schema.EnvLive)
	l.Add("A", schema.EnvLive)
	l.Add("", schema.EnvSimulated)

	plan := Plan(l.Snapshot())
	want := ResubscribePlan{
		Specific: []EnvGroup{{Env: schema.EnvLive, OrderIDs: []string{"A", "B"}}},
		CatchAll: []schema.Env{schema.EnvSimulated},
	}
	if !reflect.DeepEqual(plan, want) {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestPlanSkipsCatchAllWhenEnvHasSpecificIDs(t *testing.T) {
	plan := Plan([]Subscription{
		{OrderID: "", Env: schema.EnvLive},
		{OrderID: "A", Env: schema.EnvLive},
		{OrderID: "", Env: schema.EnvSimulated},
	})
	want := ResubscribePlan{
		Specific: []EnvGroup{{Env: schema.EnvLive, OrderIDs: []string{"A"}}},
		CatchAll: []schema.Env{schema.EnvSimulated},
	}
	if !reflect.DeepEqual(plan, want) {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestLedgerSnapshotUnderConcurrentMutation(t *testing.T) {
	l := NewLedger()
	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := strconv.Itoa(w*perWriter + i)
				l.Add(id, schema.EnvLive)
				if i%2 == 0 {
					l.Remove(id, schema.EnvLive)
				}
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			snap := l.Snapshot()
			seen := make(map[Subscription]bool, len(snap))
			for _, s := range snap {
				if seen[s] {
					t.Errorf("duplicate entry %+v in snapshot", s)
					return
				}
				seen[s] = true
			}
		}
	}()

	wg.Wait()
	<-done
	if got, want := l.Len(), writers*perWriter/2; got != want {
		t.Fatalf("expected %d entries, got %d", want, got)
	}
}
