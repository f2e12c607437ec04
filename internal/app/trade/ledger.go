package trade

import (
	"sort"
	"strings"
	"sync"

	"github.com/coachpo/cntrade/internal/domain/schema"
)

// Subscription is a push subscription key. An empty OrderID subscribes to
// every order in Env.
type Subscription struct {
	OrderID string     `json:"order_id"`
	Env     schema.Env `json:"env"`
}

// CatchAll reports whether the entry covers the whole environment.
func (s Subscription) CatchAll() bool { return s.OrderID == "" }

// Ledger is the set of live push subscriptions. Every operation is serialized
// by a single mutex so a snapshot never observes a partial mutation.
type Ledger struct {
	mu      sync.Mutex
	entries map[Subscription]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		mu:      sync.Mutex{},
		entries: make(map[Subscription]struct{}),
	}
}

func key(orderID string, env schema.Env) Subscription {
	return Subscription{OrderID: strings.TrimSpace(orderID), Env: env}
}

// Add records a subscription. It reports whether the entry was new.
func (l *Ledger) Add(orderID string, env schema.Env) bool {
	k := key(orderID, env)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[k]; ok {
		return false
	}
	l.entries[k] = struct{}{}
	return true
}

// Remove drops a subscription. It reports whether the entry existed.
func (l *Ledger) Remove(orderID string, env schema.Env) bool {
	k := key(orderID, env)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[k]; !ok {
		return false
	}
	delete(l.entries, k)
	return true
}

// Contains reports whether the exact entry is present.
func (l *Ledger) Contains(orderID string, env schema.Env) bool {
	k := key(orderID, env)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[k]
	return ok
}

// Track applies the status rule for a pushed order atomically: terminal
// statuses drop the entry, non-terminal statuses add it only when the
// environment has a catch-all entry. It reports whether the ledger changed.
func (l *Ledger) Track(orderID string, env schema.Env, terminal bool) bool {
	k := key(orderID, env)
	if k.OrderID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, tracked := l.entries[k]
	if terminal {
		if tracked {
			delete(l.entries, k)
		}
		return tracked
	}
	if tracked {
		return false
	}
	if _, catchAll := l.entries[Subscription{Env: env}]; !catchAll {
		return false
	}
	l.entries[k] = struct{}{}
	return true
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a sorted copy of the entries, taken under the lock.
func (l *Ledger) Snapshot() []Subscription {
	l.mu.Lock()
	out := make([]Subscription, 0, len(l.entries))
	for k := range l.entries {
		out = append(out, k)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Env == out[j].Env {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].Env < out[j].Env
	})
	return out
}

// EnvGroup is the set of specific order ids subscribed in one environment.
type EnvGroup struct {
	Env      schema.Env
	OrderIDs []string
}

// ResubscribePlan partitions a snapshot for replay.
type ResubscribePlan struct {
	// Specific holds one group per environment with tracked order ids.
	Specific []EnvGroup
	// CatchAll lists environments present only through a catch-all entry.
	CatchAll []schema.Env
}

// Plan partitions a snapshot into per-environment id lists and catch-all
// environments. An environment with tracked ids is replayed through its id
// list only, even when it also holds a catch-all entry.
func Plan(snapshot []Subscription) ResubscribePlan {
	ids := make(map[schema.Env][]string)
	catchAll := make(map[schema.Env]bool)
	var envs []schema.Env
	seen := make(map[schema.Env]bool)
	for _, s := range snapshot {
		if !seen[s.Env] {
			seen[s.Env] = true
			envs = append(envs, s.Env)
		}
		if s.CatchAll() {
			catchAll[s.Env] = true
			continue
		}
		ids[s.Env] = append(ids[s.Env], s.OrderID)
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i] < envs[j] })

	var plan ResubscribePlan
	for _, env := range envs {
		if list := ids[env]; len(list) > 0 {
			sort.Strings(list)
			plan.Specific = append(plan.Specific, EnvGroup{Env: env, OrderIDs: list})
			continue
		}
		if catchAll[env] {
			plan.CatchAll = append(plan.CatchAll, env)
		}
	}
	return plan
}
