package firewall

import (
	"errors"
	"sync"

	"github.com/google/nftables"
)

// FakeConn is an in-memory NFTConn. Staged set operations become visible on
// Flush, mirroring the kernel's batch semantics, so sync tests exercise the
// real stage-then-commit flow.
type FakeConn struct {
	mu      sync.Mutex
	sets    map[string]map[string]bool // set name -> element key -> present
	staged  []stagedOp
	rules   int
	flushes int

	// FailFlushes makes the next n Flush calls fail.
	FailFlushes int
	// RejectKey makes any batch containing this element key fail on Flush.
	RejectKey string
	// FailStageKey makes SetAddElements/SetDeleteElements reject any call
	// containing this element key, staging nothing from it.
	FailStageKey string
}

type stagedOp struct {
	set string
	key string
	add bool
}

// NewFakeConn creates an empty fake.
func NewFakeConn() *FakeConn {
	return &FakeConn{sets: make(map[string]map[string]bool)}
}

// AddTable records nothing; tables are implicit in the fake.
func (f *FakeConn) AddTable(t *nftables.Table) *nftables.Table { return t }

// AddChain records nothing.
func (f *FakeConn) AddChain(c *nftables.Chain) *nftables.Chain { return c }

// FlushChain clears the rule count.
func (f *FakeConn) FlushChain(c *nftables.Chain) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = 0
}

// AddRule counts installed rules.
func (f *FakeConn) AddRule(r *nftables.Rule) *nftables.Rule {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules++
	return r
}

// AddSet declares a set, keeping existing elements.
func (f *FakeConn) AddSet(s *nftables.Set, elements []nftables.SetElement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[s.Name] == nil {
		f.sets[s.Name] = make(map[string]bool)
	}
	for _, el := range elements {
		f.sets[s.Name][string(el.Key)] = true
	}
	return nil
}

// GetSetElements returns the committed contents of a set.
func (f *FakeConn) GetSetElements(s *nftables.Set) ([]nftables.SetElement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []nftables.SetElement
	for key := range f.sets[s.Name] {
		out = append(out, nftables.SetElement{Key: []byte(key)})
	}
	return out, nil
}

// SetAddElements stages additions.
func (f *FakeConn) SetAddElements(s *nftables.Set, elements []nftables.SetElement) error {
	return f.stageElements(s.Name, elements, true)
}

// SetDeleteElements stages removals.
func (f *FakeConn) SetDeleteElements(s *nftables.Set, elements []nftables.SetElement) error {
	return f.stageElements(s.Name, elements, false)
}

func (f *FakeConn) stageElements(set string, elements []nftables.SetElement, add bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailStageKey != "" {
		for _, el := range elements {
			if string(el.Key) == f.FailStageKey {
				return errors.New("netlink: invalid element")
			}
		}
	}
	for _, el := range elements {
		f.staged = append(f.staged, stagedOp{set: set, key: string(el.Key), add: add})
	}
	return nil
}

// Flush commits the staged batch, or fails it atomically.
func (f *FakeConn) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++

	fail := f.FailFlushes > 0
	if fail {
		f.FailFlushes--
	}
	if !fail && f.RejectKey != "" {
		for _, op := range f.staged {
			if op.key == f.RejectKey {
				fail = true
				break
			}
		}
	}
	if fail {
		f.staged = nil
		return errors.New("netlink: operation failed")
	}

	for _, op := range f.staged {
		if f.sets[op.set] == nil {
			f.sets[op.set] = make(map[string]bool)
		}
		if op.add {
			f.sets[op.set][op.key] = true
		} else {
			delete(f.sets[op.set], op.key)
		}
	}
	f.staged = nil
	return nil
}

// Contents returns a set's committed element keys.
func (f *FakeConn) Contents(set string) map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.sets[set]))
	for k := range f.sets[set] {
		out[k] = true
	}
	return out
}

// Flushes returns how many commits were attempted.
func (f *FakeConn) Flushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

// Rules returns how many rules are installed.
func (f *FakeConn) Rules() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rules
}
