package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/srg/mallet/internal/device"
)

// candidateEntry is the stable map value for one peripheral. The map never
// replaces an entry; sightings update its fields under mu.
type candidateEntry struct {
	mu   sync.Mutex
	cand device.Candidate
}

func (e *candidateEntry) snapshot() device.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cand
}

// candidateSet holds manual-select candidates keyed by peripheral ID.
// reset swaps in a fresh map so readers never see a half-cleared set.
type candidateSet struct {
	m atomic.Pointer[hashmap.Map[string, *candidateEntry]]
}

func newCandidateSet() *candidateSet {
	c := &candidateSet{}
	c.reset()
	return c
}

func (c *candidateSet) reset() {
	c.m.Store(hashmap.New[string, *candidateEntry]())
}

// upsert records an advertisement. It reports whether the ID was new.
// A later advertisement without a name keeps the earlier name.
func (c *candidateSet) upsert(p device.Peripheral, rssi int, seen time.Time) bool {
	m := c.m.Load()
	fresh := &candidateEntry{cand: device.Candidate{Peripheral: p, RSSI: rssi, LastSeen: seen}}
	entry, existing := m.GetOrInsert(p.ID, fresh)
	if !existing {
		return true
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if p.Name != "" {
		entry.cand.Name = p.Name
	}
	entry.cand.RSSI = rssi
	entry.cand.LastSeen = seen
	return false
}

func (c *candidateSet) get(id string) (device.Candidate, bool) {
	entry, ok := c.m.Load().Get(id)
	if !ok {
		return device.Candidate{}, false
	}
	return entry.snapshot(), true
}

func (c *candidateSet) len() int {
	return c.m.Load().Len()
}

// list returns candidates sorted by display name, then ID.
func (c *candidateSet) list() []device.Candidate {
	m := c.m.Load()
	ids := make([]string, 0, m.Len())
	m.Range(func(id string, _ *candidateEntry) bool {
		ids = append(ids, id)
		return true
	})

	out := make([]device.Candidate, 0, len(ids))
	for _, id := range ids {
		if entry, ok := m.Get(id); ok {
			out = append(out, entry.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].DisplayName(), out[j].DisplayName()
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
