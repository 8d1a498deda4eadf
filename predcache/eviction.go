package predcache

import "container/list"

// Policy chooses which entry to discard when the cache is full. The hook
// methods update policy-internal bookkeeping only; they never touch the
// cache map. The cache calls every method with its own lock held, so
// implementations need no synchronization of their own and must not call
// back into the cache.
type Policy interface {
	// OnAdd is invoked when a new key is inserted.
	OnAdd(key string)

	// OnAccess is invoked on every cache hit for key.
	OnAccess(key string)

	// OnRemove is invoked when key leaves the cache for any reason.
	OnRemove(key string)

	// Victim nominates the key to evict given the current cache contents.
	// Returns false when no candidate exists (e.g. an empty map).
	Victim(entries map[string]*Entry) (string, bool)

	// Reset discards all bookkeeping, as if the policy were freshly built.
	Reset()
}

// NewPolicy maps a configuration name ("fifo", "lfu", "lru") to a fresh
// policy instance. Unknown names fall back to FIFO.
func NewPolicy(name string) Policy {
	switch name {
	case "lfu":
		return NewLFU()
	case "lru":
		return NewLRU()
	default:
		return NewFIFO()
	}
}

// fifoPolicy evicts the oldest entry by creation time. It keeps no state of
// its own: the victim is a pure function of the cache contents. Ties are
// broken by smallest key so nomination is deterministic.
type fifoPolicy struct{}

// NewFIFO returns the first-in-first-out eviction policy.
func NewFIFO() Policy { return fifoPolicy{} }

func (fifoPolicy) OnAdd(string)    {}
func (fifoPolicy) OnAccess(string) {}
func (fifoPolicy) OnRemove(string) {}
func (fifoPolicy) Reset()          {}

func (fifoPolicy) Victim(entries map[string]*Entry) (string, bool) {
	var (
		victim string
		found  bool
	)
	for key, entry := range entries {
		if !found {
			victim, found = key, true
			continue
		}
		candidate := entries[victim]
		if entry.CreatedAt.Before(candidate.CreatedAt) ||
			(entry.CreatedAt.Equal(candidate.CreatedAt) && key < victim) {
			victim = key
		}
	}
	return victim, found
}

// lfuPolicy evicts the least frequently used key among those it has been
// told about. The policy keeps its own per-key counters, separate from the
// entry's AccessCount field. Keys never seen via OnAdd, or already removed
// via OnRemove, are never nominated even if present in the map.
type lfuPolicy struct {
	counts map[string]int64
}

// NewLFU returns the least-frequently-used eviction policy.
func NewLFU() Policy {
	return &lfuPolicy{counts: make(map[string]int64)}
}

func (p *lfuPolicy) OnAdd(key string) {
	p.counts[key] = 0
}

func (p *lfuPolicy) OnAccess(key string) {
	// Untracked keys stay untracked: counting an access must not make a
	// key eligible for nomination without a prior OnAdd.
	if _, ok := p.counts[key]; ok {
		p.counts[key]++
	}
}

func (p *lfuPolicy) OnRemove(key string) {
	delete(p.counts, key)
}

func (p *lfuPolicy) Reset() {
	p.counts = make(map[string]int64)
}

func (p *lfuPolicy) Victim(entries map[string]*Entry) (string, bool) {
	var (
		victim string
		lowest int64
		found  bool
	)
	for key, count := range p.counts {
		entry, ok := entries[key]
		if !ok {
			continue
		}
		if !found {
			victim, lowest, found = key, count, true
			continue
		}
		switch {
		case count < lowest:
			victim, lowest = key, count
		case count == lowest:
			// Tie: prefer the entry idle the longest, then smallest key.
			current := entries[victim]
			if entry.LastAccessedAt.Before(current.LastAccessedAt) ||
				(entry.LastAccessedAt.Equal(current.LastAccessedAt) && key < victim) {
				victim = key
			}
		}
	}
	return victim, found
}

// lruPolicy evicts the least recently touched key. Recency is tracked with
// an intrusive list: OnAdd and OnAccess move keys to the front, so the
// back of the list is always the coldest tracked key.
type lruPolicy struct {
	order    *list.List
	elements map[string]*list.Element
}

// NewLRU returns the least-recently-used eviction policy.
func NewLRU() Policy {
	return &lruPolicy{
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

func (p *lruPolicy) OnAdd(key string) {
	if el, ok := p.elements[key]; ok {
		p.order.MoveToFront(el)
		return
	}
	p.elements[key] = p.order.PushFront(key)
}

func (p *lruPolicy) OnAccess(key string) {
	if el, ok := p.elements[key]; ok {
		p.order.MoveToFront(el)
	}
}

func (p *lruPolicy) OnRemove(key string) {
	if el, ok := p.elements[key]; ok {
		p.order.Remove(el)
		delete(p.elements, key)
	}
}

func (p *lruPolicy) Reset() {
	p.order.Init()
	p.elements = make(map[string]*list.Element)
}

func (p *lruPolicy) Victim(entries map[string]*Entry) (string, bool) {
	for el := p.order.Back(); el != nil; el = el.Prev() {
		key := el.Value.(string)
		if _, ok := entries[key]; ok {
			return key, true
		}
	}
	return "", false
}
