package alarm

import "sort"

// freeQueue is a binary min-heap over freed ids.
type freeQueue []ID

func (q freeQueue) Len() int { return len(q) }

func (q *freeQueue) push(id ID) {
	*q = append(*q, id)
	h := *q
	i := len(h) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if h[parent] <= h[i] {
			break
		}
		h[parent], h[i] = h[i], h[parent]
		i = parent
	}
}

func (q *freeQueue) pop() ID {
	h := *q
	n := len(h) - 1
	top := h[0]
	h[0] = h[n]
	h = h[:n]
	i := 0
	for {
		l, r := 2*i+1, 2*i+2
		small := i
		if l < n && h[l] < h[small] {
			small = l
		}
		if r < n && h[r] < h[small] {
			small = r
		}
		if small == i {
			break
		}
		h[i], h[small] = h[small], h[i]
		i = small
	}
	*q = h
	return top
}

// Allocator issues alarm ids.
//
// Every id is either free (queued for reuse), in use by exactly one alarm, or
// >= next. Freed ids are always reused smallest-first before next grows.
//
// Allocator is not safe for concurrent use; Service serializes access.
type Allocator struct {
	queue  freeQueue
	isFree map[ID]struct{}
	next   ID
}

func NewAllocator() *Allocator {
	return &Allocator{isFree: map[ID]struct{}{}, next: 1}
}

// Allocate returns the smallest free id, or the high-water mark (advancing it).
func (a *Allocator) Allocate() ID {
	if a.queue.Len() > 0 {
		id := a.queue.pop()
		delete(a.isFree, id)
		return id
	}
	id := a.next
	a.next++
	return id
}

// Release returns id to the free set. Releasing an id that was never issued or
// is already free is an invariant violation; the allocator is left unchanged.
func (a *Allocator) Release(id ID) error {
	if id < 1 || id >= a.next {
		return Errorf(CodeInvariant, "release of unissued id %d (next=%d)", id, a.next)
	}
	if _, ok := a.isFree[id]; ok {
		return Errorf(CodeInvariant, "double release of id %d", id)
	}
	a.isFree[id] = struct{}{}
	a.queue.push(id)
	return nil
}

// Next returns the high-water mark.
func (a *Allocator) Next() ID { return a.next }

// FreeCount returns how many ids are queued for reuse.
func (a *Allocator) FreeCount() int { return a.queue.Len() }

// State returns a copy of the allocator state with free ids sorted ascending.
func (a *Allocator) State() AllocatorState {
	free := make([]ID, 0, len(a.queue))
	free = append(free, a.queue...)
	sort.Slice(free, func(i, j int) bool { return free[i] < free[j] })
	return AllocatorState{Free: free, Next: a.next}
}

// RestoreAllocator rebuilds an allocator from persisted state and the set of
// ids held by live alarms. The result always satisfies the partition
// invariant: every id below next is either in use or free, ids in use are
// never free, and next is above every id in use. The persisted free list only
// serves as a consistency check.
//
// repaired reports whether the persisted state disagreed with inUse.
func RestoreAllocator(st AllocatorState, inUse map[ID]struct{}) (a *Allocator, repaired bool) {
	a = NewAllocator()
	a.next = st.Next
	if a.next < 1 {
		a.next = 1
	}
	for id := range inUse {
		if id >= a.next {
			a.next = id + 1
			repaired = true
		}
	}
	persisted := make(map[ID]struct{}, len(st.Free))
	for _, id := range st.Free {
		if _, dup := persisted[id]; dup {
			repaired = true
		}
		persisted[id] = struct{}{}
	}
	for id := ID(1); id < a.next; id++ {
		if _, used := inUse[id]; used {
			if _, ok := persisted[id]; ok {
				repaired = true
			}
			continue
		}
		if _, ok := persisted[id]; !ok {
			repaired = true
		}
		a.isFree[id] = struct{}{}
		a.queue.push(id)
	}
	for id := range persisted {
		if id < 1 || id >= a.next {
			repaired = true
		}
	}
	return a, repaired
}
