package alarm

import (
	"sort"
	"time"
)

// Store is the in-memory set of pending alarms, keyed by owner then id.
//
// An owner with no alarms has no entry. Store does not allocate or release
// ids; callers pair Put/Remove with the Allocator.
//
// Store is not safe for concurrent use; Service serializes access.
type Store struct {
	owners map[OwnerID]map[ID]*Record
	count  int
}

func NewStore() *Store {
	return &Store{owners: map[OwnerID]map[ID]*Record{}}
}

// Put inserts r under r.Owner and r.ID, replacing any record with the same key.
func (s *Store) Put(r Record) {
	m := s.owners[r.Owner]
	if m == nil {
		m = map[ID]*Record{}
		s.owners[r.Owner] = m
	}
	if _, exists := m[r.ID]; !exists {
		s.count++
	}
	cp := r
	m[r.ID] = &cp
}

func (s *Store) Get(owner OwnerID, id ID) (Record, bool) {
	r, ok := s.owners[owner][id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// ListByOwner returns the owner's alarms ordered by due time, then id.
func (s *Store) ListByOwner(owner OwnerID) []Record {
	m := s.owners[owner]
	out := make([]Record, 0, len(m))
	for _, r := range m {
		out = append(out, *r)
	}
	sortByDue(out)
	return out
}

// Update applies fn to the stored record and returns the result.
func (s *Store) Update(owner OwnerID, id ID, fn func(r *Record)) (Record, bool) {
	r, ok := s.owners[owner][id]
	if !ok {
		return Record{}, false
	}
	fn(r)
	r.ID, r.Owner = id, owner
	return *r, true
}

// Remove deletes the record and drops the owner entry once it is empty.
func (s *Store) Remove(owner OwnerID, id ID) (Record, bool) {
	m := s.owners[owner]
	r, ok := m[id]
	if !ok {
		return Record{}, false
	}
	delete(m, id)
	s.count--
	if len(m) == 0 {
		delete(s.owners, owner)
	}
	return *r, true
}

// DueAsOf returns every record with DueAt <= now, across all owners, ordered
// by due time then id.
func (s *Store) DueAsOf(now time.Time) []Record {
	var out []Record
	for _, m := range s.owners {
		for _, r := range m {
			if !r.DueAt.After(now) {
				out = append(out, *r)
			}
		}
	}
	sortByDue(out)
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int { return s.count }

// Owners returns the number of owners with at least one alarm.
func (s *Store) Owners() int { return len(s.owners) }

// IDs returns the set of ids currently held by records.
func (s *Store) IDs() map[ID]struct{} {
	out := make(map[ID]struct{}, s.count)
	for _, m := range s.owners {
		for id := range m {
			out[id] = struct{}{}
		}
	}
	return out
}

// Export copies all records into the nested snapshot layout.
func (s *Store) Export() map[OwnerID]map[ID]Record {
	out := make(map[OwnerID]map[ID]Record, len(s.owners))
	for owner, m := range s.owners {
		cp := make(map[ID]Record, len(m))
		for id, r := range m {
			cp[id] = *r
		}
		out[owner] = cp
	}
	return out
}

func sortByDue(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].DueAt.Equal(rs[j].DueAt) {
			return rs[i].DueAt.Before(rs[j].DueAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
