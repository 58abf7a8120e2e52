package alarm

import (
	"math/rand"
	"testing"
	"time"
)

var t0 = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func TestStoreListByOwnerOrder(t *testing.T) {
	t.Parallel()
	s := NewStore()
	rng := rand.New(rand.NewSource(7))

	// Ids 1..40 with due times drawn from a small set so ties are common.
	ids := rng.Perm(40)
	for _, i := range ids {
		id := ID(i + 1)
		s.Put(Record{ID: id, Owner: 1, DueAt: t0.Add(time.Duration(rng.Intn(5)) * time.Minute)})
	}
	s.Put(Record{ID: 100, Owner: 2, DueAt: t0})

	got := s.ListByOwner(1)
	if len(got) != 40 {
		t.Fatalf("len = %d, want 40", len(got))
	}
	for i := 1; i < len(got); i++ {
		a, b := got[i-1], got[i]
		if a.DueAt.After(b.DueAt) {
			t.Fatalf("not sorted by due at %d: %v then %v", i, a, b)
		}
		if a.DueAt.Equal(b.DueAt) && a.ID >= b.ID {
			t.Fatalf("tie not broken by id at %d: %d then %d", i, a.ID, b.ID)
		}
	}
}

func TestStoreRemoveDropsEmptyOwner(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Put(Record{ID: 1, Owner: 9, DueAt: t0})
	s.Put(Record{ID: 2, Owner: 9, DueAt: t0})

	if _, ok := s.Remove(9, 1); !ok {
		t.Fatal("Remove(9, 1) not found")
	}
	if s.Owners() != 1 {
		t.Fatalf("Owners() = %d, want 1", s.Owners())
	}
	if _, ok := s.Remove(9, 2); !ok {
		t.Fatal("Remove(9, 2) not found")
	}
	if s.Owners() != 0 || s.Len() != 0 {
		t.Fatalf("Owners()=%d Len()=%d, want 0/0", s.Owners(), s.Len())
	}
	if _, ok := s.Remove(9, 2); ok {
		t.Fatal("second Remove should miss")
	}
}

func TestStoreOwnerNamespaces(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Put(Record{ID: 1, Owner: 1, DueAt: t0, Message: "mine"})

	if _, ok := s.Get(2, 1); ok {
		t.Fatal("owner 2 must not see owner 1's alarm")
	}
	if _, ok := s.Update(2, 1, func(r *Record) { r.Message = "hijack" }); ok {
		t.Fatal("owner 2 must not update owner 1's alarm")
	}
	if _, ok := s.Remove(2, 1); ok {
		t.Fatal("owner 2 must not remove owner 1's alarm")
	}
	r, _ := s.Get(1, 1)
	if r.Message != "mine" {
		t.Fatalf("Message = %q", r.Message)
	}
}

func TestStoreUpdateKeepsKey(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Put(Record{ID: 3, Owner: 1, DueAt: t0, Message: "a"})
	r, ok := s.Update(1, 3, func(r *Record) {
		r.Message = "b"
		r.ID = 99
		r.Owner = 42
	})
	if !ok {
		t.Fatal("Update not found")
	}
	if r.ID != 3 || r.Owner != 1 || r.Message != "b" {
		t.Fatalf("Update result = %+v", r)
	}
	if got, _ := s.Get(1, 3); got.Message != "b" {
		t.Fatalf("stored Message = %q, want b", got.Message)
	}
}

func TestStoreDueAsOf(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Put(Record{ID: 1, Owner: 1, DueAt: t0.Add(-time.Minute)})
	s.Put(Record{ID: 2, Owner: 2, DueAt: t0})
	s.Put(Record{ID: 3, Owner: 2, DueAt: t0.Add(time.Second)})

	due := s.DueAsOf(t0)
	if len(due) != 2 {
		t.Fatalf("len(due) = %d, want 2", len(due))
	}
	if due[0].ID != 1 || due[1].ID != 2 {
		t.Fatalf("due ids = %d,%d, want 1,2", due[0].ID, due[1].ID)
	}
	if got := s.DueAsOf(t0.Add(-time.Hour)); len(got) != 0 {
		t.Fatalf("expected nothing due, got %d", len(got))
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Put(Record{ID: 1, Owner: 1, DueAt: t0, Message: "orig"})
	list := s.ListByOwner(1)
	list[0].Message = "changed"
	exp := s.Export()
	r := exp[1][1]
	r.Message = "changed too"
	if got, _ := s.Get(1, 1); got.Message != "orig" {
		t.Fatalf("store mutated through copy: %q", got.Message)
	}
}
