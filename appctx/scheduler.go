package appctx

import "sort"

// scheduler runs deadline-ordered callbacks against the deterministic
// clock (spec.md §4.3 "tick(index, t) runs scheduled callbacks whose
// deadline ≤ t in deadline order; ties broken by insertion order").
type scheduler struct {
	seq   uint64
	items []scheduledCallback
}

type scheduledCallback struct {
	deadline int64
	seq      uint64
	fn       func(now int64)
}

// schedule registers fn to run the next time tick observes now >= deadline.
func (s *scheduler) schedule(deadline int64, fn func(now int64)) {
	s.seq++
	s.items = append(s.items, scheduledCallback{deadline: deadline, seq: s.seq, fn: fn})
}

// tick runs every callback whose deadline has arrived, in (deadline, seq)
// order, and drops them from the schedule.
func (s *scheduler) tick(now int64) {
	if len(s.items) == 0 {
		return
	}
	sort.SliceStable(s.items, func(i, j int) bool {
		if s.items[i].deadline != s.items[j].deadline {
			return s.items[i].deadline < s.items[j].deadline
		}
		return s.items[i].seq < s.items[j].seq
	})

	i := 0
	for ; i < len(s.items); i++ {
		if s.items[i].deadline > now {
			break
		}
		s.items[i].fn(now)
	}
	s.items = s.items[i:]
}

func (s *scheduler) pending() int { return len(s.items) }
