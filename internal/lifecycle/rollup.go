package lifecycle

import "github.com/spec-kit/ticketflow/internal/domain"

// RollUp classifies a snapshot of detail statuses into the parent ticket's
// status. It is a pure function: the same snapshot always yields the same label.
//
// Mixed live statuses resolve to PARTIAL_<status> where status is the
// advanced (non-initial) status shared by the most details, ties going to the
// lowest canonical index. When no advanced status is shared the most advanced
// one present is used.
func RollUp(desc *Descriptor, statuses []domain.Status) domain.Status {
	if len(statuses) == 0 {
		return desc.Initial
	}

	counts := make(map[domain.Status]int, len(statuses))
	cancelled := 0
	for _, s := range statuses {
		if s == desc.Cancelled {
			cancelled++
			continue
		}
		counts[s]++
	}

	switch {
	case cancelled == len(statuses):
		return desc.Cancelled
	case cancelled > 0:
		return desc.PartialCancelled()
	}

	if len(counts) == 1 {
		return statuses[0]
	}

	var (
		shared      domain.Status
		sharedCount int
		advanced    domain.Status
	)
	for status, n := range counts {
		if status == desc.Initial {
			continue
		}
		if advanced == "" || moreAdvanced(desc, status, advanced) {
			advanced = status
		}
		if n < 2 {
			continue
		}
		if n > sharedCount || (n == sharedCount && lessAdvanced(desc, status, shared)) {
			shared = status
			sharedCount = n
		}
	}
	if shared != "" {
		return desc.Partial(shared)
	}
	return desc.Partial(advanced)
}

// moreAdvanced orders by canonical index; statuses outside the enumeration sort
// by name so the result stays deterministic.
func moreAdvanced(desc *Descriptor, a, b domain.Status) bool {
	ia, ib := desc.Index(a), desc.Index(b)
	if ia != ib {
		return ia > ib
	}
	return a > b
}

func lessAdvanced(desc *Descriptor, a, b domain.Status) bool {
	ia, ib := desc.Index(a), desc.Index(b)
	if ia != ib {
		return ia < ib
	}
	return a < b
}
