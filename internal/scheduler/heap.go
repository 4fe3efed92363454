package scheduler

import "container/heap"

// Comparator selects the ordering of the pending-request heap (§4.6). It is
// fixed for the pool's lifetime.
type Comparator int

const (
	// ComparatorDefault orders by smaller priority first, ties broken by
	// earlier arrival time.
	ComparatorDefault Comparator = iota
	// ComparatorTime orders by earlier arrival time only.
	ComparatorTime
	// ComparatorByRound orders by higher round count first (the EAP
	// analogue — this domain's delivery-attempt round), falling back to
	// ComparatorDefault.
	ComparatorByRound
)

func (c Comparator) String() string {
	switch c {
	case ComparatorDefault:
		return "default"
	case ComparatorTime:
		return "time"
	case ComparatorByRound:
		return "eap"
	default:
		return "unknown"
	}
}

// ParseComparator accepts the wire-compatible config strings from §6.
func ParseComparator(s string) (Comparator, bool) {
	switch s {
	case "", "default":
		return ComparatorDefault, true
	case "time":
		return ComparatorTime, true
	case "eap":
		return ComparatorByRound, true
	default:
		return 0, false
	}
}

func defaultLess(a, b Request) bool {
	if a.Priority() != b.Priority() {
		return a.Priority() < b.Priority()
	}
	return a.ArrivalTime().Before(b.ArrivalTime())
}

func less(c Comparator, a, b Request) bool {
	switch c {
	case ComparatorTime:
		return a.ArrivalTime().Before(b.ArrivalTime())
	case ComparatorByRound:
		if a.Rounds() != b.Rounds() {
			return a.Rounds() > b.Rounds()
		}
		return defaultLess(a, b)
	default:
		return defaultLess(a, b)
	}
}

// requestHeap implements container/heap.Interface over a configured
// Comparator.
type requestHeap struct {
	items []Request
	cmp   Comparator
}

func (h *requestHeap) Len() int { return len(h.items) }

func (h *requestHeap) Less(i, j int) bool { return less(h.cmp, h.items[i], h.items[j]) }

func (h *requestHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].SetHeapIndex(i)
	h.items[j].SetHeapIndex(j)
}

func (h *requestHeap) Push(x any) {
	req := x.(Request)
	req.SetHeapIndex(len(h.items))
	h.items = append(h.items, req)
}

func (h *requestHeap) Pop() any {
	old := h.items
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	req.SetHeapIndex(-1)
	h.items = old[:n-1]
	return req
}

func (h *requestHeap) peek() Request {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

var _ heap.Interface = (*requestHeap)(nil)
