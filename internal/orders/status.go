package orders

type Status string

const (
	StatusPending         Status = "pending"
	StatusPaid            Status = "paid"
	StatusRefundRequested Status = "refund_requested"
	StatusRefunded        Status = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:         {StatusPaid: true},
	StatusPaid:            {StatusRefundRequested: true, StatusRefunded: true},
	StatusRefundRequested: {StatusRefunded: true},
	StatusRefunded:        {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// forward lists every status in lifecycle order.
var forward = []Status{StatusPending, StatusPaid, StatusRefundRequested, StatusRefunded}

// Rank is the position of s in the lifecycle, or -1 for unknown values.
// Every legal transition strictly increases it.
func (s Status) Rank() int {
	for i, st := range forward {
		if st == s {
			return i
		}
	}
	return -1
}

// sourcesFor lists, in forward order, the states from which `to` is reachable.
func sourcesFor(to Status) []Status {
	var out []Status
	for _, from := range forward {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
