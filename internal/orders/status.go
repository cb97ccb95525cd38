package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Transitions run forward only. paid is terminal: a repeat success
// notification must be treated as a no-op, never an error.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPaid: true, StatusFailed: true, StatusCancelled: true},
	StatusPaid:      {},
	StatusFailed:    {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether no further transition is allowed from s.
func Terminal(s Status) bool {
	return len(validNext[s]) == 0
}
