package orders

import "testing"

func TestStatusTransitionsRunForwardOnly(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusPaid},
		{StatusPending, StatusFailed},
		{StatusPending, StatusCancelled},
	}
	for _, c := range allowed {
		if !CanTransition(c.from, c.to) {
			t.Errorf("CanTransition(%s, %s) = false", c.from, c.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusPaid, StatusPending},
		{StatusPaid, StatusFailed},
		{StatusPaid, StatusCancelled},
		{StatusPaid, StatusPaid},
		{StatusFailed, StatusPaid},
		{StatusFailed, StatusPending},
		{StatusCancelled, StatusPaid},
		{StatusPending, StatusPending},
	}
	for _, c := range forbidden {
		if CanTransition(c.from, c.to) {
			t.Errorf("CanTransition(%s, %s) = true", c.from, c.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	for s, want := range map[Status]bool{
		StatusPending:   false,
		StatusPaid:      true,
		StatusFailed:    true,
		StatusCancelled: true,
	} {
		if Terminal(s) != want {
			t.Errorf("Terminal(%s) = %v, want %v", s, !want, want)
		}
	}
}
