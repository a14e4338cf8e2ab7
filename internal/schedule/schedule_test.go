package schedule

import "testing"

func TestAddEventFiresInOrder(t *testing.T) {
	var q Queue
	var fired []int

	q.AddEvent("a", func(arg int) { fired = append(fired, arg) }, 10, 1)
	q.AddEvent("b", func(arg int) { fired = append(fired, arg) }, 5, 2)
	q.AddEvent("c", func(arg int) { fired = append(fired, arg) }, 15, 3)

	q.Advance(5)
	if len(fired) != 1 || fired[0] != 2 {
		t.Fatalf("after advance(5): fired=%v, want [2]", fired)
	}
	q.Advance(5)
	if len(fired) != 2 || fired[1] != 1 {
		t.Fatalf("after advance(5) again: fired=%v, want [2 1]", fired)
	}
	q.Advance(5)
	if len(fired) != 3 || fired[2] != 3 {
		t.Fatalf("after final advance: fired=%v, want [2 1 3]", fired)
	}
}

func TestZeroDelayFiresSynchronously(t *testing.T) {
	var q Queue
	called := false
	q.AddEvent(nil, func(int) { called = true }, 0, 0)
	if !called {
		t.Error("zero-delay event should fire immediately")
	}
	if q.Pending() {
		t.Error("zero-delay event should not be queued")
	}
}

func TestCancelEvent(t *testing.T) {
	var q Queue
	var fired []int
	q.AddEvent("dev", func(arg int) { fired = append(fired, arg) }, 10, 1)
	q.AddEvent("dev", func(arg int) { fired = append(fired, arg) }, 20, 2)
	q.CancelEvent("dev", 1)
	q.Advance(10)
	if len(fired) != 0 {
		t.Fatalf("cancelled event fired: %v", fired)
	}
	q.Advance(10)
	if len(fired) != 1 || fired[0] != 2 {
		t.Fatalf("fired=%v, want [2]", fired)
	}
}

func TestAdvancePastMultipleDeadlines(t *testing.T) {
	var q Queue
	var fired []int
	q.AddEvent("a", func(arg int) { fired = append(fired, arg) }, 5, 1)
	q.AddEvent("b", func(arg int) { fired = append(fired, arg) }, 8, 2)

	// One big advance must fire both, in deadline order.
	q.Advance(10)
	if len(fired) != 2 || fired[0] != 1 || fired[1] != 2 {
		t.Fatalf("fired=%v, want [1 2]", fired)
	}
}

func TestNextDeltaEmpty(t *testing.T) {
	var q Queue
	if d := q.NextDelta(); d != -1 {
		t.Errorf("NextDelta on empty queue = %d, want -1", d)
	}
}
