// Package schedule is the discrete-event delta queue shared by CLINT,
// PLIC and the simulation driver: a doubly-linked list of events, each
// holding a deadline relative to the event before it, so that advancing
// time by N only costs adjusting the head's remaining delta.
//
// Delta-queue event scheduler.
//
// Copyright (c) 2024, the rvvp authors.
//
// Permission is hereby granted, free of charge, to any person obtaining a
// copy of this software and associated documentation files (the "Software"),
// to deal in the Software without restriction, including without limitation
// the rights to use, copy, modify, merge, publish, distribute, sublicense,
// and/or sell copies of the Software, and to permit persons to whom the
// Software is furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
package schedule

// Callback fires when an event's deadline is reached. arg is whatever
// the caller passed to AddEvent, letting one callback serve many
// scheduled instances (e.g. one per mtimecmp register).
type Callback func(arg int)

type event struct {
	delta int64 // cycles until this event, relative to the previous one
	owner any   // identity used by CancelEvent; typically the device pointer
	cb    Callback
	arg   int
	prev  *event
	next  *event
}

// Queue is a delta queue. The zero value is ready to use. Queue is not
// safe for concurrent use: the simulation driver owns it and callers
// queue/advance from the same goroutine.
type Queue struct {
	head *event
}

// Pending reports whether any event is scheduled.
func (q *Queue) Pending() bool { return q.head != nil }

// NextDelta returns the number of cycles until the earliest event, or
// -1 if the queue is empty.
func (q *Queue) NextDelta() int64 {
	if q.head == nil {
		return -1
	}
	return q.head.delta
}

// AddEvent schedules cb to fire in `cycles` cycles. A zero delay fires
// immediately, synchronously.
func (q *Queue) AddEvent(owner any, cb Callback, cycles int64, arg int) {
	if cycles <= 0 {
		cb(arg)
		return
	}

	ev := &event{owner: owner, cb: cb, delta: cycles, arg: arg}

	cur := q.head
	if cur == nil {
		q.head = ev
		return
	}

	var prev *event
	for cur != nil {
		if ev.delta <= cur.delta {
			cur.delta -= ev.delta
			ev.prev = prev
			ev.next = cur
			cur.prev = ev
			if prev != nil {
				prev.next = ev
			} else {
				q.head = ev
			}
			return
		}
		ev.delta -= cur.delta
		prev = cur
		cur = cur.next
	}

	prev.next = ev
	ev.prev = prev
}

// CancelEvent removes the first queued event matching owner and arg, if
// any, folding its remaining delta into the following event so absolute
// deadlines of events after it are unaffected.
func (q *Queue) CancelEvent(owner any, arg int) {
	for ev := q.head; ev != nil; ev = ev.next {
		if ev.owner != owner || ev.arg != arg {
			continue
		}
		if ev.next != nil {
			ev.next.delta += ev.delta
			ev.next.prev = ev.prev
		}
		if ev.prev != nil {
			ev.prev.next = ev.next
		} else {
			q.head = ev.next
		}
		return
	}
}

// Advance moves time forward by cycles, firing (and dequeuing) every
// event whose deadline falls at or before the new time.
func (q *Queue) Advance(cycles int64) {
	if q.head == nil {
		return
	}
	q.head.delta -= cycles
	for q.head != nil && q.head.delta <= 0 {
		ev := q.head
		q.head = ev.next
		if q.head != nil {
			q.head.prev = nil
			// Carry the overshoot so events behind the fired one keep
			// their absolute deadlines when advancing by a whole quantum.
			q.head.delta += ev.delta
		}
		ev.cb(ev.arg)
	}
}
