package clint

import (
	"testing"

	"github.com/rvvp/rvvp/internal/device"
	"github.com/rvvp/rvvp/internal/schedule"
)

type fakeHart struct {
	timerOn, softOn bool
}

func (f *fakeHart) TriggerTimerInterrupt(status bool)    { f.timerOn = status }
func (f *fakeHart) TriggerSoftwareInterrupt(status bool) { f.softOn = status }

func TestMTimeMonotonic(t *testing.T) {
	var q schedule.Queue
	hart := &fakeHart{}
	c := New(&q, []device.ClintTarget{hart}, 10)

	a := c.MTime()
	c.AdvanceCycles(100)
	b := c.MTime()
	if b < a {
		t.Fatalf("mtime went backward: %d -> %d", a, b)
	}
}

func TestMTimeCmpFiresAfterDeadline(t *testing.T) {
	var q schedule.Queue
	hart := &fakeHart{}
	c := New(&q, []device.ClintTarget{hart}, 10)

	c.WriteMTimeCmp(0, 1000)
	if hart.timerOn {
		t.Fatal("timer should not fire before mtime reaches mtimecmp")
	}
	c.AdvanceCycles(20_000) // 2000us at 10 cycles/us
	if !hart.timerOn {
		t.Fatal("timer should have fired once mtime passed mtimecmp")
	}
}

func TestWriteMTimeCmpBelowCurrentFiresImmediately(t *testing.T) {
	var q schedule.Queue
	hart := &fakeHart{}
	c := New(&q, []device.ClintTarget{hart}, 10)
	c.AdvanceCycles(50)

	c.WriteMTimeCmp(0, 1) // mtime is already past 1us
	if !hart.timerOn {
		t.Fatal("mtimecmp <= mtime should assert the timer interrupt immediately")
	}
}

func TestRealTimeMTimeMonotonic(t *testing.T) {
	hart := &fakeHart{}
	c := NewRealTime([]device.ClintTarget{hart})

	a := c.MTime()
	b := c.MTime()
	if b < a {
		t.Fatalf("wall-clock mtime went backward: %d -> %d", a, b)
	}
}

func TestRealTimeMTimeCmpInPastFiresImmediately(t *testing.T) {
	hart := &fakeHart{}
	c := NewRealTime([]device.ClintTarget{hart})

	c.WriteMTimeCmp(0, 1) // 1us after construction is effectively always in the past
	if !hart.timerOn {
		// The only way mtime can still be 0 is a sub-microsecond race;
		// a second write after MTime() has advanced settles it.
		for c.MTime() < 1 {
		}
		c.WriteMTimeCmp(0, 1)
		if !hart.timerOn {
			t.Fatal("mtimecmp in the past should assert the timer interrupt immediately")
		}
	}

	c.WriteMTimeCmp(0, 0) // disarm
	if hart.timerOn {
		t.Fatal("mtimecmp=0 should disarm and clear the timer interrupt")
	}
}

func TestWriteMSIP(t *testing.T) {
	var q schedule.Queue
	hart := &fakeHart{}
	c := New(&q, []device.ClintTarget{hart}, 10)

	c.WriteMSIP(0, 1)
	if !hart.softOn {
		t.Fatal("msip bit 0 should raise the software interrupt")
	}
	c.WriteMSIP(0, 0)
	if hart.softOn {
		t.Fatal("clearing msip should clear the software interrupt")
	}
}
