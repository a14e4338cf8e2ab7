package bus

import "github.com/rvvp/rvvp/internal/memory"

// RAMTarget adapts a *memory.RAM region to the bus's Target interface.
type RAMTarget struct {
	RAM *memory.RAM
}

func (t RAMTarget) Transport(cmd Cmd, off uint64, buf []byte) error {
	if cmd.IsWrite() {
		t.RAM.WriteBytes(off+t.RAM.Base(), buf)
	} else {
		t.RAM.ReadBytes(off+t.RAM.Base(), buf)
	}
	return nil
}
