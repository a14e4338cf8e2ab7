package bus

// PTEWalker adapts a *Bus into the mmu.PTEMem interface: page-table
// walks go through the bus's normal port routing (so a page table
// sitting in guest RAM is read the same way any other load would be)
// but always through the debug transport variants, so a walk never
// fires a device interrupt or consumes a bus cycle.
type PTEWalker struct {
	Bus *Bus
}

func (w PTEWalker) LoadPTE32(paddr uint64) uint32 {
	var buf [4]byte
	if err := w.Bus.Transport(CmdReadDbg, paddr, buf[:]); err != nil {
		return 0
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

func (w PTEWalker) LoadPTE64(paddr uint64) uint64 {
	lo := uint64(w.LoadPTE32(paddr))
	hi := uint64(w.LoadPTE32(paddr + 4))
	return lo | hi<<32
}

func (w PTEWalker) StorePTE32(paddr uint64, val uint32) {
	buf := [4]byte{byte(val), byte(val >> 8), byte(val >> 16), byte(val >> 24)}
	_ = w.Bus.Transport(CmdWriteDbg, paddr, buf[:])
}
