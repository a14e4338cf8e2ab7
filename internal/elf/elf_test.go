package elf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/rvvp/rvvp/internal/memory"
)

// buildMinimalRISCV64 hand-assembles the smallest valid little-endian
// ELF64 EM_RISCV file with a single PT_LOAD segment, bypassing any
// assembler/linker: an ELF64 header (64 bytes) followed by one program
// header (56 bytes) followed by the segment's raw bytes.
func buildMinimalRISCV64(t *testing.T, entry uint64, paddr uint64, payload []byte) []byte {
	t.Helper()
	const ehdrSize = 64
	const phdrSize = 56

	buf := make([]byte, ehdrSize+phdrSize+len(payload))

	// e_ident
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:18], 2)       // e_type = ET_EXEC
	le.PutUint16(buf[18:20], 0xf3)    // e_machine = EM_RISCV
	le.PutUint32(buf[20:24], 1)       // e_version
	le.PutUint64(buf[24:32], entry)   // e_entry
	le.PutUint64(buf[32:40], ehdrSize) // e_phoff
	le.PutUint64(buf[40:48], 0)       // e_shoff
	le.PutUint32(buf[48:52], 0)       // e_flags
	le.PutUint16(buf[52:54], ehdrSize)
	le.PutUint16(buf[54:56], phdrSize)
	le.PutUint16(buf[56:58], 1) // e_phnum
	le.PutUint16(buf[58:60], 0)
	le.PutUint16(buf[60:62], 0)
	le.PutUint16(buf[62:64], 0)

	ph := buf[ehdrSize : ehdrSize+phdrSize]
	le.PutUint32(ph[0:4], 1)                       // p_type = PT_LOAD
	le.PutUint32(ph[4:8], 5)                       // p_flags = R+X
	le.PutUint64(ph[8:16], uint64(ehdrSize+phdrSize)) // p_offset
	le.PutUint64(ph[16:24], paddr)                 // p_vaddr
	le.PutUint64(ph[24:32], paddr)                 // p_paddr
	le.PutUint64(ph[32:40], uint64(len(payload)))   // p_filesz
	le.PutUint64(ph[40:48], uint64(len(payload)))   // p_memsz
	le.PutUint64(ph[48:56], 4096)                  // p_align

	copy(buf[ehdrSize+phdrSize:], payload)
	return buf
}

func TestLoadMinimalRISCV64(t *testing.T) {
	payload := []byte{0x13, 0x00, 0x00, 0x00} // addi x0, x0, 0
	raw := buildMinimalRISCV64(t, 0x1000, 0x1000, payload)

	img, err := Load(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if img.XLEN != 64 {
		t.Fatalf("XLEN = %d, want 64", img.XLEN)
	}
	if img.Entry != 0x1000 {
		t.Fatalf("Entry = %#x, want 0x1000", img.Entry)
	}
	if len(img.Segments) != 1 {
		t.Fatalf("Segments = %d, want 1", len(img.Segments))
	}
	if img.Segments[0].PhysAddr != 0x1000 {
		t.Fatalf("segment PhysAddr = %#x, want 0x1000", img.Segments[0].PhysAddr)
	}
	if img.HasSignature {
		t.Fatalf("HasSignature should be false: no symtab present")
	}
}

func TestWriteIntoCopiesSegmentBytes(t *testing.T) {
	payload := []byte{0xef, 0xbe, 0xad, 0xde}
	raw := buildMinimalRISCV64(t, 0x2000, 0x2000, payload)

	img, err := Load(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ram := memory.NewRAM(0x2000, 4096)
	if err := img.WriteInto(ram); err != nil {
		t.Fatalf("WriteInto: %v", err)
	}
	if got := ram.ReadWord(0x2000); got != 0xdeadbeef {
		t.Fatalf("ram@0x2000 = %#x, want 0xdeadbeef", got)
	}
}

func TestWriteIntoRejectsSegmentOutsideRAM(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	raw := buildMinimalRISCV64(t, 0x9000, 0x9000, payload)

	img, err := Load(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ram := memory.NewRAM(0x1000, 4096)
	if err := img.WriteInto(ram); err == nil {
		t.Fatalf("expected error loading segment outside RAM bounds")
	}
}
