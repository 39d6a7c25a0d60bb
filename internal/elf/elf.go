// Package elf loads a 32-bit ELF executable's PT_LOAD segments into an
// address space description and demand-loads individual pages from
// them. Ported from kern/userprog/loadelf.c's load_elf and
// load_page_from_executable, but parsed with the standard library's
// debug/elf rather than hand-rolled header structs: no example repo in
// the retrieved pack carries its own ELF reader, and debug/elf is the
// idiomatic Go way to walk program headers (see DESIGN.md).
package elf

import (
	"debug/elf"
	"fmt"
	"io"
)

// Segment describes one PT_LOAD program header, mirroring the
// as->executable_offset/filesize/memsize and as->data_* fields
// setup_segment records.
type Segment struct {
	VAddr      uint32
	MemSize    uint32
	FileSize   uint32
	Offset     int64
	Writeable  bool
	Executable bool
}

// npages rounds MemSize up to a whole number of pages.
func (s Segment) npages(pageSize uint32) uint32 {
	return (s.MemSize + pageSize - 1) / pageSize
}

// Executable is a parsed ELF binary ready for demand loading. At most
// one executable (code) segment and one non-executable (data) segment
// are supported, matching dumbvm's two-region address space; a third
// PT_LOAD segment is rejected, mirroring load_elf's implicit
// assumption and setup_segment's single-executable-segment assertion.
type Executable struct {
	ReaderAt io.ReaderAt
	Entry    uint32
	Code     Segment
	HasCode  bool
	Data     Segment
	HasData  bool
}

// Load parses the ELF header and program headers behind r, classifying
// each PT_LOAD segment as the code region (execute permission set) or
// the data region (otherwise).
func Load(r io.ReaderAt) (*Executable, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("elf: %w", err)
	}
	if f.Class != elf.ELFCLASS32 || f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("elf: not a 32-bit executable")
	}

	out := &Executable{ReaderAt: r, Entry: uint32(f.Entry)}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		seg := Segment{
			VAddr:      uint32(prog.Vaddr),
			MemSize:    uint32(prog.Memsz),
			FileSize:   uint32(prog.Filesz),
			Offset:     int64(prog.Off),
			Writeable:  prog.Flags&elf.PF_W != 0,
			Executable: prog.Flags&elf.PF_X != 0,
		}
		if seg.Executable {
			if out.HasCode {
				return nil, fmt.Errorf("elf: more than one executable PT_LOAD segment")
			}
			out.Code = seg
			out.HasCode = true
		} else {
			if out.HasData {
				return nil, fmt.Errorf("elf: more than one data PT_LOAD segment")
			}
			out.Data = seg
			out.HasData = true
		}
	}
	if !out.HasCode {
		return nil, fmt.Errorf("elf: no executable segment found")
	}
	return out, nil
}

// LoadPage fills dst (exactly one page) with the contents of seg's
// page number pageIdx (0-based, relative to seg.VAddr). Bytes beyond
// the segment's on-disk filesize are zero-filled, mirroring
// load_page_from_executable's bzero of the BSS tail. pageSize is the
// caller's page size (vmconst.PageSize in production).
func LoadPage(r io.ReaderAt, seg Segment, pageIdx uint32, pageSize uint32, dst []byte) error {
	if uint32(len(dst)) != pageSize {
		return fmt.Errorf("elf: LoadPage: dst must be %d bytes, got %d", pageSize, len(dst))
	}
	if pageIdx >= seg.npages(pageSize) {
		return fmt.Errorf("elf: LoadPage: page %d out of range for segment of %d pages", pageIdx, seg.npages(pageSize))
	}

	pageStartInSeg := pageIdx * pageSize
	for i := range dst {
		dst[i] = 0
	}
	if pageStartInSeg >= seg.FileSize {
		// Entirely within the zero-filled tail (BSS).
		return nil
	}

	n := pageSize
	if pageStartInSeg+n > seg.FileSize {
		n = seg.FileSize - pageStartInSeg
	}
	if _, err := r.ReadAt(dst[:n], seg.Offset+int64(pageStartInSeg)); err != nil {
		return fmt.Errorf("elf: short read loading page %d of segment at 0x%x: %w", pageIdx, seg.VAddr, err)
	}
	return nil
}
