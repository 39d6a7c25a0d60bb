// Package syscallvm implements the three system calls that sit
// directly on top of the VM core: sbrk, fork's address-space half, and
// execv's address-space setup. Grounded on kern/userprog/runprogram.c
// (as_create/as_activate/load_elf/as_define_stack/argv packing) and on
// dumbvm's as_copy contract for fork.
package syscallvm

import (
	"fmt"

	"github.com/smukherj1/os161/internal/addrspace"
	"github.com/smukherj1/os161/internal/elf"
	"github.com/smukherj1/os161/internal/vmconst"
	"github.com/smukherj1/os161/internal/vmsys"
)

// Sbrk grows or shrinks as's heap by delta bytes, returning the
// previous break — the direct syscall-level wrapper around
// addrspace.Sbrk.
func Sbrk(as *addrspace.AddressSpace, delta int32) (uint32, error) {
	return as.Sbrk(delta)
}

// Fork creates an independent copy of parent's address space, eagerly
// duplicating every mapped or swapped page (no copy-on-write), per
// as_copy's contract and spec.md §4.3.
func Fork(parent *addrspace.AddressSpace) (*addrspace.AddressSpace, error) {
	return addrspace.Copy(parent)
}

// LoadResult is what Execv hands back to the caller to finish setting
// up the new process's initial register state.
type LoadResult struct {
	AddressSpace *addrspace.AddressSpace
	Executable   *elf.Executable
	EntryPoint   uint32
	StackPointer uint32
}

// Execv builds a brand-new address space from img, replacing whatever
// address space the caller previously had, mirroring runprogram.c's
// as_create/as_activate/load_elf/as_define_stack sequence. argv is
// packed onto a scratch buffer the same way runprogram.c does (each
// argument NUL-padded to a 4-byte boundary, final buffer 8-byte
// aligned) and returned so the caller can place it at the top of the
// new stack.
func Execv(sys *vmsys.VmSystem, img *elf.Executable, argv []string) (*LoadResult, []byte, error) {
	as := sys.NewAddressSpace()
	sys.Activate(as)

	if img.HasCode {
		if err := as.DefineRegion(addrspace.CodeRegion,
			img.Code.VAddr, pagesFor(img.Code.MemSize), false); err != nil {
			return nil, nil, fmt.Errorf("syscallvm: execv: %w", err)
		}
	}
	if img.HasData {
		if err := as.DefineRegion(addrspace.DataRegion,
			img.Data.VAddr, pagesFor(img.Data.MemSize), true); err != nil {
			return nil, nil, fmt.Errorf("syscallvm: execv: %w", err)
		}
	}

	if err := as.PrepareLoad(); err != nil {
		return nil, nil, fmt.Errorf("syscallvm: execv: %w", err)
	}
	if err := as.CompleteLoad(); err != nil {
		return nil, nil, fmt.Errorf("syscallvm: execv: %w", err)
	}

	sp, err := as.DefineStack()
	if err != nil {
		return nil, nil, fmt.Errorf("syscallvm: execv: %w", err)
	}
	buf := packArgv(argv)

	return &LoadResult{
		AddressSpace: as,
		Executable:   img,
		EntryPoint:   img.Entry,
		StackPointer: sp,
	}, buf, nil
}

func pagesFor(memsize uint32) uint32 {
	return (memsize + vmconst.PageSize - 1) / vmconst.PageSize
}

// packArgv lays out argv the way runprogram.c's kbuf construction
// does: a leading (argc+1)*4 byte vector of offsets (left zeroed here;
// the caller fills it in once it knows the stack-relative addresses),
// followed by the NUL-terminated argument bytes each padded to a
// 4-byte boundary, with the whole buffer padded to 8 bytes.
func packArgv(argv []string) []byte {
	argc := len(argv)
	vecLen := (argc + 1) * 4

	total := vecLen
	for _, a := range argv {
		n := len(a) + 1 // NUL terminator
		pad := (4 - n%4) % 4
		total += n + pad
	}
	if total%8 != 0 {
		total += 8 - total%8
	}

	buf := make([]byte, total)
	off := vecLen
	for _, a := range argv {
		copy(buf[off:], a)
		off += len(a) + 1
		off += (4 - (len(a)+1)%4) % 4
	}
	return buf
}
