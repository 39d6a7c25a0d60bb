package vm

import (
	"sync/atomic"

	"github.com/smukherj1/os161/internal/addrspace"
	"github.com/smukherj1/os161/internal/coremap"
	"github.com/smukherj1/os161/internal/diag"
	"github.com/smukherj1/os161/internal/elf"
	"github.com/smukherj1/os161/internal/swap"
	"github.com/smukherj1/os161/internal/trapframe"
	"github.com/smukherj1/os161/internal/vmconst"
)

// Stats counts fault outcomes, mirroring the teacher's
// internal/runtime/kernel/vmm.go PageFaultStats (MinorFaults/
// MajorFaults/ProtectionFaults), exposed to internal/diag.
type Stats struct {
	TLBHits    uint64
	MinorFault uint64 // resolved by reload from ELF or zero-fill
	MajorFault uint64 // resolved by a swap-in
	Protection uint64 // rejected: out of region or write to read-only
}

// Handler resolves page faults for the address spaces passed to
// Fault, wiring the
// coremap, swap store, TLB, and optional backing executable together
// the way spec.md §4.4 / kern/arch/mips/mips/dumbvm.c's vm_fault does.
type Handler struct {
	cm    *coremap.CoreMap
	swap  *swap.Store
	tlb   *TLB
	exec  *elf.Executable
	stats Stats
}

var _ diag.Source = (*Handler)(nil)

// NewHandler builds a fault handler. exec may be nil for address
// spaces with no demand-paged executable backing (e.g. pure kernel
// test harnesses).
func NewHandler(cm *coremap.CoreMap, store *swap.Store, tlb *TLB, exec *elf.Executable) *Handler {
	return &Handler{cm: cm, swap: store, tlb: tlb, exec: exec}
}

// Stats returns a snapshot of the fault counters.
func (h *Handler) Stats() Stats {
	return Stats{
		TLBHits:    atomic.LoadUint64(&h.stats.TLBHits),
		MinorFault: atomic.LoadUint64(&h.stats.MinorFault),
		MajorFault: atomic.LoadUint64(&h.stats.MajorFault),
		Protection: atomic.LoadUint64(&h.stats.Protection),
	}
}

// FaultStats, CoreMapStats, and SwapStats implement diag.Source,
// letting internal/diag report live statistics; the fault path uses
// diag only for these three result types.
func (h *Handler) FaultStats() diag.FaultStats {
	s := h.Stats()
	return diag.FaultStats{
		TLBHits:    s.TLBHits,
		MinorFault: s.MinorFault,
		MajorFault: s.MajorFault,
		Protection: s.Protection,
	}
}

func (h *Handler) CoreMapStats() diag.CoreMapStats {
	return diag.CoreMapStats{
		TotalFrames: h.cm.TotalFrames(),
		FreeFrames:  h.cm.FreeFrameCount(),
	}
}

func (h *Handler) SwapStats() diag.SwapStats {
	return diag.SwapStats{
		TotalSlots: vmconst.SwapMapSize,
		UsedSlots:  h.swap.UsedSlotCount(),
	}
}

// Fault resolves a single page fault at addr against as, classifying
// it and either refilling the TLB from an already-valid mapping,
// demand-loading or swapping in the page, or rejecting the access as a
// protection violation — spec.md §4.4's full decision tree.
func (h *Handler) Fault(as *addrspace.AddressSpace, ft trapframe.FaultType, addr uint32) trapframe.Result {
	if ft == trapframe.ReadOnly {
		// The hardware already determined this was a write to a
		// read-only mapping; nothing to refill.
		atomic.AddUint64(&h.stats.Protection, 1)
		return trapframe.UserFault
	}

	vpn := vmconst.PageNumber(addr)
	kind, relPage, writeable, ok := as.PageKindAt(vpn)
	if !ok {
		atomic.AddUint64(&h.stats.Protection, 1)
		return trapframe.UserFault
	}
	if ft == trapframe.Write && !writeable {
		atomic.AddUint64(&h.stats.Protection, 1)
		return trapframe.UserFault
	}

	if paddr, valid, found := as.Translate(vpn); found && valid {
		h.tlb.Write(vpn, paddr, writeable)
		atomic.AddUint64(&h.stats.TLBHits, 1)
		return trapframe.OK
	}

	paddr, err := h.cm.AllocFrame(as.ID(), vpn)
	if err != nil {
		return trapframe.KernelFault
	}

	if as.SwapHas(vpn) {
		if err := h.swap.SwapIn(as.ID(), vpn, h.cm.Bytes(paddr)); err != nil {
			return trapframe.KernelFault
		}
		atomic.AddUint64(&h.stats.MajorFault, 1)
	} else if kind == addrspace.PageCode || (kind == addrspace.PageData && h.exec != nil) {
		if h.exec == nil {
			return trapframe.KernelFault
		}
		seg := h.exec.Code
		if kind == addrspace.PageData {
			seg = h.exec.Data
		}
		if err := elf.LoadPage(h.exec.ReaderAt, seg, relPage, vmconst.PageSize, h.cm.Bytes(paddr)); err != nil {
			return trapframe.KernelFault
		}
		atomic.AddUint64(&h.stats.MinorFault, 1)
	} else {
		// Heap or stack page never touched before, or a data page with
		// no backing executable: AllocFrame already zeroed it.
		atomic.AddUint64(&h.stats.MinorFault, 1)
	}

	as.Map(vpn, paddr)
	h.tlb.Write(vpn, paddr, writeable)
	return trapframe.OK
}
