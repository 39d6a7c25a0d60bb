package vm

import (
	"testing"

	"github.com/smukherj1/os161/internal/addrspace"
	"github.com/smukherj1/os161/internal/blockdev"
	"github.com/smukherj1/os161/internal/coremap"
	"github.com/smukherj1/os161/internal/elf"
	"github.com/smukherj1/os161/internal/swap"
	"github.com/smukherj1/os161/internal/trapframe"
	"github.com/smukherj1/os161/internal/vmconst"
)

type sliceReaderAt []byte

func (s sliceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(s)) {
		return 0, nil
	}
	n := copy(p, s[off:])
	return n, nil
}

func newFixture(t *testing.T, frames int) (*coremap.CoreMap, *swap.Store, *TLB) {
	t.Helper()
	tlb := New()
	dev := blockdev.NewMemDevice()
	st := swap.New(dev)
	cm, err := coremap.New(frames, st, tlb)
	if err != nil {
		t.Fatalf("coremap.New: %v", err)
	}
	return cm, st, tlb
}

func TestFaultDemandLoadsCodePage(t *testing.T) {
	cm, st, tlb := newFixture(t, 32)
	as := addrspace.New(cm, st)
	if err := as.DefineRegion(addrspace.CodeRegion, 0x1000, 1, false); err != nil {
		t.Fatalf("DefineRegion: %v", err)
	}

	img := make([]byte, vmconst.PageSize)
	copy(img, []byte("codebytes"))
	exec := &elf.Executable{
		ReaderAt: sliceReaderAt(img),
		HasCode:  true,
		Code:     elf.Segment{VAddr: 0x1000, MemSize: vmconst.PageSize, FileSize: vmconst.PageSize, Offset: 0},
	}
	h := NewHandler(cm, st, tlb, exec)

	res := h.Fault(as, trapframe.Read, 0x1000)
	if res != trapframe.OK {
		t.Fatalf("Fault() = %v; want OK", res)
	}
	paddr, valid, found := as.Translate(vmconst.PageNumber(0x1000))
	if !found || !valid {
		t.Fatalf("Translate after fault: found=%v valid=%v", found, valid)
	}
	if string(cm.Bytes(paddr)[:9]) != "codebytes" {
		t.Fatalf("loaded page contents = %q; want codebytes", cm.Bytes(paddr)[:9])
	}
	if h.Stats().MinorFault != 1 {
		t.Fatalf("MinorFault = %d; want 1", h.Stats().MinorFault)
	}
}

func TestFaultOutOfRegionIsUserFault(t *testing.T) {
	cm, st, tlb := newFixture(t, 32)
	as := addrspace.New(cm, st)
	h := NewHandler(cm, st, tlb, nil)

	res := h.Fault(as, trapframe.Read, 0xDEADB000)
	if res != trapframe.UserFault {
		t.Fatalf("Fault() on undefined region = %v; want UserFault", res)
	}
	if h.Stats().Protection != 1 {
		t.Fatalf("Protection = %d; want 1", h.Stats().Protection)
	}
}

func TestFaultWriteToReadOnlyCodeIsUserFault(t *testing.T) {
	cm, st, tlb := newFixture(t, 32)
	as := addrspace.New(cm, st)
	if err := as.DefineRegion(addrspace.CodeRegion, 0x1000, 1, false); err != nil {
		t.Fatalf("DefineRegion: %v", err)
	}
	h := NewHandler(cm, st, tlb, nil)

	res := h.Fault(as, trapframe.Write, 0x1000)
	if res != trapframe.UserFault {
		t.Fatalf("Fault(write to read-only code) = %v; want UserFault", res)
	}
}

func TestFaultReadOnlyTrapIsAlwaysRejected(t *testing.T) {
	cm, st, tlb := newFixture(t, 32)
	as := addrspace.New(cm, st)
	h := NewHandler(cm, st, tlb, nil)

	res := h.Fault(as, trapframe.ReadOnly, 0x1000)
	if res != trapframe.UserFault {
		t.Fatalf("Fault(ReadOnly) = %v; want UserFault", res)
	}
}

func TestFaultHeapPageIsZeroFilled(t *testing.T) {
	cm, st, tlb := newFixture(t, 32)
	as := addrspace.New(cm, st)
	if err := as.DefineRegion(addrspace.DataRegion, 0x2000, 1, true); err != nil {
		t.Fatalf("DefineRegion: %v", err)
	}
	if _, err := as.Sbrk(vmconst.PageSize); err != nil {
		t.Fatalf("Sbrk: %v", err)
	}
	h := NewHandler(cm, st, tlb, nil)

	heapAddr := vmconst.RoundUpPage(0x2000 + vmconst.PageSize)
	res := h.Fault(as, trapframe.Write, heapAddr)
	if res != trapframe.OK {
		t.Fatalf("Fault(heap) = %v; want OK", res)
	}
	paddr, valid, found := as.Translate(vmconst.PageNumber(heapAddr))
	if !found || !valid {
		t.Fatalf("Translate(heap) found=%v valid=%v; want true, true", found, valid)
	}
	for i, b := range cm.Bytes(paddr) {
		if b != 0 {
			t.Fatalf("heap page byte %d = %#x; want 0", i, b)
		}
	}
}

func TestFaultGrowsStackIntoProbeZone(t *testing.T) {
	cm, st, tlb := newFixture(t, 32)
	as := addrspace.New(cm, st)
	if _, err := as.DefineStack(); err != nil {
		t.Fatalf("DefineStack: %v", err)
	}
	h := NewHandler(cm, st, tlb, nil)

	before := as.StackVBase()
	addr := before - 4
	res := h.Fault(as, trapframe.Read, addr)
	if res != trapframe.OK {
		t.Fatalf("Fault(stack probe) = %v; want OK", res)
	}
	if got := as.StackVBase(); got != before-vmconst.PageSize {
		t.Fatalf("StackVBase after growth = %#x; want %#x", got, before-vmconst.PageSize)
	}

	res2 := h.Fault(as, trapframe.Read, addr)
	if res2 != trapframe.OK {
		t.Fatalf("second Fault(same address) = %v; want OK", res2)
	}
	if h.Stats().TLBHits != 1 {
		t.Fatalf("TLBHits = %d; want 1 (second access should be a plain refill)", h.Stats().TLBHits)
	}
}

func TestFaultTLBHitOnSecondAccess(t *testing.T) {
	cm, st, tlb := newFixture(t, 32)
	as := addrspace.New(cm, st)
	if err := as.DefineRegion(addrspace.DataRegion, 0x2000, 1, true); err != nil {
		t.Fatalf("DefineRegion: %v", err)
	}
	h := NewHandler(cm, st, tlb, nil)

	h.Fault(as, trapframe.Write, 0x2000)
	res := h.Fault(as, trapframe.Read, 0x2000)
	if res != trapframe.OK {
		t.Fatalf("second Fault() = %v; want OK", res)
	}
	if h.Stats().TLBHits != 1 {
		t.Fatalf("TLBHits = %d; want 1", h.Stats().TLBHits)
	}
}
