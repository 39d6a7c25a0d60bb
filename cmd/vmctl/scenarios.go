// Scenario runner for the canonical end-to-end properties spec.md §8
// names S1 through S6. Grounded on the same package's cmdRun, this
// exercises a live vmsys.VmSystem the way an operator invoking
// `vmctl run` would, rather than asserting via `testing.T` — the point
// is a runnable health check against a real (possibly file-backed)
// swap device, not a unit test.
package main

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/smukherj1/os161/internal/addrspace"
	"github.com/smukherj1/os161/internal/elf"
	"github.com/smukherj1/os161/internal/trapframe"
	"github.com/smukherj1/os161/internal/vmconst"
	"github.com/smukherj1/os161/internal/vmsys"
)

// ScenarioResult is one named scenario's outcome, printed by cmdRun.
type ScenarioResult struct {
	Name   string
	OK     bool
	Detail string
}

type scenario struct {
	name string
	run  func(sys *vmsys.VmSystem) (string, error)
}

// RunScenarios executes S1-S6 against sys in increasing order of how
// much frame/swap pressure they apply, so an earlier scenario's memory
// footprint never perturbs a later scenario's fault-count assertions.
func RunScenarios(sys *vmsys.VmSystem) ([]ScenarioResult, error) {
	scenarios := []scenario{
		{"S6-read-only-violation", scenarioReadOnlyViolation},
		{"S1-demand-code-load", scenarioDemandCodeLoad},
		{"S2-stack-growth", scenarioStackGrowth},
		{"S3-heap-sbrk", scenarioHeapSbrk},
		{"S5-fork-then-diverge", scenarioForkThenDiverge},
		{"S4-swap-pressure", scenarioSwapPressure},
	}

	results := make([]ScenarioResult, 0, len(scenarios))
	for _, s := range scenarios {
		detail, err := s.run(sys)
		results = append(results, ScenarioResult{
			Name:   s.name,
			OK:     err == nil,
			Detail: detailOrErr(detail, err),
		})
	}
	return results, nil
}

func detailOrErr(detail string, err error) string {
	if err != nil {
		return err.Error()
	}
	return detail
}

// sliceReaderAt backs a synthetic ELF image for S1, matching the style
// of internal/vm's own fault_test.go fixture.
type sliceReaderAt []byte

func (s sliceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(s)) {
		return 0, nil
	}
	n := copy(p, s[off:])
	return n, nil
}

// scenarioDemandCodeLoad implements spec.md §8's S1: a 3-page code
// segment and a 1-page data segment, touched one page at a time; after
// every code page has been faulted in, none of them should have gone
// to swap (an executable page is always re-demandable from the file,
// never written out).
func scenarioDemandCodeLoad(sys *vmsys.VmSystem) (string, error) {
	const codePages = 3
	img := make([]byte, codePages*vmconst.PageSize)
	for p := 0; p < codePages; p++ {
		copy(img[p*vmconst.PageSize:], []byte(fmt.Sprintf("code-page-%d", p)))
	}
	exec := &elf.Executable{
		ReaderAt: sliceReaderAt(img),
		HasCode:  true,
		Code:     elf.Segment{VAddr: 0x1000, MemSize: uint32(len(img)), FileSize: uint32(len(img)), Offset: 0},
		HasData:  true,
		Data:     elf.Segment{VAddr: 0x1000 + uint32(len(img)), MemSize: vmconst.PageSize, FileSize: 0, Offset: int64(len(img))},
	}

	as := sys.NewAddressSpace()
	if err := as.DefineRegion(addrspace.CodeRegion, exec.Code.VAddr, codePages, false); err != nil {
		return "", fmt.Errorf("DefineRegion(code): %w", err)
	}
	if err := as.DefineRegion(addrspace.DataRegion, exec.Data.VAddr, 1, true); err != nil {
		return "", fmt.Errorf("DefineRegion(data): %w", err)
	}

	h := sys.NewHandler(exec)
	for p := 0; p < codePages; p++ {
		addr := exec.Code.VAddr + uint32(p)*vmconst.PageSize
		if res := h.Fault(as, trapframe.Read, addr); res != trapframe.OK {
			return "", fmt.Errorf("fault on code page %d = %v, want OK", p, res)
		}
		paddr, valid, found := as.Translate(vmconst.PageNumber(addr))
		if !found || !valid {
			return "", fmt.Errorf("code page %d not resident after fault", p)
		}
		want := fmt.Sprintf("code-page-%d", p)
		if !bytes.Equal(sys.CoreMap.Bytes(paddr)[:len(want)], []byte(want)) {
			return "", fmt.Errorf("code page %d contents mismatch after demand load", p)
		}
	}
	if sys.Swap.CountOwnedBy(as.ID()) != 0 {
		return "", errors.New("code pages were swapped out; executable pages must never reach swap")
	}
	stats := h.Stats()
	return fmt.Sprintf("%d code pages demand-loaded, %d minor faults, 0 swapped", codePages, stats.MinorFault), nil
}

// scenarioStackGrowth implements spec.md §8's S2.
func scenarioStackGrowth(sys *vmsys.VmSystem) (string, error) {
	as := sys.NewAddressSpace()
	if _, err := as.DefineStack(); err != nil {
		return "", fmt.Errorf("DefineStack: %w", err)
	}
	h := sys.NewHandler(nil)

	before := as.StackVBase()
	addr := vmconst.UserStack - vmconst.PageSize - 4
	if res := h.Fault(as, trapframe.Read, addr); res != trapframe.OK {
		return "", fmt.Errorf("fault on stack-growth probe = %v, want OK", res)
	}
	after := as.StackVBase()
	if after != before-vmconst.PageSize {
		return "", fmt.Errorf("stack_vbase = %#x after growth, want %#x", after, before-vmconst.PageSize)
	}
	if res := h.Fault(as, trapframe.Read, addr); res != trapframe.OK {
		return "", fmt.Errorf("re-fault of grown stack page = %v, want OK", res)
	}
	return fmt.Sprintf("stack_vbase grew from %#x to %#x, no further fault on re-access", before, after), nil
}

// scenarioHeapSbrk implements spec.md §8's S3.
func scenarioHeapSbrk(sys *vmsys.VmSystem) (string, error) {
	as := sys.NewAddressSpace()
	if err := as.DefineRegion(addrspace.DataRegion, 0x2000, 1, true); err != nil {
		return "", fmt.Errorf("DefineRegion(data): %w", err)
	}
	h := sys.NewHandler(nil)

	top, err := as.Sbrk(8192)
	if err != nil {
		return "", fmt.Errorf("Sbrk(8192): %w", err)
	}
	if res := h.Fault(as, trapframe.Write, top); res != trapframe.OK {
		return "", fmt.Errorf("write to %#x after sbrk = %v, want OK", top, res)
	}
	if res := h.Fault(as, trapframe.Write, top+vmconst.PageSize); res != trapframe.OK {
		return "", fmt.Errorf("write to %#x after sbrk = %v, want OK", top+vmconst.PageSize, res)
	}

	if _, err := as.Sbrk(-12288); !errors.Is(err, addrspace.ErrInvalidArgument) {
		return "", fmt.Errorf("Sbrk(-12288) = %v, want ErrInvalidArgument", err)
	}

	for {
		if _, err := as.Sbrk(int32(vmconst.PageSize)); err != nil {
			if !errors.Is(err, addrspace.ErrOutOfMemory) {
				return "", fmt.Errorf("Sbrk growth failed with unexpected error: %w", err)
			}
			break
		}
	}
	return fmt.Sprintf("heap grew from %#x, rejected shrink below base, rejected growth past max", top), nil
}

// scenarioForkThenDiverge implements spec.md §8's S5.
func scenarioForkThenDiverge(sys *vmsys.VmSystem) (string, error) {
	parent := sys.NewAddressSpace()
	if err := parent.DefineRegion(addrspace.DataRegion, 0x5000, 1, true); err != nil {
		return "", fmt.Errorf("DefineRegion: %w", err)
	}
	h := sys.NewHandler(nil)

	const addr = 0x5000
	if res := h.Fault(parent, trapframe.Write, addr); res != trapframe.OK {
		return "", fmt.Errorf("parent write fault = %v, want OK", res)
	}
	pPaddr, _, _ := parent.Translate(vmconst.PageNumber(addr))
	sys.CoreMap.Bytes(pPaddr)[0] = 0xAA

	child, err := addrspace.Copy(parent)
	if err != nil {
		return "", fmt.Errorf("Copy (fork): %w", err)
	}
	defer child.Destroy()

	cPaddr, valid, found := child.Translate(vmconst.PageNumber(addr))
	if !found || !valid {
		return "", errors.New("child's forked page is not resident")
	}
	if cPaddr == pPaddr {
		return "", errors.New("child shares the parent's physical frame; fork must copy eagerly")
	}
	if got := sys.CoreMap.Bytes(cPaddr)[0]; got != 0xAA {
		return "", fmt.Errorf("child's copied byte = %#x, want 0xAA", got)
	}

	sys.CoreMap.Bytes(cPaddr)[0] = 0x55
	if got := sys.CoreMap.Bytes(pPaddr)[0]; got != 0xAA {
		return "", fmt.Errorf("parent byte changed to %#x after child wrote; want unchanged 0xAA", got)
	}
	if got := sys.CoreMap.Bytes(cPaddr)[0]; got != 0x55 {
		return "", fmt.Errorf("child byte = %#x, want 0x55", got)
	}
	return "parent=0xAA, child=0x55 after fork and independent writes", nil
}

// scenarioReadOnlyViolation implements spec.md §8's S6.
func scenarioReadOnlyViolation(sys *vmsys.VmSystem) (string, error) {
	as := sys.NewAddressSpace()
	if err := as.DefineRegion(addrspace.CodeRegion, 0x1000, 1, false); err != nil {
		return "", fmt.Errorf("DefineRegion: %w", err)
	}
	h := sys.NewHandler(nil)
	if res := h.Fault(as, trapframe.Write, 0x1000); res != trapframe.UserFault {
		return "", fmt.Errorf("write to R|X-only region = %v, want USER_FAULT", res)
	}
	return "write to read-only region correctly rejected with USER_FAULT", nil
}

// scenarioSwapPressure implements spec.md §8's S4: allocate
// TotalFrames+5 pages across two address spaces alternately and verify
// every page's contents survive eviction and swap-in round-trips.
func scenarioSwapPressure(sys *vmsys.VmSystem) (string, error) {
	total := sys.CoreMap.TotalFrames() + 5
	const numAS = 2

	spaces := make([]*addrspace.AddressSpace, numAS)
	perAS := uint32(total/numAS + 1)
	for i := range spaces {
		spaces[i] = sys.NewAddressSpace()
		if err := spaces[i].DefineRegion(addrspace.DataRegion, 0x100000, perAS, true); err != nil {
			return "", fmt.Errorf("DefineRegion(as %d): %w", i, err)
		}
	}
	defer func() {
		for _, as := range spaces {
			as.Destroy()
		}
	}()

	h := sys.NewHandler(nil)
	addrOf := func(i int) (as *addrspace.AddressSpace, addr uint32) {
		as = spaces[i%numAS]
		page := uint32(i / numAS)
		return as, 0x100000 + page*vmconst.PageSize
	}

	for i := 0; i < total; i++ {
		as, addr := addrOf(i)
		if res := h.Fault(as, trapframe.Write, addr); res != trapframe.OK {
			return "", fmt.Errorf("write fault %d = %v, want OK", i, res)
		}
		paddr, valid, found := as.Translate(vmconst.PageNumber(addr))
		if !found || !valid {
			return "", fmt.Errorf("page %d not resident immediately after its write fault", i)
		}
		sys.CoreMap.Bytes(paddr)[0] = byte(i)
	}

	for i := 0; i < total; i++ {
		as, addr := addrOf(i)
		if res := h.Fault(as, trapframe.Read, addr); res != trapframe.OK {
			return "", fmt.Errorf("read-back fault %d = %v, want OK", i, res)
		}
		paddr, valid, found := as.Translate(vmconst.PageNumber(addr))
		if !found || !valid {
			return "", fmt.Errorf("page %d not resident on read-back", i)
		}
		if got := sys.CoreMap.Bytes(paddr)[0]; got != byte(i) {
			return "", fmt.Errorf("page %d read back %#x, want %#x", i, got, byte(i))
		}
	}
	return fmt.Sprintf("%d pages across %d address spaces survived swap pressure byte-exact", total, numAS), nil
}
