// Package addrspace implements a user process's address space: two
// ELF-loaded regions (code and data), a growable heap, a growable
// stack, a two-level page table, and a small resident cache of
// page-table pages modeled on kern/include/addrspace.h's
// NUM_PTABLES_IN_MEM scheme. It is components 3 and 4 of spec.md §2,
// grounded on kern/include/addrspace.h, kern/include/vm.h, and
// kern/arch/mips/mips/dumbvm.c's address classification logic, with
// the struct-of-goroutine-safe-state style borrowed from the teacher's
// internal/runtime/kernel/vmm.go VirtualMemoryManager.
package addrspace

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/smukherj1/os161/internal/coremap"
	"github.com/smukherj1/os161/internal/swap"
	"github.com/smukherj1/os161/internal/trapframe"
	"github.com/smukherj1/os161/internal/vmconst"
)

// ErrInvalidArgument and ErrOutOfMemory are the sentinel errors Sbrk and
// DefineStack wrap, letting the syscall layer map them to -EINVAL and
// -ENOMEM respectively via errors.Is, instead of matching error strings
// (spec.md §7's "errno-style values to user space" for heap/stack
// exhaustion).
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOutOfMemory     = errors.New("out of memory")
)

// nextID hands out AddressSpaceIDs; coremap and swap key their maps on
// this value rather than on a Go pointer (SPEC_FULL.md §3).
var nextID uint64

func allocID() coremap.AddressSpaceID {
	return coremap.AddressSpaceID(atomic.AddUint64(&nextID, 1))
}

// RegionKind distinguishes the two ELF-loaded regions from the heap
// and stack, mirroring kern/include/addrspace.h's as_vbase1/as_vbase2
// pair plus the PINMEM_FLAG_EXECUTABLE_MASK bit used at eviction time.
type RegionKind int

const (
	CodeRegion RegionKind = iota
	DataRegion
)

// Region is one ELF PT_LOAD segment's address range and permissions
// (kern/include/addrspace.h's as_npages1/as_vbase1 and friends).
type Region struct {
	Kind      RegionKind
	Base      uint32
	Npages    uint32
	Writeable bool
}

func (r Region) contains(vpn uint32) bool {
	base := vmconst.PageNumber(r.Base)
	return vpn >= base && vpn < base+r.Npages
}

// dirIndexOf and tableIndexOf split a virtual page number into its
// directory slot and in-table index. Unlike vmconst.DirectoryIndex/
// TableIndex (which take a byte address), every lookup in this
// package already works in page numbers, so the split is done
// directly on vpn.
func dirIndexOf(vpn uint32) uint32   { return vpn / vmconst.PageTableEntries }
func tableIndexOf(vpn uint32) uint32 { return vpn % vmconst.PageTableEntries }

// pte is one page-table entry: kern/include/vm.h's PGTBL_VALID_MASK
// plus the physical frame number, collapsed into an explicit struct
// per the Design Notes' "tagged variant, not magic flag bits" guidance.
type pte struct {
	valid bool
	paddr uint32
	// mapped records that the entry has held a mapping at least once,
	// so an entry cleared by eviction is told apart from one never
	// demanded even when its frame number is 0.
	mapped bool
}

// ptable is one resident, in-memory page table (1024 entries), kern/
// include/vm.h's page_table.
type ptable struct {
	entries [vmconst.PageTableEntries]pte
	// executable marks a table covering the code region: such tables
	// are preferred for retention over data/heap/stack tables when the
	// resident cache must evict (kern/include/addrspace.h's
	// PINMEM_FLAG_EXECUTABLE_MASK).
	executable bool
	dirIndex   int
	// counter is the slot's access counter (kern/include/addrspace.h's
	// per-slot flag word packs this into 21 bits; a plain Go uint32
	// carries the same monotonic-ranking semantics without the
	// bit-packing a C flag word needed). Bumped on every admit and
	// every cache hit; eviction always picks the lowest-counter
	// candidate.
	counter uint32
}

// dirEntry is one page-directory slot (kern/include/vm.h's
// page_directory entry). present records that the slot has a page
// table (allocated on first demand); loaded records that the table
// currently counts as resident in the cache. An evicted table keeps
// present and table set with loaded cleared.
type dirEntry struct {
	present bool
	loaded  bool
	table   *ptable
}

// AddressSpace is one user process's virtual memory state.
type AddressSpace struct {
	id coremap.AddressSpaceID

	cm   *coremap.CoreMap
	swap *swap.Store

	mu        sync.Mutex
	directory [vmconst.DirectoryEntries]dirEntry
	// resident holds the page tables currently kept in memory,
	// bounding simultaneous resident tables to vmconst.NumPtablesInMem
	// (kern/include/addrspace.h). Eviction ranking comes from each
	// slot's counter field, not from slice position.
	resident []*ptable
	// slotCounter is the monotonic source for ptable.counter, bumped
	// on every admit and every cache hit.
	slotCounter uint32

	code  Region
	data  Region
	heap  struct {
		base    uint32 // first page past the data region
		brk     uint32 // current break, grows via Sbrk
		maxSize uint32
	}
	// stackVBase is the current lower bound of the stack region
	// (kern/include/addrspace.h's as_stack_vbase): it starts one page
	// below vmconst.UserStack and is decremented by one page at a time
	// as vm.Handler grows the stack into the probe zone below it
	// (spec.md §4.4 step 1, dumbvm.c's DUMBVM_STACKPAGES growth clause).
	stackVBase uint32

	loading bool // true between PrepareLoad and CompleteLoad
}

// New creates an empty address space and registers it with cm so
// eviction can reach back into it via coremap.PageOwnerLookup.
func New(cm *coremap.CoreMap, store *swap.Store) *AddressSpace {
	as := &AddressSpace{
		id:         allocID(),
		cm:         cm,
		swap:       store,
		stackVBase: vmconst.UserStack - vmconst.PageSize,
	}
	as.heap.maxSize = vmconst.UserHeapMax
	cm.RegisterOwner(as.id, as)
	return as
}

// ID returns the address space's identity, used to key coremap/swap
// lookups and to compare address spaces for equality.
func (as *AddressSpace) ID() coremap.AddressSpaceID { return as.id }

// TLBFlusher is implemented by *vm.TLB. Activate takes it explicitly
// rather than storing a reference on AddressSpace, since exactly one
// TLB is live per vmsys.VmSystem and every caller already has it at
// hand (vmsys.VmSystem.TLB).
type TLBFlusher interface {
	InvalidateAll()
}

// Activate flushes tlb, mirroring as_activate's "flushes TLB" contract
// (spec.md §6): called whenever this address space becomes the one
// the CPU is running, so translations left behind by whatever ran
// previously can never be misattributed to this address space.
func (as *AddressSpace) Activate(tlb TLBFlusher) {
	tlb.InvalidateAll()
}

// DefineRegion records one ELF PT_LOAD segment, mirroring
// as_define_region. At most one code region and one data region are
// permitted; a second segment of a kind already defined is rejected,
// matching the original's assertion that a dumbvm address space has
// exactly two loadable segments.
func (as *AddressSpace) DefineRegion(kind RegionKind, base uint32, npages uint32, writeable bool) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	r := Region{Kind: kind, Base: base, Npages: npages, Writeable: writeable}
	switch kind {
	case CodeRegion:
		if as.code.Npages != 0 {
			return fmt.Errorf("addrspace: code region already defined")
		}
		as.code = r
	case DataRegion:
		if as.data.Npages != 0 {
			return fmt.Errorf("addrspace: data region already defined")
		}
		as.data = r
		top := base + npages*vmconst.PageSize
		as.heap.base = vmconst.RoundUpPage(top)
		as.heap.brk = as.heap.base
	default:
		return fmt.Errorf("addrspace: unknown region kind %d", kind)
	}
	return nil
}

// DefineStack records the initial one-page user stack region, mirroring
// as_define_stack: the stack starts at a single page ending at
// vmconst.UserStack and may grow downward to vmconst.DumbvmStackPages
// pages as the fault handler demands. Fails ENOMEM-equivalent if the
// stack's lowest possible extent would already collide with the heap's
// current top (spec.md §6).
func (as *AddressSpace) DefineStack() (initialSP uint32, err error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	maxGrowthBase := vmconst.UserStack - vmconst.DumbvmStackPages*vmconst.PageSize
	if as.heap.brk != 0 && maxGrowthBase < as.heap.brk {
		return 0, fmt.Errorf("addrspace: define_stack: max stack growth would collide with heap top: %w", ErrOutOfMemory)
	}
	as.stackVBase = vmconst.UserStack - vmconst.PageSize
	return vmconst.UserStack, nil
}

// PrepareLoad and CompleteLoad bracket ELF segment loading
// (as_prepare_load/as_complete_load). Between them, writes to
// otherwise read-only regions are tolerated so the loader can place
// .data contents; CompleteLoad restores normal permission enforcement.
func (as *AddressSpace) PrepareLoad() error {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.loading = true
	return nil
}

func (as *AddressSpace) CompleteLoad() error {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.loading = false
	return nil
}

// Sbrk grows or shrinks the heap break by delta bytes, mirroring the
// syscall-level sbrk contract built atop as_define_region's heap
// bookkeeping. Returns the previous break. A zero delta returns the
// current break unchanged. Rejects shrinking below heap_vstart with
// ErrInvalidArgument, and growing past vmconst.UserHeapMax or into the
// stack's current extent with ErrOutOfMemory (spec.md §4.4's sbrk
// contract).
func (as *AddressSpace) Sbrk(delta int32) (uint32, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	old := as.heap.brk
	if delta == 0 {
		return old, nil
	}
	next := int64(old) + int64(delta)
	if next < int64(as.heap.base) {
		return 0, fmt.Errorf("addrspace: sbrk: break would go below heap base: %w", ErrInvalidArgument)
	}
	if uint32(next)-as.heap.base > as.heap.maxSize {
		return 0, fmt.Errorf("addrspace: sbrk: heap would exceed %d bytes: %w", as.heap.maxSize, ErrOutOfMemory)
	}
	if as.stackVBase != 0 && uint32(next) > as.stackVBase {
		return 0, fmt.Errorf("addrspace: sbrk: heap would grow into the stack: %w", ErrOutOfMemory)
	}
	as.heap.brk = uint32(next)
	return old, nil
}

// classify reports which region (if any) a virtual page belongs to,
// and whether writes to it are permitted, mirroring dumbvm.c's
// classification of a fault address against as_vbase1/as_vbase2/
// as_heap/as_stack_vbase.
type region int

const (
	regionNone region = iota
	regionCode
	regionData
	regionHeap
	regionStack
)

// classifyLocked mirrors dumbvm.c's vm_fault address classification,
// in the same branch order: code, data, existing stack, the one-page
// stack-growth probe zone (which mutates as.stackVBase), then heap,
// else invalid.
func (as *AddressSpace) classifyLocked(vpn uint32) (region, bool) {
	if as.code.Npages != 0 && as.code.contains(vpn) {
		return regionCode, as.loading || as.code.Writeable
	}
	if as.data.Npages != 0 && as.data.contains(vpn) {
		return regionData, as.loading || as.data.Writeable
	}

	stackTop := vmconst.PageNumber(vmconst.UserStack)
	stackBase := vmconst.PageNumber(as.stackVBase)
	if as.stackVBase != 0 && vpn >= stackBase && vpn < stackTop {
		return regionStack, true
	}

	heapBase := vmconst.PageNumber(as.heap.base)
	heapTop := vmconst.PageNumber(vmconst.RoundUpPage(as.heap.brk))
	maxGrowthBase := vmconst.PageNumber(vmconst.UserStack - vmconst.DumbvmStackPages*vmconst.PageSize)
	if as.stackVBase != 0 && vpn == stackBase-1 && vpn >= heapTop && vpn >= maxGrowthBase {
		as.stackVBase -= vmconst.PageSize
		return regionStack, true
	}

	if as.heap.base != 0 && vpn >= heapBase && vpn < heapTop {
		return regionHeap, true
	}
	return regionNone, false
}

// Classify is the exported form of classifyLocked, used by the fault
// handler to decide whether an address is even in a valid region
// before consulting the page table (spec.md §4.4).
func (as *AddressSpace) Classify(vpn uint32) (writeable, inRegion bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	r, w := as.classifyLocked(vpn)
	return w, r != regionNone
}

// PageKind identifies which region a virtual page falls in, exported
// so the fault handler can decide how to populate a page it has never
// seen before (demand-load from the ELF file vs. zero-fill).
type PageKind int

const (
	PageNone PageKind = iota
	PageCode
	PageData
	PageHeap
	PageStack
)

// PageKindAt classifies vpn and, for the ELF-backed regions, returns
// the page index relative to that region's base — the value
// internal/elf.LoadPage needs to locate the right bytes on disk.
func (as *AddressSpace) PageKindAt(vpn uint32) (kind PageKind, relPage uint32, writeable bool, ok bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	r, w := as.classifyLocked(vpn)
	switch r {
	case regionCode:
		return PageCode, vpn - vmconst.PageNumber(as.code.Base), w, true
	case regionData:
		return PageData, vpn - vmconst.PageNumber(as.data.Base), w, true
	case regionHeap:
		return PageHeap, 0, w, true
	case regionStack:
		return PageStack, 0, w, true
	default:
		return PageNone, 0, false, false
	}
}

// SwapHas reports whether vpn currently has a swap slot, letting the
// fault handler distinguish a major fault (swap-in) from a minor one
// (ELF reload or zero-fill) without importing the swap package itself.
func (as *AddressSpace) SwapHas(vpn uint32) bool {
	return as.swap.Has(as.id, vpn)
}

// InCodeRegion implements coremap.PageOwnerLookup.
func (as *AddressSpace) InCodeRegion(vpn uint32) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.code.Npages != 0 && as.code.contains(vpn)
}

// ClearValid implements coremap.PageOwnerLookup: it clears the VALID
// bit (not the PRESENT bit — the mapping still exists, it just must be
// refetched) of vpn's page-table entry, if resident.
func (as *AddressSpace) ClearValid(vpn uint32) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	t := as.tableForLocked(dirIndexOf(vpn), false)
	if t == nil {
		return false
	}
	e := &t.entries[tableIndexOf(vpn)]
	if !e.valid {
		return false
	}
	e.valid = false
	return true
}

// tableForLocked returns the page table for a directory index. A table
// that exists but isn't currently resident is re-admitted into the
// resident cache (evicting per kern/include/addrspace.h's
// NUM_PTABLES_IN_MEM policy) whatever create says; a directory entry
// with no table yet gets a new one only if create is true, and nil is
// returned otherwise. Must be called with as.mu held.
func (as *AddressSpace) tableForLocked(dirIdx uint32, create bool) *ptable {
	d := &as.directory[dirIdx]
	if d.table != nil {
		if !d.loaded {
			d.loaded = true
			as.admitLocked(d.table)
		} else {
			as.touchLocked(d.table)
		}
		return d.table
	}
	if !d.present {
		if !create {
			return nil
		}
		d.present = true
	}
	t := &ptable{dirIndex: int(dirIdx), executable: as.code.Npages != 0 && as.code.contains(dirIdx*vmconst.PageTableEntries)}
	d.table = t
	d.loaded = true
	as.admitLocked(t)
	return t
}

// admitLocked adds a freshly loaded table to the resident set and, if
// that overflows vmconst.NumPtablesInMem, evicts one victim per
// spec.md §4.3's counter-ranked policy: a data requester evicts the
// lowest-counter non-executable slot (ties broken toward a slot whose
// directory index already matches the requester's); an executable
// requester evicts the lowest-counter executable slot; and if no
// non-executable slot exists for a data requester, the second-lowest-
// counter executable slot is evicted instead of the lowest — at least
// one code table must stay resident to avoid livelock on the
// instruction stream. Eviction here only clears the "resident"
// bookkeeping flag used for cache-occupancy accounting
// (ResidentTableCount reports it): unlike a physical frame, a page table's entries are
// never discarded by this simulation's eviction, since Go's heap does
// not face the constrained kernel-memory pressure
// kern/include/addrspace.h's NUM_PTABLES_IN_MEM was written for.
func (as *AddressSpace) admitLocked(t *ptable) {
	as.slotCounter++
	t.counter = as.slotCounter
	as.resident = append(as.resident, t)
	if len(as.resident) <= vmconst.NumPtablesInMem {
		return
	}

	existing := as.resident[:len(as.resident)-1]
	victimPos := -1

	if t.executable {
		for i, r := range existing {
			if r.executable && (victimPos == -1 || r.counter < existing[victimPos].counter) {
				victimPos = i
			}
		}
	} else {
		for i, r := range existing {
			if r.executable {
				continue
			}
			switch {
			case victimPos == -1:
				victimPos = i
			case r.counter < existing[victimPos].counter:
				victimPos = i
			case r.counter == existing[victimPos].counter && r.dirIndex == t.dirIndex:
				victimPos = i
			}
		}
	}

	if victimPos == -1 {
		// Only executable slots are candidates (a code region spanning
		// several directory entries). Never evict the lowest-counter
		// one; pick the second-lowest if one exists.
		type ranked struct {
			pos     int
			counter uint32
		}
		var execs []ranked
		for i, r := range existing {
			if r.executable {
				execs = append(execs, ranked{i, r.counter})
			}
		}
		sort.Slice(execs, func(i, j int) bool { return execs[i].counter < execs[j].counter })
		switch len(execs) {
		case 0:
			// An executable requester with no executable slot resident:
			// the table just admitted is dropped from the resident set
			// instead, and the resident slots are kept.
			as.resident = existing
			as.directory[t.dirIndex].loaded = false
			return
		case 1:
			victimPos = execs[0].pos
		default:
			victimPos = execs[1].pos
		}
	}

	victim := existing[victimPos]
	as.resident = append(as.resident[:victimPos], as.resident[victimPos+1:]...)
	as.directory[victim.dirIndex].loaded = false
}

// StackVBase reports the current lower bound of the stack region, for
// spec.md §8 invariant 6 (heap_vstart <= heap_vtop <= stack_vbase <=
// USERSTACK) and for tests asserting stack growth.
func (as *AddressSpace) StackVBase() uint32 {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.stackVBase
}

// HeapBounds reports the current heap_vstart and heap_vtop, for
// invariant checks alongside StackVBase.
func (as *AddressSpace) HeapBounds() (vstart, vtop uint32) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.heap.base, as.heap.brk
}

// ResidentTableCount reports how many page tables this address space
// currently counts as resident, bounded by vmconst.NumPtablesInMem.
func (as *AddressSpace) ResidentTableCount() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return len(as.resident)
}

// touchLocked bumps t's access counter on a resident-cache hit
// (spec.md §4.3 step 2, "bump its access counter").
func (as *AddressSpace) touchLocked(t *ptable) {
	as.slotCounter++
	t.counter = as.slotCounter
}

// Translate looks up vpn, returning the mapped physical address if the
// entry is present and valid. found is false if there is no page
// table at all for this directory index, or no entry at all (never
// demanded); valid is false if the entry exists but was cleared by
// eviction (the caller must re-fault it in).
func (as *AddressSpace) Translate(vpn uint32) (paddr uint32, valid, found bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	t := as.tableForLocked(dirIndexOf(vpn), false)
	if t == nil {
		return 0, false, false
	}
	e := t.entries[tableIndexOf(vpn)]
	if !e.mapped {
		return 0, false, false
	}
	return e.paddr, e.valid, true
}

// Map installs vpn -> paddr as a valid mapping, creating the resident
// page table (and directory entry) if this is the page's first fault.
func (as *AddressSpace) Map(vpn uint32, paddr uint32) {
	as.mu.Lock()
	defer as.mu.Unlock()
	t := as.tableForLocked(dirIndexOf(vpn), true)
	t.entries[tableIndexOf(vpn)] = pte{valid: true, paddr: paddr, mapped: true}
}

// CheckWrite returns trapframe.UserFault if vpn's region forbids
// writes (e.g. a read-only code segment outside the load window),
// matching spec.md §4.4's read-only-violation classification.
func (as *AddressSpace) CheckWrite(vpn uint32) trapframe.Result {
	as.mu.Lock()
	r, writeable := as.classifyLocked(vpn)
	as.mu.Unlock()
	if r == regionNone {
		return trapframe.UserFault
	}
	if !writeable {
		return trapframe.UserFault
	}
	return trapframe.OK
}

// Copy implements eager copy-on-fork (as_copy): every page mapped in
// src becomes an independent page in the returned address space,
// copied frame-for-frame (a source page that currently lives in swap
// is read from its slot into a new frame). Holds the coremap frame-table lock
// across each per-page decision, per spec.md §4.3's ordering
// requirement, so a concurrent eviction cannot observe a torn copy.
func Copy(src *AddressSpace) (*AddressSpace, error) {
	src.mu.Lock()
	code, data, heap, stackVBase := src.code, src.data, src.heap, src.stackVBase
	src.mu.Unlock()

	dst := New(src.cm, src.swap)
	dst.code, dst.data, dst.heap, dst.stackVBase = code, data, heap, stackVBase

	for dirIdx := range src.directory {
		src.mu.Lock()
		present := src.directory[dirIdx].present
		src.mu.Unlock()
		if !present {
			continue
		}
		base := uint32(dirIdx) * vmconst.PageTableEntries
		for ti := uint32(0); ti < vmconst.PageTableEntries; ti++ {
			vpn := base + ti
			if err := copyPage(src, dst, vpn); err != nil {
				dst.Destroy()
				return nil, err
			}
		}
	}
	return dst, nil
}

// copyPage copies a single virtual page from src to dst, covering the
// three states a page can be in: resident-valid, evicted-to-swap, or
// never demanded (nothing to copy). The source PTE is checked and its
// frame copied with the frame-table lock held (coremap.WithFrameLocked)
// and src.mu taken inside it, per spec.md §4.3's ordering requirement;
// that is the same order eviction takes them (frame-table lock, then
// the owner's ClearValid), so the two cannot deadlock. Both are
// released before calling AllocFrame on dst.
func copyPage(src, dst *AddressSpace, vpn uint32) error {
	var buf [vmconst.PageSize]byte
	var state int // 0 = nothing to copy, 1 = copy buf, 2 = read from swap

	src.cm.WithFrameLocked(func() {
		src.mu.Lock()
		defer src.mu.Unlock()
		t := src.tableForLocked(dirIndexOf(vpn), false)
		if t == nil {
			return
		}
		e := t.entries[tableIndexOf(vpn)]
		if e.valid {
			copy(buf[:], src.cm.Bytes(e.paddr))
			state = 1
		}
	})

	if state == 0 && src.swap.Has(src.id, vpn) {
		state = 2
	}

	switch state {
	case 1:
		paddr, err := dst.cm.AllocFrame(dst.id, vpn)
		if err != nil {
			return err
		}
		copy(dst.cm.Bytes(paddr), buf[:])
		dst.Map(vpn, paddr)
	case 2:
		if err := src.swap.SwapCopyIn(src.id, vpn, buf[:]); err != nil {
			return err
		}
		paddr, err := dst.cm.AllocFrame(dst.id, vpn)
		if err != nil {
			return err
		}
		copy(dst.cm.Bytes(paddr), buf[:])
		dst.Map(vpn, paddr)
	default:
		// Entry exists (directory/table allocated) but page never
		// demanded; nothing to copy.
	}
	return nil
}

// Destroy releases every resource this address space holds: its
// frames, its swap slots, and its coremap registration. Safe to call
// more than once (spec.md §8's idempotent-destroy law).
func (as *AddressSpace) Destroy() {
	as.cm.FreeAllOwnedBy(as.id)
	as.swap.Free(as.id)
	as.cm.UnregisterOwner(as.id)
}

var _ coremap.PageOwnerLookup = (*AddressSpace)(nil)
