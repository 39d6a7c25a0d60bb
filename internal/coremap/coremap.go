// Package coremap implements the physical frame table: ownership
// tracking for every managed frame of RAM, contiguous kernel
// allocation, user-page allocation, and the random-scan eviction
// policy spec.md §4.1 describes. It is grounded on the teacher's
// internal/runtime/kernel/memory.go PhysicalMemoryManager (free-list +
// used-set bookkeeping, AddRegion/AllocatePage/FreePage shape) and on
// kern/arch/mips/mips/dumbvm.c's getppages/make_frame_available.
package coremap

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"

	"github.com/smukherj1/os161/internal/klog"
	"github.com/smukherj1/os161/internal/vmconst"
)

var log = klog.WithComponent(klog.Default, "coremap")

// OwnerKind distinguishes the three states a frame can be in, per
// spec.md's Design Notes: "represent ownership as a tagged variant
// {Kernel, User, Free} rather than mixing a nullable owner with magic
// flag bits."
type OwnerKind int

const (
	// Free means the frame is not currently allocated.
	Free OwnerKind = iota
	// KernelOwned means the frame is part of a kernel contiguous run.
	KernelOwned
	// UserOwned means the frame belongs to a user address space's page.
	UserOwned
)

// AddressSpaceID identifies an address space independent of pointer
// identity, so coremap and swap lookups can key maps on a plain value
// (see SPEC_FULL.md §3, "Address-space identity").
type AddressSpaceID uint64

// Owner describes who a frame belongs to.
type Owner struct {
	Kind OwnerKind
	// RunLength is valid only for KernelOwned, and only on the first
	// frame of a contiguous kernel allocation: it records how many
	// frames were allocated together so FreeKPages can release the
	// whole run. spec.md's Open Question about a 7-bit run-length field
	// is resolved here by using a full int (see DESIGN.md): the
	// original's 127-frame cap on a kernel run does not apply here.
	RunLength int
	// AS and VPN are valid only for UserOwned.
	AS  AddressSpaceID
	VPN uint32
}

// Frame is one physical frame-table entry.
type Frame struct {
	Owner Owner
	bytes []byte
}

// PageOwnerLookup lets CoreMap ask the owning address space whether a
// candidate victim frame is still validly mapped, and to clear that
// mapping, without the coremap package importing addrspace (which
// would create an import cycle, since addrspace needs the coremap's
// frame-lock helper). Implemented by *addrspace.AddressSpace.
type PageOwnerLookup interface {
	// InCodeRegion reports whether vpn lies in this address space's
	// executable region — such pages never need a swap write, they can
	// be re-demanded from the ELF file (spec.md §4.1 step 1).
	InCodeRegion(vpn uint32) bool
	// ClearValid clears the VALID bit of the page-table entry mapping
	// vpn, returning false if no such live mapping exists (it may have
	// already been evicted by a racing path).
	ClearValid(vpn uint32) bool
}

// Swapper persists an evicted page; implemented by *swap.Store.
type Swapper interface {
	SwapOut(as AddressSpaceID, vpn uint32, page []byte) error
}

// TLBInvalidator removes any cached translation for a virtual page;
// implemented by the active vm.TLB.
type TLBInvalidator interface {
	InvalidatePage(vpn uint32)
}

// CoreMap is the physical frame table, component 1 of spec.md §2.
type CoreMap struct {
	mu     sync.Mutex
	frames []Frame
	// base is the page number the first managed frame corresponds to
	// in this simulation's flat physical address space.
	base uint32

	// owners maps an address space ID to its PageOwnerLookup, so
	// eviction (which only has a (as, vpn) pair from the frame table)
	// can reach back into the address space that owns the victim.
	// Registered by addrspace.New when an address space is created.
	owners map[AddressSpaceID]PageOwnerLookup

	swap Swapper
	tlb  TLBInvalidator

	rng *rand.Rand
}

// New bootstraps a CoreMap over totalFrames frames of simulated RAM,
// per spec.md §4.1's bootstrap step ("carve off enough bytes... zeroes
// the table... If fewer than ten frames can be managed, the system
// aborts").
func New(totalFrames int, swap Swapper, tlb TLBInvalidator) (*CoreMap, error) {
	if totalFrames < vmconst.MinCoremapPages {
		return nil, fmt.Errorf("coremap: only %d frames available, need at least %d", totalFrames, vmconst.MinCoremapPages)
	}
	cm := &CoreMap{
		frames: make([]Frame, totalFrames),
		owners: make(map[AddressSpaceID]PageOwnerLookup),
		swap:   swap,
		tlb:    tlb,
		rng:    rand.New(rand.NewSource(1)),
	}
	for i := range cm.frames {
		cm.frames[i].bytes = make([]byte, vmconst.PageSize)
	}
	return cm, nil
}

// TotalFrames reports the number of frames under management.
func (cm *CoreMap) TotalFrames() int { return len(cm.frames) }

// RegisterOwner associates an address space ID with the lookup
// interface eviction needs. AddressSpace calls this once at creation.
func (cm *CoreMap) RegisterOwner(id AddressSpaceID, lookup PageOwnerLookup) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.owners[id] = lookup
}

// UnregisterOwner removes the address space's lookup at teardown.
func (cm *CoreMap) UnregisterOwner(id AddressSpaceID) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.owners, id)
}

// WithFrameLocked runs fn with the frame-table lock held. Used by
// addrspace.Copy to satisfy spec.md §4.3's "the copy holds the
// frame-table lock across the per-page decision" requirement, and by
// anything else that must read an owner's page-table entry and then
// evict atomically (spec.md §5 ordering guarantee (i)).
func (cm *CoreMap) WithFrameLocked(fn func()) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	fn()
}

// FrameBytes returns the byte slice backing frame index idx. Callers
// must hold WithFrameLocked or otherwise be certain the frame cannot be
// concurrently reused.
func (cm *CoreMap) FrameBytes(idx int) []byte { return cm.frames[idx].bytes }

// Bytes returns the backing storage for a physical frame address
// previously returned by AllocFrame/AllocKPages.
func (cm *CoreMap) Bytes(paddr uint32) []byte {
	idx := int(paddr) - int(cm.base)
	return cm.frames[idx].bytes
}

func (cm *CoreMap) paddrOf(idx int) uint32 { return cm.base + uint32(idx) }

// AllocKPages requests n contiguous frames for kernel use, per
// spec.md §4.1's alloc_kpages policy: scan for a free run, and if none
// exists, evict all user frames and retry once. Returns the physical
// address of the first frame, or an error on exhaustion.
func (cm *CoreMap) AllocKPages(n int) (uint32, error) {
	if n <= 0 {
		return 0, fmt.Errorf("coremap: alloc_kpages: n must be positive, got %d", n)
	}
	cm.mu.Lock()
	if idx, ok := cm.scanFreeRunLocked(n); ok {
		cm.claimRunLocked(idx, n)
		addr := cm.paddrOf(idx)
		cm.mu.Unlock()
		return addr, nil
	}
	cm.mu.Unlock()

	if err := cm.evictAllUserFramesLocked(); err != nil {
		return 0, err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	idx, ok := cm.scanFreeRunLocked(n)
	if !ok {
		return 0, fmt.Errorf("coremap: out of frames for %d-page kernel allocation", n)
	}
	cm.claimRunLocked(idx, n)
	return cm.paddrOf(idx), nil
}

func (cm *CoreMap) scanFreeRunLocked(n int) (int, bool) {
	run := 0
	for i, f := range cm.frames {
		if f.Owner.Kind == Free {
			run++
			if run == n {
				return i - n + 1, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

func (cm *CoreMap) claimRunLocked(start, n int) {
	for i := start; i < start+n; i++ {
		zero(cm.frames[i].bytes)
		cm.frames[i].Owner = Owner{Kind: KernelOwned}
	}
	cm.frames[start].Owner.RunLength = n
}

// FreeKPages releases a kernel run previously returned by AllocKPages.
// Contract (spec.md §4.1): paddr must be the run's base address; the
// run length recorded there determines how many frames are released.
func (cm *CoreMap) FreeKPages(paddr uint32) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	idx := int(paddr) - int(cm.base)
	if idx < 0 || idx >= len(cm.frames) {
		return fmt.Errorf("coremap: free_kpages: address 0x%x out of range", paddr)
	}
	f := &cm.frames[idx]
	if f.Owner.Kind != KernelOwned || f.Owner.RunLength == 0 {
		return fmt.Errorf("coremap: free_kpages: 0x%x is not a kernel run base", paddr)
	}
	n := f.Owner.RunLength
	for i := idx; i < idx+n && i < len(cm.frames); i++ {
		cm.frames[i].Owner = Owner{Kind: Free}
	}
	return nil
}

// AllocFrame returns the physical address of a frame now owned by
// (as, vpn), evicting a victim via make_frame_available if none is
// free (spec.md §4.1 "User allocation").
func (cm *CoreMap) AllocFrame(as AddressSpaceID, vpn uint32) (uint32, error) {
	cm.mu.Lock()
	idx, ok := cm.firstFreeLocked()
	if !ok {
		var err error
		idx, err = cm.makeFrameAvailableLocked(as)
		if err != nil {
			cm.mu.Unlock()
			return 0, err
		}
	}
	zero(cm.frames[idx].bytes)
	cm.frames[idx].Owner = Owner{Kind: UserOwned, AS: as, VPN: vpn}
	addr := cm.paddrOf(idx)
	cm.mu.Unlock()
	return addr, nil
}

func (cm *CoreMap) firstFreeLocked() (int, bool) {
	for i, f := range cm.frames {
		if f.Owner.Kind == Free {
			return i, true
		}
	}
	return 0, false
}

// makeFrameAvailableLocked implements spec.md §4.1's eviction policy:
// "choose a random starting index and scan forward then backward.
// Prefer a free frame; failing that, prefer a frame owned by the same
// address space as the faulting process... If nothing is found after a
// full scan, drop the lock, yield the processor, reacquire, and repeat
// until a victim exists."
//
// cm.mu must be held on entry and is held on return (both on success
// and on error) so the caller's claim of the returned index is
// atomic with the scan that picked it — the only window where the
// lock is released is the no-victim-found retry below, which holds no
// frame index across the yield.
func (cm *CoreMap) makeFrameAvailableLocked(faulting AddressSpaceID) (int, error) {
	for {
		victim, kind, found := cm.scanForVictimLocked(faulting)
		if !found {
			cm.mu.Unlock()
			runtime.Gosched()
			cm.mu.Lock()
			continue
		}

		if kind == Free {
			return victim, nil
		}

		owner := cm.frames[victim].Owner
		lookup, ok := cm.owners[owner.AS]
		if !ok {
			// Owning address space already torn down; frame is stale,
			// reclaim it directly.
			cm.frames[victim].Owner = Owner{Kind: Free}
			return victim, nil
		}

		if lookup.InCodeRegion(owner.VPN) {
			// Step 1: executable pages are re-demanded from the ELF
			// file, never swapped.
			lookup.ClearValid(owner.VPN)
		} else {
			// Step 2: persist to swap before releasing the frame.
			// cm.mu stays held across this call; swap's own lock
			// nests inside it, matching spec.md §5's fixed lock
			// order (coremap before swap).
			page := cm.frames[victim].bytes
			lookup.ClearValid(owner.VPN)
			if err := cm.swap.SwapOut(owner.AS, owner.VPN, page); err != nil {
				log.Error().Err(err).Uint64("as", uint64(owner.AS)).Uint32("vpn", owner.VPN).Msg("eviction swap-out failed")
				return 0, fmt.Errorf("coremap: eviction swap-out failed: %w", err)
			}
			log.Debug().Uint64("as", uint64(owner.AS)).Uint32("vpn", owner.VPN).Msg("evicted page to swap")
		}
		// Step 3: invalidate any TLB entry for the victim.
		if cm.tlb != nil {
			cm.tlb.InvalidatePage(owner.VPN)
		}
		// Step 4: mark free and return, still under cm.mu.
		cm.frames[victim].Owner = Owner{Kind: Free}
		return victim, nil
	}
}

// scanForVictimLocked implements the random-start, forward-then-backward
// scan with the free-then-same-process preference from spec.md §4.1.
func (cm *CoreMap) scanForVictimLocked(faulting AddressSpaceID) (idx int, kind OwnerKind, found bool) {
	n := len(cm.frames)
	if n == 0 {
		return 0, Free, false
	}
	start := cm.rng.Intn(n)

	bestIdx := -1
	bestKind := UserOwned

	consider := func(i int) bool {
		f := cm.frames[i].Owner
		if f.Kind == Free {
			bestIdx, bestKind = i, Free
			return true // can't do better than free; stop immediately
		}
		if f.Kind == UserOwned && f.AS == faulting && bestIdx == -1 {
			bestIdx, bestKind = i, UserOwned
		}
		return false
	}

	for i := start; i < n; i++ {
		if consider(i) {
			return bestIdx, bestKind, true
		}
	}
	for i := start - 1; i >= 0; i-- {
		if consider(i) {
			return bestIdx, bestKind, true
		}
	}
	if bestIdx != -1 {
		return bestIdx, bestKind, true
	}
	// Nothing matched our preference; fall back to any user-owned frame.
	for i := 0; i < n; i++ {
		if cm.frames[i].Owner.Kind == UserOwned {
			return i, UserOwned, true
		}
	}
	return 0, Free, false
}

func (cm *CoreMap) evictAllUserFramesLocked() error {
	cm.mu.Lock()
	type victim struct {
		idx   int
		owner Owner
	}
	var victims []victim
	for i, f := range cm.frames {
		if f.Owner.Kind == UserOwned {
			victims = append(victims, victim{i, f.Owner})
		}
	}
	cm.mu.Unlock()

	for _, v := range victims {
		cm.mu.Lock()
		f := cm.frames[v.idx].Owner
		if f.Kind != UserOwned || f != v.owner {
			cm.mu.Unlock()
			continue // already reclaimed by a racing allocation
		}
		lookup, ok := cm.owners[v.owner.AS]
		if ok {
			if lookup.InCodeRegion(v.owner.VPN) {
				lookup.ClearValid(v.owner.VPN)
			} else {
				page := cm.frames[v.idx].bytes
				lookup.ClearValid(v.owner.VPN)
				if err := cm.swap.SwapOut(v.owner.AS, v.owner.VPN, page); err != nil {
					cm.mu.Unlock()
					return fmt.Errorf("coremap: bulk eviction swap-out failed: %w", err)
				}
			}
		}
		if cm.tlb != nil {
			cm.tlb.InvalidatePage(v.owner.VPN)
		}
		cm.frames[v.idx].Owner = Owner{Kind: Free}
		cm.mu.Unlock()
	}
	return nil
}

// EvictOwnedBy runs the normal eviction steps (executable pages
// re-demanded later, others swapped out, TLB invalidated) against
// every frame currently owned by as, then frees the frame, without
// destroying the address space's registration. Used to force a
// process's working set out of real memory while it keeps running
// (kern/include/vm.h's evict_all_my_pages_if_necessary), as opposed to
// FreeAllOwnedBy's teardown semantics which drop pages without saving
// them.
func (cm *CoreMap) EvictOwnedBy(as AddressSpaceID) error {
	cm.mu.Lock()
	type victim struct {
		idx   int
		owner Owner
	}
	var victims []victim
	for i, f := range cm.frames {
		if f.Owner.Kind == UserOwned && f.Owner.AS == as {
			victims = append(victims, victim{i, f.Owner})
		}
	}
	cm.mu.Unlock()

	for _, v := range victims {
		cm.mu.Lock()
		f := cm.frames[v.idx].Owner
		if f.Kind != UserOwned || f != v.owner {
			cm.mu.Unlock()
			continue // already reclaimed by a racing allocation
		}
		lookup, ok := cm.owners[v.owner.AS]
		if ok {
			if lookup.InCodeRegion(v.owner.VPN) {
				lookup.ClearValid(v.owner.VPN)
			} else {
				page := cm.frames[v.idx].bytes
				lookup.ClearValid(v.owner.VPN)
				if err := cm.swap.SwapOut(v.owner.AS, v.owner.VPN, page); err != nil {
					cm.mu.Unlock()
					return fmt.Errorf("coremap: evict_owned_by swap-out failed: %w", err)
				}
			}
		}
		if cm.tlb != nil {
			cm.tlb.InvalidatePage(v.owner.VPN)
		}
		cm.frames[v.idx].Owner = Owner{Kind: Free}
		cm.mu.Unlock()
	}
	return nil
}

// FreeFrame releases a single user-owned frame (used by address-space
// teardown and explicit unmap paths).
func (cm *CoreMap) FreeFrame(paddr uint32) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	idx := int(paddr) - int(cm.base)
	if idx < 0 || idx >= len(cm.frames) {
		return
	}
	cm.frames[idx].Owner = Owner{Kind: Free}
}

// FreeAllOwnedBy releases every frame owned by as, for as_destroy's
// "idempotent destroy" law (spec.md §8).
func (cm *CoreMap) FreeAllOwnedBy(as AddressSpaceID) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for i := range cm.frames {
		if cm.frames[i].Owner.Kind == UserOwned && cm.frames[i].Owner.AS == as {
			cm.frames[i].Owner = Owner{Kind: Free}
		}
	}
}

// FreeFrameCount reports how many frames are currently unowned, for
// internal/diag's occupancy report.
func (cm *CoreMap) FreeFrameCount() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	n := 0
	for _, f := range cm.frames {
		if f.Owner.Kind == Free {
			n++
		}
	}
	return n
}

// CountOwnedBy scans the table for frames owned by as — used directly
// by the "idempotent destroy" test law in spec.md §8.
func (cm *CoreMap) CountOwnedBy(as AddressSpaceID) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	n := 0
	for _, f := range cm.frames {
		if f.Owner.Kind == UserOwned && f.Owner.AS == as {
			n++
		}
	}
	return n
}

// OwnerOf reports the current owner of the frame at paddr, for
// invariant checks in tests (spec.md §8 invariants 1–2).
func (cm *CoreMap) OwnerOf(paddr uint32) Owner {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	idx := int(paddr) - int(cm.base)
	if idx < 0 || idx >= len(cm.frames) {
		return Owner{Kind: Free}
	}
	return cm.frames[idx].Owner
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
