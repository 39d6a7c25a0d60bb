// Package vm ties the coremap, swap store, address space, and ELF
// loader together into the page-fault handler, and implements the TLB
// the handler refills. Grounded on kern/arch/mips/mips/dumbvm.c's
// vm_fault (random-index tlb_random insertion, the read/write/readonly
// classification) and on the teacher's internal/runtime/kernel/vmm.go
// AdvancedPageFaultHandler for the Go-side shape of a fault handler
// with its own stats counters.
package vm

import (
	"math/rand"
	"sync"
)

// NumTLBEntries is the size of the simulated TLB (MIPS r3000's 64-entry
// TLB, which dumbvm.c treats as a flat associative array).
const NumTLBEntries = 64

type tlbEntry struct {
	valid     bool
	vpn       uint32
	paddr     uint32
	writeable bool
}

// TLB is a small fully-associative translation cache. Unlike real
// hardware it is simulated in a plain Go slice guarded by a mutex, so
// every method is safe to call from multiple goroutines representing
// concurrent "CPUs" touching the same address space.
type TLB struct {
	mu      sync.Mutex
	entries [NumTLBEntries]tlbEntry
	rng     *rand.Rand
}

// New creates an empty TLB.
func New() *TLB {
	return &TLB{rng: rand.New(rand.NewSource(2))}
}

// Probe looks up vpn, returning its physical address and permission if
// present.
func (t *TLB) Probe(vpn uint32) (paddr uint32, writeable bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.valid && e.vpn == vpn {
			return e.paddr, e.writeable, true
		}
	}
	return 0, false, false
}

// Write installs or updates vpn's translation, evicting a random slot
// if vpn is not already cached and every slot is full — dumbvm.c's
// tlb_random behavior, here driven by an explicit PRNG rather than a
// hardware random-replacement register.
func (t *TLB) Write(vpn, paddr uint32, writeable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].valid && t.entries[i].vpn == vpn {
			t.entries[i] = tlbEntry{true, vpn, paddr, writeable}
			return
		}
	}
	for i := range t.entries {
		if !t.entries[i].valid {
			t.entries[i] = tlbEntry{true, vpn, paddr, writeable}
			return
		}
	}
	victim := t.rng.Intn(NumTLBEntries)
	t.entries[victim] = tlbEntry{true, vpn, paddr, writeable}
}

// InvalidatePage implements coremap.TLBInvalidator: it drops any
// cached translation for vpn, forcing the next access to re-fault.
func (t *TLB) InvalidatePage(vpn uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].valid && t.entries[i].vpn == vpn {
			t.entries[i] = tlbEntry{}
			return
		}
	}
}

// InvalidateAll clears every entry, used when switching the active
// address space (as_activate's tlb flush).
func (t *TLB) InvalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		t.entries[i] = tlbEntry{}
	}
}
