// Package vmsys assembles the frame table, swap store, and TLB into
// one VmSystem value, replacing the file-scope globals
// kern/arch/mips/mips/dumbvm.c and kern/vm/swap.c relied on (coremap,
// core_map_lock, swap_map were all static file globals) with an
// explicit struct any number of independent VmSystem instances can
// use concurrently, per spec.md's Design Notes. Bootstrap validates
// the frame count and builds the swap store over the caller's device
// (syncing it) concurrently with golang.org/x/sync/errgroup, mirroring the teacher's pattern of fanning independent
// subsystem bring-up steps out before the parts that depend on all of
// them run single-threaded.
package vmsys

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/smukherj1/os161/internal/addrspace"
	"github.com/smukherj1/os161/internal/blockdev"
	"github.com/smukherj1/os161/internal/coremap"
	"github.com/smukherj1/os161/internal/elf"
	"github.com/smukherj1/os161/internal/swap"
	"github.com/smukherj1/os161/internal/vm"
	"github.com/smukherj1/os161/internal/vmconst"
)

// Config tunes a VmSystem at bootstrap, the values cmd/vmctl loads
// from its JSON config file or overrides from flags.
type Config struct {
	TotalFrames int
	SwapDevice  blockdev.Device
}

// VmSystem owns one process-table-independent instance of the whole
// VM core: the frame table, the swap store, and the TLB shared by the
// address spaces registered against it.
type VmSystem struct {
	CoreMap *coremap.CoreMap
	Swap    *swap.Store
	TLB     *vm.TLB
}

// Bootstrap validates cfg and brings the swap store and a frame-count
// sanity check up concurrently, mirroring vm_bootstrap and
// swap_bootstrap running as independent subsystem initializers before
// the coremap (which depends on both) is built. Either step failing
// aborts the whole bootstrap.
func Bootstrap(cfg Config) (*VmSystem, error) {
	if cfg.SwapDevice == nil {
		return nil, fmt.Errorf("vmsys: bootstrap: no swap device configured")
	}

	tlb := vm.New()

	var st *swap.Store
	var g errgroup.Group
	g.Go(func() error {
		st = swap.New(cfg.SwapDevice)
		return cfg.SwapDevice.Sync()
	})
	g.Go(func() error {
		if cfg.TotalFrames < vmconst.MinCoremapPages {
			return fmt.Errorf("only %d frames configured, need at least %d", cfg.TotalFrames, vmconst.MinCoremapPages)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("vmsys: bootstrap: %w", err)
	}

	cm, err := coremap.New(cfg.TotalFrames, st, tlb)
	if err != nil {
		return nil, fmt.Errorf("vmsys: bootstrap: %w", err)
	}
	return &VmSystem{CoreMap: cm, Swap: st, TLB: tlb}, nil
}

// NewHandler returns a fault handler bound to this system's coremap,
// swap store, and TLB, backed by exec (which may be nil for address
// spaces with no demand-paged executable, e.g. pure kernel test
// harnesses).
func (sys *VmSystem) NewHandler(exec *elf.Executable) *vm.Handler {
	return vm.NewHandler(sys.CoreMap, sys.Swap, sys.TLB, exec)
}

// NewAddressSpace creates an address space registered against this
// system's coremap and swap store.
func (sys *VmSystem) NewAddressSpace() *addrspace.AddressSpace {
	return addrspace.New(sys.CoreMap, sys.Swap)
}

// Activate flushes this system's TLB on behalf of as, the external
// interface's as_activate(as) (spec.md §6). Called whenever the
// scheduler switches to running as, so no stale translation from the
// previously running address space survives into this one.
func (sys *VmSystem) Activate(as *addrspace.AddressSpace) {
	as.Activate(sys.TLB)
}

// EvictAllPagesOf forces every frame owned by as back to swap (or
// dropped, for executable pages) by running the coremap's normal
// eviction path against each of its frames, mirroring kern/include/
// vm.h's evict_all_my_pages_if_necessary. Used when a process is about
// to be debugged or suspended and the kernel wants its working set off
// real memory.
func (sys *VmSystem) EvictAllPagesOf(as *addrspace.AddressSpace) error {
	return sys.CoreMap.EvictOwnedBy(as.ID())
}

// ReclaimAll wipes the swap table, used at shutdown (the swap half of
// kern/include/vm.h's reclaim_all_user_pages / swap.h's
// reclaim_all_swap_sections); it releases no frames.
func (sys *VmSystem) ReclaimAll() error {
	return sys.Swap.ReclaimAll()
}
