// Package swap implements the on-disk swap store: a fixed table of
// slots keyed by (address space, virtual page), backed by a raw block
// device. Grounded on kern/vm/swap.c's SwapMap table and
// find_free_swap_section/swap_in_page/swap_out_page functions, and on
// spec.md §4.2.
package swap

import (
	"fmt"
	"sync"

	"github.com/smukherj1/os161/internal/blockdev"
	"github.com/smukherj1/os161/internal/coremap"
	"github.com/smukherj1/os161/internal/klog"
	"github.com/smukherj1/os161/internal/vmconst"
)

var log = klog.WithComponent(klog.Default, "swap")

// Key identifies a swapped page, mirroring kern/vm/swap.c's SwapMap
// entry fields (as, vpn).
type Key struct {
	AS  coremap.AddressSpaceID
	VPN uint32
}

type slot struct {
	key    Key
	inUse  bool
}

// Store is the swap table, component 2 of spec.md §2.
type Store struct {
	mu     sync.Mutex
	slots  []slot
	device blockdev.Device
}

// New creates a Store with vmconst.SwapMapSize slots backed by device.
func New(device blockdev.Device) *Store {
	return &Store{
		slots:  make([]slot, vmconst.SwapMapSize),
		device: device,
	}
}

func slotOffset(i int) int64 { return int64(i) * vmconst.PageSize }

// SwapOut finds the first free slot, records (as, vpn) there, and
// writes page's 4 KiB contents to the device. Aborts (returns a fatal
// error) if the table is exhausted, per spec.md §4.2 / §7.
func (s *Store) SwapOut(as coremap.AddressSpaceID, vpn uint32, page []byte) error {
	if len(page) != vmconst.PageSize {
		return fmt.Errorf("swap: swap_out: page must be %d bytes, got %d", vmconst.PageSize, len(page))
	}
	s.mu.Lock()
	idx, ok := s.firstFreeLocked()
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("swap: out of swap space")
	}
	if s.findLocked(Key{as, vpn}) >= 0 {
		s.mu.Unlock()
		panic(fmt.Sprintf("swap: invariant violated: (%v, %d) already has a swap slot", as, vpn))
	}
	s.slots[idx] = slot{key: Key{as, vpn}, inUse: true}
	s.mu.Unlock()

	if err := s.device.WriteAt(page, slotOffset(idx)); err != nil {
		// I/O errors on swap are fatal per spec.md §7.
		log.Error().Err(err).Int("slot", idx).Msg("fatal I/O error writing swap slot")
		panic(fmt.Sprintf("swap: fatal I/O error writing slot %d: %v", idx, err))
	}
	return nil
}

// SwapIn locates the slot matching (as, vpn), copies its contents into
// dst, and frees the slot (move semantics). Aborts if not found.
func (s *Store) SwapIn(as coremap.AddressSpaceID, vpn uint32, dst []byte) error {
	idx, err := s.swapInCommon(as, vpn, dst)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.slots[idx] = slot{}
	s.mu.Unlock()
	return nil
}

// SwapCopyIn behaves like SwapIn but leaves the slot allocated, for
// fork's as_copy path when the parent's page lives in swap (spec.md
// §4.2 / §4.3).
func (s *Store) SwapCopyIn(as coremap.AddressSpaceID, vpn uint32, dst []byte) error {
	_, err := s.swapInCommon(as, vpn, dst)
	return err
}

func (s *Store) swapInCommon(as coremap.AddressSpaceID, vpn uint32, dst []byte) (int, error) {
	if len(dst) != vmconst.PageSize {
		return 0, fmt.Errorf("swap: swap_in: dst must be %d bytes, got %d", vmconst.PageSize, len(dst))
	}
	s.mu.Lock()
	idx := s.findLocked(Key{as, vpn})
	s.mu.Unlock()
	if idx < 0 {
		panic(fmt.Sprintf("swap: invariant violated: swap-in of missing page (%v, %d)", as, vpn))
	}
	if err := s.device.ReadAt(dst, slotOffset(idx)); err != nil {
		panic(fmt.Sprintf("swap: fatal I/O error reading slot %d: %v", idx, err))
	}
	return idx, nil
}

// Has reports whether (as, vpn) currently has a swap slot, for the
// "at most one of {resident-VALID, swap-slot-in-use}" invariant check
// in spec.md §8.
func (s *Store) Has(as coremap.AddressSpaceID, vpn uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(Key{as, vpn}) >= 0
}

// Free marks all slots owned by as free, for as_destroy (spec.md §4.2
// swap_free / §8 idempotent-destroy law).
func (s *Store) Free(as coremap.AddressSpaceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		if s.slots[i].inUse && s.slots[i].key.AS == as {
			s.slots[i] = slot{}
		}
	}
}

// ReclaimAll zeroes the entire swap table, used on user-program
// teardown (spec.md §4.2 swap_reclaim_all).
func (s *Store) ReclaimAll() error {
	s.mu.Lock()
	s.slots = make([]slot, vmconst.SwapMapSize)
	s.mu.Unlock()
	return s.device.Sync()
}

// CountOwnedBy reports how many slots belong to as, used by the
// idempotent-destroy test law in spec.md §8.
func (s *Store) CountOwnedBy(as coremap.AddressSpaceID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		if sl.inUse && sl.key.AS == as {
			n++
		}
	}
	return n
}

// UsedSlotCount reports how many swap slots are currently occupied,
// for internal/diag's occupancy report.
func (s *Store) UsedSlotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		if sl.inUse {
			n++
		}
	}
	return n
}

func (s *Store) firstFreeLocked() (int, bool) {
	for i, sl := range s.slots {
		if !sl.inUse {
			return i, true
		}
	}
	return 0, false
}

func (s *Store) findLocked(k Key) int {
	for i, sl := range s.slots {
		if sl.inUse && sl.key == k {
			return i
		}
	}
	return -1
}
