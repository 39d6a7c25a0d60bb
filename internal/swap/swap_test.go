package swap

import (
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/smukherj1/os161/internal/blockdev"
	"github.com/smukherj1/os161/internal/coremap"
	"github.com/smukherj1/os161/internal/vmconst"
)

func TestSwapOutInRoundTrip(t *testing.T) {
	st := New(blockdev.NewMemDevice())
	page := make([]byte, vmconst.PageSize)
	copy(page, []byte("hello swap"))

	if err := st.SwapOut(coremap.AddressSpaceID(1), 7, page); err != nil {
		t.Fatalf("SwapOut: %v", err)
	}
	if !st.Has(coremap.AddressSpaceID(1), 7) {
		t.Fatalf("Has after SwapOut: want true")
	}

	dst := make([]byte, vmconst.PageSize)
	if err := st.SwapIn(coremap.AddressSpaceID(1), 7, dst); err != nil {
		t.Fatalf("SwapIn: %v", err)
	}
	if string(dst[:10]) != "hello swap" {
		t.Fatalf("SwapIn contents = %q; want %q", dst[:10], "hello swap")
	}
	// SwapIn has move semantics: the slot is freed.
	if st.Has(coremap.AddressSpaceID(1), 7) {
		t.Fatalf("Has after SwapIn: want false (slot should be freed)")
	}
}

func TestSwapCopyInLeavesSlotAllocated(t *testing.T) {
	st := New(blockdev.NewMemDevice())
	page := make([]byte, vmconst.PageSize)
	copy(page, []byte("forked"))
	if err := st.SwapOut(coremap.AddressSpaceID(2), 3, page); err != nil {
		t.Fatalf("SwapOut: %v", err)
	}

	dst := make([]byte, vmconst.PageSize)
	if err := st.SwapCopyIn(coremap.AddressSpaceID(2), 3, dst); err != nil {
		t.Fatalf("SwapCopyIn: %v", err)
	}
	if string(dst[:6]) != "forked" {
		t.Fatalf("SwapCopyIn contents = %q; want %q", dst[:6], "forked")
	}
	if !st.Has(coremap.AddressSpaceID(2), 3) {
		t.Fatalf("Has after SwapCopyIn: want true (slot must stay allocated)")
	}
}

func TestFreeReleasesOnlyOwnedSlots(t *testing.T) {
	st := New(blockdev.NewMemDevice())
	page := make([]byte, vmconst.PageSize)
	if err := st.SwapOut(coremap.AddressSpaceID(1), 0, page); err != nil {
		t.Fatalf("SwapOut(as1): %v", err)
	}
	if err := st.SwapOut(coremap.AddressSpaceID(2), 0, page); err != nil {
		t.Fatalf("SwapOut(as2): %v", err)
	}
	st.Free(coremap.AddressSpaceID(1))
	if st.Has(coremap.AddressSpaceID(1), 0) {
		t.Fatalf("Has(as1) after Free(as1): want false")
	}
	if !st.Has(coremap.AddressSpaceID(2), 0) {
		t.Fatalf("Has(as2) after Free(as1): want true (unaffected)")
	}
}

func TestReclaimAllClearsEveryOwner(t *testing.T) {
	st := New(blockdev.NewMemDevice())
	page := make([]byte, vmconst.PageSize)
	if err := st.SwapOut(coremap.AddressSpaceID(1), 0, page); err != nil {
		t.Fatalf("SwapOut: %v", err)
	}
	if err := st.ReclaimAll(); err != nil {
		t.Fatalf("ReclaimAll: %v", err)
	}
	if st.UsedSlotCount() != 0 {
		t.Fatalf("UsedSlotCount after ReclaimAll = %d; want 0", st.UsedSlotCount())
	}
}

func TestSwapOutFailsWhenTableExhausted(t *testing.T) {
	st := &Store{slots: make([]slot, 1), device: blockdev.NewMemDevice()}
	page := make([]byte, vmconst.PageSize)
	if err := st.SwapOut(coremap.AddressSpaceID(1), 0, page); err != nil {
		t.Fatalf("first SwapOut: %v", err)
	}
	if err := st.SwapOut(coremap.AddressSpaceID(1), 1, page); err == nil {
		t.Fatalf("SwapOut into exhausted table: want error, got nil")
	}
}

// TestSwapOutPanicsOnDeviceIOError exercises the mock block device's
// fault-injection path (spec.md §7: swap I/O errors are fatal, not
// recoverable), the way internal/blockdev's MockDevice exists to let
// this package simulate a failing disk without a real one.
func TestSwapOutPanicsOnDeviceIOError(t *testing.T) {
	ctrl := gomock.NewController(t)
	dev := blockdev.NewMockDevice(ctrl)
	dev.EXPECT().WriteAt(gomock.Any(), gomock.Any()).Return(errIO)

	st := New(dev)
	page := make([]byte, vmconst.PageSize)

	defer func() {
		if recover() == nil {
			t.Fatalf("SwapOut with a failing device: want panic, got none")
		}
	}()
	_ = st.SwapOut(coremap.AddressSpaceID(1), 0, page)
}

func TestSwapInPanicsOnDeviceIOError(t *testing.T) {
	ctrl := gomock.NewController(t)
	dev := blockdev.NewMockDevice(ctrl)
	dev.EXPECT().WriteAt(gomock.Any(), gomock.Any()).Return(nil)
	dev.EXPECT().ReadAt(gomock.Any(), gomock.Any()).Return(errIO)

	st := New(dev)
	page := make([]byte, vmconst.PageSize)
	if err := st.SwapOut(coremap.AddressSpaceID(1), 0, page); err != nil {
		t.Fatalf("SwapOut: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("SwapIn with a failing device: want panic, got none")
		}
	}()
	dst := make([]byte, vmconst.PageSize)
	_ = st.SwapIn(coremap.AddressSpaceID(1), 0, dst)
}

var errIO = errTestIO("simulated disk I/O error")

type errTestIO string

func (e errTestIO) Error() string { return string(e) }
