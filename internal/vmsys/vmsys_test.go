package vmsys

import (
	"testing"

	"github.com/smukherj1/os161/internal/addrspace"
	"github.com/smukherj1/os161/internal/blockdev"
	"github.com/smukherj1/os161/internal/trapframe"
)

func TestBootstrapRejectsMissingDevice(t *testing.T) {
	_, err := Bootstrap(Config{TotalFrames: 32})
	if err == nil {
		t.Fatalf("Bootstrap with nil device: want error, got nil")
	}
}

func TestBootstrapRejectsTooFewFrames(t *testing.T) {
	_, err := Bootstrap(Config{TotalFrames: 2, SwapDevice: blockdev.NewMemDevice()})
	if err == nil {
		t.Fatalf("Bootstrap with too few frames: want error, got nil")
	}
}

func TestBootstrapAndFault(t *testing.T) {
	sys, err := Bootstrap(Config{TotalFrames: 32, SwapDevice: blockdev.NewMemDevice()})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	as := sys.NewAddressSpace()
	if err := as.DefineRegion(addrspace.DataRegion, 0x2000, 1, true); err != nil {
		t.Fatalf("DefineRegion: %v", err)
	}
	h := sys.NewHandler(nil)
	if res := h.Fault(as, trapframe.Write, 0x2000); res != trapframe.OK {
		t.Fatalf("Fault: %v", res)
	}

	if err := sys.EvictAllPagesOf(as); err != nil {
		t.Fatalf("EvictAllPagesOf: %v", err)
	}
	if err := sys.ReclaimAll(); err != nil {
		t.Fatalf("ReclaimAll: %v", err)
	}
}

func TestActivateFlushesTLB(t *testing.T) {
	sys, err := Bootstrap(Config{TotalFrames: 32, SwapDevice: blockdev.NewMemDevice()})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	as := sys.NewAddressSpace()
	if err := as.DefineRegion(addrspace.DataRegion, 0x2000, 1, true); err != nil {
		t.Fatalf("DefineRegion: %v", err)
	}
	h := sys.NewHandler(nil)
	if res := h.Fault(as, trapframe.Write, 0x2000); res != trapframe.OK {
		t.Fatalf("Fault: %v", res)
	}

	// Activate must not panic and must leave the address space's own
	// page-table mappings untouched (only the TLB is flushed).
	sys.Activate(as)
	if _, _, ok := sys.TLB.Probe(0x2); ok {
		t.Fatalf("TLB still holds vpn 0x2 after Activate; want it flushed")
	}
	if _, valid, found := as.Translate(0x2); !found || !valid {
		t.Fatalf("Translate after Activate: found=%v valid=%v, want true, true", found, valid)
	}
}
