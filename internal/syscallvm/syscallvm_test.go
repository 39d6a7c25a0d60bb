package syscallvm

import (
	"testing"

	"github.com/smukherj1/os161/internal/addrspace"
	"github.com/smukherj1/os161/internal/blockdev"
	"github.com/smukherj1/os161/internal/elf"
	"github.com/smukherj1/os161/internal/vmconst"
	"github.com/smukherj1/os161/internal/vmsys"
)

func newSys(t *testing.T) *vmsys.VmSystem {
	t.Helper()
	sys, err := vmsys.Bootstrap(vmsys.Config{TotalFrames: 64, SwapDevice: blockdev.NewMemDevice()})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return sys
}

func TestSbrkWrapsAddrspace(t *testing.T) {
	sys := newSys(t)
	as := sys.NewAddressSpace()
	if err := as.DefineRegion(addrspace.DataRegion, 0x2000, 1, true); err != nil {
		t.Fatalf("DefineRegion: %v", err)
	}
	if _, err := Sbrk(as, 4096); err != nil {
		t.Fatalf("Sbrk: %v", err)
	}
}

func TestForkProducesIndependentAddressSpace(t *testing.T) {
	sys := newSys(t)
	parent := sys.NewAddressSpace()
	child, err := Fork(parent)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if child.ID() == parent.ID() {
		t.Fatalf("Fork returned the same address space identity as parent")
	}
}

func TestExecvDefinesRegionsAndStack(t *testing.T) {
	sys := newSys(t)
	img := &elf.Executable{
		HasCode: true,
		Code:    elf.Segment{VAddr: 0x1000, MemSize: vmconst.PageSize, FileSize: vmconst.PageSize},
		Entry:   0x1000,
	}
	res, buf, err := Execv(sys, img, []string{"prog", "arg1"})
	if err != nil {
		t.Fatalf("Execv: %v", err)
	}
	if res.EntryPoint != 0x1000 {
		t.Fatalf("EntryPoint = %#x; want 0x1000", res.EntryPoint)
	}
	if res.StackPointer != vmconst.UserStack {
		t.Fatalf("StackPointer = %#x; want %#x", res.StackPointer, vmconst.UserStack)
	}
	if len(buf)%8 != 0 {
		t.Fatalf("argv buffer length %d is not 8-byte aligned", len(buf))
	}
}
