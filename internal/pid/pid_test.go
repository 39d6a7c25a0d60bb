package pid

import "testing"

func TestAllocateIsOneIndexed(t *testing.T) {
	a := New()
	got, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	if got != 1 {
		t.Fatalf("Allocate() = %d; want 1", got)
	}
}

func TestAllocateExhaustion(t *testing.T) {
	a := New()
	for i := 0; i < MaxUserProcesses; i++ {
		if _, err := a.Allocate(); err != nil {
			t.Fatalf("Allocate() #%d error: %v", i, err)
		}
	}
	if _, err := a.Allocate(); err != ErrExhausted {
		t.Fatalf("Allocate() after exhaustion = %v; want ErrExhausted", err)
	}
}

func TestReleaseThenReallocate(t *testing.T) {
	a := New()
	pid, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	a.Release(pid)
	if a.InUse(pid) {
		t.Fatalf("InUse(%d) = true after Release", pid)
	}

	got, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	if got != pid {
		t.Fatalf("Allocate() after release = %d; want reused pid %d (circular scan from last index)", got, pid)
	}
}

func TestReleaseOutOfRangePanics(t *testing.T) {
	a := New()
	defer func() {
		if recover() == nil {
			t.Fatalf("Release(0) did not panic")
		}
	}()
	a.Release(0)
}

func TestReleaseNotAllocatedPanics(t *testing.T) {
	a := New()
	defer func() {
		if recover() == nil {
			t.Fatalf("Release(1) did not panic when not allocated")
		}
	}()
	a.Release(1)
}

func TestAllocateCircularScanSkipsInUse(t *testing.T) {
	a := New()
	first, _ := a.Allocate()
	second, _ := a.Allocate()
	a.Release(first)

	got, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	if got == second {
		t.Fatalf("Allocate() returned still-in-use pid %d", second)
	}
}
