// Package pid implements the fixed-size process-ID allocator ported
// from kern/lib/pid.c: a table of MaxUserProcesses slots, scanned in
// circular order from the last allocation point, returning 1-indexed
// PIDs (0 means "unallocated" in the original's convention).
package pid

import (
	"errors"
	"sync"
)

// MaxUserProcesses is the table size (kern/lib/pid.c's
// MAX_USER_PROCESSES).
const MaxUserProcesses = 20

// ErrExhausted is returned by Allocate when every slot is in use,
// replacing the original's sentinel -1 return.
var ErrExhausted = errors.New("pid: no free process IDs")

// Allocator is the PID table (kern/lib/pid.c's pid_array plus
// last_pid_index).
type Allocator struct {
	mu        sync.Mutex
	inUse     [MaxUserProcesses]bool
	lastIndex int
}

// New creates an allocator with every slot free, mirroring
// pid_bootstrap.
func New() *Allocator {
	return &Allocator{}
}

// Allocate claims the first free slot starting the scan at the index
// of the last allocation, matching get_new_pid's circular scan.
// Returns a 1-indexed PID, or ErrExhausted if the table is full.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for n := 0; n < MaxUserProcesses; n++ {
		i := (a.lastIndex + n) % MaxUserProcesses
		if !a.inUse[i] {
			a.inUse[i] = true
			a.lastIndex = i
			return i + 1, nil
		}
	}
	return 0, ErrExhausted
}

// Release frees pid, panicking if it is out of range or not currently
// allocated, matching release_pid's assertions.
func (a *Allocator) Release(pid int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pid < 1 || pid > MaxUserProcesses {
		panic("pid: release of out-of-range pid")
	}
	i := pid - 1
	if !a.inUse[i] {
		panic("pid: release of a pid that is not allocated")
	}
	a.inUse[i] = false
}

// InUse reports whether pid is currently allocated, primarily for
// tests.
func (a *Allocator) InUse(pid int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pid < 1 || pid > MaxUserProcesses {
		return false
	}
	return a.inUse[pid-1]
}
