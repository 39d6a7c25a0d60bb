package blockdev

import (
	"fmt"
	"sync"
)

// MemDevice is an in-memory Device used by tests that want swap
// round-trip behavior (spec.md §8's round-trip law) without touching
// the filesystem.
type MemDevice struct {
	mu     sync.Mutex
	slots  map[int64][]byte
	closed bool
}

// NewMemDevice creates an empty in-memory device.
func NewMemDevice() *MemDevice {
	return &MemDevice{slots: make(map[int64][]byte)}
}

func (d *MemDevice) ReadAt(dst []byte, offset int64) error {
	if err := checkAligned(dst, offset); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("blockdev: read from closed memory device")
	}
	if slot, ok := d.slots[offset]; ok {
		copy(dst, slot)
	} else {
		for i := range dst {
			dst[i] = 0
		}
	}
	return nil
}

func (d *MemDevice) WriteAt(src []byte, offset int64) error {
	if err := checkAligned(src, offset); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("blockdev: write to closed memory device")
	}
	buf := make([]byte, SlotSize)
	copy(buf, src)
	d.slots[offset] = buf
	return nil
}

func (d *MemDevice) Sync() error { return nil }

func (d *MemDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
