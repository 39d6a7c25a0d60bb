//go:build linux || darwin || freebsd

package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDevice backs swap slots with a regular file opened at the
// spec.md §6 "lhd0raw:"-equivalent path, using direct positioned
// syscalls rather than the buffered os.File.ReadAt/WriteAt path — the
// same reason the teacher's internal/runtime/asyncio zerocopy backends
// reach for golang.org/x/sys/unix instead of the stdlib os package.
type FileDevice struct {
	f *os.File
}

// OpenFile opens or creates path as a totalSlots*SlotSize raw device.
func OpenFile(path string, totalSlots int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	size := int64(totalSlots) * SlotSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: truncate %s to %d bytes: %w", path, size, err)
	}
	return &FileDevice{f: f}, nil
}

func (d *FileDevice) ReadAt(dst []byte, offset int64) error {
	if err := checkAligned(dst, offset); err != nil {
		return err
	}
	n, err := unix.Pread(int(d.f.Fd()), dst, offset)
	if err != nil {
		return fmt.Errorf("blockdev: pread at %d: %w", offset, err)
	}
	if n != SlotSize {
		return fmt.Errorf("blockdev: short read at %d: got %d of %d bytes", offset, n, SlotSize)
	}
	return nil
}

func (d *FileDevice) WriteAt(src []byte, offset int64) error {
	if err := checkAligned(src, offset); err != nil {
		return err
	}
	n, err := unix.Pwrite(int(d.f.Fd()), src, offset)
	if err != nil {
		return fmt.Errorf("blockdev: pwrite at %d: %w", offset, err)
	}
	if n != SlotSize {
		return fmt.Errorf("blockdev: short write at %d: wrote %d of %d bytes", offset, n, SlotSize)
	}
	return nil
}

func (d *FileDevice) Sync() error {
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("blockdev: sync: %w", err)
	}
	return nil
}

func (d *FileDevice) Close() error { return d.f.Close() }
