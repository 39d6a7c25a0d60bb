//go:build !linux && !darwin && !freebsd

package blockdev

import (
	"fmt"
	"os"
)

// FileDevice backs swap slots with a regular file via the portable
// os.File positioned read/write calls on platforms without the
// golang.org/x/sys/unix pread/pwrite bindings this package prefers.
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
	if _, err := d.f.ReadAt(dst, offset); err != nil {
		return fmt.Errorf("blockdev: read at %d: %w", offset, err)
	}
	return nil
}

func (d *FileDevice) WriteAt(src []byte, offset int64) error {
	if err := checkAligned(src, offset); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(src, offset); err != nil {
		return fmt.Errorf("blockdev: write at %d: %w", offset, err)
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
