//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package uuidbloom

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapBitmap maps the whole filter file shared, so bit updates reach the
// page cache without a syscall per insert.
type mmapBitmap struct {
	file *os.File
	data []byte
}

func newBitmap(file *os.File) (bitmap, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, MapBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap filter file: %w", err)
	}
	return &mmapBitmap{file: file, data: data}, nil
}

func (m *mmapBitmap) readByte(off int64) (byte, error) {
	return m.data[off], nil
}

func (m *mmapBitmap) writeByte(off int64, b byte) error {
	m.data[off] = b
	return nil
}

func (m *mmapBitmap) sync() error {
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync filter: %w", err)
	}
	return nil
}

func (m *mmapBitmap) close() error {
	unmapErr := unix.Munmap(m.data)
	m.data = nil
	closeErr := m.file.Close()
	if unmapErr != nil {
		return fmt.Errorf("munmap filter: %w", unmapErr)
	}
	return closeErr
}
