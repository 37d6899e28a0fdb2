//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package uuidbloom

import (
	"fmt"
	"os"
)

// fileBitmap reads and writes single bytes through the file descriptor.
type fileBitmap struct {
	file *os.File
	buf  [1]byte
}

func newBitmap(file *os.File) (bitmap, error) {
	return &fileBitmap{file: file}, nil
}

func (fb *fileBitmap) readByte(off int64) (byte, error) {
	if _, err := fb.file.ReadAt(fb.buf[:], off); err != nil {
		return 0, fmt.Errorf("read filter byte %d: %w", off, err)
	}
	return fb.buf[0], nil
}

func (fb *fileBitmap) writeByte(off int64, b byte) error {
	fb.buf[0] = b
	if _, err := fb.file.WriteAt(fb.buf[:], off); err != nil {
		return fmt.Errorf("write filter byte %d: %w", off, err)
	}
	return nil
}

func (fb *fileBitmap) sync() error {
	return fb.file.Sync()
}

func (fb *fileBitmap) close() error {
	return fb.file.Close()
}
