// Package uuidbloom provides a fixed-size, file-backed membership filter for
// 128-bit identifiers.
//
// The filter is a 2^32-bit bitmap stored in a 512 MiB file. Each identifier
// maps to four bit addresses taken directly from its four big-endian 32-bit
// groups; no hashing is applied. An identifier is reported present when all
// four bits are set. False positives are possible, false negatives are not.
//
// Because the addresses are the raw identifier bytes, identifiers that share
// fixed bits (the version and variant nibbles of RFC 4122 UUIDs, for example)
// spread over a smaller part of the bitmap than uniformly hashed addresses
// would. The filter file is reused across runs.
//
// A Filter is not safe for concurrent use. Callers that share one must
// serialize Insert and Query themselves.
package uuidbloom

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/eunmann/sharkspotter/pkg/logging"
	"github.com/google/uuid"
)

// Bitmap geometry.
const (
	AddressBits = 32
	MapBits     = 1 << AddressBits
	MapBytes    = MapBits / 8
)

// AddressesPerID is the number of bits an identifier occupies.
const AddressesPerID = 4

// bitmap is the byte-addressable storage behind a Filter.
type bitmap interface {
	readByte(off int64) (byte, error)
	writeByte(off int64, b byte) error
	sync() error
	close() error
}

// Filter is an on-disk bit-address membership filter.
type Filter struct {
	path    string
	created bool
	bm      bitmap
}

// Open opens the filter file at path, creating a zero-filled one if it does
// not exist. An existing file must be exactly MapBytes long.
func Open(path string) (*Filter, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open filter file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat filter file %s: %w", path, err)
	}

	created := false
	switch info.Size() {
	case 0:
		// Sparse on most filesystems; unset bits read as zero.
		if err := file.Truncate(MapBytes); err != nil {
			file.Close()
			return nil, fmt.Errorf("size filter file %s: %w", path, err)
		}
		created = true
	case MapBytes:
	default:
		file.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrSizeMismatch, path, info.Size(), MapBytes)
	}

	bm, err := newBitmap(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	log := logging.WithPhase("filter_open")
	log.Debug().
		Str("path", path).
		Bool("created", created).
		Msg("opened uuid filter")

	return &Filter{path: path, created: created, bm: bm}, nil
}

// Path returns the filter file path.
func (f *Filter) Path() string {
	return f.path
}

// Created reports whether Open created the file rather than reusing one.
func (f *Filter) Created() bool {
	return f.created
}

// Insert sets the four bits addressed by id. Inserting an id twice leaves
// the bitmap unchanged.
func (f *Filter) Insert(id uuid.UUID) error {
	if f.bm == nil {
		return ErrClosed
	}
	for _, addr := range Addresses(id) {
		off, mask := locate(addr)
		b, err := f.bm.readByte(off)
		if err != nil {
			return err
		}
		if b&mask != 0 {
			continue
		}
		if err := f.bm.writeByte(off, b|mask); err != nil {
			return err
		}
	}
	return nil
}

// Query reports whether all four bits addressed by id are set.
func (f *Filter) Query(id uuid.UUID) (bool, error) {
	if f.bm == nil {
		return false, ErrClosed
	}
	for _, addr := range Addresses(id) {
		off, mask := locate(addr)
		b, err := f.bm.readByte(off)
		if err != nil {
			return false, err
		}
		if b&mask == 0 {
			return false, nil
		}
	}
	return true, nil
}

// Sync flushes pending bitmap writes to stable storage.
func (f *Filter) Sync() error {
	if f.bm == nil {
		return ErrClosed
	}
	return f.bm.sync()
}

// Close releases the file. The filter must not be used afterwards.
func (f *Filter) Close() error {
	if f.bm == nil {
		return ErrClosed
	}
	err := f.bm.close()
	f.bm = nil
	return err
}

// Addresses returns the four bit addresses of id: its big-endian 32-bit
// groups, in order.
func Addresses(id uuid.UUID) [AddressesPerID]uint32 {
	return [AddressesPerID]uint32{
		binary.BigEndian.Uint32(id[0:4]),
		binary.BigEndian.Uint32(id[4:8]),
		binary.BigEndian.Uint32(id[8:12]),
		binary.BigEndian.Uint32(id[12:16]),
	}
}

// locate returns the byte offset and in-byte mask of addr (LSB first).
func locate(addr uint32) (int64, byte) {
	return int64(addr >> 3), 1 << (addr & 7)
}

// ParseID decodes an identifier written as hex digits. Any non-hex
// characters (dashes, braces) are ignored; the rest must be 16 bytes.
func ParseID(s string) (uuid.UUID, error) {
	digits := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			return r
		}
		return -1
	}, s)

	raw, err := hex.DecodeString(digits)
	if err != nil || len(raw) != 16 {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return uuid.FromBytes(raw)
}

// FalsePositiveRate estimates the false-positive probability after n
// distinct inserts if addresses were uniform over the bitmap. Real rates for
// UUIDs with fixed version bits are higher.
func FalsePositiveRate(n uint64) float64 {
	perAddress := -math.Expm1(float64(n) * math.Log1p(-1.0/MapBits))
	return math.Pow(perAddress, AddressesPerID)
}
