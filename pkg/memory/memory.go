// Package memory implements the guest address space: a segmented set of
// host byte buffers addressed by guest addresses, with byte/half/word
// accessors used by the emitted blocks' memory helpers.
package memory

import (
	"encoding/binary"
	"fmt"
)

// StackSize is the size, in bytes, of the stack segment appended by
// NewImage. The guest stack grows down from 0xFFFFFFFF.
const StackSize = 16 * 1024 * 1024 // 16 MiB

// Segment is a contiguous mapping from a guest base address to a host
// byte buffer.
type Segment struct {
	HostBytes []byte
	GuestBase uint32
}

// Size returns the length, in bytes, of the segment.
func (s *Segment) Size() uint32 {
	return uint32(len(s.HostBytes))
}

func (s *Segment) contains(addr uint32) bool {
	return addr >= s.GuestBase && uint64(addr) < uint64(s.GuestBase)+uint64(s.Size())
}

// ErrFault indicates that a guest address mapped to no segment.
var ErrFault = fmt.Errorf("memory: segmentation fault")

// Image is an ordered sequence of Segments forming the guest address
// space. Lookup scans segments linearly and returns the first one that
// covers the requested address.
type Image struct {
	Segments []Segment
}

// NewImage builds an Image from the given loaded segments and appends the
// stack segment last, sized at StackSize with its guest base chosen so
// the stack grows down from 0xFFFFFFFF.
func NewImage(segments []Segment) *Image {
	stack := Segment{
		HostBytes: make([]byte, StackSize),
		GuestBase: uint32(uint64(1)<<32 - StackSize),
	}
	all := make([]Segment, 0, len(segments)+1)
	all = append(all, segments...)
	all = append(all, stack)
	return &Image{Segments: all}
}

func (m *Image) find(addr uint32, size uint32) (*Segment, uint32, error) {
	for i := range m.Segments {
		seg := &m.Segments[i]
		if seg.contains(addr) && uint64(addr)+uint64(size) <= uint64(seg.GuestBase)+uint64(seg.Size()) {
			return seg, addr - seg.GuestBase, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: address 0x%08x", ErrFault, addr)
}

// Read8 reads a byte at addr.
func (m *Image) Read8(addr uint32) (uint8, error) {
	seg, off, err := m.find(addr, 1)
	if err != nil {
		return 0, err
	}
	return seg.HostBytes[off], nil
}

// Read16 reads a little-endian half-word at addr.
func (m *Image) Read16(addr uint32) (uint16, error) {
	seg, off, err := m.find(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(seg.HostBytes[off:]), nil
}

// Read32 reads a little-endian word at addr.
func (m *Image) Read32(addr uint32) (uint32, error) {
	seg, off, err := m.find(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(seg.HostBytes[off:]), nil
}

// Write8 writes a byte at addr.
func (m *Image) Write8(addr uint32, v uint8) error {
	seg, off, err := m.find(addr, 1)
	if err != nil {
		return err
	}
	seg.HostBytes[off] = v
	return nil
}

// Write16 writes a little-endian half-word at addr.
func (m *Image) Write16(addr uint32, v uint16) error {
	seg, off, err := m.find(addr, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(seg.HostBytes[off:], v)
	return nil
}

// Write32 writes a little-endian word at addr.
func (m *Image) Write32(addr uint32, v uint32) error {
	seg, off, err := m.find(addr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(seg.HostBytes[off:], v)
	return nil
}
