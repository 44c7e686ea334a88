package sfs

import (
	"fmt"

	"github.com/sfs-go/sfs/blockdevice"
)

// BlockKind is the logical state of one block within a block array
// descriptor's bitmaps.
type BlockKind int

// Block kinds, per SPEC_FULL.md §3/§4.1.
const (
	KindUnused BlockKind = iota
	KindAllocated
	KindInodeBlock
	KindDescriptor
)

func (k BlockKind) String() string {
	switch k {
	case KindUnused:
		return "unused"
	case KindAllocated:
		return "allocated"
	case KindInodeBlock:
		return "inode-block"
	case KindDescriptor:
		return "descriptor"
	default:
		return "invalid"
	}
}

// blockArrayDescriptor is the per-segment allocation bitmap: a used-bit
// and a kind-bit for each of the BlocksPerBlockArray blocks in one
// segment, stored as two 2048-byte bitmaps packed into the segment's
// first block. It holds no in-memory state of its own; every Get/Set
// reads or writes the single byte it needs directly against the device,
// matching original_source/src/fs.rs's BlockArrayDescriptor.
type blockArrayDescriptor struct {
	dev     blockdevice.Device
	segment uint32
}

// segmentBase returns the byte address of the first block of the segment.
func (d *blockArrayDescriptor) segmentBase() uint64 {
	return uint64(d.segment) * BlocksPerBlockArray * BlockSize
}

// usageByteAddr and kindByteAddr return the address of the single byte
// holding bit (i % 8) of the usage/kind bitmap for local index i.
func (d *blockArrayDescriptor) usageByteAddr(i uint32) uint64 {
	return d.segmentBase() + uint64(i/8)
}

func (d *blockArrayDescriptor) kindByteAddr(i uint32) uint64 {
	return d.segmentBase() + 2048 + uint64(i/8)
}

// Get returns the logical kind of local block index i within this segment.
func (d *blockArrayDescriptor) Get(i uint32) (BlockKind, error) {
	if i == 0 {
		return KindDescriptor, nil
	}
	if i >= BlocksPerBlockArray {
		return 0, fmt.Errorf("sfs: block index %d out of range for segment: %w", i, ErrInvalidBlock)
	}

	var usageByte, kindByte [1]byte
	if err := blockdevice.ReadExact(d.dev, d.usageByteAddr(i), usageByte[:]); err != nil {
		return 0, err
	}
	if err := blockdevice.ReadExact(d.dev, d.kindByteAddr(i), kindByte[:]); err != nil {
		return 0, err
	}

	mask := byte(1) << (i % 8)
	if usageByte[0]&mask == 0 {
		return KindUnused, nil
	}
	if kindByte[0]&mask != 0 {
		return KindInodeBlock, nil
	}
	return KindAllocated, nil
}

// Set stores kind at local index i. Index 0 is always coerced to
// KindDescriptor; any attempt to write KindDescriptor to a non-zero index
// is coerced to KindAllocated; indices at or past BlocksPerBlockArray are
// silently ignored.
func (d *blockArrayDescriptor) Set(i uint32, kind BlockKind) error {
	if i >= BlocksPerBlockArray {
		return nil
	}
	if i == 0 {
		kind = KindDescriptor
	} else if kind == KindDescriptor {
		kind = KindAllocated
	}

	var usageByte, kindByte [1]byte
	usageAddr := d.usageByteAddr(i)
	kindAddr := d.kindByteAddr(i)
	if err := blockdevice.ReadExact(d.dev, usageAddr, usageByte[:]); err != nil {
		return err
	}
	if err := blockdevice.ReadExact(d.dev, kindAddr, kindByte[:]); err != nil {
		return err
	}

	mask := byte(1) << (i % 8)
	if kind != KindUnused {
		usageByte[0] |= mask
	} else {
		usageByte[0] &^= mask
	}
	if kind == KindInodeBlock {
		kindByte[0] |= mask
	} else {
		kindByte[0] &^= mask
	}

	if err := blockdevice.WriteExact(d.dev, usageAddr, usageByte[:]); err != nil {
		return err
	}
	return blockdevice.WriteExact(d.dev, kindAddr, kindByte[:])
}

// initSegment zero-fills a fresh segment's two bitmaps and marks index 0
// (the descriptor block itself) as used, matching
// BlockArrayDescriptor::create in the original source.
func initSegment(dev blockdevice.Device, segment uint32) error {
	d := &blockArrayDescriptor{dev: dev, segment: segment}
	zero := make([]byte, BlockSize)
	if err := blockdevice.WriteExact(dev, d.segmentBase(), zero); err != nil {
		return err
	}
	return d.Set(0, KindDescriptor)
}
