package sfs

import (
	"encoding/binary"
	"fmt"
)

// superblockOnDiskSize is the number of meaningful bytes written at the
// start of block 1; the remainder of the block is zero padding.
const superblockOnDiskSize = 8 + 4 + 4 + 4 + 4 + 4 + 8 + 8 + 32 + 1 + 1 + 4

// superblock is the persistent header describing a mounted filesystem.
// It is written in block 1 and re-read on every FromDisk.
type superblock struct {
	earliestFree uint32
	// earliestInodeSpace is a hint pointing at a block holding a
	// partially-used inode table, expressed in inode-slot units (blockID
	// * InodesPerBlock), not block units; 0 means unknown.
	earliestInodeSpace uint32
	lastFree           uint32
	totalUnused        uint32
	totalBlocks        uint32
	lastMount          uint64
	lastWrite          uint64
	name               [32]byte
	filePrealloc       uint8
	dirPrealloc        uint8
	rootInode          uint32
}

// newSuperblock builds a fresh superblock for a filesystem of numBlocks
// blocks, mirroring original_source/src/superblock.rs's Superblock::new.
func newSuperblock(name string, numBlocks uint32, now uint64) (*superblock, error) {
	if len(name) > len(superblock{}.name) {
		return nil, fmt.Errorf("superblock name %q: %w", name, ErrNameTooLong)
	}
	sb := &superblock{
		filePrealloc:       1,
		dirPrealloc:        1,
		lastFree:           numBlocks - 1,
		earliestFree:       2,
		earliestInodeSpace: 0,
		lastMount:          now,
		lastWrite:          now,
		totalBlocks:        numBlocks,
		totalUnused:        numBlocks - 1 - ceilDiv(numBlocks, BlocksPerBlockArray),
	}
	copy(sb.name[:], name)
	return sb, nil
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// Name returns the zero-padded name field trimmed at its first NUL byte.
func (sb *superblock) Name() string {
	for i, b := range sb.name {
		if b == 0 {
			return string(sb.name[:i])
		}
	}
	return string(sb.name[:])
}

func (sb *superblock) totalUsed() uint32 {
	return sb.totalBlocks - sb.totalUnused
}

// toBytes serializes the superblock field by field, little-endian, into a
// full BlockSize-byte block with zero padding.
func (sb *superblock) toBytes() []byte {
	b := make([]byte, BlockSize)
	copy(b[0:8], superblockSignature)
	binary.LittleEndian.PutUint32(b[8:12], sb.earliestFree)
	binary.LittleEndian.PutUint32(b[12:16], sb.earliestInodeSpace)
	binary.LittleEndian.PutUint32(b[16:20], sb.lastFree)
	binary.LittleEndian.PutUint32(b[20:24], sb.totalUnused)
	binary.LittleEndian.PutUint32(b[24:28], sb.totalBlocks)
	binary.LittleEndian.PutUint64(b[28:36], sb.lastMount)
	binary.LittleEndian.PutUint64(b[36:44], sb.lastWrite)
	copy(b[44:76], sb.name[:])
	b[76] = sb.filePrealloc
	b[77] = sb.dirPrealloc
	binary.LittleEndian.PutUint32(b[78:82], sb.rootInode)
	return b
}

// superblockFromBytes deserializes a superblock from exactly one block's
// worth of bytes, validating the signature.
func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) < superblockOnDiskSize {
		return nil, fmt.Errorf("superblock data too short: %d bytes", len(b))
	}
	if string(b[0:8]) != superblockSignature {
		return nil, ErrInvalidSignature
	}
	sb := &superblock{
		earliestFree:       binary.LittleEndian.Uint32(b[8:12]),
		earliestInodeSpace: binary.LittleEndian.Uint32(b[12:16]),
		lastFree:           binary.LittleEndian.Uint32(b[16:20]),
		totalUnused:        binary.LittleEndian.Uint32(b[20:24]),
		totalBlocks:        binary.LittleEndian.Uint32(b[24:28]),
		lastMount:          binary.LittleEndian.Uint64(b[28:36]),
		lastWrite:          binary.LittleEndian.Uint64(b[36:44]),
		filePrealloc:       b[76],
		dirPrealloc:        b[77],
		rootInode:          binary.LittleEndian.Uint32(b[78:82]),
	}
	copy(sb.name[:], b[44:76])
	return sb, nil
}
