package sfs

import "errors"

// Sentinel errors surfaced by this package. Callers should compare with
// errors.Is, since errors crossing a layer boundary are wrapped with
// fmt.Errorf("...: %w", ...) to add context.
var (
	// ErrInvalidSignature is returned by FromDisk when block 1 does not
	// begin with the expected superblock signature.
	ErrInvalidSignature = errors.New("sfs: invalid superblock signature")
	// ErrNameTooLong is returned when a directory entry name is empty or
	// at least DirentryNameLength bytes long.
	ErrNameTooLong = errors.New("sfs: name too long")
	// ErrInvalidBlock is returned for a zero block id, or a block id
	// that lands on a block array descriptor.
	ErrInvalidBlock = errors.New("sfs: invalid block id")
	// ErrNoEntry is returned when a lookup through indirect pointers or
	// directory slots comes up empty.
	ErrNoEntry = errors.New("sfs: no such entry")
	// ErrNoSpace is returned when the block allocator has no free blocks
	// left to hand out.
	ErrNoSpace = errors.New("sfs: no space left on device")
	// ErrFailSuperblockWrite is returned when the superblock could not be
	// persisted; the filesystem should be considered broken afterward.
	ErrFailSuperblockWrite = errors.New("sfs: failed to write superblock")
	// ErrWrongType is returned when an operation is attempted against an
	// inode of the wrong file type, e.g. writing file data to a directory.
	ErrWrongType = errors.New("sfs: wrong inode type for operation")
	// ErrFilesystemBroken is returned by AllocateBlock, FreeBlock,
	// CreateInode, ReadInode and WriteInode, and so by the operations
	// built on them, once a prior superblock write has failed.
	ErrFilesystemBroken = errors.New("sfs: filesystem is broken after a failed superblock write")
)
