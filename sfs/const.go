// Package sfs implements the core of a Unix-style block filesystem: a
// bitmap block allocator, inodes with direct/singly/doubly indirect
// addressing, a variable-length directory entry encoding, and the
// superblock that ties them together across a mount. It is built
// entirely against the blockdevice.Device contract and has no notion of
// paths, permissions enforcement, or concurrent mounts.
package sfs

const (
	// BlockSize is the fixed size, in bytes, of every block on the device.
	BlockSize = 4096

	// InodeSize is the fixed on-disk size, in bytes, of one inode record.
	InodeSize = 128

	// InodesPerBlock is how many inode slots fit in one block.
	InodesPerBlock = BlockSize / InodeSize

	// BlocksPerBlockArray is the number of blocks, including the
	// descriptor block itself, covered by one block array descriptor.
	BlocksPerBlockArray = 16384

	// DirentryNameLength is the maximum byte length of a directory entry
	// name.
	DirentryNameLength = 255

	// maxDirEntrySize is the on-disk size of the largest possible
	// directory entry: 5 header bytes (name_size + inode) plus the
	// maximum name length.
	maxDirEntrySize = 5 + DirentryNameLength

	// dirEntryCutoff is the running in-block offset beyond which the
	// next directory entry is written into the following block instead,
	// chosen so that a maximum-sized entry is always guaranteed to fit
	// before it (see SPEC_FULL.md §9 decision 6: BlockSize - maxDirEntrySize).
	dirEntryCutoff = BlockSize - maxDirEntrySize

	// directBlockCount is how many direct block pointers an inode has.
	directBlockCount = 10

	// pointersPerBlock is how many 4-byte block ids fit in one indirect
	// block.
	pointersPerBlock = BlockSize / 4

	// singlyIndirectCount is how many logical blocks a singly-indirect
	// pointer tree can address.
	singlyIndirectCount = pointersPerBlock

	// doublyIndirectCount is how many logical blocks a doubly-indirect
	// pointer tree can address.
	doublyIndirectCount = pointersPerBlock * pointersPerBlock

	// maxFileBlocks is the maximum number of data blocks a single inode
	// can reference: direct + singly + doubly.
	maxFileBlocks = directBlockCount + singlyIndirectCount + doublyIndirectCount

	superblockSignature = "SFs sblk"
	superblockBlockID   = 1
)

// FileType is the high-nibble type tag of an inode's type_and_permission
// field.
type FileType uint16

// File types, per SPEC_FULL.md §3.
const (
	TypeFIFO   FileType = 0x1
	TypeChar   FileType = 0x2
	TypeDir    FileType = 0x4
	TypeBlock  FileType = 0x6
	TypeFile   FileType = 0x8
	TypeSocket FileType = 0xA
)
