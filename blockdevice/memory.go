package blockdevice

// Memory is an in-memory Device backed by a plain byte slice. It is the
// backend used by the sfs property tests and is handy for short-lived
// filesystems that never need to survive a process restart.
type Memory struct {
	data []byte
}

// NewMemory allocates a zeroed in-memory device of the given size in bytes.
func NewMemory(size uint64) *Memory {
	return &Memory{data: make([]byte, size)}
}

// Size implements Device.
func (m *Memory) Size() uint64 {
	return uint64(len(m.data))
}

// ReadLossy implements Device.
func (m *Memory) ReadLossy(addr uint64, buf []byte) (int, error) {
	if addr >= uint64(len(m.data)) {
		return 0, nil
	}
	n := copy(buf, m.data[addr:])
	return n, nil
}

// WriteLossy implements Device.
func (m *Memory) WriteLossy(addr uint64, buf []byte) (int, error) {
	if addr >= uint64(len(m.data)) {
		return 0, nil
	}
	n := copy(m.data[addr:], buf)
	return n, nil
}

// Close implements Device. It is a no-op for the in-memory backend.
func (m *Memory) Close() error {
	return nil
}
