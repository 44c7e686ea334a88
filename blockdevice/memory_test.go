package blockdevice

import "testing"

func TestMemoryReadWriteLossy(t *testing.T) {
	m := NewMemory(16)

	n, err := m.WriteLossy(10, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil {
		t.Fatalf("WriteLossy: %v", err)
	}
	if n != 6 {
		t.Fatalf("WriteLossy truncated at device end = %d, want 6", n)
	}

	buf := make([]byte, 6)
	n, err = m.ReadLossy(10, buf)
	if err != nil {
		t.Fatalf("ReadLossy: %v", err)
	}
	if n != 6 {
		t.Fatalf("ReadLossy = %d, want 6", n)
	}
	want := []byte{1, 2, 3, 4, 5, 6}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("buf[%d] = %d, want %d", i, buf[i], want[i])
		}
	}

	n, err = m.ReadLossy(100, buf)
	if err != nil || n != 0 {
		t.Fatalf("ReadLossy past end = (%d, %v), want (0, nil)", n, err)
	}
}

func TestExactHelpers(t *testing.T) {
	m := NewMemory(8)
	if err := WriteExact(m, 0, []byte("abcdefgh")); err != nil {
		t.Fatalf("WriteExact: %v", err)
	}
	buf := make([]byte, 8)
	if err := ReadExact(m, 0, buf); err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if string(buf) != "abcdefgh" {
		t.Fatalf("ReadExact = %q, want %q", buf, "abcdefgh")
	}

	if err := ReadExact(m, 4, make([]byte, 8)); err == nil {
		t.Fatal("ReadExact past end should fail with ErrNotEnoughSpace")
	}
}
