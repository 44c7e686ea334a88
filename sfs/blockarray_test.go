package sfs

import (
	"testing"

	"github.com/sfs-go/sfs/blockdevice"
	"github.com/sfs-go/sfs/internal/bitmap"
)

func newTestSegment(t *testing.T) (*blockdevice.Memory, *blockArrayDescriptor) {
	t.Helper()
	dev := blockdevice.NewMemory(BlocksPerBlockArray * BlockSize)
	if err := initSegment(dev, 0); err != nil {
		t.Fatalf("initSegment: %v", err)
	}
	return dev, &blockArrayDescriptor{dev: dev, segment: 0}
}

func TestBlockArrayDescriptorInitialState(t *testing.T) {
	_, d := newTestSegment(t)

	kind, err := d.Get(0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if kind != KindDescriptor {
		t.Fatalf("Get(0) = %v, want KindDescriptor", kind)
	}

	for _, i := range []uint32{1, 2, 100, BlocksPerBlockArray - 1} {
		kind, err := d.Get(i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if kind != KindUnused {
			t.Fatalf("Get(%d) = %v, want KindUnused", i, kind)
		}
	}
}

func TestBlockArrayDescriptorSetGetRoundTrip(t *testing.T) {
	_, d := newTestSegment(t)

	cases := []struct {
		i    uint32
		kind BlockKind
	}{
		{5, KindAllocated},
		{6, KindInodeBlock},
		{BlocksPerBlockArray - 1, KindAllocated},
	}
	for _, c := range cases {
		if err := d.Set(c.i, c.kind); err != nil {
			t.Fatalf("Set(%d, %v): %v", c.i, c.kind, err)
		}
	}
	for _, c := range cases {
		got, err := d.Get(c.i)
		if err != nil {
			t.Fatalf("Get(%d): %v", c.i, err)
		}
		if got != c.kind {
			t.Fatalf("Get(%d) = %v, want %v", c.i, got, c.kind)
		}
	}

	if err := d.Set(5, KindUnused); err != nil {
		t.Fatalf("clearing 5: %v", err)
	}
	got, err := d.Get(5)
	if err != nil {
		t.Fatalf("Get(5): %v", err)
	}
	if got != KindUnused {
		t.Fatalf("Get(5) after clear = %v, want KindUnused", got)
	}
}

func TestBlockArrayDescriptorCoercesDescriptorIndex(t *testing.T) {
	_, d := newTestSegment(t)

	if err := d.Set(0, KindUnused); err != nil {
		t.Fatalf("Set(0, KindUnused): %v", err)
	}
	kind, err := d.Get(0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if kind != KindDescriptor {
		t.Fatalf("Get(0) = %v, want KindDescriptor (index 0 must never clear)", kind)
	}
}

func TestBlockArrayDescriptorCoercesKindDescriptorElsewhere(t *testing.T) {
	_, d := newTestSegment(t)

	if err := d.Set(9, KindDescriptor); err != nil {
		t.Fatalf("Set(9, KindDescriptor): %v", err)
	}
	kind, err := d.Get(9)
	if err != nil {
		t.Fatalf("Get(9): %v", err)
	}
	if kind != KindAllocated {
		t.Fatalf("Get(9) = %v, want KindAllocated (descriptor kind only valid at index 0)", kind)
	}
}

func TestBlockArrayDescriptorOutOfRange(t *testing.T) {
	_, d := newTestSegment(t)

	if _, err := d.Get(BlocksPerBlockArray); err == nil {
		t.Fatalf("Get(BlocksPerBlockArray) should fail")
	}
	// Set silently ignores out-of-range indices rather than erroring.
	if err := d.Set(BlocksPerBlockArray, KindAllocated); err != nil {
		t.Fatalf("Set(BlocksPerBlockArray): %v", err)
	}
}

// TestBlockArrayDescriptorMatchesBitmapModel allocates a handful of
// blocks both through the device-backed descriptor and through an
// independent in-memory bitmap.Bitmap, and checks the two usage models
// agree on every index.
func TestBlockArrayDescriptorMatchesBitmapModel(t *testing.T) {
	_, d := newTestSegment(t)
	model := bitmap.New(BlocksPerBlockArray)
	if err := model.Set(0); err != nil {
		t.Fatalf("model.Set(0): %v", err)
	}

	toAllocate := []uint32{1, 2, 3, 4, 1000, 8191, 16383}
	for _, i := range toAllocate {
		if err := d.Set(i, KindAllocated); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
		if err := model.Set(int(i)); err != nil {
			t.Fatalf("model.Set(%d): %v", i, err)
		}
	}

	for i := uint32(0); i < BlocksPerBlockArray; i++ {
		wantUsed, err := model.IsSet(int(i))
		if err != nil {
			t.Fatalf("model.IsSet(%d): %v", i, err)
		}
		kind, err := d.Get(i)
		if err != nil {
			t.Fatalf("d.Get(%d): %v", i, err)
		}
		gotUsed := kind != KindUnused
		if gotUsed != wantUsed {
			t.Fatalf("index %d: descriptor used=%v, model used=%v", i, gotUsed, wantUsed)
		}
	}
}
