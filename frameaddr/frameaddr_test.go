package frameaddr

import "testing"

func TestOwnerShift(t *testing.T) {
	cases := []struct {
		frameSize uint32
		want      uint
	}{
		{2048, 23},
		{4096, 24},
		{512, 21},
	}
	for _, c := range cases {
		if got := OwnerShift(c.frameSize); got != c.want {
			t.Errorf("OwnerShift(%d) = %d, want %d", c.frameSize, got, c.want)
		}
	}
}

func TestEncodeDecodeOwner(t *testing.T) {
	const frameSize = uint32(2048)
	ownerShift := OwnerShift(frameSize)
	frameShift := FrameShift(frameSize)

	for owner := uint32(0); owner < 4; owner++ {
		for _, frame := range []uint32{0, 1, 4095} {
			for _, offset := range []uint32{0, 64, 2047} {
				addr := Encode(owner, frame, offset, ownerShift, frameShift)
				if got := DecodeOwner(addr, ownerShift); got != owner {
					t.Fatalf("DecodeOwner(Encode(%d,%d,%d)) = %d, want %d",
						owner, frame, offset, got, owner)
				}
			}
		}
	}
}

func TestStripOffset(t *testing.T) {
	const frameSize = uint32(2048)
	ownerShift := OwnerShift(frameSize)
	frameShift := FrameShift(frameSize)

	base := Encode(2, 10, 0, ownerShift, frameShift)
	withOffset := Encode(2, 10, 128, ownerShift, frameShift)

	if got := StripOffset(withOffset, frameShift); got != base {
		t.Errorf("StripOffset(%d) = %d, want %d", withOffset, got, base)
	}
	if got := StripOffset(base, frameShift); got != base {
		t.Errorf("StripOffset of an already-stripped address changed it: %d != %d", got, base)
	}
}

func TestFrameBaseMatchesFillRingPriming(t *testing.T) {
	const frameSize = uint32(4096)
	ownerShift := OwnerShift(frameSize)
	frameShift := FrameShift(frameSize)

	for iface := uint32(0); iface < 3; iface++ {
		for k := uint32(0); k < FramesPerSocket; k += 777 {
			want := uint64(iface*FramesPerSocket+k) * uint64(frameSize)
			got := FrameBase(iface, k, ownerShift, frameShift)
			if got != want {
				t.Fatalf("FrameBase(%d,%d) = %d, want %d", iface, k, got, want)
			}
		}
	}
}

func TestDistinctOwnersNeverCollide(t *testing.T) {
	const frameSize = uint32(2048)
	ownerShift := OwnerShift(frameSize)
	frameShift := FrameShift(frameSize)

	seen := make(map[uint64]uint32)
	for owner := uint32(0); owner < 4; owner++ {
		for frame := uint32(0); frame < FramesPerSocket; frame += 511 {
			addr := FrameBase(owner, frame, ownerShift, frameShift)
			if prevOwner, ok := seen[addr]; ok {
				t.Fatalf("address %d produced by both owner %d and owner %d", addr, prevOwner, owner)
			}
			seen[addr] = owner
		}
	}
}
