//go:build linux

package afxdp

import (
	"errors"
	"sync/atomic"
	"testing"

	"golang.org/x/sys/unix"
)

// fakeDescRegion builds an in-memory region laid out the way the kernel
// lays out a ring's mmap'd area (producer u32, consumer u32, flags u32,
// then the descriptor array), so descQueue/addrQueue machinery can be
// exercised without a real AF_XDP socket — the same trick binw666/xsk's
// test suite uses of wiring producer/consumer indices directly instead of
// going through the kernel.
func fakeDescRegion(t *testing.T, size uint32) ([]byte, xdpRingOffset) {
	t.Helper()
	const descStart = 64 // generous headroom, mirrors kernel's page-aligned layout
	off := xdpRingOffset{Producer: 0, Consumer: 8, Flags: 16, Desc: descStart}
	region := make([]byte, int(off.Desc)+int(size)*16) // xdpDesc is 16 bytes
	return region, off
}

func TestDescQueueReserveReleaseWraparound(t *testing.T) {
	const size = 8
	region, off := fakeDescRegion(t, size)
	q, err := makeDescQueue(region, off, size, false)
	if err != nil {
		t.Fatalf("makeDescQueue: %v", err)
	}

	s := &Socket{rx: q}

	// Simulate the kernel producing 3 descriptors.
	q.descs[0] = xdpDesc{Addr: 100, Len: 64}
	q.descs[1] = xdpDesc{Addr: 200, Len: 128}
	q.descs[2] = xdpDesc{Addr: 300, Len: 256}
	atomic.StoreUint32(q.prod, 3)

	n, idx := s.PeekRx(8)
	if n != 3 {
		t.Fatalf("PeekRx n = %d, want 3", n)
	}
	addr, length := s.RxDescAt(idx)
	if addr != 100 || length != 64 {
		t.Errorf("RxDescAt(0) = (%d,%d), want (100,64)", addr, length)
	}
	s.ReleaseRx(n)
	if got := atomic.LoadUint32(q.cons); got != 3 {
		t.Errorf("consumer index after release = %d, want 3", got)
	}

	// Peeking again with nothing new produced returns zero.
	if n2, _ := s.PeekRx(8); n2 != 0 {
		t.Errorf("PeekRx after drain = %d, want 0", n2)
	}

	// Produce enough more to wrap the ring past its size.
	for i := uint32(0); i < size; i++ {
		q.descs[(3+i)&q.mask] = xdpDesc{Addr: uint64(1000 + i)}
	}
	atomic.StoreUint32(q.prod, 3+size)
	n3, idx3 := s.PeekRx(8)
	if n3 != size {
		t.Fatalf("PeekRx after wraparound = %d, want %d", n3, size)
	}
	firstAddr, _ := s.RxDescAt(idx3)
	if firstAddr != 1000 {
		t.Errorf("first wrapped addr = %d, want 1000", firstAddr)
	}
}

func TestAddrQueueFillReserveSubmit(t *testing.T) {
	const size = 4
	region := make([]byte, 64+int(size)*8)
	off := xdpRingOffset{Producer: 0, Consumer: 8, Flags: 16, Desc: 64}
	q, err := makeAddrQueue(region, off, size)
	if err != nil {
		t.Fatalf("makeAddrQueue: %v", err)
	}
	s := &Socket{fq: q}

	idx, ok := s.ReserveFill(size)
	if !ok {
		t.Fatalf("ReserveFill(%d) on empty ring failed", size)
	}
	for i := uint32(0); i < size; i++ {
		s.SetFillAddr(idx+i, uint64(i)*4096)
	}
	s.SubmitFill(size)
	if got := atomic.LoadUint32(q.prod); got != size {
		t.Errorf("producer after SubmitFill = %d, want %d", got, size)
	}

	// The ring is now full from the producer's perspective (consumer
	// hasn't moved), so a further reservation must fail until the
	// simulated kernel consumes some entries.
	if _, ok := s.ReserveFill(1); ok {
		t.Fatalf("ReserveFill succeeded on a full ring")
	}
	atomic.StoreUint32(q.cons, 2)
	if _, ok := s.ReserveFill(2); !ok {
		t.Fatalf("ReserveFill(2) failed after consumer freed 2 slots")
	}
}

func TestPrimeFill(t *testing.T) {
	const size = 4096
	region := make([]byte, 64+int(size)*8)
	off := xdpRingOffset{Producer: 0, Consumer: 8, Flags: 16, Desc: 64}
	q, err := makeAddrQueue(region, off, size)
	if err != nil {
		t.Fatalf("makeAddrQueue: %v", err)
	}
	s := &Socket{fq: q}

	addrs := make([]uint64, size)
	for i := range addrs {
		addrs[i] = uint64(i) * 4096
	}
	if err := s.PrimeFill(addrs); err != nil {
		t.Fatalf("PrimeFill: %v", err)
	}
	if got := atomic.LoadUint32(q.prod); got != size {
		t.Errorf("producer after PrimeFill = %d, want %d", got, size)
	}
	for i := 0; i < size; i += 511 {
		if q.addrs[i] != addrs[i] {
			t.Errorf("addrs[%d] = %d, want %d", i, q.addrs[i], addrs[i])
		}
	}
}

func TestPrimeFillRejectsOversizedBatch(t *testing.T) {
	const size = 8
	region := make([]byte, 64+int(size)*8)
	off := xdpRingOffset{Producer: 0, Consumer: 8, Flags: 16, Desc: 64}
	q, err := makeAddrQueue(region, off, size)
	if err != nil {
		t.Fatalf("makeAddrQueue: %v", err)
	}
	s := &Socket{fq: q}

	addrs := make([]uint64, size+1)
	if err := s.PrimeFill(addrs); !errors.Is(err, ErrPartialReserve) {
		t.Fatalf("PrimeFill(%d addrs into a %d-slot ring) err = %v, want ErrPartialReserve", len(addrs), size, err)
	}
}

func TestNeedsWakeup(t *testing.T) {
	var flags uint32
	if needsWakeup(&flags) {
		t.Errorf("needsWakeup true on zeroed flags")
	}
	atomic.StoreUint32(&flags, xdpRingNeedWakeup)
	if !needsWakeup(&flags) {
		t.Errorf("needsWakeup false after setting XDP_RING_NEED_WAKEUP")
	}
}

func TestIsBenignKickError(t *testing.T) {
	benign := []error{unix.ENOBUFS, unix.EAGAIN, unix.EBUSY, unix.ENETDOWN}
	for _, e := range benign {
		if !isBenignKickError(e) {
			t.Errorf("isBenignKickError(%v) = false, want true", e)
		}
	}
	if isBenignKickError(unix.EINVAL) {
		t.Errorf("isBenignKickError(EINVAL) = true, want false")
	}
	if isBenignKickError(nil) {
		t.Errorf("isBenignKickError(nil) = true, want false")
	}
}

func TestReserveTxAndCompletionRoundTrip(t *testing.T) {
	const txSize = 8
	txRegion, off := fakeDescRegion(t, txSize)
	tx, err := makeDescQueue(txRegion, off, txSize, true)
	if err != nil {
		t.Fatalf("makeDescQueue(tx): %v", err)
	}

	const cqSize = 8
	cqRegion := make([]byte, 64+cqSize*8)
	cqOff := xdpRingOffset{Producer: 0, Consumer: 8, Flags: 16, Desc: 64}
	cq, err := makeAddrQueue(cqRegion, cqOff, cqSize)
	if err != nil {
		t.Fatalf("makeAddrQueue(cq): %v", err)
	}

	s := &Socket{tx: tx, cq: cq}

	idx, ok := s.ReserveTx(2)
	if !ok {
		t.Fatalf("ReserveTx(2) failed on fresh tx ring")
	}
	s.SetTxDesc(idx, 0x1000, 64)
	s.SetTxDesc(idx+1, 0x2000, 128)
	s.SubmitTx(2)
	if got := atomic.LoadUint32(tx.prod); got != 2 {
		t.Errorf("tx producer after SubmitTx = %d, want 2", got)
	}

	// Simulate the kernel consuming the two tx descriptors and posting
	// their addresses to the completion ring.
	atomic.StoreUint32(tx.cons, 2)
	cq.addrs[0] = 0x1000
	cq.addrs[1] = 0x2000
	atomic.StoreUint32(cq.prod, 2)

	n, cidx := s.PeekCompletion(8)
	if n != 2 {
		t.Fatalf("PeekCompletion n = %d, want 2", n)
	}
	if got := s.CompAddrAt(cidx); got != 0x1000 {
		t.Errorf("CompAddrAt(0) = %#x, want 0x1000", got)
	}
	s.ReleaseCompletion(n)
	if got := atomic.LoadUint32(cq.cons); got != 2 {
		t.Errorf("cq consumer after ReleaseCompletion = %d, want 2", got)
	}
}
