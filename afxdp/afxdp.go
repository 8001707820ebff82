//go:build linux

// Package afxdp maps and drives the four AF_XDP rings (rx, tx, fill,
// completion) directly through raw syscalls, with no cgo and no
// libbpf/libxdp dependency.
//
// A UMEM is a single anonymous memory region that can back more than one
// Socket at once ("shared UMEM" in kernel terms): the first socket opened
// against a UMEM registers the region with XDP_UMEM_REG; every socket,
// including the first, gets its own independent fill/completion/rx/tx ring
// set, and every socket opened after the first is bound with the
// XDP_SHARED_UMEM flag. Loading and attaching eBPF programs is not this package's concern;
// callers (the xsknf control plane) do that separately and only need a
// Socket's file descriptor to register it in a redirect map.
package afxdp

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Socket options not yet exported by golang.org/x/sys/unix at the pinned
// version; values are from linux/socket.h and are stable ABI.
const (
	soBusyPoll       = 46
	soPreferBusyPoll = 69
	soBusyPollBudget = 70
)

// xdpRingNeedWakeup is XDP_RING_NEED_WAKEUP from linux/if_xdp.h: a bit in a
// ring's flags word asking userspace to issue a kicking syscall.
const xdpRingNeedWakeup = 1

var (
	ErrRegionEmpty     = errors.New("afxdp: mmap'd ring region is empty")
	ErrPartialReserve  = errors.New("afxdp: partial ring reservation")
	ErrBusyPollOnCopy  = errors.New("afxdp: busy-poll requested on a copy-mode socket")
)

/*---- Kernel struct mirrors (linux/if_xdp.h) ----*/

type sockaddrXDP struct {
	Family       uint16
	Flags        uint16
	Ifindex      uint32
	QueueID      uint32
	SharedUmemFD uint32
}

type xdpRingOffset struct {
	Producer uint64
	Consumer uint64
	Desc     uint64
	Flags    uint64
}

type xdpMmapOffsets struct {
	Rx xdpRingOffset
	Tx xdpRingOffset
	Fr xdpRingOffset
	Cr xdpRingOffset
}

type xdpUmemReg struct {
	Addr      uint64
	Len       uint64
	ChunkSize uint32
	Headroom  uint32
}

type xdpDesc struct {
	Addr uint64
	Len  uint32
	Opts uint32
}

// xdpStatistics mirrors struct xdp_statistics, read back via the
// XDP_STATISTICS socket option.
type xdpStatistics struct {
	RxDropped           uint64
	RxInvalidDescs      uint64
	TxInvalidDescs      uint64
	RxRingFull          uint64
	RxFillRingEmptyDescs uint64
	TxRingEmptyDescs    uint64
}

// DriverStats is the set of kernel-reported counters for one socket,
// fetched on demand via Socket.DriverStats.
type DriverStats struct {
	RxDropped         uint64
	RxInvalid         uint64
	TxInvalid         uint64
	RxFull            uint64
	RxFillEmpty       uint64
	TxEmpty           uint64
}

/*---- Raw syscall helpers ----*/

func rawBind(fd int, sa *sockaddrXDP) error {
	_, _, e := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(sa)), unsafe.Sizeof(*sa))
	if e != 0 {
		return e
	}
	return nil
}

func setsockopt(fd, level, name int, val unsafe.Pointer, vallen uintptr) error {
	_, _, e := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), uintptr(level), uintptr(name), uintptr(val), vallen, 0)
	if e != 0 {
		return e
	}
	return nil
}

func getsockopt(fd, level, name int, val unsafe.Pointer, vallen uintptr) (uint32, error) {
	l := uint32(vallen)
	_, _, e := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd), uintptr(level), uintptr(name),
		uintptr(val), uintptr(unsafe.Pointer(&l)), 0)
	if e != 0 {
		return 0, e
	}
	return l, nil
}

func mmapRegion(fd int, length uintptr, offset uintptr) ([]byte, error) {
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP, 0, length,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE, uintptr(fd), offset)
	if errno != 0 {
		return nil, errno
	}
	sh := &struct {
		Addr uintptr
		Len  int
		Cap  int
	}{addr, int(length), int(length)}
	return *(*[]byte)(unsafe.Pointer(sh)), nil
}

// mmapAnon maps an anonymous region for UMEM backing storage, optionally
// with huge pages (unaligned-chunks mode). If huge pages are requested but
// unavailable, it falls back to a plain anonymous mapping rather than
// failing outright.
func mmapAnon(length uintptr, hugePages bool) (buf []byte, gotHugePages bool, err error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_POPULATE
	if hugePages {
		addr, _, errno := unix.Syscall6(unix.SYS_MMAP, 0, length,
			unix.PROT_READ|unix.PROT_WRITE, uintptr(flags|unix.MAP_HUGETLB), ^uintptr(0), 0)
		if errno == 0 {
			sh := &struct {
				Addr uintptr
				Len  int
				Cap  int
			}{addr, int(length), int(length)}
			return *(*[]byte)(unsafe.Pointer(sh)), true, nil
		}
	}
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP, 0, length,
		unix.PROT_READ|unix.PROT_WRITE, uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return nil, false, errno
	}
	sh := &struct {
		Addr uintptr
		Len  int
		Cap  int
	}{addr, int(length), int(length)}
	return *(*[]byte)(unsafe.Pointer(sh)), false, nil
}

/*---- Ring wrappers ----*/

// descQueue is a rx/tx ring: producer/consumer indices plus a slice of
// packet descriptors (address + length).
type descQueue struct {
	cachedProd uint32
	cachedCons uint32
	mask       uint32
	size       uint32
	prod       *uint32
	cons       *uint32
	flags      *uint32
	descs      []xdpDesc
}

// addrQueue is a fill/completion ring: producer/consumer indices plus a
// slice of raw UMEM addresses.
type addrQueue struct {
	cachedProd uint32
	cachedCons uint32
	mask       uint32
	size       uint32
	prod       *uint32
	cons       *uint32
	flags      *uint32
	addrs      []uint64
}

func makeDescQueue(region []byte, off xdpRingOffset, size uint32, isTx bool) (*descQueue, error) {
	if len(region) == 0 {
		return nil, ErrRegionEmpty
	}
	base := unsafe.Pointer(&region[0])
	cachedCons := uint32(0)
	if isTx {
		cachedCons = size
	}
	return &descQueue{
		mask:       size - 1,
		size:       size,
		prod:       (*uint32)(unsafe.Add(base, off.Producer)),
		cons:       (*uint32)(unsafe.Add(base, off.Consumer)),
		flags:      (*uint32)(unsafe.Add(base, off.Flags)),
		descs:      unsafe.Slice((*xdpDesc)(unsafe.Add(base, off.Desc)), size),
		cachedProd: 0,
		cachedCons: cachedCons,
	}, nil
}

func makeAddrQueue(region []byte, off xdpRingOffset, size uint32) (*addrQueue, error) {
	if len(region) == 0 {
		return nil, ErrRegionEmpty
	}
	base := unsafe.Pointer(&region[0])
	return &addrQueue{
		mask:  size - 1,
		size:  size,
		prod:  (*uint32)(unsafe.Add(base, off.Producer)),
		cons:  (*uint32)(unsafe.Add(base, off.Consumer)),
		flags: (*uint32)(unsafe.Add(base, off.Flags)),
		addrs: unsafe.Slice((*uint64)(unsafe.Add(base, off.Desc)), size),
	}, nil
}

func needsWakeup(flags *uint32) bool {
	return atomic.LoadUint32(flags)&xdpRingNeedWakeup != 0
}

/*---- UMEM ----*/

// UMEM is one contiguous anonymous mapping shared by every Socket opened
// against it. Region size is fixed at creation and never changes.
type UMEM struct {
	buffer     []byte
	frameSize  uint32
	numFrames  uint32
	hugePages  bool
	masterFD   int
	registered bool
}

// NewUMEM allocates a UMEM region of numFrames*frameSize bytes.
func NewUMEM(numFrames, frameSize uint32, hugePages bool) (*UMEM, error) {
	length := uintptr(numFrames) * uintptr(frameSize)
	buf, gotHuge, err := mmapAnon(length, hugePages)
	if err != nil {
		return nil, fmt.Errorf("mmap UMEM region: %w", err)
	}
	return &UMEM{buffer: buf, frameSize: frameSize, numFrames: numFrames, hugePages: gotHuge}, nil
}

// Buffer returns the raw UMEM backing storage. Frame contents are read and
// written directly through slices of this buffer.
func (u *UMEM) Buffer() []byte { return u.buffer }

// FrameSize returns the configured per-frame size.
func (u *UMEM) FrameSize() uint32 { return u.frameSize }

// HugePages reports whether the region ended up huge-page backed.
func (u *UMEM) HugePages() bool { return u.hugePages }

// Close unmaps the UMEM region. All sockets opened against it must already
// be closed.
func (u *UMEM) Close() error {
	if u.buffer == nil {
		return nil
	}
	err := unix.Munmap(u.buffer)
	u.buffer = nil
	return err
}

/*---- Socket ----*/

// SocketConfig controls one Socket's ring sizes and bind behaviour. Bind
// mode resolution (copy vs zero-copy, SKB-mode forcing) happens in the
// caller; SocketConfig just carries the already-resolved flags.
type SocketConfig struct {
	Ifindex   uint32
	QueueID   uint32
	RxSize    uint32
	TxSize    uint32
	FillSize  uint32
	CompSize  uint32
	BindFlags uint16 // XDP_COPY|XDP_ZEROCOPY, OR'd with XDP_USE_NEED_WAKEUP by the caller
	BusyPoll  bool
	BatchSize uint32
}

// Socket is an AF_XDP socket bound to one (interface, queue) pair, backed
// by a possibly-shared UMEM region.
//
// WARNING: a Socket is not safe for concurrent use; exactly one worker
// thread touches it after Open returns.
type Socket struct {
	fd        int
	umem      *UMEM
	bindFlags uint16
	batchSize uint32

	tx *descQueue
	rx *descQueue
	fq *addrQueue
	cq *addrQueue

	txRegion []byte
	rxRegion []byte
	fqRegion []byte
	cqRegion []byte

	outstandingTx uint32
}

// Open creates a socket bound against umem. The first Open call against a
// given UMEM registers that region with the kernel (XDP_UMEM_REG); every
// call, including the first, gets its own fill/completion ring pair and is
// bound with XDP_SHARED_UMEM once a prior socket has already registered
// the region.
func Open(umem *UMEM, conf SocketConfig) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_XDP, unix.SOCK_RAW, 0)
	if err != nil {
		return nil, fmt.Errorf("opening AF_XDP socket: %w", err)
	}

	opened := []func(){func() { unix.Close(fd) }}
	fail := func(format string, args ...any) (*Socket, error) {
		for i := len(opened) - 1; i >= 0; i-- {
			opened[i]()
		}
		return nil, fmt.Errorf(format, args...)
	}

	isMaster := !umem.registered
	if isMaster {
		reg := xdpUmemReg{
			Addr:      uint64(uintptr(unsafe.Pointer(&umem.buffer[0]))),
			Len:       uint64(len(umem.buffer)),
			ChunkSize: umem.frameSize,
			Headroom:  0,
		}
		if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_UMEM_REG, unsafe.Pointer(&reg), unsafe.Sizeof(reg)); err != nil {
			return fail("setsockopt XDP_UMEM_REG: %w", err)
		}
		umem.masterFD = fd
		umem.registered = true
		opened = append(opened, func() { umem.registered = false; umem.masterFD = 0 })
	}

	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_UMEM_FILL_RING, unsafe.Pointer(&conf.FillSize), unsafe.Sizeof(conf.FillSize)); err != nil {
		return fail("setsockopt XDP_UMEM_FILL_RING: %w", err)
	}
	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_UMEM_COMPLETION_RING, unsafe.Pointer(&conf.CompSize), unsafe.Sizeof(conf.CompSize)); err != nil {
		return fail("setsockopt XDP_UMEM_COMPLETION_RING: %w", err)
	}
	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_TX_RING, unsafe.Pointer(&conf.TxSize), unsafe.Sizeof(conf.TxSize)); err != nil {
		return fail("setsockopt XDP_TX_RING: %w", err)
	}
	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_RX_RING, unsafe.Pointer(&conf.RxSize), unsafe.Sizeof(conf.RxSize)); err != nil {
		return fail("setsockopt XDP_RX_RING: %w", err)
	}

	if conf.BusyPoll {
		if conf.BindFlags&unix.XDP_COPY != 0 {
			return fail("%w", ErrBusyPollOnCopy)
		}
		one := 1
		if err := setsockopt(fd, unix.SOL_SOCKET, soPreferBusyPoll, unsafe.Pointer(&one), unsafe.Sizeof(one)); err != nil {
			return fail("setsockopt SO_PREFER_BUSY_POLL: %w", err)
		}
		usec := 20
		if err := setsockopt(fd, unix.SOL_SOCKET, soBusyPoll, unsafe.Pointer(&usec), unsafe.Sizeof(usec)); err != nil {
			return fail("setsockopt SO_BUSY_POLL: %w", err)
		}
		budget := int(conf.BatchSize)
		if err := setsockopt(fd, unix.SOL_SOCKET, soBusyPollBudget, unsafe.Pointer(&budget), unsafe.Sizeof(budget)); err != nil {
			return fail("setsockopt SO_BUSY_POLL_BUDGET: %w", err)
		}
	}

	var offs xdpMmapOffsets
	if _, err := getsockopt(fd, unix.SOL_XDP, unix.XDP_MMAP_OFFSETS, unsafe.Pointer(&offs), unsafe.Sizeof(offs)); err != nil {
		return fail("getsockopt XDP_MMAP_OFFSETS: %w", err)
	}

	txRegion, err := mmapRegion(fd, uintptr(offs.Tx.Desc)+uintptr(conf.TxSize)*unsafe.Sizeof(xdpDesc{}), unix.XDP_PGOFF_TX_RING)
	if err != nil {
		return fail("mmap tx ring: %w", err)
	}
	opened = append(opened, func() { unix.Munmap(txRegion) })

	rxRegion, err := mmapRegion(fd, uintptr(offs.Rx.Desc)+uintptr(conf.RxSize)*unsafe.Sizeof(xdpDesc{}), unix.XDP_PGOFF_RX_RING)
	if err != nil {
		return fail("mmap rx ring: %w", err)
	}
	opened = append(opened, func() { unix.Munmap(rxRegion) })

	fqRegion, err := mmapRegion(fd, uintptr(offs.Fr.Desc)+uintptr(conf.FillSize)*unsafe.Sizeof(uint64(0)), unix.XDP_UMEM_PGOFF_FILL_RING)
	if err != nil {
		return fail("mmap fill ring: %w", err)
	}
	opened = append(opened, func() { unix.Munmap(fqRegion) })

	cqRegion, err := mmapRegion(fd, uintptr(offs.Cr.Desc)+uintptr(conf.CompSize)*unsafe.Sizeof(uint64(0)), unix.XDP_UMEM_PGOFF_COMPLETION_RING)
	if err != nil {
		return fail("mmap completion ring: %w", err)
	}
	opened = append(opened, func() { unix.Munmap(cqRegion) })

	tx, err := makeDescQueue(txRegion, offs.Tx, conf.TxSize, true)
	if err != nil {
		return fail("building tx queue: %w", err)
	}
	rx, err := makeDescQueue(rxRegion, offs.Rx, conf.RxSize, false)
	if err != nil {
		return fail("building rx queue: %w", err)
	}
	fq, err := makeAddrQueue(fqRegion, offs.Fr, conf.FillSize)
	if err != nil {
		return fail("building fill queue: %w", err)
	}
	cq, err := makeAddrQueue(cqRegion, offs.Cr, conf.CompSize)
	if err != nil {
		return fail("building completion queue: %w", err)
	}

	sa := &sockaddrXDP{
		Family:  unix.AF_XDP,
		Flags:   conf.BindFlags,
		Ifindex: conf.Ifindex,
		QueueID: conf.QueueID,
	}
	if !isMaster {
		sa.Flags |= unix.XDP_SHARED_UMEM
		sa.SharedUmemFD = uint32(umem.masterFD)
	}
	if err := rawBind(fd, sa); err != nil {
		return fail("binding socket: %w", err)
	}

	return &Socket{
		fd:        fd,
		umem:      umem,
		bindFlags: conf.BindFlags,
		batchSize: conf.BatchSize,
		tx:        tx,
		rx:        rx,
		fq:        fq,
		cq:        cq,
		txRegion:  txRegion,
		rxRegion:  rxRegion,
		fqRegion:  fqRegion,
		cqRegion:  cqRegion,
	}, nil
}

// FD returns the socket's file descriptor, needed to register it in an
// eBPF redirect map or to poll() on it.
func (s *Socket) FD() int { return s.fd }

// IsCopy reports whether this socket was bound in XDP_COPY mode.
func (s *Socket) IsCopy() bool { return s.bindFlags&unix.XDP_COPY != 0 }

// UMEM returns the UMEM region this socket is bound against.
func (s *Socket) UMEM() *UMEM { return s.umem }

// OutstandingTx is the number of descriptors submitted to tx that have not
// yet appeared on the completion ring.
func (s *Socket) OutstandingTx() uint32 { return s.outstandingTx }

func (s *Socket) AddOutstandingTx(n uint32)  { s.outstandingTx += n }
func (s *Socket) SubOutstandingTx(n uint32)  { s.outstandingTx -= n }

// Close releases the socket and unmaps its per-socket ring regions. It does
// not touch the UMEM region, which may still be backing sibling sockets.
func (s *Socket) Close() error {
	var errs []error
	if err := unix.Close(s.fd); err != nil {
		errs = append(errs, fmt.Errorf("closing fd: %w", err))
	}
	for _, r := range [][]byte{s.txRegion, s.rxRegion, s.fqRegion, s.cqRegion} {
		if r != nil {
			if err := unix.Munmap(r); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

/*---- Fill ring ----*/

// PrimeFill reserves exactly len(addrs) fill-ring slots, writes addrs into
// them and submits. Used once at setup to hand every frame of a socket's
// slot range to the driver.
func (s *Socket) PrimeFill(addrs []uint64) error {
	n := uint32(len(addrs))
	if n > s.fq.size {
		return fmt.Errorf("%w: priming %d addrs into a %d-slot fill ring", ErrPartialReserve, n, s.fq.size)
	}
	prod := s.fq.cachedProd
	for i, a := range addrs {
		s.fq.addrs[(prod+uint32(i))&s.fq.mask] = a
	}
	s.fq.cachedProd = prod + n
	atomic.StoreUint32(s.fq.prod, s.fq.cachedProd)
	return nil
}

// ReserveFill reserves n fill-ring slots, returning the starting index to
// pass to SetFillAddr. ok is false if fewer than n slots are free.
func (s *Socket) ReserveFill(n uint32) (idx uint32, ok bool) {
	free := s.fq.cachedCons + s.fq.size - s.fq.cachedProd
	if free < n {
		s.fq.cachedCons = atomic.LoadUint32(s.fq.cons)
		free = s.fq.cachedCons + s.fq.size - s.fq.cachedProd
		if free < n {
			return 0, false
		}
	}
	idx = s.fq.cachedProd
	s.fq.cachedProd += n
	return idx, true
}

// SetFillAddr writes addr at the given absolute fill-ring index.
func (s *Socket) SetFillAddr(idx uint32, addr uint64) {
	s.fq.addrs[idx&s.fq.mask] = addr
}

// SubmitFill publishes the last n entries reserved via ReserveFill.
func (s *Socket) SubmitFill(n uint32) {
	atomic.StoreUint32(s.fq.prod, s.fq.cachedProd)
}

// FillNeedsWakeup reports whether the driver has set NEED_WAKEUP on the
// fill ring, i.e. a kicking recvfrom is required to make progress.
func (s *Socket) FillNeedsWakeup() bool { return needsWakeup(s.fq.flags) }

/*---- Rx ring ----*/

// PeekRx returns up to max available rx descriptors without releasing
// them. n is the number actually available; idx is the absolute ring index
// of the first one.
func (s *Socket) PeekRx(max uint32) (n uint32, idx uint32) {
	avail := s.rx.cachedProd - s.rx.cachedCons
	if avail == 0 {
		s.rx.cachedProd = atomic.LoadUint32(s.rx.prod)
		avail = s.rx.cachedProd - s.rx.cachedCons
	}
	if avail > max {
		avail = max
	}
	return avail, s.rx.cachedCons
}

// RxDescAt reads the descriptor at absolute ring index idx.
func (s *Socket) RxDescAt(idx uint32) (addr uint64, length uint32) {
	d := &s.rx.descs[idx&s.rx.mask]
	return d.Addr, d.Len
}

// ReleaseRx releases the n descriptors returned by the most recent PeekRx.
func (s *Socket) ReleaseRx(n uint32) {
	s.rx.cachedCons += n
	atomic.StoreUint32(s.rx.cons, s.rx.cachedCons)
}

// KickRx issues a zero-length, non-blocking recvfrom to nudge the driver
// when the rx ring is empty and NEED_WAKEUP (or busy-poll) demands it.
func (s *Socket) KickRx() error {
	_, _, err := unix.Recvfrom(s.fd, nil, unix.MSG_DONTWAIT)
	if err == nil || isBenignKickError(err) {
		return nil
	}
	return err
}

/*---- Tx ring ----*/

// ReserveTx reserves n tx-ring slots. ok is false if fewer than n are free.
func (s *Socket) ReserveTx(n uint32) (idx uint32, ok bool) {
	free := s.tx.cachedCons - s.tx.cachedProd
	if free < n {
		s.tx.cachedCons = atomic.LoadUint32(s.tx.cons) + s.tx.size
		free = s.tx.cachedCons - s.tx.cachedProd
		if free < n {
			return 0, false
		}
	}
	idx = s.tx.cachedProd
	s.tx.cachedProd += n
	return idx, true
}

// SetTxDesc writes a tx descriptor at the given absolute ring index.
func (s *Socket) SetTxDesc(idx uint32, addr uint64, length uint32) {
	d := &s.tx.descs[idx&s.tx.mask]
	d.Addr = addr
	d.Len = length
	d.Opts = 0
}

// SubmitTx publishes the last n descriptors reserved via ReserveTx.
func (s *Socket) SubmitTx(n uint32) {
	atomic.StoreUint32(s.tx.prod, s.tx.cachedProd)
}

// TxNeedsWakeup reports whether the tx ring has NEED_WAKEUP set.
func (s *Socket) TxNeedsWakeup() bool { return needsWakeup(s.tx.flags) }

// KickTx issues a zero-length, non-blocking sendto to trigger tx
// processing. Expected transient errors (ENOBUFS, EAGAIN, EBUSY,
// ENETDOWN) are swallowed as benign backpressure.
func (s *Socket) KickTx() error {
	err := unix.Sendto(s.fd, nil, unix.MSG_DONTWAIT, nil)
	if err == nil || isBenignKickError(err) {
		return nil
	}
	return err
}

func isBenignKickError(err error) bool {
	errno, ok := err.(unix.Errno)
	if !ok {
		return false
	}
	switch errno {
	case unix.ENOBUFS, unix.EAGAIN, unix.EBUSY, unix.ENETDOWN:
		return true
	}
	return false
}

/*---- Completion ring ----*/

// PeekCompletion returns up to max available completion entries without
// releasing them.
func (s *Socket) PeekCompletion(max uint32) (n uint32, idx uint32) {
	entries := s.cq.cachedProd - s.cq.cachedCons
	if entries == 0 {
		s.cq.cachedProd = atomic.LoadUint32(s.cq.prod)
		entries = s.cq.cachedProd - s.cq.cachedCons
	}
	if entries > max {
		entries = max
	}
	return entries, s.cq.cachedCons
}

// CompAddrAt reads the completed address at absolute ring index idx.
func (s *Socket) CompAddrAt(idx uint32) uint64 {
	return s.cq.addrs[idx&s.cq.mask]
}

// ReleaseCompletion releases the n entries returned by the most recent
// PeekCompletion.
func (s *Socket) ReleaseCompletion(n uint32) {
	s.cq.cachedCons += n
	atomic.StoreUint32(s.cq.cons, s.cq.cachedCons)
}

/*---- Stats ----*/

// DriverStats fetches the kernel-maintained XDP_STATISTICS counters for
// this socket. Safe to call from any goroutine; it is a plain getsockopt.
func (s *Socket) DriverStats() (DriverStats, error) {
	var raw xdpStatistics
	n, err := getsockopt(s.fd, unix.SOL_XDP, unix.XDP_STATISTICS, unsafe.Pointer(&raw), unsafe.Sizeof(raw))
	if err != nil {
		return DriverStats{}, fmt.Errorf("getsockopt XDP_STATISTICS: %w", err)
	}
	if n != uint32(unsafe.Sizeof(raw)) {
		return DriverStats{}, fmt.Errorf("getsockopt XDP_STATISTICS: unexpected size %d", n)
	}
	return DriverStats{
		RxDropped:   raw.RxDropped,
		RxInvalid:   raw.RxInvalidDescs,
		TxInvalid:   raw.TxInvalidDescs,
		RxFull:      raw.RxRingFull,
		RxFillEmpty: raw.RxFillRingEmptyDescs,
		TxEmpty:     raw.TxRingEmptyDescs,
	}, nil
}
