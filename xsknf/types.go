//go:build linux

package xsknf

import (
	"sync"
	"sync/atomic"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/xsknf-go/xsknf/afxdp"
)

// PacketProcessor is the host-supplied classifier. It returns -1 to drop a
// packet or an interface index in [0, numInterfaces) to forward it there.
// It must not retain pkt past the call and must be safe to call
// concurrently from every worker.
type PacketProcessor func(pkt []byte, ingressIfindex int) int

// socketCounters are the framework-maintained per-socket counters that
// live alongside the kernel-reported ones in SocketStats. They are touched
// only by the owning worker and read by GetSocketStats without
// synchronization, matching the design note that per-socket statistics are
// "aggregated only by the reader" — the same unsynchronized-read contract
// xsknf.c itself relies on.
type socketCounters struct {
	rxNpkts          uint64
	txNpkts          uint64
	rxEmptyPolls     uint64
	txTriggerSendtos uint64
	txWakeupSendtos  uint64
	optPolls         uint64
}

// workerSocket bundles one socket with the interface it serves and its
// framework counters.
type workerSocket struct {
	sock     *afxdp.Socket
	ifindex  int
	ifname   string
	counters socketCounters
}

// maxNumInterfaces bounds the per-worker owner-bucketing scratch arrays in
// the run-loop. It is a generous ceiling, not a hard protocol limit; a
// Framework configured with more interfaces than this on a single worker
// fails fast at Init time.
const maxNumInterfaces = 16

// worker owns one socket per configured interface, the UMEM region(s)
// backing them, and runs entirely on its own pinned OS thread once
// started. No field here is touched by any other worker or by the control
// goroutine while the worker is running.
type worker struct {
	id       int
	sockets  []*workerSocket
	umem     *afxdp.UMEM // zero-copy region, lazily created, may be nil
	copyUmem *afxdp.UMEM // copy-mode region, lazily created, may be nil
}

// Framework is the running instance created by Init. All exported methods
// are safe to call from the goroutine that created it; only the stop flag
// is touched from elsewhere (by StopWorkers, observed by the worker
// goroutines).
type Framework struct {
	cfg        *Config
	processor  PacketProcessor
	ifindexes  []int
	ownerShift uint
	frameShift uint

	workers []*worker
	stop    atomic.Bool
	wg      sync.WaitGroup
	started bool

	ebpfObj    *ebpf.Collection
	xdpLinks   []link.Link
	tcAttached bool

	cleanupOnce sync.Once
	cleanupErr  error
}
