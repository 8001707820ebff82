//go:build linux

package xsknf

import (
	"errors"
	"fmt"
	"net"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/xsknf-go/xsknf/afxdp"
	"github.com/xsknf-go/xsknf/frameaddr"
)

// Default ring sizes, lifted from libxdp's XSK_RING_*__DEFAULT_NUM_DESCS.
const (
	defaultRingDescs = 2048
	defaultFillSize  = defaultRingDescs * 2
	defaultCompSize  = defaultRingDescs
)

// Init resolves cfg's interfaces, allocates UMEMs and sockets for every
// (worker, interface) pair, primes their fill rings, and — when
// cfg.WorkingMode includes ModeXDP — loads and attaches the eBPF program
// named by cfg.EBPFFilename/cfg.XDPProgName to every interface (plus the TC
// egress program named by cfg.TCProgName, if set).
//
// The returned Framework has no packet processor yet; call
// SetPacketProcessor before StartWorkers.
//
// One worker binds exactly one hardware queue (worker k binds queue k) on
// every configured interface, mirroring xsknf's queue-per-worker model;
// the caller is responsible for making sure the NIC actually exposes at
// least cfg.Workers rx queues.
func Init(cfg *Config) (*Framework, error) {
	if len(cfg.Interfaces) > maxNumInterfaces {
		return nil, fmt.Errorf("xsknf: %d interfaces exceeds the %d supported per worker", len(cfg.Interfaces), maxNumInterfaces)
	}

	fw := &Framework{
		cfg:        cfg,
		ownerShift: frameaddr.OwnerShift(cfg.FrameSize),
		frameShift: frameaddr.FrameShift(cfg.FrameSize),
	}

	fail := func(format string, args ...any) (*Framework, error) {
		fw.Cleanup()
		return nil, fmt.Errorf(format, args...)
	}

	fw.ifindexes = make([]int, len(cfg.Interfaces))
	for i, ic := range cfg.Interfaces {
		iface, err := net.InterfaceByName(ic.Name)
		if err != nil {
			return fail("resolving interface %q: %w", ic.Name, err)
		}
		fw.ifindexes[i] = iface.Index
	}

	fw.workers = make([]*worker, cfg.Workers)
	for k := 0; k < cfg.Workers; k++ {
		w, err := fw.makeWorker(k)
		if err != nil {
			return fail("setting up worker %d: %w", k, err)
		}
		fw.workers[k] = w
	}

	if cfg.WorkingMode&ModeXDP != 0 {
		if err := fw.attachEBPF(); err != nil {
			return fail("attaching eBPF programs: %w", err)
		}
	}

	return fw, nil
}

// makeWorker opens one socket per configured interface for worker k,
// creating the worker's copy-mode and/or zero-copy UMEM region on first
// use. Every interface reserves a full frameaddr.FramesPerSocket frame
// range in whichever UMEM backs its bind mode, indexed by its position in
// cfg.Interfaces — so a socket's owning interface can always be recovered
// from a completion address with frameaddr.DecodeOwner regardless of which
// of the two UMEM regions it actually lives in.
func (fw *Framework) makeWorker(k int) (*worker, error) {
	w := &worker{id: k, sockets: make([]*workerSocket, len(fw.cfg.Interfaces))}

	var opened []func()
	fail := func(format string, args ...any) (*worker, error) {
		for i := len(opened) - 1; i >= 0; i-- {
			opened[i]()
		}
		return nil, fmt.Errorf(format, args...)
	}

	numFrames := uint32(len(fw.cfg.Interfaces)) * frameaddr.FramesPerSocket

	for i, ic := range fw.cfg.Interfaces {
		mode := resolveBindMode(fw.cfg.SKBMode, ic.BindMode)
		bindFlags := uint16(unix.XDP_USE_NEED_WAKEUP)

		var umem **afxdp.UMEM
		if mode == BindCopy {
			bindFlags |= unix.XDP_COPY
			umem = &w.copyUmem
		} else {
			bindFlags |= unix.XDP_ZEROCOPY
			umem = &w.umem
		}

		if *umem == nil {
			u, err := afxdp.NewUMEM(numFrames, fw.cfg.FrameSize, fw.cfg.UnalignedChunks)
			if err != nil {
				return fail("allocating UMEM for worker %d: %w", k, err)
			}
			*umem = u
			opened = append(opened, func() { u.Close() })
		}

		sock, err := afxdp.Open(*umem, afxdp.SocketConfig{
			Ifindex:   uint32(fw.ifindexes[i]),
			QueueID:   uint32(k),
			RxSize:    defaultRingDescs,
			TxSize:    defaultRingDescs,
			FillSize:  defaultFillSize,
			CompSize:  defaultCompSize,
			BindFlags: bindFlags,
			BusyPoll:  fw.cfg.BusyPoll,
			BatchSize: fw.cfg.BatchSize,
		})
		if err != nil {
			return fail("opening socket for %s queue %d: %w", ic.Name, k, err)
		}
		opened = append(opened, func() { sock.Close() })

		base := frameaddr.FrameBase(uint32(i), 0, fw.ownerShift, fw.frameShift)
		frameSize := uint64(fw.cfg.FrameSize)
		addrs := make([]uint64, frameaddr.FramesPerSocket)
		for j := range addrs {
			addrs[j] = base + uint64(j)*frameSize
		}
		if err := sock.PrimeFill(addrs); err != nil {
			return fail("priming fill ring for %s: %w", ic.Name, err)
		}

		w.sockets[i] = &workerSocket{sock: sock, ifindex: fw.ifindexes[i], ifname: ic.Name}
	}

	return w, nil
}

// SetPacketProcessor registers the classifier the run-loop calls for
// every received packet. It must be called before StartWorkers and must
// not be called again once workers are running.
func (fw *Framework) SetPacketProcessor(p PacketProcessor) {
	fw.processor = p
}

// StartWorkers pins and launches one goroutine per configured worker.
// Worker k is pinned to the k-th CPU present in the calling process's
// affinity mask, mirroring xsknf_start_workers's use of
// pthread_getaffinity_np/pthread_setaffinity_np.
func (fw *Framework) StartWorkers() error {
	if fw.started {
		return fmt.Errorf("xsknf: StartWorkers called twice")
	}
	if fw.processor == nil {
		return fmt.Errorf("xsknf: SetPacketProcessor must be called before StartWorkers")
	}

	var procMask unix.CPUSet
	if err := unix.SchedGetaffinity(0, &procMask); err != nil {
		return fmt.Errorf("xsknf: reading process CPU affinity: %w", err)
	}
	cpus := make([]int, 0, len(fw.workers))
	for cpu := 0; cpu < maxScanCPUs && len(cpus) < len(fw.workers); cpu++ {
		if procMask.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	if len(cpus) < len(fw.workers) {
		return fmt.Errorf("xsknf: process affinity mask has %d usable CPUs, need %d", len(cpus), len(fw.workers))
	}

	fw.started = true
	for k, w := range fw.workers {
		w := w
		cpu := cpus[k]
		fw.wg.Add(1)
		go func() {
			defer fw.wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			var set unix.CPUSet
			set.Zero()
			set.Set(cpu)
			if err := unix.SchedSetaffinity(0, &set); err != nil {
				fw.fatalf("worker %d: pinning to cpu %d: %v", w.id, cpu, err)
				return
			}
			fw.runWorker(w)
		}()
	}
	return nil
}

// maxScanCPUs bounds the CPU-id scan in StartWorkers; Linux's CPU_SETSIZE
// is 1024 for the glibc cpu_set_t this mirrors.
const maxScanCPUs = 1024

// StopWorkers signals every worker goroutine to exit its run-loop and
// blocks until all of them have returned.
func (fw *Framework) StopWorkers() {
	fw.stop.Store(true)
	fw.wg.Wait()
}

// Cleanup tears down every resource Init/StartWorkers acquired, in reverse
// order. It is idempotent and safe to call after a partially failed Init.
func (fw *Framework) Cleanup() error {
	fw.cleanupOnce.Do(func() {
		if fw.started {
			fw.StopWorkers()
		}

		var errs []error
		if err := fw.detachEBPF(); err != nil {
			errs = append(errs, err)
		}

		for _, w := range fw.workers {
			if w == nil {
				continue
			}
			for _, ws := range w.sockets {
				if ws.sock != nil {
					if err := ws.sock.Close(); err != nil {
						errs = append(errs, err)
					}
				}
			}
			if w.umem != nil {
				if err := w.umem.Close(); err != nil {
					errs = append(errs, err)
				}
			}
			if w.copyUmem != nil {
				if err := w.copyUmem.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}

		fw.cleanupErr = errors.Join(errs...)
	})
	return fw.cleanupErr
}
