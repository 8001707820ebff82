//go:build linux

package xsknf

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/xsknf-go/xsknf/frameaddr"
)

// maxFillCompBatch bounds a single complete/fill pass. The kernel limit on
// a reservation is the ring size; 511 mirrors xsknf.c's MAX_BATCH_SIZE.
const maxFillCompBatch = 511

// runWorker is the entry point for a worker's pinned goroutine. It never
// returns until fw.stop is observed, at which point it drains nothing
// further and returns so Cleanup can tear down the sockets.
func (fw *Framework) runWorker(w *worker) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pollFDs := make([]unix.PollFd, len(w.sockets))
	for i, ws := range w.sockets {
		pollFDs[i].Fd = int32(ws.sock.FD())
		pollFDs[i].Events = unix.POLLIN
	}

	single := len(w.sockets) == 1

	for !fw.stop.Load() {
		if fw.cfg.Poll {
			if _, err := unix.Poll(pollFDs, 1000); err != nil && err != unix.EINTR {
				fw.fatalf("worker %d: poll: %v", w.id, err)
				return
			}
			for _, ws := range w.sockets {
				ws.counters.optPolls++
			}
		}
		if single {
			fw.processBatch1if(w, w.sockets[0])
		} else {
			fw.processBatchN(w)
		}
	}
}

// completeTx drains ws's completion ring, decoding each returned address's
// owner interface and refilling that owner's fill ring so the frame goes
// back to whichever socket originally received it. forceKick is the
// trigger condition computed by the caller (copy-mode, or non-poll/
// non-busy-poll with NEED_WAKEUP set) under which a kick is issued before
// draining, regardless of whether NEED_WAKEUP is still set by the time
// we get here.
func (fw *Framework) completeTx(w *worker, ws *workerSocket, forceKick bool) {
	if ws.sock.OutstandingTx() == 0 {
		return
	}
	if forceKick {
		if err := ws.sock.KickTx(); err != nil {
			fw.fatalf("worker %d: kick tx on %s: %v", w.id, ws.ifname, err)
			return
		}
		ws.counters.txTriggerSendtos++
	}
	fw.drainCompletion(w, ws)
}

// drainCompletion peeks ws's completion ring, decoding each returned
// address's owner interface and refilling that owner's fill ring so the
// frame goes back to whichever socket originally received it. Split out of
// completeTx so the forward/forwardOne retry loops can drive the
// completion ring without going through completeTx's trigger-kick
// accounting.
func (fw *Framework) drainCompletion(w *worker, ws *workerSocket) {
	n, idx := ws.sock.PeekCompletion(maxFillCompBatch)
	if n == 0 {
		return
	}

	var toFill [maxNumInterfaces][maxFillCompBatch]uint64
	var nfill [maxNumInterfaces]uint32

	for i := uint32(0); i < n; i++ {
		addr := ws.sock.CompAddrAt(idx + i)
		owner := frameaddr.DecodeOwner(addr, fw.ownerShift)
		toFill[owner][nfill[owner]] = addr
		nfill[owner]++
	}
	ws.sock.ReleaseCompletion(n)
	ws.sock.SubOutstandingTx(n)

	for owner, cnt := range nfill {
		if cnt == 0 {
			continue
		}
		fw.refill(w, uint32(owner), toFill[owner][:cnt])
	}
}

// kickAndDrainTx kicks ws's tx ring and drains whatever completions that
// produces, the retry-loop half of forward/forwardOne's reserve-on-a-full-
// ring path. Counted separately from completeTx's trigger kick as
// tx_wakeup_sendtos.
func (fw *Framework) kickAndDrainTx(w *worker, ws *workerSocket) {
	if ws.sock.OutstandingTx() > 0 {
		if err := ws.sock.KickTx(); err != nil {
			fw.fatalf("worker %d: kick tx on %s: %v", w.id, ws.ifname, err)
			return
		}
		ws.counters.txWakeupSendtos++
	}
	fw.drainCompletion(w, ws)
}

// refill hands addrs back to the fill ring of the socket owning interface
// ownerIdx on worker w, blocking (spinning) until the ring has room. This
// mirrors xsknf.c's retry loop around xsk_ring_prod__reserve in complete_tx:
// the fill ring holds defaultFillSize (4096) entries, as many as the rx and
// tx rings together and as many as the frames one interface owns in a
// worker's UMEM, so this should never spin long in practice.
func (fw *Framework) refill(w *worker, ownerIdx uint32, addrs []uint64) {
	dst := w.sockets[ownerIdx]
	n := uint32(len(addrs))
	for {
		idx, ok := dst.sock.ReserveFill(n)
		if ok {
			for i, a := range addrs {
				dst.sock.SetFillAddr(idx+uint32(i), a)
			}
			dst.sock.SubmitFill(n)
			return
		}
		if dst.sock.FillNeedsWakeup() {
			if err := dst.sock.KickRx(); err != nil {
				fw.fatalf("worker %d: kick rx refilling %s: %v", w.id, dst.ifname, err)
				return
			}
		}
		if fw.stop.Load() {
			return
		}
	}
}

// processBatch1if is the single-interface fast path: complete_tx_1if +
// process_batch_1if from xsknf.c, specialised because there is only one
// possible forward target (the same interface) or drop.
func (fw *Framework) processBatch1if(w *worker, ws *workerSocket) {
	forceKick := ws.sock.IsCopy() || (!fw.cfg.Poll && !fw.cfg.BusyPoll && ws.sock.TxNeedsWakeup())
	fw.completeTx(w, ws, forceKick)

	n, idx := ws.sock.PeekRx(fw.cfg.BatchSize)
	if n == 0 {
		ws.counters.rxEmptyPolls++
		if !ws.sock.IsCopy() && (fw.cfg.BusyPoll || ws.sock.FillNeedsWakeup()) {
			if err := ws.sock.KickRx(); err != nil {
				fw.fatalf("worker %d: kick rx on %s: %v", w.id, ws.ifname, err)
			}
		}
		return
	}

	var toDrop [maxFillCompBatch]uint64
	ndrop := 0
	var toTx [maxFillCompBatch]struct{ addr uint64; length uint32 }
	ntx := 0

	for i := uint32(0); i < n; i++ {
		addr, length := ws.sock.RxDescAt(idx + i)
		pkt := fw.frameBytes(w, addr, length)
		target := fw.processor(pkt, ws.ifindex)
		if target < 0 {
			toDrop[ndrop] = addr
			ndrop++
			continue
		}
		toTx[ntx].addr = addr
		toTx[ntx].length = length
		ntx++
	}
	ws.sock.ReleaseRx(n)
	ws.counters.rxNpkts += uint64(n)

	if ndrop > 0 {
		fw.refill(w, uint32(interfaceIndex(ws, w)), toDrop[:ndrop])
	}
	if ntx > 0 {
		fw.forward(w, ws, toTx[:ntx])
	}
}

// processBatchN is the general multi-interface path: complete_tx +
// process_batch for every owned interface in turn.
func (fw *Framework) processBatchN(w *worker) {
	for _, ws := range w.sockets {
		forceKick := ws.sock.IsCopy() || (!fw.cfg.Poll && !fw.cfg.BusyPoll && ws.sock.TxNeedsWakeup())
		fw.completeTx(w, ws, forceKick)
	}

	for srcIdx, ws := range w.sockets {
		n, idx := ws.sock.PeekRx(fw.cfg.BatchSize)
		if n == 0 {
			ws.counters.rxEmptyPolls++
			if !ws.sock.IsCopy() && (fw.cfg.BusyPoll || ws.sock.FillNeedsWakeup()) {
				if err := ws.sock.KickRx(); err != nil {
					fw.fatalf("worker %d: kick rx on %s: %v", w.id, ws.ifname, err)
				}
			}
			continue
		}

		var toDrop [maxFillCompBatch]uint64
		ndrop := 0
		toTx := make([]int, 0, n)
		addrs := make([]uint64, 0, n)
		lens := make([]uint32, 0, n)

		for i := uint32(0); i < n; i++ {
			addr, length := ws.sock.RxDescAt(idx + i)
			pkt := fw.frameBytes(w, addr, length)
			target := fw.processor(pkt, ws.ifindex)
			if target < 0 || target >= len(w.sockets) {
				toDrop[ndrop] = addr
				ndrop++
				continue
			}
			toTx = append(toTx, target)
			addrs = append(addrs, addr)
			lens = append(lens, length)
		}
		ws.sock.ReleaseRx(n)
		ws.counters.rxNpkts += uint64(n)

		if ndrop > 0 {
			fw.refill(w, uint32(srcIdx), toDrop[:ndrop])
		}
		for i, target := range toTx {
			fw.forwardOne(w, srcIdx, target, addrs[i], lens[i])
		}
	}
}

// forward transmits a batch of (addr,length) pairs already sitting in the
// rx ring onto the socket that received them (single-interface path: the
// only possible target is the same interface). The reserve/retry loop
// mirrors xsknf.c's forward logic: reserve, and on partial reservation,
// drive complete_tx to free space and retry.
func (fw *Framework) forward(w *worker, ws *workerSocket, descs []struct{ addr uint64; length uint32 }) {
	n := uint32(len(descs))
	idx, ok := ws.sock.ReserveTx(n)
	for !ok {
		fw.kickAndDrainTx(w, ws)
		if fw.stop.Load() {
			return
		}
		idx, ok = ws.sock.ReserveTx(n)
	}
	for i, d := range descs {
		ws.sock.SetTxDesc(idx+uint32(i), d.addr, d.length)
	}
	ws.sock.SubmitTx(n)
	ws.sock.AddOutstandingTx(n)
	ws.counters.txNpkts += uint64(n)
}

// forwardOne transmits a single packet from the socket that received it
// (srcIdx) onto the target interface's socket. If the two sockets share a
// UMEM region the frame is forwarded by address alone (zero-copy); if they
// don't (one socket bound in copy mode, the other zero-copy), the
// payload is copied into the target UMEM's buffer at the same numeric
// address it arrived on — every interface's full frame range is allocated
// in both UMEM regions of a worker precisely so this same-address copy is
// always valid — and that unchanged address is what gets enqueued, so the
// frame's owner (decoded from the address by completeTx on the far side)
// stays the ingress interface, not the target.
func (fw *Framework) forwardOne(w *worker, srcIdx, targetIdx int, addr uint64, length uint32) {
	src := w.sockets[srcIdx]
	dst := w.sockets[targetIdx]

	if src.sock.UMEM() != dst.sock.UMEM() {
		pkt := fw.frameBytes(w, addr, length)
		dstBuf := dst.sock.UMEM().Buffer()
		copy(dstBuf[addr:], pkt)
	}

	idx, ok := dst.sock.ReserveTx(1)
	for !ok {
		fw.kickAndDrainTx(w, dst)
		if fw.stop.Load() {
			return
		}
		idx, ok = dst.sock.ReserveTx(1)
	}
	dst.sock.SetTxDesc(idx, addr, length)
	dst.sock.SubmitTx(1)
	dst.sock.AddOutstandingTx(1)
	dst.counters.txNpkts++
}

// frameBytes slices the UMEM buffer backing addr's owner interface down to
// exactly the received packet, using addr's own low bits as the in-frame
// offset (relevant only in unaligned-chunks mode; aligned mode always has a
// zero offset here).
func (fw *Framework) frameBytes(w *worker, addr uint64, length uint32) []byte {
	owner := frameaddr.DecodeOwner(addr, fw.ownerShift)
	base := frameaddr.StripOffset(addr, fw.frameShift)
	offset := addr - base
	buf := w.sockets[owner].sock.UMEM().Buffer()
	start := int(base) + int(offset)
	return buf[start : start+int(length)]
}

func interfaceIndex(ws *workerSocket, w *worker) int {
	for i, s := range w.sockets {
		if s == ws {
			return i
		}
	}
	return 0
}
