//go:build linux

package xsknf

import "fmt"

// SocketStats merges the kernel-reported counters for one (worker,
// interface) socket with the framework's own rx/tx/wakeup bookkeeping.
type SocketStats struct {
	RxNpkts          uint64
	TxNpkts          uint64
	RxEmptyPolls     uint64
	TxWakeupSendtos  uint64
	TxTriggerSendtos uint64
	OptPolls         uint64

	RxDropped   uint64
	RxInvalid   uint64
	TxInvalid   uint64
	RxFull      uint64
	RxFillEmpty uint64
	TxEmpty     uint64
}

// GetSocketStats fetches the live statistics for the socket serving
// ifaceIdx on workerIdx. It is safe to call concurrently with the
// framework's own run-loops; the framework-maintained counters are read
// without synchronization by design (see socketCounters), so a reader may
// observe a slightly stale snapshot but never garbage — each counter field
// is a single aligned uint64 written by exactly one goroutine.
func (fw *Framework) GetSocketStats(workerIdx, ifaceIdx int) (SocketStats, error) {
	if workerIdx < 0 || workerIdx >= len(fw.workers) {
		return SocketStats{}, fmt.Errorf("xsknf: worker index %d out of range", workerIdx)
	}
	w := fw.workers[workerIdx]
	if ifaceIdx < 0 || ifaceIdx >= len(w.sockets) {
		return SocketStats{}, fmt.Errorf("xsknf: interface index %d out of range", ifaceIdx)
	}
	ws := w.sockets[ifaceIdx]

	driver, err := ws.sock.DriverStats()
	if err != nil {
		return SocketStats{}, fmt.Errorf("xsknf: fetching driver stats: %w", err)
	}

	return SocketStats{
		RxNpkts:          ws.counters.rxNpkts,
		TxNpkts:          ws.counters.txNpkts,
		RxEmptyPolls:     ws.counters.rxEmptyPolls,
		TxWakeupSendtos:  ws.counters.txWakeupSendtos,
		TxTriggerSendtos: ws.counters.txTriggerSendtos,
		OptPolls:         ws.counters.optPolls,
		RxDropped:        driver.RxDropped,
		RxInvalid:        driver.RxInvalid,
		TxInvalid:        driver.TxInvalid,
		RxFull:           driver.RxFull,
		RxFillEmpty:      driver.RxFillEmpty,
		TxEmpty:          driver.TxEmpty,
	}, nil
}

// NumWorkers reports how many workers this Framework was configured with.
func (fw *Framework) NumWorkers() int { return len(fw.workers) }

// NumInterfaces reports how many interfaces each worker serves.
func (fw *Framework) NumInterfaces() int {
	if len(fw.workers) == 0 {
		return 0
	}
	return len(fw.workers[0].sockets)
}

// InterfaceName returns the configured name of interface ifaceIdx.
func (fw *Framework) InterfaceName(ifaceIdx int) string {
	return fw.cfg.Interfaces[ifaceIdx].Name
}
