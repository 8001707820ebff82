//go:build linux

package xsknf

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// xsksMapName is the name the eBPF object is expected to export for its
// AF_XDP redirect map, mirroring xsknf.c's enter_xsks_into_map.
const xsksMapName = "xsks_map"

// attachEBPF loads cfg.EBPFFilename from disk — it is external input, not
// a compiled-in asset, exactly as xsknf.c's load_ebpf_programs treats the
// object file passed on its command line — attaches cfg.XDPProgName to
// every configured interface, optionally attaches cfg.TCProgName as a
// direct-action clsact egress filter, and, in COMBINED mode, populates the
// XDP program's xsks redirect map with each worker's first-interface
// socket fd (the same single-interface-per-worker limitation xsknf.c's own
// map population carries).
func (fw *Framework) attachEBPF() error {
	spec, err := ebpf.LoadCollectionSpec(fw.cfg.EBPFFilename)
	if err != nil {
		return fmt.Errorf("loading eBPF object %q: %w", fw.cfg.EBPFFilename, err)
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("loading eBPF collection: %w", err)
	}
	fw.ebpfObj = coll

	prog, ok := coll.Programs[fw.cfg.XDPProgName]
	if !ok {
		return fmt.Errorf("eBPF object %q has no program named %q", fw.cfg.EBPFFilename, fw.cfg.XDPProgName)
	}

	xdpFlags := link.XDPDriverMode
	if fw.cfg.SKBMode {
		xdpFlags = link.XDPGenericMode
	}
	for _, ifindex := range fw.ifindexes {
		l, err := link.AttachXDP(link.XDPOptions{
			Program:   prog,
			Interface: ifindex,
			Flags:     xdpFlags,
		})
		if err != nil {
			return fmt.Errorf("attaching XDP program to ifindex %d: %w", ifindex, err)
		}
		fw.xdpLinks = append(fw.xdpLinks, l)
	}

	if fw.cfg.TCProgName != "" {
		tcProg, ok := coll.Programs[fw.cfg.TCProgName]
		if !ok {
			return fmt.Errorf("eBPF object %q has no program named %q", fw.cfg.EBPFFilename, fw.cfg.TCProgName)
		}
		if err := fw.attachTC(tcProg); err != nil {
			return fmt.Errorf("attaching TC program: %w", err)
		}
		fw.tcAttached = true
	}

	if fw.cfg.WorkingMode == ModeCombined {
		xsksMap, ok := coll.Maps[xsksMapName]
		if !ok {
			return fmt.Errorf("eBPF object %q has no map named %q", fw.cfg.EBPFFilename, xsksMapName)
		}
		for k, w := range fw.workers {
			key := uint32(k)
			fd := uint32(w.sockets[0].sock.FD())
			if err := xsksMap.Put(key, fd); err != nil {
				return fmt.Errorf("populating xsks map for worker %d: %w", k, err)
			}
		}
	}

	return nil
}

// attachTC installs a clsact qdisc (or reuses an existing one) on every
// configured interface and adds prog as a direct-action bpf filter on its
// egress side, mirroring xsknf.c's load_tc_programs.
func (fw *Framework) attachTC(prog *ebpf.Program) error {
	for _, ifindex := range fw.ifindexes {
		qdisc := &netlink.GenericQdisc{
			QdiscAttrs: netlink.QdiscAttrs{
				LinkIndex: ifindex,
				Handle:    netlink.MakeHandle(0xffff, 0),
				Parent:    netlink.HANDLE_CLSACT,
			},
			QdiscType: "clsact",
		}
		if err := netlink.QdiscAdd(qdisc); err != nil && !isExistsErr(err) {
			return fmt.Errorf("adding clsact qdisc on ifindex %d: %w", ifindex, err)
		}

		filter := &netlink.BpfFilter{
			FilterAttrs: netlink.FilterAttrs{
				LinkIndex: ifindex,
				Parent:    netlink.HANDLE_MIN_EGRESS,
				Handle:    1,
				Protocol:  unix.ETH_P_ALL,
				Priority:  1,
			},
			Fd:           prog.FD(),
			Name:         fw.cfg.TCProgName,
			DirectAction: true,
		}
		if err := netlink.FilterAdd(filter); err != nil {
			return fmt.Errorf("adding tc egress filter on ifindex %d: %w", ifindex, err)
		}
	}
	return nil
}

// detachEBPF closes every XDP link, removes the clsact qdiscs attachTC
// installed, and closes the eBPF collection. Safe to call when attachEBPF
// was never called or only partially succeeded.
func (fw *Framework) detachEBPF() error {
	var errs []error
	for _, l := range fw.xdpLinks {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	fw.xdpLinks = nil

	if fw.tcAttached {
		for _, ifindex := range fw.ifindexes {
			qdisc := &netlink.GenericQdisc{
				QdiscAttrs: netlink.QdiscAttrs{
					LinkIndex: ifindex,
					Handle:    netlink.MakeHandle(0xffff, 0),
					Parent:    netlink.HANDLE_CLSACT,
				},
				QdiscType: "clsact",
			}
			if err := netlink.QdiscDel(qdisc); err != nil {
				errs = append(errs, err)
			}
		}
		fw.tcAttached = false
	}

	if fw.ebpfObj != nil {
		fw.ebpfObj.Close()
		fw.ebpfObj = nil
	}

	return errors.Join(errs...)
}

func isExistsErr(err error) bool {
	return errors.Is(err, unix.EEXIST)
}
