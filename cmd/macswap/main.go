//go:build linux

// Command macswap is xsknf's canonical smoke-test example: it swaps the
// source and destination MAC address of every received packet and
// reflects it back out its ingress interface.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/xsknf-go/xsknf/xsknf"
)

func fatalIf(err error, msgf string, a ...any) {
	if err != nil {
		fmt.Fprintf(os.Stderr, msgf+": %v\n", append(a, err)...)
		os.Exit(1)
	}
}

func main() {
	cfg, err := xsknf.ParseArgs(os.Args)
	fatalIf(err, "parsing arguments")

	fw, err := xsknf.Init(cfg)
	fatalIf(err, "initializing framework")

	ifindexOf := make([]int, fw.NumInterfaces())
	for i := range ifindexOf {
		iface, err := net.InterfaceByName(fw.InterfaceName(i))
		fatalIf(err, "resolving interface %q", fw.InterfaceName(i))
		ifindexOf[i] = iface.Index
	}

	fw.SetPacketProcessor(func(pkt []byte, ingressIfindex int) int {
		if len(pkt) < 12 {
			return -1
		}
		var tmp [6]byte
		copy(tmp[:], pkt[0:6])
		copy(pkt[0:6], pkt[6:12])
		copy(pkt[6:12], tmp[:])
		for i, idx := range ifindexOf {
			if idx == ingressIfindex {
				return i
			}
		}
		return -1
	})

	fatalIf(fw.StartWorkers(), "starting workers")
	fmt.Fprintln(os.Stderr, "macswap running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fw.StopWorkers()
	fatalIf(fw.Cleanup(), "cleaning up")
}
