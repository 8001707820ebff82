//go:build linux

// Command loadbalancer is an N-interface forwarder: every packet arriving
// on interface 0 is forwarded to one of interfaces [1, N) chosen either by
// round-robin or by a hash of its 5-tuple, selectable with -balance.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/xsknf-go/xsknf/xsknf"
)

func fatalIf(err error, msgf string, a ...any) {
	if err != nil {
		fmt.Fprintf(os.Stderr, msgf+": %v\n", append(a, err)...)
		os.Exit(1)
	}
}

// fnv1aTuple hashes a packet's 5-tuple (or, failing decode, its raw
// bytes) with FNV-1a, grounded on the same hash the teacher's benchmark
// tooling avoids needing because it never load-balances; this is new for
// the load-balancer example.
func fnv1aTuple(pkt []byte) uint32 {
	packet := gopacket.NewPacket(pkt, layers.LayerTypeEthernet, gopacket.NoCopy)
	var h uint32 = 2166136261
	mix := func(b byte) {
		h ^= uint32(b)
		h *= 16777619
	}
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip4 := ipLayer.(*layers.IPv4)
		for _, b := range ip4.SrcIP {
			mix(b)
		}
		for _, b := range ip4.DstIP {
			mix(b)
		}
		mix(byte(ip4.Protocol))
		if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
			tcp := tcpLayer.(*layers.TCP)
			mix(byte(tcp.SrcPort >> 8))
			mix(byte(tcp.SrcPort))
			mix(byte(tcp.DstPort >> 8))
			mix(byte(tcp.DstPort))
		} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
			udp := udpLayer.(*layers.UDP)
			mix(byte(udp.SrcPort >> 8))
			mix(byte(udp.SrcPort))
			mix(byte(udp.DstPort >> 8))
			mix(byte(udp.DstPort))
		}
		return h
	}
	for _, b := range pkt {
		mix(b)
	}
	return h
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	balance := fs.String("balance", "roundrobin", "egress selection: roundrobin|hash")

	var ownArgs, rest []string
	rest = append(rest, os.Args[0])
	for i := 1; i < len(os.Args); i++ {
		a := os.Args[i]
		if a == "-balance" || a == "--balance" {
			ownArgs = append(ownArgs, a)
			if i+1 < len(os.Args) {
				i++
				ownArgs = append(ownArgs, os.Args[i])
			}
			continue
		}
		rest = append(rest, a)
	}
	fatalIf(fs.Parse(ownArgs), "parsing -balance")

	cfg, err := xsknf.ParseArgs(rest)
	fatalIf(err, "parsing arguments")
	if len(cfg.Interfaces) < 2 {
		fatalIf(fmt.Errorf("need at least 2 interfaces: ingress + >=1 egress"), "validating configuration")
	}

	fw, err := xsknf.Init(cfg)
	fatalIf(err, "initializing framework")

	ifindexOf := make([]int, fw.NumInterfaces())
	for i := range ifindexOf {
		iface, err := net.InterfaceByName(fw.InterfaceName(i))
		fatalIf(err, "resolving interface %q", fw.InterfaceName(i))
		ifindexOf[i] = iface.Index
	}

	numEgress := fw.NumInterfaces() - 1
	var rrCursor atomic.Uint32

	fw.SetPacketProcessor(func(pkt []byte, ingressIfindex int) int {
		if ingressIfindex != ifindexOf[0] {
			return -1
		}
		switch *balance {
		case "hash":
			return 1 + int(fnv1aTuple(pkt)%uint32(numEgress))
		default:
			return 1 + int(rrCursor.Add(1)%uint32(numEgress))
		}
	})

	fatalIf(fw.StartWorkers(), "starting workers")
	fmt.Fprintln(os.Stderr, "loadbalancer running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fw.StopWorkers()
	fatalIf(fw.Cleanup(), "cleaning up")
}
